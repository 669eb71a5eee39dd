package group

import (
	"fmt"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/executor"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/target"
)

// State is the lifecycle state of a Resolver.
type State int

const (
	AwaitingFirstTurn State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingFirstTurn:
		return "awaiting_first_turn"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Step names the resolution rule that produced a Selection.
type Step string

const (
	StepInitial    Step = "initial"
	StepToolCall   Step = "tool_call"
	StepOverride   Step = "override"
	StepHandBack   Step = "hand_back"
	StepAfterWork  Step = "after_work"
	StepTerminated Step = "terminated"
)

// Selection is the outcome of one resolution. Exactly one of Speaker,
// Auto or Terminate is set.
type Selection struct {
	Speaker   string
	Auto      bool
	Terminate bool
	// Prompt is the roster-substituted selection prompt when Auto is set.
	Prompt string
	Step   Step
	// Via is the target that was resolved, nil for positional steps.
	Via target.Target
}

func (s Selection) String() string {
	switch {
	case s.Terminate:
		return "terminate"
	case s.Auto:
		return "auto"
	default:
		return s.Speaker
	}
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	// Initial speaks first.
	Initial string
	// Participants are the group agents and wrappers, in roster order.
	Participants []agent.Agent
	Executor     *executor.ToolExecutor
	// Initiator is optional.
	Initiator agent.Agent
	// AfterWork is the group-level fallback.
	AfterWork *handoff.AfterWork
	Context   *core.ContextStore
}

// Resolver decides after every turn who speaks next. It owns the first-turn
// flag and looks participants up by name; it performs no I/O.
type Resolver struct {
	state        State
	initial      string
	order        []string
	participants map[string]agent.Agent
	exec         *executor.ToolExecutor
	initiator    agent.Agent
	afterWork    *handoff.AfterWork
	store        *core.ContextStore
}

// NewResolver creates a resolver in state AwaitingFirstTurn.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		state:        AwaitingFirstTurn,
		initial:      cfg.Initial,
		participants: make(map[string]agent.Agent, len(cfg.Participants)),
		exec:         cfg.Executor,
		initiator:    cfg.Initiator,
		afterWork:    cfg.AfterWork,
		store:        cfg.Context,
	}
	if r.afterWork == nil {
		r.afterWork = handoff.NewAfterWork(target.ToPolicy(target.Terminate))
	}
	if r.store == nil {
		r.store = core.NewContextStore(nil)
	}
	if r.exec == nil {
		r.exec = executor.New(r.store)
	}
	for _, p := range cfg.Participants {
		r.order = append(r.order, p.Name())
		r.participants[p.Name()] = p
	}
	return r
}

// State returns the current lifecycle state.
func (r *Resolver) State() State { return r.state }

// Participant looks up a group participant or the initiator by name.
func (r *Resolver) Participant(name string) (agent.Agent, bool) {
	if p, ok := r.participants[name]; ok {
		return p, true
	}
	if r.initiator != nil && r.initiator.Name() == name {
		return r.initiator, true
	}
	return nil, false
}

// Roster returns the participants eligible for auto selection: group agents
// and the initiator, never the executor or wrappers.
func (r *Resolver) Roster() []core.Participant {
	roster := make([]core.Participant, 0, len(r.order)+1)
	for _, name := range r.order {
		if isWrapper(name) {
			continue
		}
		roster = append(roster, r.participants[name])
	}
	if r.initiator != nil {
		roster = append(roster, r.initiator)
	}
	return roster
}

// Next resolves the speaker following lastSpeaker.
func (r *Resolver) Next(lastSpeaker string, history []core.Message) (Selection, error) {
	switch r.state {
	case Terminated:
		return Selection{Terminate: true, Step: StepTerminated}, nil
	case AwaitingFirstTurn:
		r.state = Running
		return Selection{Speaker: r.initial, Step: StepInitial}, nil
	}

	if len(history) == 0 {
		return Selection{}, core.ErrNoGroupSpeaker
	}
	last := history[len(history)-1]

	if last.HasFunctionCalls() {
		return Selection{Speaker: executor.Name, Step: StepToolCall}, nil
	}

	if r.exec.HasPendingOverride() {
		t, err := r.exec.TakePendingOverride()
		if err != nil {
			return Selection{}, err
		}
		if t.NeedsWrapping() {
			return Selection{}, fmt.Errorf("%w: %s", core.ErrUnwrappedTarget, t.DisplayName())
		}
		// Policies such as terminate resolve without a group speaker.
		current, _ := r.lastGroupSpeaker(history)
		return r.resolve(t, current, nil, StepOverride)
	}

	current, err := r.lastGroupSpeaker(history)
	if err != nil {
		return Selection{}, err
	}

	if (r.initiator != nil && lastSpeaker == r.initiator.Name()) || last.Role() == core.RoleTool {
		return Selection{Speaker: current.Name(), Step: StepHandBack}, nil
	}

	aw := current.Handoffs().AfterWork()
	if aw == nil {
		aw = r.afterWork
	}
	return r.resolve(aw.Target, current, aw.SelectionMessage, StepAfterWork)
}

func (r *Resolver) resolve(t target.Target, current agent.Agent, msg handoff.SelectionMessage, step Step) (Selection, error) {
	var cur, initiator core.Participant
	if current != nil {
		cur = current
	}
	if r.initiator != nil {
		initiator = r.initiator
	}

	res, err := t.Resolve(cur, initiator)
	if err != nil {
		return Selection{}, err
	}
	if err := res.Validate(); err != nil {
		return Selection{}, err
	}

	switch {
	case res.Terminate:
		r.state = Terminated
		return Selection{Terminate: true, Step: step, Via: t}, nil
	case res.IsAuto():
		prompt, err := r.selectionPrompt(msg)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Auto: true, Prompt: prompt, Step: step, Via: t}, nil
	}

	if _, ok := r.Participant(res.ParticipantName); !ok {
		return Selection{}, fmt.Errorf("%w: %s", core.ErrUnknownParticipant, res.ParticipantName)
	}
	return Selection{Speaker: res.ParticipantName, Step: step, Via: t}, nil
}

func (r *Resolver) selectionPrompt(msg handoff.SelectionMessage) (string, error) {
	tmpl := DefaultSelectPrompt
	if msg != nil {
		text, err := msg.Message(r.store)
		if err != nil {
			return "", fmt.Errorf("selection message: %w", err)
		}
		tmpl = text
	}
	return SubstituteRoster(tmpl, r.Roster()), nil
}

// lastGroupSpeaker walks the history backwards to the most recent message
// authored by a group participant other than the executor.
func (r *Resolver) lastGroupSpeaker(history []core.Message) (agent.Agent, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if p, ok := r.participants[history[i].Name]; ok {
			return p, nil
		}
	}
	return nil, core.ErrNoGroupSpeaker
}

// nextInRoster returns the roster participant following name, wrapping
// around. Unknown names start from the top.
func (r *Resolver) nextInRoster(name string) (core.Participant, bool) {
	roster := r.Roster()
	if len(roster) == 0 {
		return nil, false
	}
	for i, p := range roster {
		if p.Name() == name {
			return roster[(i+1)%len(roster)], true
		}
	}
	return roster[0], true
}
