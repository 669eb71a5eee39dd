package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/executor"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/metrics"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/target"
	"github.com/hupe1980/groupmesh/tool"
)

const (
	// DefaultMaxRounds bounds a session when no limit is configured.
	DefaultMaxRounds = 20

	// TempUserName speaks an anonymous seed message when no initiator is set.
	TempUserName = "_User"

	instrumentationName = "github.com/hupe1980/groupmesh/group"
)

// Termination reasons reported in Result.Reason.
const (
	ReasonTerminated = "terminate"
	ReasonMaxRounds  = "max_rounds"
)

var (
	// ErrInvalidConfig marks setup errors detected before the first round.
	ErrInvalidConfig = errors.New("invalid group configuration")
	// ErrSessionUsed is returned when Run is called twice on one session.
	ErrSessionUsed = errors.New("session already ran")
)

// Options configures a Session.
type Options struct {
	// MaxRounds bounds participant turns. Reaching it terminates the session.
	MaxRounds int
	// Initiator is the optional participant that control returns from.
	Initiator agent.Agent
	// AfterWork is the group-level fallback. Defaults to terminate.
	AfterWork *handoff.AfterWork
	// Context is the shared store. A fresh one is created when nil.
	Context *core.ContextStore
	// ContextVariables seeds the store.
	ContextVariables map[string]any
	// ExcludeTransitMessage hides handoff calls and their results from the
	// history shown to group agents.
	ExcludeTransitMessage bool
	// SelectorModel chooses the next speaker for auto selection.
	SelectorModel model.Model
	// ToolParallelism bounds concurrent action calls per message.
	ToolParallelism int
	// SessionID scopes per-session agent state such as model call budgets.
	// A random id is used when empty.
	SessionID string
	Logger          logging.Logger
	Metrics         metrics.Recorder
	TracerProvider  trace.TracerProvider
}

// Result is the outcome of a session.
type Result struct {
	Messages    []core.Message
	Context     map[string]any
	LastSpeaker string
	Rounds      int
	Reason      string
}

// Session is one running group conversation.
type Session struct {
	id           string
	opts         Options
	initial      agent.Agent
	agents       []agent.Agent
	wrappers     []*agent.WrapperAgent
	store        *core.ContextStore
	exec         *executor.ToolExecutor
	resolver     *Resolver
	handoffNames []string
	logger       logging.Logger
	metrics      metrics.Recorder
	tracer       trace.Tracer
	used         bool
}

// NewSession validates the group, wraps compound targets, names and
// registers every action with the tool executor and builds the resolver.
func NewSession(initial agent.Agent, agents []agent.Agent, optFns ...func(o *Options)) (*Session, error) {
	opts := Options{
		MaxRounds:             DefaultMaxRounds,
		ExcludeTransitMessage: true,
		ToolParallelism:       1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := validate(initial, agents, opts); err != nil {
		return nil, err
	}

	store := opts.Context
	if store == nil {
		store = core.NewContextStore(opts.ContextVariables)
	} else if len(opts.ContextVariables) > 0 {
		store.Update(opts.ContextVariables)
	}

	afterWork := opts.AfterWork
	if afterWork == nil {
		afterWork = handoff.NewAfterWork(target.ToPolicy(target.Terminate))
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	id := opts.SessionID
	if id == "" {
		id = core.NewID()
	}

	s := &Session{
		id:      id,
		opts:    opts,
		initial: initial,
		agents:  append([]agent.Agent(nil), agents...),
		store:   store,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: metrics.OrNoOp(opts.Metrics),
		tracer:  tp.Tracer(instrumentationName),
	}

	s.exec = executor.New(store, func(o *executor.Options) {
		o.Parallelism = opts.ToolParallelism
		o.Logger = s.logger
		o.Metrics = s.metrics
	})

	taken := make(map[string]bool, len(agents))
	for _, a := range agents {
		taken[a.Name()] = true
	}
	s.wrappers = wrapCompoundTargets(s.agents, taken)

	speakers := s.participants()
	if opts.Initiator != nil {
		speakers = append(speakers, opts.Initiator)
	}

	if err := validateHandoffs(speakers, opts); err != nil {
		return nil, err
	}

	for _, a := range speakers {
		a.Handoffs().AssignFunctionNames()
	}

	for _, a := range speakers {
		if err := s.exec.Register(a.Tools()...); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, a.Name(), err)
		}
		// Prompts are rendered per turn; the executor only needs the target.
		for _, rule := range a.Handoffs().ReasoningConditions() {
			tr := tool.NewTransferTool(rule.FunctionName, rule.Target.String(), rule.Target)
			if err := s.exec.Register(tr); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, a.Name(), err)
			}
			s.handoffNames = append(s.handoffNames, rule.FunctionName)
		}
	}

	s.resolver = NewResolver(ResolverConfig{
		Initial:      initial.Name(),
		Participants: s.participants(),
		Executor:     s.exec,
		Initiator:    opts.Initiator,
		AfterWork:    afterWork,
		Context:      store,
	})

	s.logger.Info(
		"group.session.created",
		"session", s.id,
		"initial", initial.Name(),
		"agents", len(agents),
		"wrappers", len(s.wrappers),
		"actions", len(s.handoffNames),
		"max_rounds", opts.MaxRounds,
	)

	return s, nil
}

// Run creates a session and runs it to completion.
func Run(ctx context.Context, initial agent.Agent, agents []agent.Agent, messages []core.Message, optFns ...func(o *Options)) (*Result, error) {
	s, err := NewSession(initial, agents, optFns...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, messages...)
}

// ID returns the session id handed to every turn.
func (s *Session) ID() string { return s.id }

// Context returns the shared store.
func (s *Session) Context() *core.ContextStore { return s.store }

// Executor returns the session's tool executor.
func (s *Session) Executor() *executor.ToolExecutor { return s.exec }

// Resolver returns the session's resolver.
func (s *Session) Resolver() *Resolver { return s.resolver }

// Wrappers returns the synthetic participants created for compound targets.
func (s *Session) Wrappers() []*agent.WrapperAgent {
	return append([]*agent.WrapperAgent(nil), s.wrappers...)
}

func (s *Session) participants() []agent.Agent {
	all := make([]agent.Agent, 0, len(s.agents)+len(s.wrappers))
	all = append(all, s.agents...)
	for _, w := range s.wrappers {
		all = append(all, w)
	}
	return all
}

// Run drives rounds until a termination policy fires or the round budget is
// spent. Recoverable reasoning-engine failures are recorded in the
// transcript; configuration and contract errors abort the run and are
// returned together with the partial result.
func (s *Session) Run(ctx context.Context, messages ...core.Message) (*Result, error) {
	if s.used {
		return nil, ErrSessionUsed
	}
	s.used = true
	defer s.release()

	history, lastSpeaker, err := s.prepareMessages(messages)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "group.run", trace.WithAttributes(
		attribute.String("group.initial", s.initial.Name()),
		attribute.Int("group.max_rounds", s.opts.MaxRounds),
	))
	defer span.End()

	res := &Result{Reason: ReasonMaxRounds}
	finish := func(err error) (*Result, error) {
		res.Messages = cleanupTempUser(history)
		res.Context = s.store.Snapshot()
		res.LastSpeaker = lastSpeaker
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("group.aborted", "round", res.Rounds, "error", err.Error())
			return res, err
		}
		span.SetAttributes(
			attribute.Int("group.rounds", res.Rounds),
			attribute.String("group.reason", res.Reason),
		)
		s.metrics.Terminated(res.Reason)
		s.logger.Info("group.terminated", "reason", res.Reason, "rounds", res.Rounds, "last_speaker", lastSpeaker)
		return res, nil
	}

	for res.Rounds < s.opts.MaxRounds {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		msg, speaker, done, err := s.round(ctx, res.Rounds+1, lastSpeaker, &history)
		if err != nil {
			return finish(err)
		}
		if done {
			res.Reason = ReasonTerminated
			return finish(nil)
		}

		history = append(history, msg)
		lastSpeaker = speaker
		res.Rounds++
	}

	return finish(nil)
}

// release lets agents drop the state they keep for this session.
func (s *Session) release() {
	speakers := s.participants()
	if s.opts.Initiator != nil {
		speakers = append(speakers, s.opts.Initiator)
	}
	for _, a := range speakers {
		if r, ok := a.(agent.SessionReleaser); ok {
			r.ReleaseSession(s.id)
		}
	}
}

// round resolves the next speaker and runs its turn.
func (s *Session) round(ctx context.Context, n int, lastSpeaker string, history *[]core.Message) (core.Message, string, bool, error) {
	start := time.Now()

	sel, err := s.resolver.Next(lastSpeaker, *history)
	if err != nil {
		return core.Message{}, "", false, err
	}
	s.metrics.SpeakerSelected(string(sel.Step))
	if sel.Via != nil && sel.Step == StepOverride {
		s.metrics.Handoff(string(sel.Via.Kind()))
	}

	if sel.Terminate {
		return core.Message{}, "", true, nil
	}

	speaker := sel.Speaker
	if sel.Auto {
		name, notice, err := s.autoSelect(ctx, *history, sel.Prompt)
		if err != nil {
			return core.Message{}, "", false, err
		}
		if notice != nil {
			*history = append(*history, *notice)
		}
		speaker = name
	}

	s.logger.Info("group.speaker.selected", "round", n, "speaker", speaker, "step", string(sel.Step), "auto", sel.Auto)

	ctx, span := s.tracer.Start(ctx, "group.round", trace.WithAttributes(
		attribute.Int("group.round", n),
		attribute.String("group.speaker", speaker),
		attribute.String("group.step", string(sel.Step)),
	))
	defer span.End()

	s.logger.Debug("group.round.start", "round", n, "speaker", speaker)

	msg, err := s.turn(ctx, speaker, *history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.Message{}, "", false, err
	}

	dur := time.Since(start)
	s.metrics.RoundCompleted(speaker, dur)
	s.logger.Debug("group.round.complete", "round", n, "speaker", speaker, "duration_ms", dur.Milliseconds())

	return msg, speaker, false, nil
}

func (s *Session) turn(ctx context.Context, speaker string, history []core.Message) (core.Message, error) {
	if speaker == executor.Name {
		return s.exec.Generate(ctx, history)
	}

	a, ok := s.resolver.Participant(speaker)
	if !ok {
		return core.Message{}, fmt.Errorf("%w: %s", core.ErrUnknownParticipant, speaker)
	}

	if msg, fired, err := s.runContextConditions(a, history); err != nil || fired {
		return msg, err
	}

	actions, err := s.actions(a, history)
	if err != nil {
		return core.Message{}, err
	}

	visible := history
	if s.opts.ExcludeTransitMessage {
		visible = ScrubHandoffMessages(history, s.handoffNames)
	}

	msg, err := a.Generate(ctx, &agent.Turn{Messages: visible, Actions: actions, Context: s.store, SessionID: s.id})
	if err != nil {
		if ctx.Err() != nil {
			return core.Message{}, ctx.Err()
		}
		if errors.Is(err, core.ErrModelResponse) {
			s.logger.Warn("group.turn.failed", "speaker", speaker, "error", err.Error())
			return core.NewErrorMessage(speaker, err), nil
		}
		return core.Message{}, err
	}
	if msg.Name == "" {
		msg.Name = speaker
	}
	return msg, nil
}

// runContextConditions checks the participant's context rules in
// registration order. The first available rule that holds stages its target
// and produces the handoff notice.
func (s *Session) runContextConditions(a agent.Agent, history []core.Message) (core.Message, bool, error) {
	for _, rule := range a.Handoffs().ContextConditions() {
		ok, err := condition.IsAvailable(rule.Available, a, s.store, history)
		if err != nil {
			return core.Message{}, false, fmt.Errorf("%s: available gate: %w", a.Name(), err)
		}
		if !ok {
			continue
		}

		met, err := rule.Condition.Evaluate(s.store)
		if err != nil {
			return core.Message{}, false, fmt.Errorf("%s: context condition: %w", a.Name(), err)
		}
		if !met {
			continue
		}

		s.exec.SetPendingOverride(rule.Target)
		s.metrics.Handoff("context")
		s.logger.Info("group.handoff.context", "participant", a.Name(), "target", rule.Target.DisplayName())

		return core.NewTextMessage(a.Name(), "[Handing off to "+rule.Target.DisplayName()+"]"), true, nil
	}
	return core.Message{}, false, nil
}

// actions rebuilds the participant's visible action list: its own tools plus
// one transfer action per reasoning rule whose gate is open now.
func (s *Session) actions(a agent.Agent, history []core.Message) ([]tool.Tool, error) {
	actions := a.Tools()
	for _, rule := range a.Handoffs().ReasoningConditions() {
		ok, err := condition.IsAvailable(rule.Available, a, s.store, history)
		if err != nil {
			return nil, fmt.Errorf("%s: available gate: %w", a.Name(), err)
		}
		if !ok {
			continue
		}
		tr, err := transferTool(rule, s.store)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Name(), err)
		}
		actions = append(actions, tr)
	}
	return actions, nil
}

func transferTool(rule *handoff.ReasoningRule, store *core.ContextStore) (*tool.TransferTool, error) {
	prompt, err := rule.Condition.Prompt(store)
	if err != nil {
		return nil, fmt.Errorf("reasoning condition %s: %w", rule.FunctionName, err)
	}
	return tool.NewTransferTool(rule.FunctionName, prompt, rule.Target), nil
}

// prepareMessages attributes the seed messages and finds the last speaker.
func (s *Session) prepareMessages(messages []core.Message) ([]core.Message, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("%w: no initial messages", ErrInvalidConfig)
	}

	history := make([]core.Message, len(messages))
	for i, m := range messages {
		history[i] = m.Clone()
	}

	initiator := s.opts.Initiator
	if len(history) == 1 && history[0].Name == "" && initiator == nil {
		history[0].Name = TempUserName
		return history, TempUserName, nil
	}

	for i := range history {
		if history[i].Name != "" {
			continue
		}
		if initiator == nil {
			history[i].Name = TempUserName
			continue
		}
		history[i].Name = initiator.Name()
	}

	last := history[len(history)-1].Name
	if last != TempUserName {
		if _, ok := s.resolver.Participant(last); !ok {
			return nil, "", fmt.Errorf("%w: %w: last message from %q", ErrInvalidConfig, core.ErrUnknownParticipant, last)
		}
	}
	return history, last, nil
}

func cleanupTempUser(history []core.Message) []core.Message {
	out := make([]core.Message, len(history))
	for i, m := range history {
		if m.Name == TempUserName {
			m.Name = ""
		}
		out[i] = m
	}
	return out
}

// validate checks the group's members before anything is created.
func validate(initial agent.Agent, agents []agent.Agent, opts Options) error {
	if initial == nil {
		return fmt.Errorf("%w: initial participant is required", ErrInvalidConfig)
	}
	if opts.MaxRounds < 1 {
		return fmt.Errorf("%w: max rounds must be positive, got %d", ErrInvalidConfig, opts.MaxRounds)
	}

	names := make(map[string]bool, len(agents)+1)
	for _, a := range agents {
		if a == nil {
			return fmt.Errorf("%w: nil participant", ErrInvalidConfig)
		}
		if err := checkName(a.Name()); err != nil {
			return err
		}
		if names[a.Name()] {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidConfig, a.Name())
		}
		names[a.Name()] = true
	}
	if !names[initial.Name()] {
		return fmt.Errorf("%w: initial participant %q is not in the group", ErrInvalidConfig, initial.Name())
	}

	if opts.Initiator != nil {
		if err := checkName(opts.Initiator.Name()); err != nil {
			return err
		}
		if names[opts.Initiator.Name()] {
			return fmt.Errorf("%w: initiator %q is also a group participant", ErrInvalidConfig, opts.Initiator.Name())
		}
		for _, t := range opts.Initiator.Handoffs().Targets() {
			if t.NeedsWrapping() {
				return fmt.Errorf("%w: %w: initiator %s cannot hand off to a nested chat", ErrInvalidConfig, core.ErrUnwrappedTarget, opts.Initiator.Name())
			}
		}
	}

	return nil
}

// validateHandoffs checks every rule and fallback of the wrapped group,
// the initiator included, against the final member set.
func validateHandoffs(speakers []agent.Agent, opts Options) error {
	names := make(map[string]bool, len(speakers))
	for _, a := range speakers {
		names[a.Name()] = true
	}

	members := func(t target.Target) error {
		if name, ok := target.ParticipantName(t); ok && !names[name] {
			return fmt.Errorf("%w: %w: handoff target %q is not in the group", ErrInvalidConfig, core.ErrUnknownParticipant, name)
		}
		if p, ok := t.(target.PolicyRef); ok {
			if _, err := target.ParsePolicy(string(p.Policy)); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
			if p.Policy == target.RevertToInitiator && opts.Initiator == nil {
				return fmt.Errorf("%w: %w", ErrInvalidConfig, target.ErrNoInitiator)
			}
		}
		return nil
	}

	fallback := func(owner string, aw *handoff.AfterWork) error {
		if aw == nil {
			return nil
		}
		if aw.Target.NeedsWrapping() {
			return fmt.Errorf("%w: %w: fallback of %s", ErrInvalidConfig, core.ErrUnwrappedTarget, owner)
		}
		if p, ok := aw.Target.(target.PolicyRef); ok && p.Policy == target.AutoSelect && opts.SelectorModel == nil {
			return fmt.Errorf("%w: auto selection in fallback of %s requires a selector model", ErrInvalidConfig, owner)
		}
		return nil
	}

	for _, a := range speakers {
		for _, t := range a.Handoffs().Targets() {
			if err := members(t); err != nil {
				return fmt.Errorf("%s: %w", a.Name(), err)
			}
		}
		if err := fallback(a.Name(), a.Handoffs().AfterWork()); err != nil {
			return err
		}
	}

	if opts.AfterWork != nil {
		if err := members(opts.AfterWork.Target); err != nil {
			return fmt.Errorf("group fallback: %w", err)
		}
		if err := fallback("the group", opts.AfterWork); err != nil {
			return err
		}
	}

	return nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: participant without a name", ErrInvalidConfig)
	case name == executor.Name, name == TempUserName, name == selectorName:
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidConfig, name)
	case isWrapper(name):
		return fmt.Errorf("%w: names starting with %q are reserved", ErrInvalidConfig, agent.WrapperPrefix)
	}
	return nil
}
