package group

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/model"
)

const (
	// DefaultSelectPrompt closes the history shown to the selector model.
	DefaultSelectPrompt = "Read the above conversation. Then select the next role from {agentlist} to play. Only return the role."

	// DefaultSelectMessage is the selector's system instruction.
	DefaultSelectMessage = "You are in a role play game. The following roles are available:\n{roles}.\nRead the following conversation.\nThen select the next role from {agentlist} to play. Only return the role."

	selectorName = "_Group_Selector"
)

// SubstituteRoster replaces {agentlist} with the quoted roster names
// ("['a', 'b']") and {roles} with one "name: description" line per
// participant.
func SubstituteRoster(template string, roster []core.Participant) string {
	names := make([]string, len(roster))
	roles := make([]string, len(roster))
	for i, p := range roster {
		names[i] = "'" + p.Name() + "'"
		roles[i] = p.Name() + ": " + p.Description()
	}
	return strings.NewReplacer(
		"{agentlist}", "["+strings.Join(names, ", ")+"]",
		"{roles}", strings.Join(roles, "\n"),
	).Replace(template)
}

func isWrapper(name string) bool { return strings.HasPrefix(name, agent.WrapperPrefix) }

// MatchSpeaker maps a selector reply onto a roster name: an exact (trimmed,
// quote-stripped) match first, then a reply mentioning exactly one name.
func MatchSpeaker(reply string, roster []core.Participant) (string, bool) {
	cleaned := strings.Trim(strings.TrimSpace(reply), "'\"`.")
	for _, p := range roster {
		if p.Name() == cleaned {
			return p.Name(), true
		}
	}

	var found []string
	for _, p := range roster {
		if mentions(reply, p.Name()) {
			found = append(found, p.Name())
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}

// mentions reports whether name occurs in text as a whole word.
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], name)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(name)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// autoSelect asks the selector model for the next speaker. A failed or
// ambiguous selection yields an error message for the transcript and the
// roster participant after the last group speaker.
func (s *Session) autoSelect(ctx context.Context, history []core.Message, prompt string) (string, *core.Message, error) {
	if s.opts.SelectorModel == nil {
		return s.fallbackSelection(history, fmt.Errorf("%w: no selector model configured", core.ErrModelResponse))
	}

	roster := s.resolver.Roster()

	req := model.Request{
		Instructions: SubstituteRoster(DefaultSelectMessage, roster),
		Contents: append(
			agent.BuildContents(selectorName, history),
			core.Content{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: prompt}}},
		),
	}

	resp, err := model.Collect(ctx, s.opts.SelectorModel, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return s.fallbackSelection(history, fmt.Errorf("%w: speaker selection: %w", core.ErrModelResponse, err))
	}

	reply := core.Message{Content: resp.Content}
	if name, ok := MatchSpeaker(reply.Text(), roster); ok {
		return name, nil, nil
	}
	return s.fallbackSelection(history, fmt.Errorf("%w: speaker selection returned %q", core.ErrModelResponse, reply.Text()))
}

func (s *Session) fallbackSelection(history []core.Message, cause error) (string, *core.Message, error) {
	last := ""
	if p, err := s.resolver.lastGroupSpeaker(history); err == nil {
		last = p.Name()
	}
	next, ok := s.resolver.nextInRoster(last)
	if !ok {
		return "", nil, cause
	}

	s.logger.Warn("group.speaker.fallback", "error", cause.Error(), "speaker", next.Name())
	msg := core.NewErrorMessage(selectorName, cause)
	return next.Name(), &msg, nil
}
