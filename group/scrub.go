package group

import (
	"github.com/hupe1980/groupmesh/core"
)

// ScrubHandoffMessages returns a copy of msgs without the handoff function
// calls named in actionNames and without their responses. Messages keep
// their other calls and responses; a message left with neither calls nor
// text is dropped.
func ScrubHandoffMessages(msgs []core.Message, actionNames []string) []core.Message {
	if len(actionNames) == 0 {
		return append([]core.Message(nil), msgs...)
	}

	handoffs := make(map[string]bool, len(actionNames))
	for _, n := range actionNames {
		handoffs[n] = true
	}

	removed := map[string]bool{}
	out := make([]core.Message, 0, len(msgs))

	for _, m := range msgs {
		switch {
		case m.HasFunctionCalls():
			kept := make([]core.Part, 0, len(m.Content.Parts))
			calls := 0
			for _, p := range m.Content.Parts {
				if fc, ok := p.(core.FunctionCallPart); ok {
					if handoffs[fc.FunctionCall.Name] {
						removed[fc.FunctionCall.ID] = true
						continue
					}
					calls++
				}
				kept = append(kept, p)
			}
			if calls == 0 && !m.HasText() {
				continue
			}
			c := m.Clone()
			c.Content.Parts = kept
			out = append(out, c)

		case len(m.FunctionResponses()) > 0:
			kept := make([]core.Part, 0, len(m.Content.Parts))
			responses := 0
			for _, p := range m.Content.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					if removed[fr.FunctionResponse.ID] {
						continue
					}
					responses++
				}
				kept = append(kept, p)
			}
			if responses == 0 {
				continue
			}
			c := m.Clone()
			c.Content.Parts = kept
			out = append(out, c)

		default:
			out = append(out, m)
		}
	}
	return out
}
