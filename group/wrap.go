package group

import (
	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/target"
)

// wrapCompoundTargets returns one wrapper participant per rule that points
// at a nested chat. Rules wrapped by an earlier session keep their wrapper
// name and get a fresh wrapper; new compound targets are rewritten to
// ParticipantRef(wrapper). taken holds the names already in use and is
// updated with every wrapper returned.
func wrapCompoundTargets(agents []agent.Agent, taken map[string]bool) []*agent.WrapperAgent {
	var wrappers []*agent.WrapperAgent

	for _, parent := range agents {
		h := parent.Handoffs()

		rewrapped := map[string]bool{}
		rewrap := func(t target.Target, nested *target.CompoundRef) {
			name, ok := target.ParticipantName(t)
			if nested == nil || !ok || !isWrapper(name) || rewrapped[name] {
				return
			}
			rewrapped[name] = true
			taken[name] = true
			wrappers = append(wrappers, agent.NewWrapperAgent(name, parent, nested.Chat))
		}
		for _, rule := range h.ReasoningConditions() {
			rewrap(rule.Target, rule.Nested)
		}
		for _, rule := range h.ContextConditions() {
			rewrap(rule.Target, rule.Nested)
		}

		n := 0
		wrap := func(c *target.CompoundRef) target.Target {
			var name string
			for {
				n++
				name = agent.WrapperName(parent.Name(), n)
				if !taken[name] {
					break
				}
			}
			taken[name] = true

			w := agent.NewWrapperAgent(name, parent, c.Chat)
			wrappers = append(wrappers, w)
			return target.ToParticipant(w)
		}
		for _, rule := range h.ReasoningConditionsRequiringWrapping() {
			if c, ok := rule.Target.(*target.CompoundRef); ok {
				rule.Nested = c
				rule.Target = wrap(c)
			}
		}
		for _, rule := range h.ContextConditionsRequiringWrapping() {
			if c, ok := rule.Target.(*target.CompoundRef); ok {
				rule.Nested = c
				rule.Target = wrap(c)
			}
		}
	}

	return wrappers
}
