// Package agent contains the group chat participants:
//
//  1. The Agent contract every group member satisfies (Participant identity,
//     a handoff rule set, tools and a Generate turn)
//  2. ModelAgent, a reasoning-engine backed participant with tool calling
//  3. FuncAgent, a deterministic participant driven by a Go function
//  4. NestedChat, a sequence of sub-conversations usable as a compound
//     handoff target, and WrapperAgent which runs one as its turn
//
// Agents never pick the next speaker themselves. They produce one message per
// turn; the group orchestrator resolves what happens next from their rules.
package agent
