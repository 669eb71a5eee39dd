// Package group runs a turn-based conversation among a fixed set of agents
// and decides after every turn who speaks next.
//
// The Resolver applies, in strict order:
//
//  1. the initial participant on the first turn
//  2. the tool executor when the last message requests actions
//  3. the override staged by a transfer action or a context rule
//  4. a hand-back to the last group speaker after the initiator or a tool result
//  5. the last group speaker's fallback, else the group fallback
//
// A fallback may name a participant, stay, revert to the initiator,
// terminate or delegate the choice to a selector model with a roster prompt.
//
// Compound (nested chat) targets are replaced at bootstrap by wrapper
// participants whose fallback returns control to the declaring agent.
//
// Basic usage:
//
//	res, err := group.Run(ctx, triage, []agent.Agent{triage, billing}, msgs,
//		func(o *group.Options) { o.MaxRounds = 10 },
//	)
package group
