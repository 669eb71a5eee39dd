// Package core provides the foundational domain types shared by every groupmesh
// package:
//
//   - ContextStore (the shared key/value map of one group session)
//   - Message / Content / Part (the conversation transcript)
//   - Participant (anything that can hold a turn)
//   - SpeakerSelectionResult (the tri-state outcome of every target resolution)
//   - NestedConversation (the opaque contract behind compound targets)
//   - ModelLimiter and the sentinel errors used across packages
//
// The package keeps orchestration and reasoning-engine concerns out of scope,
// exposing small types so the handoff, executor and group packages can share
// them without import cycles.
package core
