package core

import "errors"

var (
	// ErrNoPendingOverride is returned when the pending override is taken while none is staged.
	ErrNoPendingOverride = errors.New("no pending override")
	// ErrUnwrappedTarget signals that a target which needs wrapping reached resolution.
	ErrUnwrappedTarget = errors.New("target requires wrapping and cannot resolve to a speaker")
	// ErrNoGroupSpeaker is returned when no group participant is found in the history.
	ErrNoGroupSpeaker = errors.New("no group participant found in the message history")
	// ErrUnknownParticipant is returned when a name does not belong to the session.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrModelResponse wraps recoverable reasoning-engine failures.
	ErrModelResponse = errors.New("reasoning engine failure")
	// ErrModelLimit is returned once a participant exhausted its model call budget.
	ErrModelLimit = errors.New("model call limit exceeded")
)
