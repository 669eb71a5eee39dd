package core

import "fmt"

// SelectionMethod names a free-form speaker selection mode.
type SelectionMethod string

// SelectionAuto delegates the next-speaker choice to the reasoning engine.
const SelectionAuto SelectionMethod = "auto"

// SpeakerSelectionResult is the universal outcome of resolving a transition
// target. Exactly one of ParticipantName, Terminate or Method is populated.
type SpeakerSelectionResult struct {
	ParticipantName string          `json:"participant_name,omitempty"`
	Terminate       bool            `json:"terminate,omitempty"`
	Method          SelectionMethod `json:"selection_method,omitempty"`
}

// SelectParticipant returns a result naming a participant.
func SelectParticipant(name string) SpeakerSelectionResult {
	return SpeakerSelectionResult{ParticipantName: name}
}

// SelectTerminate returns a termination result.
func SelectTerminate() SpeakerSelectionResult {
	return SpeakerSelectionResult{Terminate: true}
}

// SelectAuto returns an auto-selection result.
func SelectAuto() SpeakerSelectionResult {
	return SpeakerSelectionResult{Method: SelectionAuto}
}

// IsAuto reports whether the result requests auto selection.
func (r SpeakerSelectionResult) IsAuto() bool { return r.Method == SelectionAuto }

// Validate enforces the exactly-one invariant.
func (r SpeakerSelectionResult) Validate() error {
	n := 0
	if r.ParticipantName != "" {
		n++
	}
	if r.Terminate {
		n++
	}
	if r.Method != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("speaker selection result must set exactly one field, got %d: %+v", n, r)
	}
	return nil
}

func (r SpeakerSelectionResult) String() string {
	switch {
	case r.Terminate:
		return "terminate"
	case r.Method != "":
		return string(r.Method)
	default:
		return r.ParticipantName
	}
}
