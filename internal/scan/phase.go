// Package scan drives one capture, extract, classify run at a time and turns
// every collaborator failure into a single user-facing outcome.
package scan

import (
	"errors"
	"fmt"
)

// Phase is a state of the scan state machine
type Phase string

const (
	PhaseReady       Phase = "Ready"
	PhaseCapturing   Phase = "Capturing"
	PhaseExtracting  Phase = "Extracting"
	PhaseClassifying Phase = "Classifying"
	PhaseSucceeded   Phase = "Succeeded"
	PhaseFailed      Phase = "Failed"
)

// ErrIllegalTransition is returned by Transition for a disallowed step
var ErrIllegalTransition = errors.New("illegal phase transition")

// Terminal reports whether the phase ends a run
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Transition validates a single step of the state machine
func Transition(from, to Phase) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

func isAllowedTransition(from, to Phase) bool {
	switch from {
	case PhaseReady:
		return to == PhaseCapturing
	case PhaseCapturing:
		return to == PhaseExtracting || to == PhaseFailed
	case PhaseExtracting:
		return to == PhaseClassifying || to == PhaseFailed
	case PhaseClassifying:
		return to == PhaseSucceeded || to == PhaseFailed
	case PhaseSucceeded, PhaseFailed:
		return to == PhaseReady
	default:
		return false
	}
}

// stageOf is the failure stage of a run that fails while in phase p
func stageOf(p Phase) Stage {
	switch p {
	case PhaseExtracting:
		return StageExtraction
	case PhaseClassifying:
		return StageClassification
	default:
		return StageCapture
	}
}
