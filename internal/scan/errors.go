package scan

import (
	"errors"
	"fmt"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/ocr"
	"github.com/zombor/vegan-scanner/internal/quota"
)

// Stage names the point at which a run failed
type Stage string

const (
	StageCapture           Stage = "Capture"
	StageExtraction        Stage = "Extraction"
	StageClassification    Stage = "Classification"
	StageContractViolation Stage = "ContractViolation"
)

// User-facing messages
const (
	msgCapture          = "Kunde inte ta bilden. Kontrollera kamerabehörigheten och försök igen."
	msgCaptureFormat    = "Bildformatet stöds inte. Använd JPEG, PNG, HEIC eller PDF."
	msgCaptureSize      = "Bilden är för stor. Minska upplösningen och försök igen."
	msgExtraction       = "Ett problem uppstod vid textläsningen. Försök igen."
	msgNoText           = "Ingen text kunde hittas i bilden. Se till att bilden är skarp och välbelyst."
	msgClassification   = "Kunde inte nå analystjänsten. Försök igen om en stund."
	msgRateLimited      = "Analystjänsten är överbelastad just nu. Försök igen om en stund."
	msgQuotaExhausted   = "Dagens analysgräns är nådd. Försök igen i morgon."
	msgContractViolated = "Analystjänsten gav ett oväntat svar. Försök med en ny bild."
)

// Error is the single failure value of a run
type Error struct {
	Stage   Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether re-running with a new capture is likely to help.
// A contract violation with the same input usually repeats.
func (e *Error) Retryable() bool {
	return e.Stage != StageContractViolation
}

// newError maps a collaborator error into the taxonomy. stage is where the
// run was when the error surfaced; a classifier contract failure is promoted
// to StageContractViolation.
func newError(stage Stage, err error) *Error {
	e := &Error{Stage: stage, Cause: err}

	switch stage {
	case StageCapture:
		switch {
		case errors.Is(err, capture.ErrUnsupported):
			e.Message = msgCaptureFormat
		case errors.Is(err, capture.ErrTooLarge):
			e.Message = msgCaptureSize
		default:
			e.Message = msgCapture
		}
	case StageExtraction:
		if errors.Is(err, ocr.ErrNoText) {
			e.Message = msgNoText
		} else {
			e.Message = msgExtraction
		}
	case StageClassification, StageContractViolation:
		switch {
		case errors.Is(err, classify.ErrContractViolation):
			e.Stage = StageContractViolation
			e.Message = msgContractViolated
		case errors.Is(err, quota.ErrExhausted):
			e.Message = msgQuotaExhausted
		case errors.Is(err, classify.ErrRateLimited):
			e.Message = msgRateLimited
		default:
			e.Message = msgClassification
		}
	}

	return e
}
