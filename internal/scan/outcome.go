package scan

import "github.com/zombor/vegan-scanner/internal/classify"

// Outcome is the result of exactly one run: a Verdict or an Error, never both
type Outcome struct {
	Verdict *classify.Verdict
	Err     *Error
}

// Success wraps a verdict
func Success(v classify.Verdict) Outcome {
	return Outcome{Verdict: &v}
}

// Failure wraps an error
func Failure(err *Error) Outcome {
	return Outcome{Err: err}
}

// Succeeded reports whether the run produced a verdict
func (o Outcome) Succeeded() bool {
	return o.Verdict != nil
}

// Presenter receives phase updates and the single terminal result of a run
type Presenter interface {
	ShowPhase(p Phase)
	ShowVerdict(v classify.Verdict)
	ShowError(message string)
}

type nopPresenter struct{}

func (nopPresenter) ShowPhase(Phase)              {}
func (nopPresenter) ShowVerdict(classify.Verdict) {}
func (nopPresenter) ShowError(string)             {}
