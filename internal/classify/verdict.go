// Package classify turns normalized ingredient text into a vegan verdict by
// asking a language model and validating its loosely structured reply.
package classify

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransport covers network errors, non-success statuses and unreadable envelopes
	ErrTransport = errors.New("classification transport failed")
	// ErrRateLimited is a transport failure caused by a request budget
	ErrRateLimited = errors.New("classification rate limited")
	// ErrContractViolation means the service answered, but not with a usable verdict
	ErrContractViolation = errors.New("classification reply violates contract")
)

// Verdict is the validated vegan/non-vegan determination
type Verdict struct {
	IsVegan     bool     `json:"isVegan"`
	Ingredients []string `json:"ingredients"`
	Explanation *string  `json:"explanation,omitempty"`
}

// HasExplanation reports whether the service explained its verdict
func (v Verdict) HasExplanation() bool {
	return v.Explanation != nil
}

// Classifier classifies normalized ingredient text
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// StatusError is returned for non-success HTTP responses
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Is lets a 429 match ErrRateLimited
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}
