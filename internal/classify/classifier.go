package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single classification call
const DefaultTimeout = 60 * time.Second

// Completer sends a rendered prompt to a language model and returns its text reply
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Close releases the backend's resources
	Close() error
}

// IngredientClassifier classifies ingredient text with a Completer and
// validates the reply. It does not cache, retry or rate-limit.
type IngredientClassifier struct {
	completer     Completer
	promptVersion string
	timeout       time.Duration
	logger        *slog.Logger
}

// Options configures an IngredientClassifier
type Options struct {
	PromptVersion string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// New creates an IngredientClassifier. It fails when the prompt version is unknown.
func New(completer Completer, opts Options) (*IngredientClassifier, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if _, err := NewRequest(opts.PromptVersion, ""); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &IngredientClassifier{
		completer:     completer,
		promptVersion: opts.PromptVersion,
		timeout:       opts.Timeout,
		logger:        opts.Logger,
	}, nil
}

// Classify asks the model about text. Transport failures wrap ErrTransport and
// unusable replies wrap ErrContractViolation.
func (c *IngredientClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	req, err := NewRequest(c.promptVersion, text)
	if err != nil {
		return Verdict{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.completer.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return Verdict{}, err
		}
		return Verdict{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	verdict, err := ParseVerdict(reply)
	if err != nil {
		c.logger.WarnContext(ctx, "Classification reply violates contract",
			"prompt_version", req.Version(),
			"reply_length", len(reply),
			"error", err,
		)
		return Verdict{}, err
	}

	c.logger.DebugContext(ctx, "Classified ingredients",
		"prompt_version", req.Version(),
		"is_vegan", verdict.IsVegan,
		"ingredients", len(verdict.Ingredients),
	)
	return verdict, nil
}

// Close closes the underlying backend
func (c *IngredientClassifier) Close() error {
	return c.completer.Close()
}
