package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/ocr"
)

var (
	// ErrBusy is returned when a run is triggered while another is in flight
	ErrBusy = errors.New("scan already in progress")
	// ErrCancelled is returned when the caller goes away mid-run
	ErrCancelled = errors.New("scan cancelled")
)

// TextExtractor reads the text of a captured image
type TextExtractor interface {
	Extract(ctx context.Context, img *capture.Image) (ocr.ExtractedText, error)
}

// Pipeline runs capture, extraction and classification strictly in sequence
// and allows at most one run at a time
type Pipeline struct {
	extractor  TextExtractor
	classifier classify.Classifier
	presenter  Presenter
	logger     *slog.Logger
	sem        *semaphore.Weighted
	newID      func() string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithPresenter sets the collaborator that receives phases and results
func WithPresenter(p Presenter) Option {
	return func(pl *Pipeline) {
		pl.presenter = p
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		pl.logger = l
	}
}

// New creates a Pipeline
func New(extractor TextExtractor, classifier classify.Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:  extractor,
		classifier: classifier,
		presenter:  nopPresenter{},
		logger:     slog.Default(),
		sem:        semaphore.NewWeighted(1),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one scan with images from capturer. It returns ErrBusy without
// any other effect while a run is in flight, and ErrCancelled when ctx ends
// before the run does; a cancelled run's outcome is never presented.
func (p *Pipeline) Run(ctx context.Context, capturer capture.Capturer) (Outcome, error) {
	if !p.sem.TryAcquire(1) {
		return Outcome{}, ErrBusy
	}
	defer p.sem.Release(1)

	r := &run{
		pipeline: p,
		id:       p.newID(),
		phase:    PhaseReady,
		started:  time.Now(),
	}
	r.logger = p.logger.With("run_id", r.id)

	outcome := r.execute(ctx, capturer)
	r.phase = PhaseReady

	if err := ctx.Err(); err != nil {
		p.presenter.ShowPhase(PhaseReady)
		r.logger.InfoContext(ctx, "Scan cancelled", "error", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	// The outcome is shown before the presenter returns to Ready
	if outcome.Succeeded() {
		p.presenter.ShowVerdict(*outcome.Verdict)
	} else {
		p.presenter.ShowError(outcome.Err.Message)
	}
	p.presenter.ShowPhase(PhaseReady)
	return outcome, nil
}

// run is the state of one traversal of the state machine
type run struct {
	pipeline *Pipeline
	id       string
	phase    Phase
	started  time.Time
	logger   *slog.Logger
}

func (r *run) advance(to Phase) error {
	if err := Transition(r.phase, to); err != nil {
		return err
	}
	r.phase = to
	if !to.Terminal() {
		r.pipeline.presenter.ShowPhase(to)
	}
	return nil
}

func (r *run) execute(ctx context.Context, capturer capture.Capturer) Outcome {
	if err := r.advance(PhaseCapturing); err != nil {
		return r.fail(ctx, err)
	}
	r.logger.InfoContext(ctx, "Scan started")

	img, err := capturer.Capture(ctx)
	if err == nil && img == nil {
		err = capture.ErrUnavailable
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	defer func() {
		if err := capturer.Release(img); err != nil {
			r.logger.WarnContext(ctx, "Failed to release image", "image_id", img.ID, "error", err)
		}
	}()

	if err := r.advance(PhaseExtracting); err != nil {
		return r.fail(ctx, err)
	}
	text, err := r.pipeline.extractor.Extract(ctx, img)
	if err != nil {
		return r.fail(ctx, err)
	}

	if err := r.advance(PhaseClassifying); err != nil {
		return r.fail(ctx, err)
	}
	verdict, err := r.pipeline.classifier.Classify(ctx, text.Normalized)
	if err != nil {
		return r.fail(ctx, err)
	}

	if err := r.advance(PhaseSucceeded); err != nil {
		return r.fail(ctx, err)
	}
	r.logger.InfoContext(ctx, "Scan succeeded",
		"is_vegan", verdict.IsVegan,
		"ingredients", len(verdict.Ingredients),
		"duration", time.Since(r.started),
	)
	return Success(verdict)
}

// fail ends the run in PhaseFailed with an error for the phase it was in
func (r *run) fail(ctx context.Context, err error) Outcome {
	scanErr := newError(stageOf(r.phase), err)
	r.phase = PhaseFailed

	level := slog.LevelError
	if scanErr.Stage == StageContractViolation || ctx.Err() != nil {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "Scan failed",
		"stage", scanErr.Stage,
		"error", err,
		"duration", time.Since(r.started),
	)
	return Failure(scanErr)
}
