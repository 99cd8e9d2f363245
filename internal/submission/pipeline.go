// Package submission delivers a captured screenshot and the user's comment
// to the backend: it uploads the image, asks the remote function for an
// analysis, and classifies every failure along the way.
package submission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"

	"github.com/ternarybob/arbor"
)

// Progress messages shown while a submission runs
const (
	MessagePreparing = "Preparing feedback..."
	MessageUploading = "Uploading screenshot..."
	MessageAnalyzing = "Analyzing with AI..."
)

// RequiredInputsMessage is shown when the screenshot or comment is missing
const RequiredInputsMessage = "Screenshot and comment are required."

// Request carries everything a submission needs. Highlight may be nil when
// nothing was selected; it is sent as a zero rectangle in that case.
type Request struct {
	Screenshot *models.Screenshot
	Comment    string
	Highlight  *models.HighlightRect
	Category   models.FeedbackCategory
	PageURL    string
}

// Validate checks the inputs without touching the network
func (r *Request) Validate() error {
	if r == nil || r.Screenshot == nil || r.Screenshot.DataURL == "" || strings.TrimSpace(r.Comment) == "" {
		return common.NewValidationError("missing_required_input", RequiredInputsMessage)
	}
	if _, err := models.ParseCategory(string(r.Category)); err != nil {
		return common.WrapError(err, common.ErrorTypeValidation, "invalid_category", "Feedback category is not recognised.")
	}
	return nil
}

// Result is the outcome of a successful submission
type Result struct {
	ScreenshotPath string
	Feedback       models.AIFeedback
}

// ProgressFunc receives the transient progress message; "" clears it
type ProgressFunc func(message string)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithClock overrides the time source used for file names and paths
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// Pipeline runs one submission at a time
type Pipeline struct {
	backend  interfaces.Backend
	logger   arbor.ILogger
	now      func() time.Time
	progress ProgressFunc
	machine  *stageMachine
	busy     atomic.Bool

	mu      sync.RWMutex
	message string
}

func NewPipeline(backend interfaces.Backend, logger arbor.ILogger, opts ...Option) (*Pipeline, error) {
	machine, err := newStageMachine()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		machine: machine,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stage returns the current pipeline stage
func (p *Pipeline) Stage() Stage {
	return p.machine.Current()
}

// Busy reports whether a submission is in flight
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Message returns the current progress message
func (p *Pipeline) Message() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.message
}

// Reset returns a finished pipeline to idle. It has no effect while a
// submission is running.
func (p *Pipeline) Reset() {
	if p.Busy() {
		return
	}
	p.machine.restart()
}

// Submit validates req, uploads the screenshot, and requests the analysis.
// Validation and configuration failures happen before any network call. The
// progress message and busy flag are cleared on every return path. Steps run
// strictly in order and nothing is retried; cancelling ctx aborts the
// current step.
func (p *Pipeline) Submit(ctx context.Context, req *Request) (result *Result, err error) {
	if err := p.backend.Ready(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !p.busy.CompareAndSwap(false, true) {
		return nil, common.NewValidationError("submission_in_progress", "A submission is already in progress.")
	}
	defer func() {
		p.report("")
		p.busy.Store(false)
	}()

	p.machine.restart()
	if err := p.machine.fire(eventSubmit); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeInternal, "invalid_stage", "Submission could not be started.")
	}
	defer func() {
		if err != nil {
			if ferr := p.machine.fire(eventFail); ferr != nil {
				p.logger.Warn().Err(ferr).Msg("Failed to record submission failure")
			}
			p.logger.Error().Err(err).Str("stage", string(p.Stage())).Msg("Submission error")
		}
	}()

	start := time.Now()

	// preparing
	p.report(MessagePreparing)
	file, err := PrepareFile(req.Screenshot, p.now())
	if err != nil {
		return nil, err
	}
	if err := p.advance(eventPrepared); err != nil {
		return nil, err
	}

	// uploading
	p.report(MessageUploading)
	path := ObjectPath(p.now(), file.Name)
	storedPath, err := p.backend.UploadScreenshot(ctx, path, file)
	if err != nil {
		return nil, classifyUpload(err)
	}
	if storedPath == "" {
		storedPath = path
	}
	p.logger.Info().
		Str("path", storedPath).
		Int("bytes", len(file.Data)).
		Msg("Screenshot uploaded")
	if err := p.advance(eventUploaded); err != nil {
		return nil, err
	}

	// analyzing
	p.report(MessageAnalyzing)
	var highlight models.HighlightRect
	if req.Highlight != nil {
		highlight = *req.Highlight
	}
	category, _ := models.ParseCategory(string(req.Category))
	resp, err := p.backend.InvokeAnalysis(ctx, &models.AnalysisRequest{
		ScreenshotPath:       storedPath,
		UserComment:          req.Comment,
		HighlightCoordinates: highlight,
		FeedbackCategory:     category,
		PageURL:              req.PageURL,
	})
	if err != nil {
		return nil, classifyInvoke(err)
	}
	if resp == nil {
		resp = &models.AnalysisResponse{}
	}
	if resp.Error != "" {
		return nil, common.NewRemoteApplicationError("ai_processing_failed", "AI Processing Error: "+resp.Error).
			WithContext("screenshot_path", storedPath)
	}
	if err := p.advance(eventAnalyzed); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("path", storedPath).
		Str("category", string(category)).
		Dur("duration", time.Since(start)).
		Msg("Feedback submitted")

	return &Result{
		ScreenshotPath: storedPath,
		Feedback: models.AIFeedback{
			Summary:      resp.Summary,
			SuggestedFix: resp.SuggestedFix,
		},
	}, nil
}

func (p *Pipeline) advance(event string) error {
	if err := p.machine.fire(event); err != nil {
		return common.WrapError(err, common.ErrorTypeInternal, "invalid_stage", "Submission stopped unexpectedly.")
	}
	return nil
}

func (p *Pipeline) report(message string) {
	p.mu.Lock()
	p.message = message
	p.mu.Unlock()

	if p.progress != nil {
		p.progress(message)
	}
}

// classifyUpload keeps typed errors from the backend and wraps anything else
// as a storage error.
func classifyUpload(err error) error {
	var fe *common.FeedbackError
	if errors.As(err, &fe) {
		return err
	}
	return common.WrapError(err, common.ErrorTypeStorage, "upload_failed", "Storage Error: "+err.Error())
}

// classifyInvoke keeps typed errors from the backend and wraps anything else
// as a transport error.
func classifyInvoke(err error) error {
	var fe *common.FeedbackError
	if errors.As(err, &fe) {
		return err
	}
	return common.WrapError(err, common.ErrorTypeTransport, "invoke_failed", "Function Error: "+err.Error())
}
