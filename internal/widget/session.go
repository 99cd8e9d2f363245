// Package widget composes the capture controller and submission pipeline
// into the feedback modal: one Session per open widget.
package widget

import (
	"context"
	"strings"
	"sync"
	"time"

	"dashboard-feedback/internal/capture"
	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"
	"dashboard-feedback/internal/submission"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Event types published for a session
const (
	EventCaptured  = "screenshot_captured"
	EventProgress  = "submission_progress"
	EventSucceeded = "submission_succeeded"
	EventFailed    = "submission_failed"
	EventReset     = "session_reset"
	EventClosed    = "session_closed"
)

// Dependencies are shared by every session of a registry
type Dependencies struct {
	Renderer    interfaces.PageRenderer
	Hider       interfaces.OverlayHider
	Backend     interfaces.Backend
	Storage     interfaces.Storage
	Events      interfaces.EventPublisher
	Logger      arbor.ILogger
	SettleDelay time.Duration
	Now         func() time.Time
}

// Session is one open feedback widget. All methods are safe for concurrent
// use.
type Session struct {
	id         string
	deps       Dependencies
	controller *capture.Controller
	pipeline   *submission.Pipeline
	logger     arbor.ILogger
	created    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	comment      string
	category     models.FeedbackCategory
	pageURL      string
	submitting    bool
	capturing     bool
	success       bool
	lastError     string
	status        string
	aiResponse    *models.AIFeedback
	generation    int
	cancelSubmit  context.CancelFunc
	cancelCapture context.CancelFunc
	lastActive    time.Time
}

func newSession(id string, deps Dependencies) (*Session, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger

	s := &Session{
		id:         id,
		deps:       deps,
		logger:     logger,
		created:    deps.Now(),
		lastActive: deps.Now(),
		category:   models.CategoryFeedback,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.controller = capture.NewController(deps.Renderer, deps.Hider, logger,
		capture.WithSettleDelay(deps.SettleDelay),
		capture.WithClock(deps.Now))

	pipeline, err := submission.NewPipeline(deps.Backend, logger,
		submission.WithClock(deps.Now),
		submission.WithProgress(s.onProgress))
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Open captures the page unless a screenshot is already present
func (s *Session) Open(ctx context.Context) error {
	if s.controller.Snapshot().Screenshot != nil {
		return nil
	}
	return s.Capture(ctx)
}

// Capture renders a new screenshot, discarding any previous one along with
// its highlight. Submit is refused while a capture runs; Reset cancels it
// and the late screenshot is dropped.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.capturing {
		s.mu.Unlock()
		return common.NewCaptureError("capture_in_progress", "A screenshot is already being captured.")
	}
	captureCtx, cancel := s.bind(ctx)
	s.capturing = true
	s.cancelCapture = cancel
	s.generation++
	generation := s.generation
	s.lastError = ""
	s.lastActive = s.deps.Now()
	s.mu.Unlock()
	defer cancel()

	shot, err := s.controller.CaptureScreenshot(captureCtx)

	s.mu.Lock()
	if s.generation != generation {
		// reset or closed while rendering
		if err == nil {
			s.controller.Reset()
		}
		s.mu.Unlock()
		s.logger.Debug().Str("session_id", s.id).Msg("Discarding screenshot of abandoned capture")
		if err != nil {
			return err
		}
		return common.NewCaptureError("capture_abandoned", "Screenshot discarded because the widget was reset.")
	}
	s.capturing = false
	s.cancelCapture = nil
	if err != nil {
		s.lastError = common.UserMessage(err)
		s.mu.Unlock()
		return err
	}
	s.pageURL = shot.PageURL
	s.mu.Unlock()

	s.publish(EventCaptured, map[string]string{"page_url": shot.PageURL})
	return nil
}

// AttachScreenshot uses a screenshot rendered by the client
func (s *Session) AttachScreenshot(shot *models.Screenshot) error {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lastActive = s.deps.Now()
	if err := s.controller.SetScreenshot(shot); err != nil {
		s.lastError = common.UserMessage(err)
		s.mu.Unlock()
		return err
	}
	s.lastError = ""
	s.pageURL = shot.PageURL
	s.mu.Unlock()

	s.publish(EventCaptured, map[string]string{"page_url": shot.PageURL})
	return nil
}

// ImageLoaded records the screenshot's displayed and natural sizes
func (s *Session) ImageLoaded(displayedWidth, displayedHeight, naturalWidth, naturalHeight float64) bool {
	return s.controller.OnImageLoaded(displayedWidth, displayedHeight, naturalWidth, naturalHeight)
}

// PointerDown starts a highlight and clears the previous error. It is
// ignored while a submission runs or after one succeeded.
func (s *Session) PointerDown(pointerX, pointerY, originX, originY float64) bool {
	if s.checkEditable() != nil {
		return false
	}
	s.touch("")
	return s.controller.PointerDown(pointerX, pointerY, originX, originY)
}

func (s *Session) PointerMove(pointerX, pointerY, originX, originY float64) bool {
	return s.controller.PointerMove(pointerX, pointerY, originX, originY)
}

func (s *Session) PointerUp() bool {
	return s.controller.EndHighlight()
}

func (s *Session) SetComment(comment string) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	s.mu.Lock()
	s.comment = comment
	s.lastActive = s.deps.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) SetCategory(category string) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	parsed, err := models.ParseCategory(category)
	if err != nil {
		return common.WrapError(err, common.ErrorTypeValidation, "invalid_category", "Feedback category is not recognised.")
	}
	s.mu.Lock()
	s.category = parsed
	s.lastActive = s.deps.Now()
	s.mu.Unlock()
	return nil
}

// Submit sends the screenshot, comment, category and highlight through the
// pipeline. On failure the inputs stay as they were so the user can retry.
// On success the session is locked until Reset.
func (s *Session) Submit(ctx context.Context) (*models.AIFeedback, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, common.NewValidationError("submission_in_progress", "A submission is already in progress.")
	}
	if s.success {
		s.mu.Unlock()
		return nil, common.NewValidationError("already_submitted", "Feedback was already submitted.")
	}
	if s.capturing {
		s.mu.Unlock()
		return nil, common.NewValidationError("capture_in_progress", "Wait for the screenshot to finish.")
	}

	// The rectangle goes out as drawn, zero-area included; only history
	// distinguishes a real selection.
	snap := s.controller.Snapshot()
	_, selected := s.controller.Selection()
	req := &submission.Request{
		Screenshot: snap.Screenshot,
		Comment:    s.comment,
		Category:   s.category,
		PageURL:    s.pageURL,
		Highlight:  snap.Highlight,
	}
	if req.PageURL == "" && snap.Screenshot != nil {
		req.PageURL = snap.Screenshot.PageURL
	}

	submitCtx, cancel := s.bind(ctx)
	s.submitting = true
	s.lastError = ""
	s.aiResponse = nil
	s.cancelSubmit = cancel
	s.generation++
	generation := s.generation
	s.lastActive = s.deps.Now()
	s.controller.SetLocked(true)
	s.mu.Unlock()
	defer cancel()

	result, err := s.pipeline.Submit(submitCtx, req)

	s.mu.Lock()
	if s.generation != generation {
		// reset or closed while running; the outcome belongs to nobody
		s.pipeline.Reset()
		s.mu.Unlock()
		s.logger.Debug().Str("session_id", s.id).Msg("Discarding outcome of abandoned submission")
		if err != nil {
			return nil, err
		}
		return &result.Feedback, nil
	}
	s.submitting = false
	s.cancelSubmit = nil
	if err != nil {
		s.lastError = common.UserMessage(err)
	} else {
		feedback := result.Feedback
		s.aiResponse = &feedback
		s.success = true
	}
	if err != nil {
		s.controller.SetLocked(false)
	}
	s.mu.Unlock()

	s.record(req, snap.Screenshot, selected, result, err)

	if err != nil {
		s.publish(EventFailed, map[string]string{"error": common.UserMessage(err)})
		return nil, err
	}
	s.publish(EventSucceeded, result.Feedback)
	return &result.Feedback, nil
}

// Reset returns the session to a fresh widget. A submission in flight is
// cancelled and its outcome discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.cancelSubmit != nil {
		s.cancelSubmit()
		s.cancelSubmit = nil
	}
	if s.cancelCapture != nil {
		s.cancelCapture()
		s.cancelCapture = nil
	}
	s.generation++
	s.capturing = false
	s.comment = ""
	s.category = models.CategoryFeedback
	s.pageURL = ""
	s.submitting = false
	s.success = false
	s.lastError = ""
	s.status = ""
	s.aiResponse = nil
	s.lastActive = s.deps.Now()
	s.controller.Reset()
	s.pipeline.Reset()
	s.mu.Unlock()

	s.publish(EventReset, nil)
}

// Close cancels anything in flight and clears the session
func (s *Session) Close() {
	s.cancel()
	s.Reset()
	s.publish(EventClosed, nil)
}

// View is what the front end renders
type View struct {
	ID                string                  `json:"id"`
	State             models.SubmissionState  `json:"state"`
	Available         bool                    `json:"available"`
	UnavailableReason string                  `json:"unavailable_reason,omitempty"`
	Capturing         bool                    `json:"capturing"`
	HasScreenshot     bool                    `json:"has_screenshot"`
	Screenshot        *models.Screenshot      `json:"screenshot,omitempty"`
	Dimensions        *models.ImageDimensions `json:"dimensions,omitempty"`
	Highlight         *models.HighlightRect   `json:"highlight,omitempty"`
	DisplayHighlight  *models.HighlightRect   `json:"display_highlight,omitempty"`
	Drawing           bool                    `json:"drawing"`
	ShowPrompt        bool                    `json:"show_prompt"`
	Comment           string                  `json:"comment"`
	Category          models.FeedbackCategory `json:"category"`
	CanSubmit         bool                    `json:"can_submit"`
	Submitting        bool                    `json:"submitting"`
	StatusMessage     string                  `json:"status_message,omitempty"`
	Stage             submission.Stage        `json:"stage"`
	Error             string                  `json:"error,omitempty"`
	AIResponse        *models.AIFeedback      `json:"ai_response,omitempty"`
	Success           bool                    `json:"success"`
	Created           time.Time               `json:"created"`
}

// View returns a snapshot of the session. includeImage controls whether the
// screenshot data URL is included.
func (s *Session) View(includeImage bool) View {
	snap := s.controller.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		ID:               s.id,
		Available:        true,
		Capturing:        snap.Capturing,
		HasScreenshot:    snap.Screenshot != nil,
		Dimensions:       snap.Dimensions,
		Highlight:        snap.Highlight,
		DisplayHighlight: snap.Display,
		Drawing:          snap.Drawing,
		ShowPrompt:       snap.Highlight == nil && !snap.Drawing && snap.Dimensions != nil,
		Comment:          s.comment,
		Category:         s.category,
		Submitting:       s.submitting,
		StatusMessage:    s.status,
		Stage:            s.pipeline.Stage(),
		Error:            s.lastError,
		Success:          s.success,
		Created:          s.created,
	}
	if s.aiResponse != nil {
		feedback := *s.aiResponse
		v.AIResponse = &feedback
	}
	if includeImage {
		v.Screenshot = snap.Screenshot
	}
	if err := s.deps.Backend.Ready(); err != nil {
		v.Available = false
		v.UnavailableReason = common.UserMessage(err)
	}

	v.CanSubmit = v.Available && !s.submitting && !s.success &&
		snap.Screenshot != nil && strings.TrimSpace(s.comment) != ""
	v.State = deriveState(v, snap)
	return v
}

func deriveState(v View, snap capture.Snapshot) models.SubmissionState {
	switch {
	case v.Submitting:
		return models.StateSubmitting
	case v.Success:
		return models.StateSuccess
	case snap.Capturing:
		return models.StateCapturing
	case snap.Drawing:
		return models.StateDrawing
	case v.Error != "":
		return models.StateError
	case snap.Screenshot != nil:
		return models.StateReady
	default:
		return models.StateIdle
	}
}

// idleSince reports when the session was last used
func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) checkEditable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editableLocked()
}

func (s *Session) editableLocked() error {
	if s.submitting {
		return common.NewValidationError("submission_in_progress", "A submission is already in progress.")
	}
	if s.success {
		return common.NewValidationError("already_submitted", "Feedback was already submitted. Reset to start again.")
	}
	return nil
}

// touch records activity and replaces the current error
func (s *Session) touch(errMessage string) {
	s.mu.Lock()
	s.lastError = errMessage
	s.lastActive = s.deps.Now()
	s.mu.Unlock()
}

func (s *Session) onProgress(message string) {
	s.mu.Lock()
	s.status = message
	s.mu.Unlock()
	if message != "" {
		s.publish(EventProgress, map[string]string{"message": message})
	}
}

// bind ties a request context to the session's lifetime
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

func (s *Session) publish(eventType string, data interface{}) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventType, s.id, data)
	}
}

// record stores a submission attempt that reached the network. Validation
// and configuration failures are not attempts.
func (s *Session) record(req *submission.Request, shot *models.Screenshot, selected bool, result *submission.Result, err error) {
	if s.deps.Storage == nil {
		return
	}
	if common.IsType(err, common.ErrorTypeValidation) || common.IsType(err, common.ErrorTypeInitialization) {
		return
	}

	rec := &models.SubmissionRecord{
		ID:        uuid.New().String(),
		SessionID: s.id,
		Created:   s.deps.Now(),
		Category:  req.Category,
		Comment:   req.Comment,
		PageURL:   req.PageURL,
	}
	if shot != nil {
		rec.PageTitle = shot.PageTitle
	}
	if req.Highlight != nil {
		rec.Highlight = *req.Highlight
	}
	rec.HasHighlight = selected
	if err != nil {
		rec.Outcome = models.StateError
		rec.Error = common.UserMessage(err)
	} else {
		rec.Outcome = models.StateSuccess
		rec.ScreenshotPath = result.ScreenshotPath
		rec.Summary = result.Feedback.Summary
		rec.SuggestedFix = result.Feedback.SuggestedFix
	}

	if serr := s.deps.Storage.SaveSubmission(rec); serr != nil {
		s.logger.Warn().Err(serr).Str("record_id", rec.ID).Msg("Failed to store submission history")
	}
}
