// Package capture owns the screenshot shown in the feedback widget, the
// highlight rectangle drawn over it, and the mapping between pointer
// positions on the displayed image and the screenshot's natural pixels.
package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"

	"github.com/ternarybob/arbor"
)

// CaptureFailedMessage is shown to the user when a page render fails
const CaptureFailedMessage = "Failed to capture screenshot. Please try again."

// Controller is safe for concurrent use. Rendering runs outside the lock so
// state can be read while a capture is in progress.
type Controller struct {
	renderer    interfaces.PageRenderer
	hider       interfaces.OverlayHider
	logger      arbor.ILogger
	settleDelay time.Duration
	now         func() time.Time

	mu         sync.RWMutex
	screenshot *models.Screenshot
	dims       *models.ImageDimensions
	rect       *models.HighlightRect
	origin     models.Point
	drawing    bool
	capturing  bool
	locked     bool
}

// Option configures a Controller
type Option func(*Controller)

// WithSettleDelay waits before rendering so UI transitions finish first
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.settleDelay = d
	}
}

// WithClock overrides the capture timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller. renderer may be nil when screenshots
// are only ever supplied by the client; hider may be nil when there is no
// widget chrome to hide.
func NewController(renderer interfaces.PageRenderer, hider interfaces.OverlayHider, logger arbor.ILogger, opts ...Option) *Controller {
	c := &Controller{
		renderer: renderer,
		hider:    hider,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CaptureScreenshot renders the page with the widget's overlays hidden and
// makes the result the current screenshot. Any previous screenshot,
// dimensions and highlight are discarded first. On failure no screenshot is
// set and the call may be retried.
func (c *Controller) CaptureScreenshot(ctx context.Context) (*models.Screenshot, error) {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil, common.NewCaptureError("capture_in_progress", "A screenshot is already being captured.")
	}
	c.capturing = true
	c.clearLocked()
	c.mu.Unlock()

	start := time.Now()
	shot, err := c.render(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false

	if err != nil {
		c.logger.Error().Err(err).Msg("Error capturing screenshot")
		return nil, err
	}

	c.screenshot = shot
	c.logger.Info().
		Int("data_url_length", len(shot.DataURL)).
		Str("page_url", shot.PageURL).
		Dur("duration", time.Since(start)).
		Msg("Screenshot captured")
	return shot, nil
}

func (c *Controller) render(ctx context.Context) (*models.Screenshot, error) {
	if c.renderer == nil {
		return nil, common.NewCaptureError("capture_unavailable", CaptureFailedMessage).
			WithDetails("no page renderer configured")
	}

	if c.settleDelay > 0 {
		select {
		case <-time.After(c.settleDelay):
		case <-ctx.Done():
			return nil, common.WrapError(ctx.Err(), common.ErrorTypeCapture, "capture_cancelled", CaptureFailedMessage)
		}
	}

	page, err := c.renderHidden(ctx)
	if err != nil {
		return nil, err
	}
	if len(page.PNG) == 0 {
		return nil, common.NewCaptureError("empty_render", CaptureFailedMessage).
			WithDetails("renderer returned no image data")
	}

	return &models.Screenshot{
		DataURL:    common.EncodeDataURL("image/png", page.PNG),
		PageURL:    page.URL,
		PageTitle:  common.PageTitle(page.HTML),
		CapturedAt: c.now(),
	}, nil
}

// renderHidden brackets the render with hide/restore of the overlays. The
// restore runs on every exit path, and still runs if ctx was cancelled
// mid-render.
func (c *Controller) renderHidden(ctx context.Context) (*models.RenderedPage, error) {
	if c.hider != nil {
		restore, err := c.hider.HideOverlays(ctx)
		if err != nil {
			return nil, common.WrapError(err, common.ErrorTypeCapture, "hide_overlays_failed", CaptureFailedMessage)
		}
		c.logger.Debug().Msg("Overlays hidden for screenshot")
		defer func() {
			if err := restore(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to restore overlays after screenshot")
				return
			}
			c.logger.Debug().Msg("Overlays restored after screenshot")
		}()
	}

	page, err := c.renderer.Render(ctx)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeCapture, "render_failed", CaptureFailedMessage).
			WithDetails(err.Error())
	}
	return page, nil
}

// SetScreenshot installs a screenshot rendered elsewhere, such as in the
// user's browser. The data URL must carry an image.
func (c *Controller) SetScreenshot(shot *models.Screenshot) error {
	if shot == nil {
		return common.NewValidationError("screenshot_missing", "Screenshot is required.")
	}
	mimeType, data, err := common.DecodeDataURL(shot.DataURL)
	if err != nil {
		return common.WrapError(err, common.ErrorTypeValidation, "screenshot_invalid", "Screenshot is not a valid data URL.")
	}
	if !strings.HasPrefix(mimeType, "image/") || len(data) == 0 {
		return common.NewValidationError("screenshot_invalid", "Screenshot must be an image.").
			WithContext("mime_type", mimeType)
	}

	stored := *shot
	if stored.CapturedAt.IsZero() {
		stored.CapturedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing {
		return common.NewCaptureError("capture_in_progress", "A screenshot is already being captured.")
	}
	c.clearLocked()
	c.screenshot = &stored
	return nil
}

// OnImageLoaded records the displayed and natural sizes of the loaded
// screenshot. If any size is not positive nothing is recorded and drawing
// stays disabled.
func (c *Controller) OnImageLoaded(displayedWidth, displayedHeight, naturalWidth, naturalHeight float64) bool {
	dims := models.ImageDimensions{
		Width:         displayedWidth,
		Height:        displayedHeight,
		NaturalWidth:  naturalWidth,
		NaturalHeight: naturalHeight,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !dims.Valid() {
		c.logger.Warn().
			Str("dimensions", formatDims(dims)).
			Msg("Image has no dimensions")
		c.dims = nil
		return false
	}

	c.dims = &dims
	c.logger.Debug().Str("dimensions", formatDims(dims)).Msg("Image dimensions set")
	return true
}

// MapPointerToNatural converts a pointer position to natural image pixels.
// Without dimensions it returns the origin and logs a warning.
func (c *Controller) MapPointerToNatural(pointerX, pointerY, containerOriginX, containerOriginY float64) models.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapLocked(pointerX, pointerY, containerOriginX, containerOriginY)
}

func (c *Controller) mapLocked(pointerX, pointerY, containerOriginX, containerOriginY float64) models.Point {
	if c.dims == nil || !c.dims.Valid() {
		c.logger.Warn().Msg("Pointer mapping requested before image dimensions are known")
		return models.Point{}
	}
	return models.Point{
		X: (pointerX - containerOriginX) * c.dims.ScaleX(),
		Y: (pointerY - containerOriginY) * c.dims.ScaleY(),
	}
}

// BeginHighlight starts a rectangle at p. It does nothing without a
// screenshot and dimensions, or while the controller is locked.
func (c *Controller) BeginHighlight(p models.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screenshot == nil || c.dims == nil || c.locked || c.capturing {
		c.logger.Debug().Msg("Highlight not started: drawing is disabled")
		return false
	}

	c.origin = p
	c.drawing = true
	c.rect = &models.HighlightRect{X: p.X, Y: p.Y}
	return true
}

// UpdateHighlight stretches the rectangle between the fixed origin and p
func (c *Controller) UpdateHighlight(p models.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.drawing {
		return false
	}
	rect := models.RectFromPoints(c.origin, p)
	c.rect = &rect
	return true
}

// EndHighlight freezes the rectangle at its last value
func (c *Controller) EndHighlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.drawing {
		return false
	}
	c.drawing = false
	if c.rect != nil {
		c.logger.Debug().Str("highlight", formatRect(*c.rect)).Msg("Drawing finished")
	}
	return true
}

// PointerDown maps the pointer and begins a highlight in one step
func (c *Controller) PointerDown(pointerX, pointerY, originX, originY float64) bool {
	return c.BeginHighlight(c.MapPointerToNatural(pointerX, pointerY, originX, originY))
}

// PointerMove maps the pointer and updates the highlight in one step
func (c *Controller) PointerMove(pointerX, pointerY, originX, originY float64) bool {
	c.mu.RLock()
	drawing := c.drawing
	c.mu.RUnlock()
	if !drawing {
		return false
	}
	return c.UpdateHighlight(c.MapPointerToNatural(pointerX, pointerY, originX, originY))
}

// SetLocked disables drawing while a submission runs or after it succeeded.
// Locking ends any drag in progress.
func (c *Controller) SetLocked(locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = locked
	if locked {
		c.drawing = false
	}
}

// Reset clears the screenshot, dimensions, rectangle and drawing state
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.locked = false
}

func (c *Controller) clearLocked() {
	c.screenshot = nil
	c.dims = nil
	c.rect = nil
	c.origin = models.Point{}
	c.drawing = false
}

// Snapshot is a point-in-time copy of the controller state
type Snapshot struct {
	Screenshot *models.Screenshot
	Dimensions *models.ImageDimensions
	Highlight  *models.HighlightRect
	Display    *models.HighlightRect
	Drawing    bool
	Capturing  bool
}

// Snapshot copies the current state, including the highlight converted to
// display pixels when dimensions are known.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Drawing:   c.drawing,
		Capturing: c.capturing,
	}
	if c.screenshot != nil {
		shot := *c.screenshot
		snap.Screenshot = &shot
	}
	if c.dims != nil {
		dims := *c.dims
		snap.Dimensions = &dims
	}
	if c.rect != nil {
		rect := *c.rect
		snap.Highlight = &rect
		if c.dims != nil {
			display := ToDisplay(rect, *c.dims)
			snap.Display = &display
		}
	}
	return snap
}

// Selection returns the highlight and whether it marks a region. A missing
// or zero-area rectangle means nothing was highlighted.
func (c *Controller) Selection() (models.HighlightRect, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rect == nil {
		return models.HighlightRect{}, false
	}
	return *c.rect, !c.rect.IsZeroArea()
}
