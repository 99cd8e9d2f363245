package widget

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"dashboard-feedback/internal/capture"
	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"
	"dashboard-feedback/internal/submission"

	"github.com/ternarybob/arbor"
)

type fakeBackend struct {
	mu        sync.Mutex
	ready     error
	uploadErr error
	response  *models.AnalysisResponse
	uploads   int
	invokes   []*models.AnalysisRequest
}

func (f *fakeBackend) Ready() error { return f.ready }

func (f *fakeBackend) UploadScreenshot(ctx context.Context, path string, file *models.File) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return path, nil
}

func (f *fakeBackend) InvokeAnalysis(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes = append(f.invokes, req)
	return f.response, nil
}

type fakeRenderer struct {
	err   error
	calls int
	png   []byte

	// started is closed when a render begins; the render then waits for
	// release, ignoring ctx, and records ctx.Err() in ctxErr
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (f *fakeRenderer) Render(ctx context.Context) (*models.RenderedPage, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
		<-f.release
		f.ctxErr = ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.RenderedPage{
		PNG:  f.png,
		URL:  "http://localhost:8085/",
		HTML: "<html><head><title>Ops Dashboard</title></head></html>",
	}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	records []*models.SubmissionRecord
}

func (f *fakeStorage) SaveSubmission(record *models.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}
func (f *fakeStorage) LoadSubmissions() ([]*models.SubmissionRecord, error) { return f.records, nil }
func (f *fakeStorage) GetSubmission(id string) (*models.SubmissionRecord, error) {
	return nil, errors.New("not found")
}
func (f *fakeStorage) ClearSubmissions() error                        { return nil }
func (f *fakeStorage) PurgeOlderThan(cutoff time.Time) (int, error) { return 0, nil }
func (f *fakeStorage) GetLastPurge() (string, error)                 { return "", nil }
func (f *fakeStorage) Close() error                                  { return nil }

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Publish(eventType, sessionID string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeEvents) has(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	registry *Registry
	backend  *fakeBackend
	renderer *fakeRenderer
	storage  *fakeStorage
	events   *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{
			response: &models.AnalysisResponse{Summary: "UI bug", SuggestedFix: "Adjust CSS margin"},
		},
		renderer: &fakeRenderer{png: pngBytes(t)},
		storage:  &fakeStorage{},
		events:   &fakeEvents{},
	}
	f.registry = NewRegistry(Dependencies{
		Renderer: f.renderer,
		Backend:  f.backend,
		Storage:  f.storage,
		Events:   f.events,
		Logger:   arbor.NewLogger(),
	})
	return f
}

// drawSelection draws natural {10,10,50,20} on a 400x300 display of an
// 800x600 image whose container sits at (100,50)
func drawSelection(t *testing.T, s *Session) {
	t.Helper()
	if !s.ImageLoaded(400, 300, 800, 600) {
		t.Fatal("dimensions rejected")
	}
	if !s.PointerDown(105, 55, 100, 50) {
		t.Fatal("pointer down ignored")
	}
	s.PointerMove(130, 65, 100, 50)
	s.PointerUp()
}

func TestOpenWithUnavailableBackend(t *testing.T) {
	f := newFixture(t)
	f.backend.ready = common.NewInitializationError("backend_not_configured", "Feedback is unavailable: backend is not configured")

	s, err := f.registry.Open(context.Background(), nil)
	if s != nil || !common.IsType(err, common.ErrorTypeInitialization) {
		t.Fatalf("expected initialization error, got %v", err)
	}
	if f.renderer.calls != 0 || f.registry.Count() != 0 {
		t.Error("no session or capture expected")
	}
}

func TestOpenCapturesPage(t *testing.T) {
	f := newFixture(t)

	s, err := f.registry.Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	v := s.View(true)
	if !v.HasScreenshot || v.Screenshot == nil || v.Screenshot.PageTitle != "Ops Dashboard" {
		t.Fatalf("expected captured screenshot, got %+v", v)
	}
	if v.State != models.StateReady || v.Category != models.CategoryFeedback {
		t.Errorf("unexpected state %s / category %s", v.State, v.Category)
	}
	if v.CanSubmit {
		t.Error("cannot submit without a comment")
	}
	if !f.events.has(EventCaptured) {
		t.Error("expected capture event")
	}
	if s.View(false).Screenshot != nil {
		t.Error("image should be omitted when not requested")
	}
}

func TestCaptureFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("target closed")

	s, err := f.registry.Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	v := s.View(false)
	if v.HasScreenshot || v.Error != capture.CaptureFailedMessage || v.State != models.StateError {
		t.Fatalf("expected capture failure in view, got %+v", v)
	}

	f.renderer.err = nil
	if err := s.Capture(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	v = s.View(false)
	if !v.HasScreenshot || v.Error != "" {
		t.Errorf("expected screenshot and cleared error, got %+v", v)
	}
}

func TestSubmitThenResetClearsEverything(t *testing.T) {
	f := newFixture(t)
	s, _ := f.registry.Open(context.Background(), nil)

	drawSelection(t, s)
	if err := s.SetComment("Button misaligned"); err != nil {
		t.Fatal(err)
	}
	if !s.View(false).CanSubmit {
		t.Fatal("expected submit to be enabled")
	}

	feedback, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if feedback.Summary != "UI bug" || feedback.SuggestedFix != "Adjust CSS margin" {
		t.Errorf("unexpected feedback %+v", feedback)
	}

	if f.backend.uploads != 1 || len(f.backend.invokes) != 1 {
		t.Fatalf("expected one upload and one invoke, got %d/%d", f.backend.uploads, len(f.backend.invokes))
	}
	want := models.HighlightRect{X: 10, Y: 10, Width: 50, Height: 20}
	if f.backend.invokes[0].HighlightCoordinates != want {
		t.Errorf("expected %+v, got %+v", want, f.backend.invokes[0].HighlightCoordinates)
	}

	v := s.View(false)
	if !v.Success || v.State != models.StateSuccess || v.CanSubmit || v.AIResponse == nil {
		t.Errorf("unexpected view after success %+v", v)
	}
	if v.Stage != submission.StageSuccess {
		t.Errorf("expected stage success, got %s", v.Stage)
	}
	if s.PointerDown(105, 55, 100, 50) {
		t.Error("drawing must be disabled after success")
	}
	if err := s.SetComment("more"); err == nil {
		t.Error("edits must be rejected after success")
	}

	if len(f.storage.records) != 1 || !f.storage.records[0].HasHighlight || f.storage.records[0].Outcome != models.StateSuccess {
		t.Errorf("expected one successful history record, got %+v", f.storage.records)
	}

	s.Reset()
	v = s.View(true)
	if v.HasScreenshot || v.Dimensions != nil || v.Highlight != nil || v.Comment != "" ||
		v.Category != models.CategoryFeedback || v.Error != "" || v.AIResponse != nil ||
		v.Success || v.Submitting || v.StatusMessage != "" {
		t.Errorf("reset left state behind: %+v", v)
	}
	if v.State != models.StateIdle || v.Stage != submission.StageIdle {
		t.Errorf("expected idle after reset, got %s / %s", v.State, v.Stage)
	}
}

func TestSubmitFailureKeepsInputs(t *testing.T) {
	f := newFixture(t)
	f.backend.uploadErr = errors.New("bucket not found")
	s, _ := f.registry.Open(context.Background(), nil)

	drawSelection(t, s)
	s.SetComment("Chart legend overlaps")
	s.SetCategory("feature_request")

	if _, err := s.Submit(context.Background()); err == nil {
		t.Fatal("expected submission to fail")
	}

	v := s.View(false)
	if v.Error != "Storage Error: bucket not found" || v.State != models.StateError {
		t.Errorf("unexpected error state %q / %s", v.Error, v.State)
	}
	if !v.HasScreenshot || v.Comment != "Chart legend overlaps" || v.Category != models.CategoryFeatureRequest ||
		v.Highlight == nil || *v.Highlight != (models.HighlightRect{X: 10, Y: 10, Width: 50, Height: 20}) {
		t.Errorf("inputs changed after failure: %+v", v)
	}
	if len(f.backend.invokes) != 0 {
		t.Error("analysis must not run after a failed upload")
	}
	if !v.CanSubmit {
		t.Error("retry should be possible")
	}
	if len(f.storage.records) != 1 || f.storage.records[0].Outcome != models.StateError {
		t.Errorf("expected failed attempt in history, got %+v", f.storage.records)
	}

	if !s.PointerDown(105, 55, 100, 50) {
		t.Fatal("drawing should be possible after failure")
	}
	if s.View(false).Error != "" {
		t.Error("pointer down should clear the error")
	}
}

func TestSubmitWithoutCommentIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	s, _ := f.registry.Open(context.Background(), nil)

	_, err := s.Submit(context.Background())
	if !common.IsType(err, common.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s.View(false).Error != submission.RequiredInputsMessage {
		t.Errorf("unexpected error %q", s.View(false).Error)
	}
	if f.backend.uploads != 0 || len(f.storage.records) != 0 {
		t.Error("validation failures make no calls and leave no history")
	}
}

func TestSetCategoryRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	s, _ := f.registry.Open(context.Background(), nil)

	if err := s.SetCategory("complaint"); !common.IsType(err, common.ErrorTypeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if s.View(false).Category != models.CategoryFeedback {
		t.Error("category should be unchanged")
	}
}

func TestRegistryCloseAndIdle(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	f.registry.deps.Now = func() time.Time { return now }

	a, _ := f.registry.Open(context.Background(), nil)
	b, _ := f.registry.Open(context.Background(), nil)

	if err := f.registry.Close(a.ID()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.registry.Get(a.ID()); err == nil {
		t.Error("closed session should be gone")
	}
	if err := f.registry.Close(a.ID()); err == nil {
		t.Error("closing twice should fail")
	}

	now = now.Add(time.Hour)
	if n := f.registry.CloseIdle(30 * time.Minute); n != 1 {
		t.Errorf("expected one idle session closed, got %d", n)
	}
	if _, err := f.registry.Get(b.ID()); err == nil {
		t.Error("idle session should be gone")
	}
	if !f.events.has(EventClosed) {
		t.Error("expected close event")
	}
}

func TestZeroAreaHighlightIsForwardedAsDrawn(t *testing.T) {
	f := newFixture(t)
	s, _ := f.registry.Open(context.Background(), nil)

	if !s.ImageLoaded(400, 300, 800, 600) {
		t.Fatal("dimensions rejected")
	}
	// vertical drag: natural (60,20) to (60,40)
	s.PointerDown(130, 60, 100, 50)
	s.PointerMove(130, 70, 100, 50)
	s.PointerUp()
	s.SetComment("Divider looks off")

	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	want := models.HighlightRect{X: 60, Y: 20, Width: 0, Height: 20}
	if len(f.backend.invokes) != 1 || f.backend.invokes[0].HighlightCoordinates != want {
		t.Fatalf("expected %+v to be sent, got %+v", want, f.backend.invokes)
	}
	rec := f.storage.records[0]
	if rec.HasHighlight || rec.Highlight != want {
		t.Errorf("expected zero-area rect stored without selection flag, got %+v", rec)
	}
}

func TestNoHighlightSendsZeroRect(t *testing.T) {
	f := newFixture(t)
	s, _ := f.registry.Open(context.Background(), nil)
	s.SetComment("General comment")

	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if f.backend.invokes[0].HighlightCoordinates != (models.HighlightRect{}) {
		t.Errorf("expected zero rect, got %+v", f.backend.invokes[0].HighlightCoordinates)
	}
	if f.storage.records[0].HasHighlight {
		t.Error("no selection expected in history")
	}
}

func TestResetDiscardsCaptureInFlight(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Open(context.Background(), &models.Screenshot{
		DataURL: common.EncodeDataURL("image/png", pngBytes(t)),
		PageURL: "http://localhost:8085/",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.SetComment("Numbers look stale")

	f.renderer.started = make(chan struct{})
	f.renderer.release = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Capture(context.Background()) }()
	<-f.renderer.started

	if _, err := s.Submit(context.Background()); !common.IsType(err, common.ErrorTypeValidation) {
		t.Errorf("submit during capture should be refused, got %v", err)
	}
	if err := s.Capture(context.Background()); err == nil {
		t.Error("a second capture should be refused")
	}

	s.Reset()
	close(f.renderer.release)

	if err := <-done; !common.IsType(err, common.ErrorTypeCapture) {
		t.Errorf("expected abandoned capture error, got %v", err)
	}
	if !errors.Is(f.renderer.ctxErr, context.Canceled) {
		t.Errorf("reset should cancel the render context, got %v", f.renderer.ctxErr)
	}
	v := s.View(true)
	if v.HasScreenshot || v.Capturing || v.State != models.StateIdle {
		t.Errorf("late screenshot must not survive reset: %+v", v)
	}
	if f.backend.uploads != 0 {
		t.Error("nothing should have been uploaded")
	}
}
