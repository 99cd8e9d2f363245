package interfaces

import (
	"context"
	"time"

	"dashboard-feedback/internal/models"
)

type Storage interface {
	SaveSubmission(record *models.SubmissionRecord) error
	LoadSubmissions() ([]*models.SubmissionRecord, error)
	GetSubmission(id string) (*models.SubmissionRecord, error)
	ClearSubmissions() error
	PurgeOlderThan(cutoff time.Time) (int, error)
	GetLastPurge() (string, error)
	Close() error
}

// Backend is the managed platform that stores screenshots and runs the
// analysis function. Ready returns an initialization error when the backend
// is not configured; the other methods fail with the same error in that case.
type Backend interface {
	Ready() error
	UploadScreenshot(ctx context.Context, path string, file *models.File) (string, error)
	InvokeAnalysis(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResponse, error)
}

// PageRenderer renders the current page into a PNG
type PageRenderer interface {
	Render(ctx context.Context) (*models.RenderedPage, error)
}

// OverlayHider hides the widget's own elements so they do not appear in a
// capture. The returned restore func puts them back.
type OverlayHider interface {
	HideOverlays(ctx context.Context) (restore func(context.Context) error, err error)
}

// EventPublisher fans session events out to connected clients
type EventPublisher interface {
	Publish(eventType, sessionID string, data interface{})
}

type WebService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}
