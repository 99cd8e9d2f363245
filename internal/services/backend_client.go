package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	. "dashboard-feedback/internal/common"
	. "dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"

	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
)

// storageErrorBody is the object storage error envelope
type storageErrorBody struct {
	StatusCode interface{} `json:"statusCode"`
	Error      string      `json:"error"`
	Message    string      `json:"message"`
}

// functionErrorBody covers the shapes a failing function returns: a plain
// {"error": "..."} or {"message": "..."}, or {"error": {"message": "..."}}
type functionErrorBody struct {
	Error   interface{} `json:"error"`
	Message string      `json:"message"`
}

type backendClient struct {
	client  *resty.Client
	config  *BackendConfig
	logger  arbor.ILogger
	timeout time.Duration
}

// NewBackendClient returns a client for the configured platform. When the URL
// or key is missing it returns the unavailable variant so the rest of the
// service can still start.
func NewBackendClient(config *BackendConfig, logger arbor.ILogger) Backend {
	if err := config.Status(); err != nil {
		logger.Warn().Err(err).Msg("Feedback backend not configured")
		return &unavailableBackend{reason: err}
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.URL, "/")).
		SetAuthToken(config.APIKey).
		SetHeader("apikey", config.APIKey).
		SetHeader("Accept", "application/json")

	return &backendClient{
		client:  client,
		config:  config,
		logger:  logger,
		timeout: time.Duration(config.TimeoutSeconds) * time.Second,
	}
}

func (bc *backendClient) Ready() error {
	return nil
}

// UploadScreenshot stores file at path inside the configured bucket without
// overwriting an existing object
func (bc *backendClient) UploadScreenshot(ctx context.Context, path string, file *models.File) (string, error) {
	if file == nil || len(file.Data) == 0 {
		return "", NewValidationError("screenshot_missing", "Screenshot and comment are required.")
	}

	t := timeout.New[string](timeout.Config{DefaultTimeout: bc.timeout})
	return t.Execute(ctx, bc.timeout, func(ctx context.Context) (string, error) {
		var failure storageErrorBody

		resp, err := bc.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", file.ContentType).
			SetHeader("cache-control", "max-age=3600").
			SetHeader("x-upsert", "false").
			SetBody(file.Data).
			SetError(&failure).
			Post(bc.objectURL(path))

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", WrapError(err, ErrorTypeStorage, "upload_failed", "Storage Error: "+err.Error())
		}

		if resp.IsError() {
			message := firstNonEmpty(failure.Message, failure.Error, strings.TrimSpace(resp.String()),
				fmt.Sprintf("upload failed with status %d", resp.StatusCode()))
			bc.logger.Warn().
				Str("path", path).
				Int("status", resp.StatusCode()).
				Str("error", message).
				Msg("Screenshot upload rejected")
			return "", NewStorageError("upload_rejected", "Storage Error: "+message).
				WithContext("status", resp.StatusCode()).
				WithContext("path", path)
		}

		bc.logger.Debug().Str("path", path).Int("status", resp.StatusCode()).Msg("Screenshot stored")
		return path, nil
	})
}

// InvokeAnalysis calls the analysis function with req as its JSON body
func (bc *backendClient) InvokeAnalysis(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResponse, error) {
	t := timeout.New[*models.AnalysisResponse](timeout.Config{DefaultTimeout: bc.timeout})
	return t.Execute(ctx, bc.timeout, func(ctx context.Context) (*models.AnalysisResponse, error) {
		var result models.AnalysisResponse
		var failure functionErrorBody

		resp, err := bc.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			SetResult(&result).
			SetError(&failure).
			Post("/functions/v1/" + url.PathEscape(bc.config.Function))

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, WrapError(err, ErrorTypeTransport, "function_unreachable", "Function Error: "+err.Error())
		}

		if resp.IsError() {
			message := failure.describe()
			if message == "" {
				message = fmt.Sprintf("Edge Function returned a non-2xx status code (%d)", resp.StatusCode())
			}
			bc.logger.Warn().
				Str("function", bc.config.Function).
				Int("status", resp.StatusCode()).
				Str("error", message).
				Msg("Analysis function failed")
			return nil, NewTransportError("function_failed", "Function Error: "+message).
				WithContext("status", resp.StatusCode())
		}

		return &result, nil
	})
}

func (bc *backendClient) objectURL(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/storage/v1/object/" + url.PathEscape(bc.config.Bucket) + "/" + strings.Join(segments, "/")
}

func (b functionErrorBody) describe() string {
	switch e := b.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return b.Message
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// unavailableBackend is used when the platform is not configured. Every
// operation fails with the configuration error before any network call.
type unavailableBackend struct {
	reason error
}

func (u *unavailableBackend) Ready() error {
	return u.reason
}

func (u *unavailableBackend) UploadScreenshot(ctx context.Context, path string, file *models.File) (string, error) {
	return "", u.reason
}

func (u *unavailableBackend) InvokeAnalysis(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResponse, error) {
	return nil, u.reason
}
