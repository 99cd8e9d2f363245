package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"

	"github.com/ternarybob/arbor"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *backendClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewBackendClient(&common.BackendConfig{
		URL:            server.URL,
		APIKey:         "anon-key",
		Bucket:         "screenshots",
		Function:       "process-feedback",
		TimeoutSeconds: 5,
	}, arbor.NewLogger())

	bc, ok := client.(*backendClient)
	if !ok {
		t.Fatalf("expected configured client, got %T", client)
	}
	return bc
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestUploadScreenshotSendsObject(t *testing.T) {
	var gotPath, gotType, gotUpsert, gotAuth, gotKey string
	var gotBody []byte

	bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotBody, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, map[string]string{"Key": "screenshots/public/a.png"})
	})

	path, err := bc.UploadScreenshot(context.Background(), "public/a.png", &models.File{
		Name:        "a.png",
		ContentType: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	})
	if err != nil {
		t.Fatalf("UploadScreenshot failed: %v", err)
	}

	if path != "public/a.png" {
		t.Errorf("expected returned path public/a.png, got %q", path)
	}
	if gotPath != "/storage/v1/object/screenshots/public/a.png" {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if gotType != "image/png" || gotUpsert != "false" {
		t.Errorf("unexpected headers content-type=%q x-upsert=%q", gotType, gotUpsert)
	}
	if gotAuth != "Bearer anon-key" || gotKey != "anon-key" {
		t.Errorf("unexpected auth headers %q / %q", gotAuth, gotKey)
	}
	if string(gotBody) != "\x89PNG" {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestUploadScreenshotRejected(t *testing.T) {
	bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"statusCode": "403",
			"error":      "Unauthorized",
			"message":    "new row violates row-level security policy",
		})
	})

	_, err := bc.UploadScreenshot(context.Background(), "public/a.png", &models.File{ContentType: "image/png", Data: []byte{1}})
	if !common.IsType(err, common.ErrorTypeStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if got := common.UserMessage(err); got != "Storage Error: new row violates row-level security policy" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestUploadScreenshotRejectedWithNumericStatus(t *testing.T) {
	bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
			"statusCode": 413,
			"error":      "Payload too large",
			"message":    "The object exceeded the maximum allowed size",
		})
	})

	_, err := bc.UploadScreenshot(context.Background(), "public/a.png", &models.File{ContentType: "image/png", Data: []byte{1}})
	if got := common.UserMessage(err); got != "Storage Error: The object exceeded the maximum allowed size" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestInvokeAnalysisSendsRequest(t *testing.T) {
	var got models.AnalysisRequest
	var gotPath string

	bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]string{"summary": "UI bug", "suggested_fix": "Adjust CSS margin"})
	})

	req := &models.AnalysisRequest{
		ScreenshotPath:       "public/a.png",
		UserComment:          "Button misaligned",
		HighlightCoordinates: models.HighlightRect{X: 10, Y: 10, Width: 50, Height: 20},
		FeedbackCategory:     models.CategoryFeedback,
		PageURL:              "http://localhost:8085/",
	}
	resp, err := bc.InvokeAnalysis(context.Background(), req)
	if err != nil {
		t.Fatalf("InvokeAnalysis failed: %v", err)
	}

	if gotPath != "/functions/v1/process-feedback" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if got != *req {
		t.Errorf("expected body %+v, got %+v", *req, got)
	}
	if resp.Summary != "UI bug" || resp.SuggestedFix != "Adjust CSS margin" || resp.Error != "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestInvokeAnalysisReturnsErrorField(t *testing.T) {
	bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "vision model timeout"})
	})

	resp, err := bc.InvokeAnalysis(context.Background(), &models.AnalysisRequest{})
	if err != nil {
		t.Fatalf("a 2xx response is not a transport error: %v", err)
	}
	if resp.Error != "vision model timeout" {
		t.Errorf("expected error field to be surfaced, got %+v", resp)
	}
}

func TestInvokeAnalysisNon2xx(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"string error", map[string]string{"error": "bad input"}, "Function Error: bad input"},
		{"nested error", map[string]interface{}{"error": map[string]string{"message": "boom"}}, "Function Error: boom"},
		{"message only", map[string]string{"message": "relay failed"}, "Function Error: relay failed"},
		{"empty body", map[string]string{}, "Function Error: Edge Function returned a non-2xx status code (500)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, tt.body)
			})

			_, err := bc.InvokeAnalysis(context.Background(), &models.AnalysisRequest{})
			if !common.IsType(err, common.ErrorTypeTransport) {
				t.Fatalf("expected transport error, got %v", err)
			}
			if got := common.UserMessage(err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUnavailableBackend(t *testing.T) {
	backend := NewBackendClient(&common.BackendConfig{URL: "https://example.supabase.co"}, arbor.NewLogger())

	if !common.IsType(backend.Ready(), common.ErrorTypeInitialization) {
		t.Fatalf("expected initialization error, got %v", backend.Ready())
	}
	if _, err := backend.UploadScreenshot(context.Background(), "p", &models.File{Data: []byte{1}}); !common.IsType(err, common.ErrorTypeInitialization) {
		t.Errorf("upload should fail with the configuration error, got %v", err)
	}
	if _, err := backend.InvokeAnalysis(context.Background(), &models.AnalysisRequest{}); !common.IsType(err, common.ErrorTypeInitialization) {
		t.Errorf("invoke should fail with the configuration error, got %v", err)
	}
}
