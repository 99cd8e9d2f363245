package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"
	"dashboard-feedback/internal/widget"

	"github.com/ternarybob/arbor"
)

// APIHandlers contains the service and history endpoint handlers
type APIHandlers struct {
	config    *common.Config
	storage   interfaces.Storage
	backend   interfaces.Backend
	registry  *widget.Registry
	logger    arbor.ILogger
	startTime time.Time
	wsHub     *WebSocketHub
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Uptime    float64   `json:"uptime_seconds"`
	Services  struct {
		Database bool `json:"database"`
		Backend  bool `json:"backend"`
	} `json:"services"`
	Unavailable string `json:"unavailable_reason,omitempty"`
}

// VersionResponse represents server version information
type VersionResponse struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// StatusResponse represents the widget service status
type StatusResponse struct {
	Service struct {
		Running     bool    `json:"running"`
		Uptime      float64 `json:"uptime"`
		Environment string  `json:"environment"`
	} `json:"service"`
	Feedback struct {
		Available        bool   `json:"available"`
		Reason           string `json:"reason,omitempty"`
		ActiveSessions   int    `json:"active_sessions"`
		WebSocketClients int    `json:"websocket_clients"`
	} `json:"feedback"`
	History struct {
		Total     int    `json:"total"`
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
		LastPurge string `json:"last_purge,omitempty"`
	} `json:"history"`
}

// ConfigResponse represents the configuration display response
type ConfigResponse struct {
	Service *common.ServiceConfig `json:"service"`
	Backend struct {
		URL            string `json:"url"`
		APIKey         string `json:"api_key"`
		Bucket         string `json:"bucket"`
		Function       string `json:"function"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"backend"`
	Capture *common.CaptureConfig `json:"capture"`
	Storage *common.StorageConfig `json:"storage"`
	Logging *common.LoggingConfig `json:"logging"`
}

// HistoryResponse represents history operation responses
type HistoryResponse struct {
	Success     bool                       `json:"success"`
	Message     string                     `json:"message"`
	Count       int                        `json:"count"`
	Submissions []*models.SubmissionRecord `json:"submissions,omitempty"`
}

// ErrorResponse is the body written for every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(config *common.Config, storage interfaces.Storage, backend interfaces.Backend, registry *widget.Registry, logger arbor.ILogger, wsHub *WebSocketHub) *APIHandlers {
	return &APIHandlers{
		config:    config,
		storage:   storage,
		backend:   backend,
		registry:  registry,
		logger:    logger,
		startTime: time.Now(),
		wsHub:     wsHub,
	}
}

// HealthHandler returns system health status
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   common.GetVersion(),
		Build:     common.GetBuild(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}

	health.Services.Database = h.testDatabaseConnection()
	if err := h.backend.Ready(); err != nil {
		health.Unavailable = common.UserMessage(err)
	} else {
		health.Services.Backend = true
	}

	if !health.Services.Database || !health.Services.Backend {
		health.Status = "degraded"
	}

	writeJSON(w, h.logger, http.StatusOK, health)
}

// VersionHandler returns version information
func (h *APIHandlers) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, VersionResponse{
		Version: common.GetVersion(),
		Build:   common.GetBuild(),
		Commit:  common.GetGitCommit(),
	})
}

// StatusHandler returns session and history statistics
func (h *APIHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var status StatusResponse

	status.Service.Running = true
	status.Service.Uptime = time.Since(h.startTime).Seconds()
	status.Service.Environment = h.config.Service.Environment

	status.Feedback.Available = true
	if err := h.backend.Ready(); err != nil {
		status.Feedback.Available = false
		status.Feedback.Reason = common.UserMessage(err)
	}
	status.Feedback.ActiveSessions = h.registry.Count()
	if h.wsHub != nil {
		status.Feedback.WebSocketClients = h.wsHub.ClientCount()
	}

	records, err := h.storage.LoadSubmissions()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to load submissions for status")
	}
	status.History.Total = len(records)
	for _, record := range records {
		switch record.Outcome {
		case models.StateSuccess:
			status.History.Succeeded++
		case models.StateError:
			status.History.Failed++
		}
	}
	if lastPurge, err := h.storage.GetLastPurge(); err == nil {
		status.History.LastPurge = lastPurge
	}

	writeJSON(w, h.logger, http.StatusOK, status)
}

// ConfigHandler returns the configuration with the API key masked
func (h *APIHandlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	config := ConfigResponse{
		Service: &h.config.Service,
		Capture: &h.config.Capture,
		Storage: &h.config.Storage,
		Logging: &h.config.Logging,
	}
	config.Backend.URL = h.config.Backend.URL
	config.Backend.APIKey = h.config.Backend.MaskedAPIKey()
	config.Backend.Bucket = h.config.Backend.Bucket
	config.Backend.Function = h.config.Backend.Function
	config.Backend.TimeoutSeconds = h.config.Backend.TimeoutSeconds

	writeJSON(w, h.logger, http.StatusOK, config)
}

// ListHistoryHandler returns stored submissions, newest first. ?limit=N
// truncates the list.
func (h *APIHandlers) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.storage.LoadSubmissions()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load submissions")
		writeError(w, h.logger, common.WrapError(err, common.ErrorTypeInternal, "history_unavailable", "Submission history could not be loaded."))
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, h.logger, common.NewValidationError("invalid_limit", "limit must be a non-negative integer"))
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}

	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{
		Success:     true,
		Message:     fmt.Sprintf("Retrieved %d submissions", len(records)),
		Count:       len(records),
		Submissions: records,
	})
}

// GetHistoryHandler returns one stored submission
func (h *APIHandlers) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	record, err := h.storage.GetSubmission(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

// ClearHistoryHandler removes every stored submission
func (h *APIHandlers) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("Clearing submission history")

	if err := h.storage.ClearSubmissions(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear submission history")
		writeError(w, h.logger, common.WrapError(err, common.ErrorTypeInternal, "history_clear_failed", "Failed to clear submission history."))
		return
	}

	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{
		Success: true,
		Message: "Submission history cleared",
	})
}

func (h *APIHandlers) testDatabaseConnection() bool {
	_, err := h.storage.LoadSubmissions()
	return err == nil
}

func writeJSON(w http.ResponseWriter, logger arbor.ILogger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps a FeedbackError to its HTTP status. Anything untyped is
// an internal error.
func writeError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	resp := ErrorResponse{
		Type:  string(common.ErrorTypeInternal),
		Code:  "internal_error",
		Error: common.UserMessage(err),
	}
	status := http.StatusInternalServerError

	var fe *common.FeedbackError
	if errors.As(err, &fe) {
		resp.Type = string(fe.Type)
		resp.Code = fe.Code
		status = statusFor(fe)
	}

	writeJSON(w, logger, status, resp)
}

func statusFor(fe *common.FeedbackError) int {
	switch fe.Type {
	case common.ErrorTypeInitialization:
		return http.StatusServiceUnavailable
	case common.ErrorTypeValidation:
		switch fe.Code {
		case "session_not_found", "submission_not_found":
			return http.StatusNotFound
		case "submission_in_progress", "already_submitted", "capture_in_progress":
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case common.ErrorTypeCapture:
		if fe.Code == "capture_in_progress" || fe.Code == "capture_abandoned" {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case common.ErrorTypeStorage, common.ErrorTypeTransport, common.ErrorTypeRemoteApplication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
