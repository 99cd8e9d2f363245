package handlers

import (
	"html/template"
	"net/http"
	"path/filepath"

	. "dashboard-feedback/internal/common"
	. "dashboard-feedback/internal/interfaces"

	"github.com/ternarybob/arbor"
)

// UIHandlers serves the dashboard shell that hosts the widget
type UIHandlers struct {
	config    *Config
	backend   Backend
	logger    arbor.ILogger
	templates *template.Template
}

// TemplateData represents data passed to templates
type TemplateData struct {
	Title             string
	ServiceName       string
	Version           string
	Build             string
	Environment       string
	FeedbackAvailable bool
	UnavailableReason string
}

// NewUIHandlers creates a new UI handlers instance
func NewUIHandlers(config *Config, backend Backend, logger arbor.ILogger, pagesDir string) (*UIHandlers, error) {
	templatesPath := filepath.Join(pagesDir, "*.html")
	templates, err := template.ParseGlob(templatesPath)
	if err != nil {
		return nil, err
	}

	return &UIHandlers{
		config:    config,
		backend:   backend,
		logger:    logger,
		templates: templates,
	}, nil
}

// IndexHandler serves the dashboard with the feedback button and modal
func (h *UIHandlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	data := TemplateData{
		Title:             "Operations Dashboard",
		ServiceName:       h.config.Service.Name,
		Version:           GetVersion(),
		Build:             GetBuild(),
		Environment:       h.config.Service.Environment,
		FeedbackAvailable: true,
	}
	if err := h.backend.Ready(); err != nil {
		data.FeedbackAvailable = false
		data.UnavailableReason = UserMessage(err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to execute template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}
