package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/handlers"
	"dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/middleware"
	"dashboard-feedback/internal/widget"

	"github.com/ternarybob/arbor"
)

// webServer serves the dashboard shell, the widget session API and the
// progress feed
type webServer struct {
	config           *common.Config
	server           *http.Server
	logger           arbor.ILogger
	apiHandlers      *handlers.APIHandlers
	feedbackHandlers *handlers.FeedbackHandlers
	uiHandlers       *handlers.UIHandlers
	wsHub            *handlers.WebSocketHub
	running          atomic.Bool
	startTime        time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg *common.Config, storage interfaces.Storage, backend interfaces.Backend, registry *widget.Registry, wsHub *handlers.WebSocketHub, logger arbor.ILogger) (interfaces.WebService, error) {
	mux := http.NewServeMux()

	apiHandlers := handlers.NewAPIHandlers(cfg, storage, backend, registry, logger, wsHub)
	feedbackHandlers := handlers.NewFeedbackHandlers(registry, logger)

	// Find pages directory - check both relative to working dir and binary location
	pagesDir := cfg.Service.PagesDir
	if _, err := os.Stat(pagesDir); os.IsNotExist(err) {
		execPath, _ := os.Executable()
		pagesDir = filepath.Join(filepath.Dir(execPath), cfg.Service.PagesDir)
		if _, err := os.Stat(pagesDir); os.IsNotExist(err) {
			logger.Warn().Str("pages_dir", cfg.Service.PagesDir).Msg("Pages directory not found, UI will not be available")
		}
	}

	uiHandlers, err := handlers.NewUIHandlers(cfg, backend, logger, pagesDir)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize UI handlers, only API endpoints will be available")
		uiHandlers = nil
	}

	ws := &webServer{
		config:           cfg,
		logger:           logger,
		apiHandlers:      apiHandlers,
		feedbackHandlers: feedbackHandlers,
		uiHandlers:       uiHandlers,
		wsHub:            wsHub,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	logMiddleware := middleware.Logging(logger)
	corsMiddleware := middleware.CORS
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, logMiddleware(corsMiddleware(h)))
	}

	// Service endpoints
	handle("GET /health", apiHandlers.HealthHandler)
	handle("GET /version", apiHandlers.VersionHandler)
	handle("GET /status", apiHandlers.StatusHandler)
	handle("GET /config", apiHandlers.ConfigHandler)

	// Widget sessions
	handle("POST /feedback/sessions", feedbackHandlers.OpenSessionHandler)
	handle("GET /feedback/sessions/{id}", feedbackHandlers.GetSessionHandler)
	handle("DELETE /feedback/sessions/{id}", feedbackHandlers.CloseSessionHandler)
	handle("POST /feedback/sessions/{id}/capture", feedbackHandlers.CaptureHandler)
	handle("POST /feedback/sessions/{id}/image", feedbackHandlers.ImageLoadedHandler)
	handle("POST /feedback/sessions/{id}/pointer", feedbackHandlers.PointerHandler)
	handle("PUT /feedback/sessions/{id}/draft", feedbackHandlers.DraftHandler)
	handle("POST /feedback/sessions/{id}/submit", feedbackHandlers.SubmitHandler)
	handle("POST /feedback/sessions/{id}/reset", feedbackHandlers.ResetHandler)

	// Submission history
	handle("GET /feedback/history", apiHandlers.ListHistoryHandler)
	handle("GET /feedback/history/{id}", apiHandlers.GetHistoryHandler)
	handle("DELETE /feedback/history", apiHandlers.ClearHistoryHandler)

	// Preflight for every route
	mux.HandleFunc("OPTIONS /", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))

	// WebSocket endpoint; the logging writer cannot be hijacked
	mux.HandleFunc("GET /ws", corsMiddleware(wsHub.WebSocketHandler))

	if uiHandlers != nil {
		handle("GET /{$}", uiHandlers.IndexHandler)
	}

	return ws, nil
}

// Start starts the web server
func (ws *webServer) Start(ctx context.Context) error {
	ws.running.Store(true)
	ws.startTime = time.Now()

	go func() {
		ws.logger.Info().Int("port", ws.config.Service.Port).Msg("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error().Err(err).Msg("Web server error")
			ws.running.Store(false)
		}
	}()
	return nil
}

// Stop stops the web server
func (ws *webServer) Stop() error {
	ws.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws.logger.Info().Msg("Shutting down web server")
	ws.wsHub.Stop()
	return ws.server.Shutdown(ctx)
}

// IsRunning returns true if the web server is running
func (ws *webServer) IsRunning() bool {
	return ws.running.Load()
}
