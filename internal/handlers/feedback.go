package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"
	"dashboard-feedback/internal/widget"

	"github.com/ternarybob/arbor"
)

// maxBodyBytes bounds request bodies; client screenshots arrive as data URLs
const maxBodyBytes = 32 << 20

// FeedbackHandlers exposes widget sessions over HTTP
type FeedbackHandlers struct {
	registry *widget.Registry
	logger   arbor.ILogger
}

// OpenSessionRequest optionally carries a screenshot rendered by the client
type OpenSessionRequest struct {
	Screenshot *models.Screenshot `json:"screenshot,omitempty"`
}

// ImageLoadedRequest reports the rendered and intrinsic image sizes
type ImageLoadedRequest struct {
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	NaturalWidth  float64 `json:"natural_width"`
	NaturalHeight float64 `json:"natural_height"`
}

// PointerRequest is one pointer event over the screenshot container
type PointerRequest struct {
	Action  string  `json:"action"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
}

// DraftRequest updates the comment and/or category
type DraftRequest struct {
	Comment  *string `json:"comment,omitempty"`
	Category *string `json:"category,omitempty"`
}

// PointerResponse reports whether the event changed the highlight
type PointerResponse struct {
	Accepted bool        `json:"accepted"`
	Session  widget.View `json:"session"`
}

func NewFeedbackHandlers(registry *widget.Registry, logger arbor.ILogger) *FeedbackHandlers {
	return &FeedbackHandlers{
		registry: registry,
		logger:   logger,
	}
}

// OpenSessionHandler opens the widget, capturing the page unless the client
// sent its own screenshot
func (h *FeedbackHandlers) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}

	session, err := h.registry.Open(r.Context(), req.Screenshot)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, session.View(true))
}

// GetSessionHandler returns the session view; ?image=false omits the
// screenshot data
func (h *FeedbackHandlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session.View(r.URL.Query().Get("image") != "false"))
}

func (h *FeedbackHandlers) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
}

func (h *FeedbackHandlers) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.Capture(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session.View(true))
}

// ImageLoadedHandler records the image sizes. Zero sizes are accepted but
// leave drawing disabled.
func (h *FeedbackHandlers) ImageLoadedHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ImageLoadedRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	accepted := session.ImageLoaded(req.Width, req.Height, req.NaturalWidth, req.NaturalHeight)
	writeJSON(w, h.logger, http.StatusOK, PointerResponse{Accepted: accepted, Session: session.View(false)})
}

func (h *FeedbackHandlers) PointerHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req PointerRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var accepted bool
	switch req.Action {
	case "down":
		accepted = session.PointerDown(req.X, req.Y, req.OriginX, req.OriginY)
	case "move":
		accepted = session.PointerMove(req.X, req.Y, req.OriginX, req.OriginY)
	case "up", "leave":
		accepted = session.PointerUp()
	default:
		writeError(w, h.logger, common.NewValidationError("invalid_pointer_action", "action must be down, move, up or leave").
			WithContext("action", req.Action))
		return
	}

	writeJSON(w, h.logger, http.StatusOK, PointerResponse{Accepted: accepted, Session: session.View(false)})
}

func (h *FeedbackHandlers) DraftHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req DraftRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Comment != nil {
		if err := session.SetComment(*req.Comment); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if req.Category != nil {
		if err := session.SetCategory(*req.Category); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, session.View(false))
}

// SubmitHandler runs the submission and answers once it has finished.
// Progress is pushed over the websocket feed meanwhile.
func (h *FeedbackHandlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Submit(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session.View(false))
}

func (h *FeedbackHandlers) ResetHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.Reset()
	writeJSON(w, h.logger, http.StatusOK, session.View(false))
}

func (h *FeedbackHandlers) session(w http.ResponseWriter, r *http.Request) (*widget.Session, bool) {
	session, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return session, true
}

// decodeBody reads a JSON body into v. An empty body is an error unless
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return common.NewValidationError("empty_body", "Request body is required.")
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return common.NewValidationError("body_too_large", "Request body is too large.")
		}
		return common.WrapError(err, common.ErrorTypeValidation, "invalid_json", "Request body is not valid JSON.").
			WithDetails(err.Error())
	}
}
