package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedbackCategory classifies a submission
type FeedbackCategory string

const (
	CategoryFeedback       FeedbackCategory = "feedback"
	CategoryFeatureRequest FeedbackCategory = "feature_request"
)

// ParseCategory accepts the wire names of the categories. An empty string
// yields the default category.
func ParseCategory(s string) (FeedbackCategory, error) {
	switch FeedbackCategory(strings.TrimSpace(s)) {
	case "", CategoryFeedback:
		return CategoryFeedback, nil
	case CategoryFeatureRequest:
		return CategoryFeatureRequest, nil
	default:
		return "", fmt.Errorf("unknown feedback category %q", s)
	}
}

// SubmissionState is the widget-level state that drives UI gating
type SubmissionState string

const (
	StateIdle       SubmissionState = "idle"
	StateCapturing  SubmissionState = "capturing"
	StateDrawing    SubmissionState = "drawing"
	StateReady      SubmissionState = "ready"
	StateSubmitting SubmissionState = "submitting"
	StateSuccess    SubmissionState = "success"
	StateError      SubmissionState = "error"
)

// AIFeedback is the analysis returned by the remote function. Either field
// may be empty.
type AIFeedback struct {
	Summary      string `json:"summary"`
	SuggestedFix string `json:"suggested_fix"`
}

// Screenshot is a captured page rendered as a data URL
type Screenshot struct {
	DataURL    string    `json:"data_url"`
	PageURL    string    `json:"page_url"`
	PageTitle  string    `json:"page_title,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// File is a binary upload payload
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// AnalysisRequest is the body sent to the remote analysis function
type AnalysisRequest struct {
	ScreenshotPath       string           `json:"screenshot_path"`
	UserComment          string           `json:"user_comment"`
	HighlightCoordinates HighlightRect    `json:"highlight_coordinates"`
	FeedbackCategory     FeedbackCategory `json:"feedback_category"`
	PageURL              string           `json:"page_url"`
}

// AnalysisResponse is the body returned by the remote analysis function
type AnalysisResponse struct {
	Summary      string `json:"summary,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SubmissionRecord is a stored submission attempt
type SubmissionRecord struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	Created        time.Time        `json:"created"`
	Category       FeedbackCategory `json:"category"`
	Comment        string           `json:"comment"`
	PageURL        string           `json:"page_url"`
	PageTitle      string           `json:"page_title,omitempty"`
	ScreenshotPath string           `json:"screenshot_path,omitempty"`
	Highlight      HighlightRect    `json:"highlight"`
	HasHighlight   bool             `json:"has_highlight"`
	Outcome        SubmissionState  `json:"outcome"`
	Summary        string           `json:"summary,omitempty"`
	SuggestedFix   string           `json:"suggested_fix,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// RenderedPage is the raw output of a page render
type RenderedPage struct {
	PNG  []byte
	URL  string
	HTML string
}
