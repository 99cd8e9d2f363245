package widget

import (
	"context"
	"sync"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"

	"github.com/google/uuid"
)

// Registry tracks open sessions by id
type Registry struct {
	deps Dependencies

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Dependencies) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session. A client-rendered screenshot is attached when
// given, otherwise the page is captured. A failed capture leaves the
// session open with the error in its view so the user can retry.
func (r *Registry) Open(ctx context.Context, shot *models.Screenshot) (*Session, error) {
	if err := r.deps.Backend.Ready(); err != nil {
		return nil, err
	}

	s, err := newSession(uuid.New().String(), r.deps)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeInternal, "session_create_failed", "Feedback could not be opened.")
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.deps.Logger.Info().Str("session_id", s.ID()).Msg("Feedback session opened")

	if shot != nil {
		err = s.AttachScreenshot(shot)
	} else {
		err = s.Open(ctx)
	}
	if err != nil {
		r.deps.Logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Session opened without screenshot")
	}
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, common.NewValidationError("session_not_found", "Feedback session not found.").WithContext("id", id)
	}
	return s, nil
}

// Close cancels and removes a session
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return common.NewValidationError("session_not_found", "Feedback session not found.").WithContext("id", id)
	}
	s.Close()
	r.deps.Logger.Info().Str("session_id", id).Msg("Feedback session closed")
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseIdle closes sessions unused for longer than maxIdle and returns how
// many were closed. Sessions with a submission in flight are kept.
func (r *Registry) CloseIdle(maxIdle time.Duration) int {
	cutoff := r.deps.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) && !s.View(false).Submitting {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		r.deps.Logger.Info().Int("closed", len(stale)).Msg("Closed idle feedback sessions")
	}
	return len(stale)
}

// StartJanitor closes idle sessions every interval until ctx is done
func (r *Registry) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CloseIdle(maxIdle)
			}
		}
	}()
}

// CloseAll closes every session
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
