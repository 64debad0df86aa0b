package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"manualpilot/experiment/internal/session"
	"manualpilot/experiment/internal/wire"
)

type SessionStatus struct {
	ID     string    `json:"id"`
	Peer   string    `json:"peer"`
	Opened time.Time `json:"opened"`
	Queued int       `json:"queued"`
}

type LivenessStatus struct {
	Last  time.Time `json:"last"`
	Stale bool      `json:"stale"`
}

type Status struct {
	State    session.State  `json:"state"`
	Config   wire.Config    `json:"config"`
	Session  *SessionStatus `json:"session,omitempty"`
	Liveness LivenessStatus `json:"liveness"`
	HasFrame bool           `json:"has_frame"`
}

type KeyRequest struct {
	Action int `json:"action"`
}

// Status summarises the coordinator for operators.
func (c *Coordinator) Status() Status {
	record := c.Liveness()

	status := Status{
		State:    c.State(),
		Config:   c.Config(),
		Liveness: LivenessStatus{Last: record.Last, Stale: record.Stale(time.Now())},
		HasFrame: c.frames.HasValue(),
	}

	if sess := c.Current(); sess != nil {
		status.Session = &SessionStatus{
			ID:     sess.ID(),
			Peer:   sess.Peer(),
			Opened: sess.Opened(),
			Queued: sess.Queue().Len(),
		}
	}

	return status
}

func controlRoutes(c *Coordinator) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, c.Status())
		})
		r.Get("/log", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, c.journal.Entries())
		})
		r.Delete("/log", func(w http.ResponseWriter, r *http.Request) {
			c.journal.Clear()
			w.WriteHeader(http.StatusNoContent)
		})
		r.Post("/start", action(c.StartGame))
		r.Post("/abort", action(c.AbortGame))
		r.Post("/disconnect", action(c.Disconnect))
		r.Put("/config", configHandler(c))
		r.Post("/key", keyHandler(c))
		r.Get("/frame", frameHandler(c))
	}
}

func action(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// configHandler merges a partial JSON config onto the current one.
func configHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		cfg, err := c.ChangeConfig(func(cfg *wire.Config) error {
			next, err := cfg.Merge(string(b))
			if err != nil {
				return err
			}
			*cfg = next
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, cfg)
	}
}

func keyHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := KeyRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("invalid key request: %w", err))
			return
		}

		if err := c.KeyInput(req.Action); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func frameHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, ok := c.frames.Latest()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Frame-Shape", fmt.Sprintf("%dx%dx%d", wire.FrameHeight, wire.FrameWidth, wire.FrameChannels))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame.Screen)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	if errors.Is(err, session.ErrNoActiveSession) || errors.Is(err, session.ErrInvalidTransition) {
		code = http.StatusConflict
	}

	writeJSON(w, code, map[string]string{"error": err.Error()})
}
