// Package session holds the single logical connection between the
// controller and the participant: its identity, its command queue, its
// lifetime context and the state machine both sides walk through.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"manualpilot/experiment/internal/command"
)

// Session is the connection context of one participant. It is created on
// a successful handshake and closed exactly once.
type Session struct {
	id     string
	peer   string
	opened time.Time
	queue  *command.Queue

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool
}

// New creates a session for peer whose lifetime is bounded by parent.
func New(parent context.Context, peer string) *Session {
	ctx, cancel := context.WithCancelCause(parent)

	return &Session{
		id:     ksuid.New().String(),
		peer:   peer,
		opened: time.Now(),
		queue:  command.NewQueue(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Peer() string { return s.peer }

func (s *Session) Opened() time.Time { return s.opened }

// Queue is the outbound command queue for this session.
func (s *Session) Queue() *command.Queue { return s.queue }

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// Close ends the session with the given cause. Only the first call has an
// effect; it reports whether this call closed the session.
func (s *Session) Close(cause error) bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}

	if cause == nil {
		cause = ErrClosed
	}

	s.cancel(cause)
	return true
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Err returns the close cause, or nil while the session is open.
func (s *Session) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}
