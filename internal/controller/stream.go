package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"manualpilot/experiment/internal/command"
	"manualpilot/experiment/internal/presence"
	"manualpilot/experiment/internal/session"
	"manualpilot/experiment/internal/wire"
)

// SignalRoute accepts the participant's command stream. The request is the
// handshake: it registers the session, then writes queued commands in
// order until the session ends.
func SignalRoute(c *Coordinator, logger *slog.Logger, touchInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := c.Register(r.Context(), r.RemoteAddr)
		if errors.Is(err, session.ErrSessionActive) {
			w.WriteHeader(http.StatusConflict)
			return
		} else if err != nil {
			logger.Error("failed to register", slog.Any("error", err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		log := logger.With(slog.String("id", sess.ID()), slog.String("peer", sess.Peer()))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			c.Teardown(sess, fmt.Errorf("%w: accept: %v", session.ErrStream, err))
			return
		}

		//goland:noinspection GoUnhandledErrorResult
		defer conn.Close(websocket.StatusNormalClosure, "")

		// the participant never writes here; reading only watches for close
		peer := conn.CloseRead(context.Background())

		ctx, cancel := context.WithCancel(sess.Context())
		defer cancel()

		stop := context.AfterFunc(peer, cancel)
		defer stop()

		go func() {
			ticker := time.NewTicker(touchInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := c.presence.Touch(ctx, sess.ID()); err != nil {
						log.Warn("failed to extend presence", slog.Any("error", err))
					}
				}
			}
		}()

		for {
			cmd, err := sess.Queue().PopOrWait(ctx, c.poll)
			if err != nil {
				if sess.IsClosed() {
					log.Debug("left", slog.Any("cause", sess.Err()))
					return
				}

				c.Teardown(sess, errPeerLeft)
				return
			}

			b, err := wire.Marshal(cmd)
			if err != nil {
				log.Error("failed to encode command", slog.Any("error", err))
				continue
			}

			if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
				c.metrics.StreamError("signal")
				c.Teardown(sess, fmt.Errorf("%w: write %v: %v", session.ErrStream, cmd.Kind, err))
				return
			}

			c.metrics.Command(cmd.Kind)

			if err := c.presence.Count(ctx, sess.ID(), presence.FieldSent); err != nil {
				log.Warn("failed to update sent commands stats", slog.Any("error", err))
			}

			// Disconnect() has already detached the session; a Disconnect
			// pushed straight into the queue has not
			if cmd.Kind == command.Disconnect {
				if !c.Teardown(sess, session.ErrClosed) {
					sess.Close(session.ErrClosed)
				}
				return
			}
		}
	}
}

// SyncRoute accepts the participant's frame stream for the active session.
func SyncRoute(c *Coordinator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := c.Current()
		if sess == nil {
			w.WriteHeader(http.StatusConflict)
			return
		}

		log := logger.With(slog.String("id", sess.ID()), slog.String("stream", "sync"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		//goland:noinspection GoUnhandledErrorResult
		defer conn.Close(websocket.StatusNormalClosure, "")

		conn.SetReadLimit(wire.MaxMessageSize)
		ctx := sess.Context()

		stop := context.AfterFunc(ctx, func() {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		})
		defer stop()

		for {
			typ, b, err := conn.Read(context.Background())
			if err != nil {
				if sess.IsClosed() {
					return
				}

				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					c.Teardown(sess, errPeerLeft)
					return
				}

				c.metrics.StreamError("sync")
				c.Teardown(sess, fmt.Errorf("%w: read frame: %v", session.ErrStream, err))
				return
			}

			if typ != websocket.MessageBinary {
				log.Warn("dropped non-binary message")
				continue
			}

			frame := wire.Frame{}
			if err := wire.Unmarshal(b, &frame); err != nil {
				log.Warn("dropped undecodable frame", slog.Any("error", err))
				continue
			}

			if !frame.Valid() {
				log.Warn("dropped frame of wrong size", slog.Int("size", len(frame.Screen)))
				continue
			}

			c.IntakeFrame(frame)

			if err := c.presence.Count(ctx, sess.ID(), presence.FieldRecv); err != nil {
				log.Warn("failed to update received frames stats", slog.Any("error", err))
			}
		}
	}
}
