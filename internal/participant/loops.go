package participant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"manualpilot/experiment/internal/command"
	"manualpilot/experiment/internal/session"
	"manualpilot/experiment/internal/wire"
)

// listen follows the command stream until the session ends. Reads are not
// bound to ctx: the stream is closed normally when the session ends, which
// ends the read.
func (h *Handler) listen(ctx context.Context, l *link) error {
	for {
		typ, b, err := l.signal.Read(context.Background())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			h.metrics.StreamError("signal")
			return fmt.Errorf("%w: read command: %v", session.ErrStream, err)
		}

		if typ != websocket.MessageBinary {
			h.logger.Warn("dropped non-binary command")
			continue
		}

		cmd := command.Command{}
		if err := wire.Unmarshal(b, &cmd); err != nil {
			h.logger.Warn("dropped undecodable command", slog.Any("error", err))
			continue
		}

		h.metrics.Command(cmd.Kind)

		if cmd.Kind == command.Disconnect {
			l.cancel(errServerDisconnect)
			return nil
		}

		h.dispatch(cmd)
	}
}

func (h *Handler) dispatch(cmd command.Command) {
	switch cmd.Kind {
	case command.ChangeConfig:
		h.applyConfig(cmd.Payload)

	case command.StartGame:
		h.journal.Add("Starting an experiment")

		if err := h.runner.Start(); err != nil {
			h.journal.Add("Failed to start the game: %v", err)
			return
		}

		if err := h.machine.TransitionFrom(session.Waiting, session.Progressing); err != nil {
			h.logger.Warn("unexpected start", slog.Any("error", err))
		}

	case command.AbortGame:
		h.runner.Abort()

		if err := h.machine.TransitionFrom(session.Progressing, session.Waiting); err != nil {
			h.logger.Debug("abort without a running experiment", slog.Any("error", err))
		}

		h.journal.Add("Game aborted by server")

	case command.KeyInput:
		action, err := cmd.Action()
		if err != nil {
			h.logger.Warn("dropped key input", slog.Any("error", err))
			return
		}

		h.runner.RemoteAction(action)

	default:
		h.logger.Warn("unknown command", slog.String("command", cmd.String()))
	}
}

func (h *Handler) applyConfig(payload string) {
	h.mu.Lock()
	old := h.config
	next, err := old.Merge(payload)
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("dropped config", slog.Any("error", err))
		return
	}
	h.config = next
	h.mu.Unlock()

	if old.Duration != next.Duration {
		h.journal.Add("Config changed (duration: %v->%v)", old.Duration, next.Duration)
	}

	h.runner.Configure(next)

	if h.onConfig != nil {
		h.onConfig(next)
	}
}

// ping keeps the controller's liveness record fresh. Failures are only
// logged; the cadence continues until the session ends.
func (h *Handler) ping(ctx context.Context, l *link) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+wire.RouteHealth, nil)
		if err != nil {
			return err
		}

		resp, err := h.client.Do(req)
		if err != nil {
			h.logger.Debug("failed to ping", slog.Any("error", err))
			continue
		}

		//goland:noinspection GoUnhandledErrorResult
		resp.Body.Close()
		h.metrics.Ping()
	}
}

// publish sends the most recent rendered frame every frame interval.
func (h *Handler) publish(ctx context.Context, l *link) error {
	// the controller never writes on this stream; the reader only sees
	// its close, and ends when teardown closes the connection
	closed := l.sync.CloseRead(context.Background())

	ticker := time.NewTicker(h.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed.Done():
			h.metrics.StreamError("sync")
			return fmt.Errorf("%w: frame stream closed by controller", session.ErrStream)
		case <-ticker.C:
		}

		frame, ok := h.frames.Latest()
		if !ok {
			continue
		}

		b, err := wire.Marshal(frame)
		if err != nil {
			return err
		}

		if err := l.sync.Write(ctx, websocket.MessageBinary, b); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			h.metrics.StreamError("sync")
			return fmt.Errorf("%w: send frame: %v", session.ErrStream, err)
		}

		h.metrics.Frame()
	}
}

// render steps the game and fills the frame mailbox. It ends the
// experiment locally once its duration has passed.
func (h *Handler) render(ctx context.Context) error {
	ticker := time.NewTicker(h.renderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, expired := h.runner.Tick()
		h.frames.Publish(frame)

		if expired {
			if err := h.machine.TransitionFrom(session.Progressing, session.Waiting); err == nil {
				h.journal.Add("Experiment finished after %v seconds", h.Config().Duration)
			}
		}
	}
}
