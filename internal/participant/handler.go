// Package participant is the experiment client. It connects to a
// controller, follows its commands, keeps it informed that the client is
// alive and streams rendered frames back.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"manualpilot/experiment/internal/game"
	"manualpilot/experiment/internal/journal"
	"manualpilot/experiment/internal/mailbox"
	"manualpilot/experiment/internal/metrics"
	"manualpilot/experiment/internal/session"
	"manualpilot/experiment/internal/wire"
)

const (
	DefaultProbeTimeout   = 10 * time.Second
	DefaultProbeInterval  = 100 * time.Millisecond
	DefaultPingInterval   = 100 * time.Millisecond
	DefaultFrameInterval  = 50 * time.Millisecond
	DefaultRenderInterval = 50 * time.Millisecond
)

var (
	errUserDisconnect   = errors.New("disconnected by user")
	errServerDisconnect = errors.New("disconnected by server")
)

type Options struct {
	Logger  *slog.Logger
	Journal *journal.Journal
	Metrics *metrics.Collector
	Engine  game.Engine
	Config  wire.Config
	Client  *http.Client

	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
	PingInterval   time.Duration
	FrameInterval  time.Duration
	RenderInterval time.Duration

	OnChange func(from, to session.State)
	// OnConfig is called after every config received from the controller.
	OnConfig func(cfg wire.Config)
}

type Handler struct {
	logger   *slog.Logger
	journal  *journal.Journal
	metrics  *metrics.Collector
	runner   *game.Runner
	client   *http.Client
	onChange func(from, to session.State)
	onConfig func(cfg wire.Config)

	probeTimeout   time.Duration
	probeInterval  time.Duration
	pingInterval   time.Duration
	frameInterval  time.Duration
	renderInterval time.Duration

	machine *session.Machine
	frames  mailbox.Latest[wire.Frame]

	mu      sync.Mutex
	config  wire.Config
	current *link
}

// link is one connection attempt and, if it succeeds, its session.
type link struct {
	base   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	signal *websocket.Conn
	sync   *websocket.Conn
}

func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Journal == nil {
		opts.Journal = journal.New(opts.Logger, 0)
	}
	if opts.Engine == nil {
		opts.Engine = game.NewBlank()
	}
	if opts.Config == (wire.Config{}) {
		opts.Config = wire.DefaultConfig()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: time.Second}
	}

	h := &Handler{
		logger:         opts.Logger,
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		runner:         game.NewRunner(opts.Engine),
		client:         opts.Client,
		onChange:       opts.OnChange,
		onConfig:       opts.OnConfig,
		probeTimeout:   orDefault(opts.ProbeTimeout, DefaultProbeTimeout),
		probeInterval:  orDefault(opts.ProbeInterval, DefaultProbeInterval),
		pingInterval:   orDefault(opts.PingInterval, DefaultPingInterval),
		frameInterval:  orDefault(opts.FrameInterval, DefaultFrameInterval),
		renderInterval: orDefault(opts.RenderInterval, DefaultRenderInterval),
		config:         opts.Config,
	}

	h.runner.Configure(h.config)
	h.machine = session.NewMachine(h.stateChanged)

	return h
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (h *Handler) stateChanged(from, to session.State) {
	h.metrics.SetState(to)
	h.journal.Add("Status: %v -> %v", from, to)

	if h.onChange != nil {
		h.onChange(from, to)
	}
}

func (h *Handler) Journal() *journal.Journal { return h.journal }

func (h *Handler) State() session.State { return h.machine.State() }

func (h *Handler) Config() wire.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config
}

// Frames is the render-to-send mailbox.
func (h *Handler) Frames() *mailbox.Latest[wire.Frame] { return &h.frames }

// Done is closed when the current session ends. Without a session it is
// already closed.
func (h *Handler) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}

	return h.current.done
}

// BaseURL turns a user supplied address into the controller's base URL,
// filling in the host and port when missing.
func BaseURL(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		address = "localhost"
	}

	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Port() == "" {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		u.Host = net.JoinHostPort(host, strconv.Itoa(wire.DefaultPort))
	}

	return fmt.Sprintf("%v://%v", u.Scheme, u.Host), nil
}

// Connect probes the controller at address, opens both streams and starts
// the session loops. It returns once the session is running; the loops
// outlive ctx and stop on Disconnect or on any failure.
func (h *Handler) Connect(ctx context.Context, address string) error {
	base, err := BaseURL(address)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.current != nil {
		h.mu.Unlock()
		return session.ErrSessionActive
	}

	if err := h.machine.TransitionFrom(session.Disconnected, session.Connecting); err != nil {
		h.mu.Unlock()
		return err
	}

	sctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	l := &link{base: base, ctx: sctx, cancel: cancel, done: make(chan struct{})}
	h.current = l
	h.mu.Unlock()

	h.journal.Add("Connecting to %v", base)

	if err := h.establish(ctx, l); err != nil {
		h.teardown(l, err)
		close(l.done)
		return err
	}

	g, gctx := errgroup.WithContext(sctx)

	// closing both streams normally is what unblocks the listen loop
	stop := context.AfterFunc(gctx, func() { closeStreams(l) })

	g.Go(func() error { return h.listen(gctx, l) })
	g.Go(func() error { return h.ping(gctx, l) })
	g.Go(func() error { return h.publish(gctx, l) })
	g.Go(func() error { return h.render(gctx) })

	go func() {
		err := g.Wait()
		stop()

		if cause := context.Cause(sctx); cause != nil {
			err = cause
		}

		h.teardown(l, err)
		close(l.done)
	}()

	return nil
}

func (h *Handler) establish(ctx context.Context, l *link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	if err := h.probe(ctx, l.base); err != nil {
		if cause := context.Cause(l.ctx); cause != nil {
			return cause
		}
		return err
	}

	if err := h.machine.TransitionFrom(session.Connecting, session.Connected); err != nil {
		return err
	}

	h.journal.Add("Connected to %v", l.base)

	signal, _, err := websocket.Dial(ctx, l.base+wire.RouteSignal, nil)
	if err != nil {
		return fmt.Errorf("%w: open command stream: %v", session.ErrStream, err)
	}
	l.signal = signal

	frames, _, err := websocket.Dial(ctx, l.base+wire.RouteSync, nil)
	if err != nil {
		return fmt.Errorf("%w: open frame stream: %v", session.ErrStream, err)
	}
	l.sync = frames

	return h.machine.TransitionFrom(session.Connected, session.Waiting)
}

// probe polls the readiness route until it answers or the probe bound
// passes.
func (h *Handler) probe(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	ticker := time.NewTicker(h.probeInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+wire.RouteReady, nil)
		if err != nil {
			return err
		}

		resp, err := h.client.Do(req)
		if err == nil {
			//goland:noinspection GoUnhandledErrorResult
			resp.Body.Close()

			if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v not reachable within %v", session.ErrConnectTimeout, base, h.probeTimeout)
		case <-ticker.C:
		}
	}
}

// Disconnect ends the session from the participant side and waits for
// the loops to stop. Without a session it does nothing.
func (h *Handler) Disconnect() error {
	h.mu.Lock()
	l := h.current
	h.mu.Unlock()

	if l == nil {
		return nil
	}

	l.cancel(errUserDisconnect)
	<-l.done
	return nil
}

func (h *Handler) teardown(l *link, reason error) {
	l.cancel(reason)
	closeStreams(l)

	h.runner.Abort()

	h.mu.Lock()
	if h.current == l {
		h.current = nil
	}
	h.mu.Unlock()

	h.machine.Reset()

	switch {
	case errors.Is(reason, errUserDisconnect):
		h.journal.Add("Disconnected by user")
	case errors.Is(reason, errServerDisconnect):
		h.journal.Add("Disconnected by server")
	case errors.Is(reason, session.ErrConnectTimeout):
		h.journal.Add("Failed to connect to %v", l.base)
	default:
		h.logger.Warn("session ended", slog.Any("error", reason))
		h.journal.Add("Connection lost: %v", reason)
	}
}

func closeStreams(l *link) {
	if l.signal != nil {
		_ = l.signal.Close(websocket.StatusNormalClosure, "")
	}
	if l.sync != nil {
		_ = l.sync.Close(websocket.StatusNormalClosure, "")
	}
}
