// Package controller is the experiment server: it owns the single
// participant session, delivers commands to it, takes in its frames and
// restarts the listener when the participant stops answering.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"manualpilot/experiment/internal/command"
	"manualpilot/experiment/internal/game"
	"manualpilot/experiment/internal/journal"
	"manualpilot/experiment/internal/liveness"
	"manualpilot/experiment/internal/mailbox"
	"manualpilot/experiment/internal/metrics"
	"manualpilot/experiment/internal/presence"
	"manualpilot/experiment/internal/session"
	"manualpilot/experiment/internal/wire"
)

// DefaultGrace bounds how long a disconnected session waits for its
// Disconnect command to be written before it is closed anyway.
const DefaultGrace = time.Second

// errPeerLeft is the teardown reason when the participant closes its
// streams normally.
var errPeerLeft = errors.New("participant left")

type Options struct {
	Logger   *slog.Logger
	Journal  *journal.Journal
	Metrics  *metrics.Collector
	Presence presence.Registry
	Policy   game.Policy
	Config   wire.Config

	Threshold     time.Duration
	CheckInterval time.Duration
	PollInterval  time.Duration
	Grace         time.Duration

	// OnChange observes every state transition. It runs synchronously and
	// must not call back into the Coordinator.
	OnChange func(from, to session.State)
}

type Coordinator struct {
	logger   *slog.Logger
	journal  *journal.Journal
	metrics  *metrics.Collector
	presence presence.Registry
	policy   game.Policy
	poll     time.Duration
	grace    time.Duration
	onChange func(from, to session.State)

	machine *session.Machine
	monitor *liveness.Monitor
	frames  mailbox.Latest[wire.Frame]

	mu        sync.Mutex
	session   *session.Session
	config    wire.Config
	pacer     *rate.Limiter
	onTimeout func()
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Journal == nil {
		opts.Journal = journal.New(opts.Logger, 0)
	}
	if opts.Presence == nil {
		opts.Presence = presence.Nop{}
	}
	if opts.Policy == nil {
		opts.Policy = game.RandomPolicy{}
	}
	if opts.Config == (wire.Config{}) {
		opts.Config = wire.DefaultConfig()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = command.DefaultPollInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Coordinator{
		logger:   opts.Logger,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		presence: opts.Presence,
		policy:   opts.Policy,
		poll:     opts.PollInterval,
		grace:    opts.Grace,
		onChange: opts.OnChange,
		config:   opts.Config,
	}

	c.pacer = newPacer(c.config)
	c.machine = session.NewMachine(c.stateChanged)
	c.monitor = liveness.NewMonitor(opts.Threshold, opts.CheckInterval, c.livenessTimeout)

	return c, nil
}

func newPacer(cfg wire.Config) *rate.Limiter {
	return rate.NewLimiter(rate.Every(cfg.ActionInterval()), 1)
}

func (c *Coordinator) stateChanged(from, to session.State) {
	c.metrics.SetState(to)
	c.journal.Add("Status: %v -> %v", from, to)

	if c.onChange != nil {
		c.onChange(from, to)
	}
}

// OnTimeout sets the hook run after a liveness timeout has torn the
// session down.
func (c *Coordinator) OnTimeout(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTimeout = fn
}

func (c *Coordinator) Journal() *journal.Journal { return c.journal }

func (c *Coordinator) State() session.State { return c.machine.State() }

// Current returns the active session, or nil.
func (c *Coordinator) Current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) Config() wire.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Frames holds the latest frame received from the participant.
func (c *Coordinator) Frames() *mailbox.Latest[wire.Frame] { return &c.frames }

func (c *Coordinator) Liveness() liveness.Record { return c.monitor.Snapshot() }

// Register performs the controller side of the handshake for peer and
// queues the current config as the first command. The Connecting state
// reserves the slot while the presence claim runs outside the lock.
func (c *Coordinator) Register(ctx context.Context, peer string) (*session.Session, error) {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil, session.ErrSessionActive
	}

	if err := c.machine.TransitionFrom(session.Disconnected, session.Connecting); err != nil {
		c.mu.Unlock()
		return nil, session.ErrSessionActive
	}
	c.mu.Unlock()

	sess := session.New(ctx, peer)
	claimErr := c.presence.Claim(ctx, sess.ID(), peer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if claimErr != nil {
		sess.Close(claimErr)
		c.machine.Reset()
		c.journal.Add("Rejected client %v: %v", peer, claimErr)
		return nil, claimErr
	}

	c.session = sess
	c.monitor.Reset()
	c.pacer = newPacer(c.config)

	_ = c.machine.Transition(session.Connected)
	_ = c.machine.Transition(session.Waiting)

	c.journal.Add("Client connected from %v", peer)

	payload, err := c.config.Payload()
	if err != nil {
		return sess, err
	}
	sess.Queue().Push(command.Config(payload))

	return sess, nil
}

// Enqueue appends cmd to the active session's queue. Without a session the
// command is not queued and ErrNoActiveSession is returned.
func (c *Coordinator) Enqueue(cmd command.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(cmd)
}

func (c *Coordinator) enqueueLocked(cmd command.Command) error {
	if c.session == nil {
		return session.ErrNoActiveSession
	}

	c.session.Queue().Push(cmd)
	return nil
}

func (c *Coordinator) StartGame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return session.ErrNoActiveSession
	}

	if err := c.machine.TransitionFrom(session.Waiting, session.Progressing); err != nil {
		return err
	}

	c.session.Queue().Push(command.New(command.StartGame))

	c.journal.Add("Started an experiment with below config")
	c.journal.Add("Config - (%v)", c.config)
	return nil
}

func (c *Coordinator) AbortGame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return session.ErrNoActiveSession
	}

	if err := c.machine.TransitionFrom(session.Progressing, session.Waiting); err != nil {
		return err
	}

	c.session.Queue().Push(command.New(command.AbortGame))
	c.pacer = newPacer(c.config)

	c.journal.Add("Stopped the progressing experiment")
	return nil
}

// ChangeConfig applies fn to a copy of the config, validates the result
// and, when a participant is connected, sends it over.
func (c *Coordinator) ChangeConfig(fn func(cfg *wire.Config) error) (wire.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.config
	if err := fn(&next); err != nil {
		return c.config, err
	}

	if err := next.Validate(); err != nil {
		return c.config, err
	}

	if next.BotAPM != c.config.BotAPM {
		c.pacer.SetLimit(rate.Every(next.ActionInterval()))
	}

	c.config = next
	c.journal.Add("Configuration changed (%v)", next)

	if c.session == nil {
		return next, nil
	}

	payload, err := next.Payload()
	if err != nil {
		return next, err
	}

	c.session.Queue().Push(command.Config(payload))
	return next, nil
}

func (c *Coordinator) KeyInput(action int) error {
	if action < 0 || action >= game.ActionCount {
		return fmt.Errorf("action %d out of range 0-%d", action, game.ActionCount-1)
	}
	return c.Enqueue(command.Key(action))
}

// Disconnect asks the participant to leave and tears the session down
// locally right away. The Disconnect command is still delivered by the
// signal stream, which closes the session once it is written or after the
// grace period. Calling it without a session is a no-op.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.session
	if sess == nil {
		return nil
	}

	sess.Queue().Push(command.New(command.Disconnect))
	c.detachLocked(sess)
	c.journal.Add("Client disconnected by server")

	time.AfterFunc(c.grace, func() {
		if sess.Close(session.ErrClosed) {
			sess.Queue().Clear()
		}
	})

	return nil
}

// Teardown ends sess for reason. It acts only while sess is the active
// session, so each session is torn down once; it reports whether it did.
func (c *Coordinator) Teardown(sess *session.Session, reason error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess == nil || c.session != sess {
		return false
	}

	c.teardownLocked(sess, reason)
	return true
}

// TeardownCurrent ends whichever session is active.
func (c *Coordinator) TeardownCurrent(reason error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return false
	}

	c.teardownLocked(c.session, reason)
	return true
}

func (c *Coordinator) teardownLocked(sess *session.Session, reason error) {
	c.detachLocked(sess)

	sess.Queue().Clear()
	sess.Close(reason)

	switch {
	case errors.Is(reason, session.ErrClosed):
		c.journal.Add("Client %v disconnected by server", sess.Peer())
	case errors.Is(reason, errPeerLeft):
		c.journal.Add("Client %v disconnected", sess.Peer())
	case errors.Is(reason, session.ErrLivenessTimeout):
		c.journal.Add("Client %v timed out", sess.Peer())
	default:
		c.journal.Add("Connection to %v lost: %v", sess.Peer(), reason)
	}
}

func (c *Coordinator) detachLocked(sess *session.Session) {
	c.session = nil
	c.monitor.Reset()
	c.pacer = newPacer(c.config)

	if err := c.presence.Release(context.Background(), sess.ID()); err != nil {
		c.logger.Warn("failed to release presence", slog.String("id", sess.ID()), slog.Any("error", err))
	}

	c.machine.Reset()
}

// RecordLiveness stamps a ping. Pings with no active session are ignored
// so a straggling participant cannot arm the monitor.
func (c *Coordinator) RecordLiveness() bool {
	c.mu.Lock()
	active := c.session != nil
	c.mu.Unlock()

	if !active {
		return false
	}

	c.monitor.Record()
	c.metrics.Ping()
	return true
}

// RunMonitor checks liveness until ctx is done.
func (c *Coordinator) RunMonitor(ctx context.Context) {
	c.monitor.Run(ctx)
}

func (c *Coordinator) livenessTimeout() {
	c.metrics.Timeout()
	c.journal.Add("No health check for %v", c.monitor.Snapshot().Threshold)

	c.TeardownCurrent(session.ErrLivenessTimeout)

	c.mu.Lock()
	hook := c.onTimeout
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// IntakeFrame stores a frame from the participant and, while an
// experiment is running with the bot as player, lets the bot act on it at
// its configured pace.
func (c *Coordinator) IntakeFrame(frame wire.Frame) {
	c.frames.Publish(frame)
	c.metrics.Frame()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.config.Player != wire.PlayerBot {
		return
	}

	if c.machine.State() != session.Progressing {
		return
	}

	if !c.pacer.Allow() {
		return
	}

	_ = c.enqueueLocked(command.Key(c.policy.Action(frame)))
}
