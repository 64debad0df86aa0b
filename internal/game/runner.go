package game

import (
	"fmt"
	"sync"
	"time"

	"manualpilot/experiment/internal/wire"
)

// Runner drives an Engine for the participant: it owns the episode
// lifecycle, the remote player's pending action and the time limit.
type Runner struct {
	engine Engine
	black  wire.Frame

	mu       sync.Mutex
	level    string
	duration time.Duration
	running  bool
	started  time.Time
	remote   *int
}

func NewRunner(engine Engine) *Runner {
	return &Runner{engine: engine, black: wire.BlankFrame()}
}

func (r *Runner) Configure(cfg wire.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.level = cfg.Level
	r.duration = cfg.DurationTime()
}

func (r *Runner) Start() error {
	r.mu.Lock()
	level := r.level
	r.mu.Unlock()

	if err := r.engine.Reset(level); err != nil {
		return fmt.Errorf("reset level %q: %w", level, err)
	}

	r.mu.Lock()
	r.running = true
	r.started = time.Now()
	r.remote = nil
	r.mu.Unlock()

	return nil
}

// Abort ends the episode. It reports whether one was running.
func (r *Runner) Abort() bool {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	r.remote = nil
	r.mu.Unlock()

	r.engine.Abort()
	return wasRunning
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RemoteAction queues the controller-side player's action for the next
// tick. A newer action replaces an unconsumed one.
func (r *Runner) RemoteAction(action int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = &action
}

// Tick advances the episode one step and renders it. expired is true on
// the tick that ended the episode because its duration ran out.
func (r *Runner) Tick() (frame wire.Frame, expired bool) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return r.black, false
	}

	joint := [2]int{ActionStay, ActionStay}
	if r.remote != nil {
		joint[1] = *r.remote
		r.remote = nil
	}

	expired = r.duration > 0 && time.Since(r.started) > r.duration
	if expired {
		r.running = false
	}
	r.mu.Unlock()

	if expired {
		r.engine.Abort()
		return r.black, true
	}

	r.engine.Step(joint)
	return r.engine.Render(), false
}
