// Package game defines what the session core needs from the game
// simulation and the bot policy, plus headless stand-ins for both.
package game

import (
	"math/rand"
	"sync"

	"manualpilot/experiment/internal/wire"
)

// Player actions, in the order the participant's key mapping uses.
const (
	ActionUp = iota
	ActionDown
	ActionRight
	ActionLeft
	ActionStay
	ActionInteract

	ActionCount
)

// Engine is the game simulation. Every method must tolerate being called
// with no episode running.
type Engine interface {
	Reset(level string) error
	Step(joint [2]int)
	Render() wire.Frame
	Abort()
}

// Policy picks the bot's next action from the latest observation.
type Policy interface {
	Action(observation wire.Frame) int
}

type PolicyFunc func(observation wire.Frame) int

func (f PolicyFunc) Action(observation wire.Frame) int { return f(observation) }

// RandomPolicy picks uniformly among all actions.
type RandomPolicy struct{}

func (RandomPolicy) Action(wire.Frame) int {
	return rand.Intn(ActionCount)
}

// Blank is a headless engine. It renders black while idle and a shade
// derived from the step count while an episode runs.
type Blank struct {
	mu      sync.Mutex
	level   string
	running bool
	steps   int
	last    [2]int
	black   wire.Frame
}

func NewBlank() *Blank {
	return &Blank{black: wire.BlankFrame()}
}

func (b *Blank) Reset(level string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = level
	b.running = true
	b.steps = 0
	return nil
}

func (b *Blank) Step(joint [2]int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.steps++
	b.last = joint
}

func (b *Blank) Render() wire.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return b.black
	}
	return wire.FilledFrame(byte(b.steps))
}

func (b *Blank) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// LastJoint returns the most recent joint action stepped.
func (b *Blank) LastJoint() [2]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
