package game

import (
	"testing"
	"time"

	"manualpilot/experiment/internal/wire"
)

func TestRunnerIdleRendersBlack(t *testing.T) {
	r := NewRunner(NewBlank())

	frame, expired := r.Tick()
	if expired {
		t.Error("idle runner reported expiry")
	}

	if !frame.Equal(wire.BlankFrame()) {
		t.Error("idle frame is not black")
	}
}

func TestRunnerRemoteAction(t *testing.T) {
	engine := NewBlank()
	r := NewRunner(engine)
	r.Configure(wire.DefaultConfig())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	r.RemoteAction(ActionLeft)
	frame, _ := r.Tick()

	if got := engine.LastJoint(); got != [2]int{ActionStay, ActionLeft} {
		t.Errorf("joint = %v", got)
	}

	if frame.Equal(wire.BlankFrame()) {
		t.Error("running episode rendered black")
	}

	// consumed once
	r.Tick()
	if got := engine.LastJoint(); got[1] != ActionStay {
		t.Errorf("remote action replayed: %v", got)
	}
}

func TestRunnerExpires(t *testing.T) {
	r := NewRunner(NewBlank())
	r.Configure(wire.Config{Level: "x", Duration: 1})

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.started = time.Now().Add(-2 * time.Second)
	r.mu.Unlock()

	_, expired := r.Tick()
	if !expired {
		t.Fatal("episode past its duration did not expire")
	}

	if r.Running() {
		t.Error("runner still running after expiry")
	}

	if _, again := r.Tick(); again {
		t.Error("expiry reported twice")
	}
}

func TestRunnerAbortWithoutEpisode(t *testing.T) {
	r := NewRunner(NewBlank())

	if r.Abort() {
		t.Error("Abort reported a running episode")
	}
}

func TestRandomPolicyRange(t *testing.T) {
	var p RandomPolicy
	for i := 0; i < 100; i++ {
		if a := p.Action(wire.Frame{}); a < 0 || a >= ActionCount {
			t.Fatalf("action %d out of range", a)
		}
	}
}
