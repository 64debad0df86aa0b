package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"handshake", []State{Connecting, Connected, Waiting}, false},
		{"game round trip", []State{Connecting, Connected, Waiting, Progressing, Waiting, Progressing}, false},
		{"probe failure", []State{Connecting, Disconnected}, false},
		{"skip connecting", []State{Connected}, true},
		{"start before waiting", []State{Connecting, Connected, Progressing}, true},
		{"teardown from progressing", []State{Connecting, Connected, Waiting, Progressing, Disconnected}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)

			var err error
			for _, to := range tt.path {
				if err = m.Transition(to); err != nil {
					break
				}
			}

			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error %v is not ErrInvalidTransition", err)
			}
		})
	}
}

func TestMachineNotifiesOncePerChange(t *testing.T) {
	var mu sync.Mutex
	var changes [][2]State

	m := NewMachine(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, [2]State{from, to})
	})

	_ = m.Transition(Connecting)
	_ = m.Transition(Connecting)
	_ = m.Transition(Connected)

	if !m.Reset() {
		t.Error("Reset from Connected should report a change")
	}

	if m.Reset() {
		t.Error("second Reset should be a no-op")
	}

	want := [][2]State{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connected, Disconnected},
	}

	if len(changes) != len(want) {
		t.Fatalf("got %d notifications, want %d: %v", len(changes), len(want), changes)
	}

	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestMachineTransitionFrom(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Connecting)
	_ = m.Transition(Connected)
	_ = m.Transition(Waiting)

	if err := m.TransitionFrom(Progressing, Waiting); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("abort while waiting: err = %v", err)
	}

	if err := m.TransitionFrom(Waiting, Progressing); err != nil {
		t.Fatal(err)
	}

	if m.State() != Progressing {
		t.Errorf("state = %v, want Progressing", m.State())
	}
}

func TestSessionCloseOnce(t *testing.T) {
	s := New(context.Background(), "127.0.0.1:5000")

	if s.ID() == "" {
		t.Fatal("empty session id")
	}

	if s.Err() != nil {
		t.Fatalf("open session has error %v", s.Err())
	}

	if !s.Close(ErrLivenessTimeout) {
		t.Fatal("first Close returned false")
	}

	if s.Close(ErrStream) {
		t.Error("second Close returned true")
	}

	<-s.Context().Done()

	if !errors.Is(s.Err(), ErrLivenessTimeout) {
		t.Errorf("cause = %v, want ErrLivenessTimeout", s.Err())
	}
}

func TestSessionParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent, "peer")

	cancel()
	<-s.Context().Done()

	if s.IsClosed() {
		t.Error("parent cancellation should not mark the session closed")
	}
}
