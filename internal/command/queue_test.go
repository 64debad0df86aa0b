package command

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()

	for i := 0; i < 100; i++ {
		q.Push(Key(i))
	}

	if q.Len() != 100 {
		t.Fatalf("len = %d, want 100", q.Len())
	}

	for i := 0; i < 100; i++ {
		cmd, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}

		action, err := cmd.Action()
		if err != nil {
			t.Fatal(err)
		}

		if action != i {
			t.Fatalf("pop %d: got action %d", i, action)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("pop on empty queue succeeded")
	}
}

func TestQueueConcurrentProducerOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewQueue()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(Key(i))
			if i%50 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < n; i++ {
		cmd, err := q.PopOrWait(ctx, time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}

		if cmd.Payload != strconv.Itoa(i) {
			t.Fatalf("delivery %d: got %v", i, cmd)
		}
	}

	wg.Wait()
}

func TestPopOrWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue()

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := q.PopOrWait(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if time.Since(start) > time.Second {
		t.Error("PopOrWait did not return promptly after cancel")
	}
}

func TestPopOrWaitWakesOnPush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewQueue()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(New(StartGame))
	}()

	cmd, err := q.PopOrWait(ctx, DefaultPollInterval)
	if err != nil {
		t.Fatal(err)
	}

	if cmd.Kind != StartGame {
		t.Errorf("kind = %v, want StartGame", cmd.Kind)
	}
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	q.Push(New(StartGame))
	q.Push(New(AbortGame))

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}

	if q.Len() != 0 {
		t.Errorf("len after clear = %d", q.Len())
	}
}

func TestCommandAction(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    int
		wantErr bool
	}{
		{"key", Key(5), 5, false},
		{"negative", Command{Kind: KeyInput, Payload: "-1"}, -1, false},
		{"garbage", Command{Kind: KeyInput, Payload: "up"}, 0, true},
		{"wrong kind", New(StartGame), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Action()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("action = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if Disconnect.String() != "Disconnect" {
		t.Errorf("got %q", Disconnect.String())
	}

	if Kind(42).Valid() {
		t.Error("Kind(42) should be invalid")
	}
}
