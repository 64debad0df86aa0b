package command

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is how long an idle delivery loop sleeps between
// checks of an empty queue.
const DefaultPollInterval = 10 * time.Millisecond

// Queue is an unbounded FIFO of commands. Push never blocks; the delivery
// side drains it with PopOrWait.
type Queue struct {
	mu    sync.Mutex
	items []Command
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
}

func (q *Queue) Pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Command{}, false
	}

	cmd := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]

	return cmd, true
}

// PopOrWait returns the oldest command, polling every poll interval while
// the queue is empty. It returns ctx.Err() once ctx is done.
func (q *Queue) PopOrWait(ctx context.Context, poll time.Duration) (Command, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	if cmd, ok := q.Pop(); ok {
		return cmd, nil
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-ticker.C:
			if cmd, ok := q.Pop(); ok {
				return cmd, nil
			}
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending command and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil

	return n
}
