// Package journal keeps the operator-visible log: every state change and
// error, timestamped, bounded in size, and mirrored to slog.
package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultLimit = 1000

type Entry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%v] %v", e.Time.Format("2006-01-02 15:04:05.000000"), e.Text)
}

type Journal struct {
	logger *slog.Logger
	limit  int

	mu          sync.Mutex
	entries     []Entry
	subscribers []func(Entry)
}

func New(logger *slog.Logger, limit int) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Journal{logger: logger, limit: limit}
}

// Add appends a formatted line. Subscribers are called outside the lock in
// the order they subscribed.
func (j *Journal) Add(format string, args ...any) Entry {
	entry := Entry{Time: time.Now(), Text: fmt.Sprintf(format, args...)}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	if over := len(j.entries) - j.limit; over > 0 {
		j.entries = append(j.entries[:0:0], j.entries[over:]...)
	}
	subscribers := j.subscribers
	j.mu.Unlock()

	j.logger.Info(entry.Text, slog.String("source", "journal"))

	for _, fn := range subscribers {
		fn(entry)
	}

	return entry
}

func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

func (j *Journal) Subscribe(fn func(Entry)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subscribers = append(j.subscribers[:len(j.subscribers):len(j.subscribers)], fn)
}
