package journal

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestJournalAdd(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	j := New(logger, 0)
	j.Add("Client connected from %v", "127.0.0.1:4000")

	entries := j.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	if entries[0].Text != "Client connected from 127.0.0.1:4000" {
		t.Errorf("text = %q", entries[0].Text)
	}

	if entries[0].Time.IsZero() {
		t.Error("entry has no timestamp")
	}

	if !strings.HasPrefix(entries[0].String(), "[") {
		t.Errorf("String() = %q, want timestamp prefix", entries[0].String())
	}

	if !strings.Contains(buf.String(), "Client connected") {
		t.Errorf("entry not mirrored to slog: %q", buf.String())
	}
}

func TestJournalLimit(t *testing.T) {
	j := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 3)

	for i := 0; i < 5; i++ {
		j.Add("line %d", i)
	}

	entries := j.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if entries[0].Text != "line 2" || entries[2].Text != "line 4" {
		t.Errorf("kept wrong entries: %v", entries)
	}
}

func TestJournalSubscribeAndClear(t *testing.T) {
	j := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 0)

	var seen []string
	j.Subscribe(func(e Entry) { seen = append(seen, e.Text) })

	j.Add("a")
	j.Add("b")
	j.Clear()

	if len(j.Entries()) != 0 {
		t.Error("Clear left entries behind")
	}

	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("subscriber saw %v", seen)
	}
}
