package wire

import (
	"testing"
	"time"

	"manualpilot/experiment/internal/command"
)

func TestCommandEncoding(t *testing.T) {
	cmd := command.Key(3)

	b, err := Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}

	again, err := Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != string(again) {
		t.Error("encoding is not deterministic")
	}

	var got command.Command
	if err := Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}

	if got != cmd {
		t.Errorf("decoded %v, want %v", got, cmd)
	}
}

func TestFrameEncoding(t *testing.T) {
	frame := FilledFrame(7)

	b, err := Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}

	if len(b) > MaxMessageSize {
		t.Errorf("encoded frame is %d bytes, over MaxMessageSize %d", len(b), MaxMessageSize)
	}

	var got Frame
	if err := Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}

	if !got.Valid() || !got.Equal(frame) {
		t.Error("decoded frame differs")
	}
}

func TestConfigMerge(t *testing.T) {
	cfg := DefaultConfig()

	next, err := cfg.Merge(`{"duration":60}`)
	if err != nil {
		t.Fatal(err)
	}

	if next.Duration != 60 {
		t.Errorf("duration = %d, want 60", next.Duration)
	}

	if next.Level != cfg.Level || next.Player != cfg.Player || next.BotAPM != cfg.BotAPM {
		t.Errorf("merge clobbered other fields: %+v", next)
	}

	if cfg.Duration != 120 {
		t.Error("merge mutated the receiver")
	}

	if _, err := cfg.Merge("{"); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestConfigPayloadRoundTrip(t *testing.T) {
	cfg := Config{Level: "cramped_room", Duration: 30, Player: PlayerHuman, BotAPM: 120}

	payload, err := cfg.Payload()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Config{}.Merge(payload)
	if err != nil {
		t.Fatal(err)
	}

	if got != cfg {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no level", func(c *Config) { c.Level = "" }, true},
		{"zero duration", func(c *Config) { c.Duration = 0 }, true},
		{"bad player", func(c *Config) { c.Player = "Robot" }, true},
		{"apm too low", func(c *Config) { c.BotAPM = 10 }, true},
		{"apm too high", func(c *Config) { c.BotAPM = 301 }, true},
		{"apm edge", func(c *Config) { c.BotAPM = MaxBotAPM }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionInterval(t *testing.T) {
	cfg := DefaultConfig()

	cfg.BotAPM = 60
	if got := cfg.ActionInterval(); got != time.Second {
		t.Errorf("60 apm: %v, want 1s", got)
	}

	cfg.BotAPM = 120
	if got := cfg.ActionInterval(); got != 500*time.Millisecond {
		t.Errorf("120 apm: %v, want 500ms", got)
	}
}

func TestPlayerToggle(t *testing.T) {
	if PlayerBot.Toggle() != PlayerHuman || PlayerHuman.Toggle() != PlayerBot {
		t.Error("toggle is not symmetric")
	}
}
