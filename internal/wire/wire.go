// Package wire defines what travels between controller and participant:
// the stream routes, the Command and Frame envelopes, and the JSON game
// config carried by ChangeConfig.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const DefaultPort = 11912

const (
	// RouteSignal is the server-to-client command stream (ServerSignal).
	RouteSignal = "/signal"
	// RouteSync is the client-to-server frame stream (GameSyncSignal).
	RouteSync = "/sync"
	// RouteHealth is the liveness ping (HealthCheck).
	RouteHealth = "/health"
	// RouteReady answers the reachability probe without side effects.
	RouteReady = "/ready"
)

const (
	FrameHeight   = 600
	FrameWidth    = 800
	FrameChannels = 3
	FrameSize     = FrameHeight * FrameWidth * FrameChannels

	// MaxMessageSize bounds a single stream message: one frame plus the
	// envelope.
	MaxMessageSize = FrameSize + 1024
)

// Frame is one rendered image, FrameHeight x FrameWidth x FrameChannels
// bytes, row-major. Channel order is agreed out of band.
type Frame struct {
	Screen []byte `cbor:"screen"`
}

// BlankFrame returns an all-black frame.
func BlankFrame() Frame {
	return Frame{Screen: make([]byte, FrameSize)}
}

// FilledFrame returns a frame with every byte set to v.
func FilledFrame(v byte) Frame {
	return Frame{Screen: bytes.Repeat([]byte{v}, FrameSize)}
}

func (f Frame) Valid() bool {
	return len(f.Screen) == FrameSize
}

func (f Frame) Equal(o Frame) bool {
	return bytes.Equal(f.Screen, o.Screen)
}

type Player string

const (
	PlayerBot   Player = "Bot"
	PlayerHuman Player = "Human"
)

func (p Player) Toggle() Player {
	if p == PlayerBot {
		return PlayerHuman
	}
	return PlayerBot
}

const (
	MinBotAPM = 50
	MaxBotAPM = 300
)

// Config is the experiment configuration the controller pushes with
// ChangeConfig.
type Config struct {
	Level    string `json:"level"`
	Duration int    `json:"duration"`
	Player   Player `json:"player"`
	BotAPM   int    `json:"bot_apm"`
}

func DefaultConfig() Config {
	return Config{
		Level:    "asymmetric_advantages",
		Duration: 120,
		Player:   PlayerBot,
		BotAPM:   80,
	}
}

func (c Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("level is required")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %d", c.Duration)
	}
	if c.Player != PlayerBot && c.Player != PlayerHuman {
		return fmt.Errorf("player must be %q or %q, got %q", PlayerBot, PlayerHuman, c.Player)
	}
	if c.BotAPM < MinBotAPM || c.BotAPM > MaxBotAPM {
		return fmt.Errorf("bot_apm must be within %d-%d, got %d", MinBotAPM, MaxBotAPM, c.BotAPM)
	}
	return nil
}

// ActionInterval is the bot pacing gap, 60/bot_apm seconds.
func (c Config) ActionInterval() time.Duration {
	if c.BotAPM <= 0 {
		return time.Minute
	}
	return time.Minute / time.Duration(c.BotAPM)
}

func (c Config) DurationTime() time.Duration {
	return time.Duration(c.Duration) * time.Second
}

func (c Config) Payload() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Merge decodes a ChangeConfig payload on top of c. Fields missing from
// the payload keep their current value.
func (c Config) Merge(payload string) (Config, error) {
	next := c
	if err := json.Unmarshal([]byte(payload), &next); err != nil {
		return c, fmt.Errorf("invalid config payload: %w", err)
	}
	return next, nil
}

func (c Config) String() string {
	return fmt.Sprintf("level: %v, duration: %v, player: %v", c.Level, c.Duration, c.Player)
}
