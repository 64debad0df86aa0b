package command

import (
	"fmt"
	"strconv"
)

type Kind uint8

const (
	ChangeConfig Kind = iota
	StartGame
	AbortGame
	KeyInput
	Disconnect
)

func (k Kind) String() string {
	switch k {
	case ChangeConfig:
		return "ChangeConfig"
	case StartGame:
		return "StartGame"
	case AbortGame:
		return "AbortGame"
	case KeyInput:
		return "KeyInput"
	case Disconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) Valid() bool {
	return k <= Disconnect
}

// Command is one controller->participant instruction. Payload carries the
// JSON config for ChangeConfig, a decimal action for KeyInput, and is empty
// for the other kinds.
type Command struct {
	Kind    Kind   `cbor:"kind"`
	Payload string `cbor:"payload"`
}

func New(kind Kind) Command {
	return Command{Kind: kind}
}

func Config(payload string) Command {
	return Command{Kind: ChangeConfig, Payload: payload}
}

func Key(action int) Command {
	return Command{Kind: KeyInput, Payload: strconv.Itoa(action)}
}

// Action parses the payload of a KeyInput command.
func (c Command) Action() (int, error) {
	if c.Kind != KeyInput {
		return 0, fmt.Errorf("command %v carries no action", c.Kind)
	}

	action, err := strconv.Atoi(c.Payload)
	if err != nil {
		return 0, fmt.Errorf("invalid key input %q: %w", c.Payload, err)
	}

	return action, nil
}

func (c Command) String() string {
	if c.Payload == "" {
		return c.Kind.String()
	}
	return fmt.Sprintf("%v(%v)", c.Kind, c.Payload)
}
