package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/rigsim/internal/core/robot"
)

// Message types on the wire.
const (
	TypeCommand       = "command"
	TypeClearPosition = "clear_position"
	TypeResetRobot    = "reset_robot"
	TypeTelemetry     = "telemetry"
	TypeError         = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type clearPosition struct {
	Port int `json:"port"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

// Controls is the part of the simulation the bridge drives.
type Controls interface {
	Commands() *robot.CommandBox
	ResetRobot()
}

// dispatch applies one inbound message.
func dispatch(c Controls, env Envelope) error {
	switch env.Type {
	case TypeCommand:
		var cmd robot.Command
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		c.Commands().Submit(cmd)
	case TypeClearPosition:
		var m clearPosition
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if m.Port < 0 || m.Port >= robot.NumMotors {
			return fmt.Errorf("%w: %d", ErrInvalidPort, m.Port)
		}
		c.Commands().ClearPosition(m.Port)
	case TypeResetRobot:
		c.ResetRobot()
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}
	return nil
}
