// Package command defines visualization commands and the queue executor that
// runs them one at a time in arrival order.
package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the command variants.
type Type string

const (
	TypeHighlight Type = "highlight"
	TypePulse     Type = "pulse"
	TypeCamera    Type = "camera"
	TypeCreate    Type = "create"
)

// Default hold durations per type, applied when the payload carries none.
var defaultDurations = map[Type]time.Duration{
	TypeHighlight: 2000 * time.Millisecond,
	TypePulse:     1500 * time.Millisecond,
	TypeCamera:    3000 * time.Millisecond,
	TypeCreate:    1000 * time.Millisecond,
}

// Command is one immutable instruction to mutate the visualization. The wire
// format carries an open params bag; decoding flattens it into typed fields
// so dispatch can switch exhaustively on Type.
type Command struct {
	Type   Type   `json:"type"`
	Target string `json:"target,omitempty"`
	// Action is the camera sub-verb (orbit, focus, reset); empty otherwise.
	Action string `json:"action,omitempty"`

	Duration  time.Duration `json:"duration,omitempty"`
	Color     string        `json:"color,omitempty"`
	Intensity float64       `json:"intensity,omitempty"`
	// Position is an x,y,z triple for camera moves and object creation.
	Position []float64 `json:"position,omitempty"`
	// LookAt is the camera's params.target; distinct from the object Target.
	LookAt string `json:"lookAt,omitempty"`
}

// HoldDuration returns the minimum queue-hold time for the command: its own
// duration when set, the type default otherwise.
func (c Command) HoldDuration() time.Duration {
	if c.Duration > 0 {
		return c.Duration
	}
	if d, ok := defaultDurations[c.Type]; ok {
		return d
	}
	return 0
}

type wireParams struct {
	Duration  *int      `json:"duration,omitempty"`
	Color     string    `json:"color,omitempty"`
	Intensity float64   `json:"intensity,omitempty"`
	Position  []float64 `json:"position,omitempty"`
	Target    string    `json:"target,omitempty"`
}

type wireCommand struct {
	Type   string      `json:"type"`
	Target string      `json:"target,omitempty"`
	Action string      `json:"action,omitempty"`
	Params *wireParams `json:"params,omitempty"`
}

// Decode parses one wire-shaped command payload.
func Decode(raw json.RawMessage) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return fromWire(w), nil
}

// DecodeList parses a JSON array of wire-shaped commands.
func DecodeList(raw json.RawMessage) ([]Command, error) {
	var ws []wireCommand
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("decode command list: %w", err)
	}
	cmds := make([]Command, 0, len(ws))
	for _, w := range ws {
		cmds = append(cmds, fromWire(w))
	}
	return cmds, nil
}

func fromWire(w wireCommand) Command {
	c := Command{
		Type:   Type(w.Type),
		Target: w.Target,
		Action: w.Action,
	}
	if w.Params != nil {
		if w.Params.Duration != nil {
			c.Duration = time.Duration(*w.Params.Duration) * time.Millisecond
		}
		c.Color = w.Params.Color
		c.Intensity = w.Params.Intensity
		c.Position = w.Params.Position
		c.LookAt = w.Params.Target
	}
	return c
}
