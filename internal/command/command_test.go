package command

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecode_FlattensParams(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "camera",
		"action": "focus",
		"params": {"duration": 2500, "position": [0, 5, 12], "target": "memory"}
	}`)
	cmd, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeCamera, cmd.Type)
	require.Equal(t, "focus", cmd.Action)
	require.Equal(t, 2500*time.Millisecond, cmd.Duration)
	require.Equal(t, []float64{0, 5, 12}, cmd.Position)
	require.Equal(t, "memory", cmd.LookAt)
}

func TestDecodeList(t *testing.T) {
	raw := json.RawMessage(`[
		{"type": "highlight", "target": "input"},
		{"type": "pulse", "target": "input", "params": {"intensity": 2}}
	]`)
	cmds, err := DecodeList(raw)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, TypeHighlight, cmds[0].Type)
	require.Equal(t, float64(2), cmds[1].Intensity)
}

func TestHoldDuration_Defaults(t *testing.T) {
	cases := []struct {
		typ  Type
		want time.Duration
	}{
		{TypeHighlight, 2000 * time.Millisecond},
		{TypePulse, 1500 * time.Millisecond},
		{TypeCamera, 3000 * time.Millisecond},
		{TypeCreate, 1000 * time.Millisecond},
		{Type("bogus"), 0},
	}
	for _, c := range cases {
		if got := (Command{Type: c.typ}).HoldDuration(); got != c.want {
			t.Fatalf("default for %s: got %v, want %v", c.typ, got, c.want)
		}
	}

	// An explicit duration always wins over the type default.
	cmd := Command{Type: TypeHighlight, Duration: 10 * time.Millisecond}
	require.Equal(t, 10*time.Millisecond, cmd.HoldDuration())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(json.RawMessage(`"not an object"`))
	require.Error(t, err)
	_, err = DecodeList(json.RawMessage(`{"type":"pulse"}`))
	require.Error(t, err)
}
