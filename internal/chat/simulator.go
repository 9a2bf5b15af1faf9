package chat

import (
	"strings"
	"time"

	"github.com/organix/organix-go/internal/command"
)

// cannedResponse pairs trigger keywords with a reply and the scene commands
// that accompany it. The table is ordered; the first match wins.
type cannedResponse struct {
	keywords []string
	reply    string
	commands []command.Command
}

// Simulator synthesizes assistant replies when no remote endpoint is
// configured. Latency grows with input length, clamped to a band, purely for
// conversational pacing.
type Simulator struct {
	responses []cannedResponse
	fallback  cannedResponse
	minDelay  time.Duration
	maxDelay  time.Duration
	perChar   time.Duration
}

// NewSimulator builds the stock response table with the given latency band.
func NewSimulator(minDelay, maxDelay time.Duration) *Simulator {
	if minDelay <= 0 {
		minDelay = 600 * time.Millisecond
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Simulator{
		minDelay: minDelay,
		maxDelay: maxDelay,
		perChar:  15 * time.Millisecond,
		responses: []cannedResponse{
			{
				keywords: []string{"memory"},
				reply:    "The Memory node stores intermediate activations and recalled context. Watch it light up as the network consults past state.",
				commands: []command.Command{
					{Type: command.TypeHighlight, Target: "memory", Color: "#4fc3f7"},
					{Type: command.TypePulse, Target: "memory", Intensity: 1.5},
				},
			},
			{
				keywords: []string{"input"},
				reply:    "The Input node is where raw signals enter the network before any processing happens.",
				commands: []command.Command{
					{Type: command.TypeHighlight, Target: "input", Color: "#81c784"},
				},
			},
			{
				keywords: []string{"output"},
				reply:    "The Output node emits the network's final activations back to the outside world.",
				commands: []command.Command{
					{Type: command.TypeHighlight, Target: "output", Color: "#ffb74d"},
				},
			},
			{
				keywords: []string{"processing", "core", "hidden"},
				reply:    "The Processing core transforms activations between input and output. Most of the visible data flow passes through it.",
				commands: []command.Command{
					{Type: command.TypeHighlight, Target: "processing", Color: "#ba68c8"},
					{Type: command.TypePulse, Target: "processing"},
				},
			},
			{
				keywords: []string{"pulse", "activity"},
				reply:    "Sending an activation pulse through the whole network now.",
				commands: []command.Command{
					{Type: command.TypePulse, Target: "network", Intensity: 2},
				},
			},
			{
				keywords: []string{"overview", "camera", "zoom"},
				reply:    "Pulling the camera back for a full view of the network.",
				commands: []command.Command{
					{Type: command.TypeCamera, Action: "overview", Position: []float64{0, 12, 28}},
				},
			},
			{
				keywords: []string{"create", "add", "new node"},
				reply:    "Spawning a fresh node near the processing core.",
				commands: []command.Command{
					{Type: command.TypeCreate, Target: "node", Position: []float64{2, 1, 0}},
				},
			},
			{
				keywords: []string{"hello", "hi ", "hey"},
				reply:    "Hello. Ask about any node in the network and I will point it out for you.",
			},
		},
		fallback: cannedResponse{
			reply: "I am not sure which part of the network you mean. Try asking about the input, processing, memory or output nodes.",
		},
	}
}

// Respond matches the lowercased input against the keyword table and returns
// the first matching reply with its commands, or the generic fallback.
func (s *Simulator) Respond(text string) (string, []command.Command) {
	lowered := strings.ToLower(text)
	for _, r := range s.responses {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				return r.reply, r.commands
			}
		}
	}
	return s.fallback.reply, s.fallback.commands
}

// Latency returns the simulated thinking time for the input.
func (s *Simulator) Latency(text string) time.Duration {
	d := s.minDelay + time.Duration(len(text))*s.perChar
	if d > s.maxDelay {
		return s.maxDelay
	}
	return d
}
