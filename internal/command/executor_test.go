package command

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/organix/organix-go/internal/bus"
)

// recorder collects dispatched commands in order.
type recorder struct {
	mu   sync.Mutex
	seen []Command
	fail map[string]error
}

func (r *recorder) dispatch(c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c)
	if err, ok := r.fail[c.Target]; ok {
		return err
	}
	return nil
}

func (r *recorder) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	for i, c := range r.seen {
		out[i] = c.Target
	}
	return out
}

func tiny(target string, typ Type) Command {
	return Command{Type: typ, Target: target, Duration: time.Millisecond}
}

// TestExecutor_FIFOOrder: handlers run in exactly the enqueue order,
// regardless of per-command latency or failures in between.
func TestExecutor_FIFOOrder(t *testing.T) {
	r := &recorder{fail: map[string]error{"bad": errors.New("handler exploded")}}
	e := NewExecutor(r.dispatch, time.Millisecond, nil)

	e.Enqueue(
		Command{Type: TypeHighlight, Target: "a", Duration: 5 * time.Millisecond},
		tiny("bad", TypePulse),
		tiny("b", TypePulse),
	)
	e.Enqueue(tiny("c", TypeCreate))

	require.True(t, e.WaitIdle(2*time.Second), "queue never drained")
	require.Equal(t, []string{"a", "bad", "b", "c"}, r.targets())
}

// TestExecutor_UnknownTypeSkipped: an unroutable command is skipped and the
// drain continues.
func TestExecutor_UnknownTypeSkipped(t *testing.T) {
	var seen []string
	dispatch := func(c Command) error {
		if c.Type == Type("hologram") {
			return ErrUnknownType
		}
		seen = append(seen, string(c.Type))
		return nil
	}
	e := NewExecutor(dispatch, time.Millisecond, nil)
	e.Enqueue(
		Command{Type: Type("hologram"), Duration: time.Millisecond},
		tiny("x", TypePulse),
	)

	require.True(t, e.WaitIdle(2*time.Second))
	require.Equal(t, []string{"pulse"}, seen)
}

// TestExecutor_PanickingHandlerDoesNotStall: a panic inside a handler is
// contained and the next command still runs.
func TestExecutor_PanickingHandlerDoesNotStall(t *testing.T) {
	var after bool
	dispatch := func(c Command) error {
		if c.Target == "boom" {
			panic("handler panic")
		}
		after = true
		return nil
	}
	e := NewExecutor(dispatch, time.Millisecond, nil)
	e.Enqueue(tiny("boom", TypePulse), tiny("ok", TypePulse))

	require.True(t, e.WaitIdle(2*time.Second))
	require.True(t, after)
}

// TestExecutor_BurstThenIdle: a burst drains completely and the executor
// accepts new work afterwards.
func TestExecutor_BurstThenIdle(t *testing.T) {
	r := &recorder{}
	e := NewExecutor(r.dispatch, time.Millisecond, nil)

	var burst []Command
	for i := 0; i < 20; i++ {
		burst = append(burst, tiny("n", TypePulse))
	}
	e.Enqueue(burst...)
	require.True(t, e.WaitIdle(5*time.Second))
	require.Zero(t, e.Pending())

	e.Enqueue(tiny("late", TypeCreate))
	require.True(t, e.WaitIdle(2*time.Second))
	require.Equal(t, 21, len(r.targets()))
}

// TestBusDispatcher_Routing: each type lands on its scene topic; unknown
// types are reported, not published.
func TestBusDispatcher_Routing(t *testing.T) {
	b := bus.New()
	var topics []bus.Topic
	for _, topic := range []bus.Topic{
		bus.TopicSceneHighlight, bus.TopicScenePulse,
		bus.TopicSceneMoveCamera, bus.TopicSceneCreateObject,
	} {
		topic := topic
		b.Subscribe(topic, func(any) { topics = append(topics, topic) })
	}
	dispatch := NewBusDispatcher(b)

	for _, typ := range []Type{TypeHighlight, TypePulse, TypeCamera, TypeCreate} {
		require.NoError(t, dispatch(Command{Type: typ}))
	}
	require.Equal(t, []bus.Topic{
		bus.TopicSceneHighlight, bus.TopicScenePulse,
		bus.TopicSceneMoveCamera, bus.TopicSceneCreateObject,
	}, topics)

	require.ErrorIs(t, dispatch(Command{Type: Type("warp")}), ErrUnknownType)
}
