package command

import (
	"errors"
	"sync"
	"time"

	"github.com/organix/organix-go/internal/bus"
	"github.com/organix/organix-go/internal/clock"
	"github.com/organix/organix-go/internal/logger"
)

// ErrUnknownType is returned by a Dispatcher for a command type it cannot
// route. The executor skips the command without holding its duration.
var ErrUnknownType = errors.New("unknown command type")

// DefaultGap is the fixed pause between consecutive commands.
const DefaultGap = 300 * time.Millisecond

// Dispatcher hands one command to its handler.
type Dispatcher func(Command) error

// NewBusDispatcher routes each command type to its scene topic on the bus.
func NewBusDispatcher(b *bus.Bus) Dispatcher {
	return func(c Command) error {
		switch c.Type {
		case TypeHighlight:
			b.Publish(bus.TopicSceneHighlight, c)
		case TypePulse:
			b.Publish(bus.TopicScenePulse, c)
		case TypeCamera:
			b.Publish(bus.TopicSceneMoveCamera, c)
		case TypeCreate:
			b.Publish(bus.TopicSceneCreateObject, c)
		default:
			return ErrUnknownType
		}
		return nil
	}
}

// Executor drains a single FIFO command queue with one worker. Commands run
// strictly in enqueue order; each is held for at least its duration, then the
// inter-command gap, before the next starts. A failing handler never stalls
// the queue.
type Executor struct {
	mu       sync.Mutex
	queue    []Command
	draining bool

	dispatch Dispatcher
	gap      time.Duration
	clock    clock.Clock
	log      interface {
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// NewExecutor creates an idle executor. A zero gap falls back to DefaultGap;
// a nil clk falls back to the wall clock.
func NewExecutor(dispatch Dispatcher, gap time.Duration, clk clock.Clock) *Executor {
	if gap <= 0 {
		gap = DefaultGap
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{
		dispatch: dispatch,
		gap:      gap,
		clock:    clk,
		log:      logger.Component("executor"),
	}
}

// Enqueue appends commands to the queue and starts the drain worker if the
// executor is idle. Safe for concurrent use.
func (e *Executor) Enqueue(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, cmds...)
	start := !e.draining
	if start {
		e.draining = true
	}
	e.mu.Unlock()

	if start {
		go e.drain()
	}
}

// Pending reports how many commands are queued, including the one in flight.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// WaitIdle blocks until the queue has fully drained or timeout elapses.
// Returns true once idle. Intended for shutdown and tests.
func (e *Executor) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		e.mu.Lock()
		idle := !e.draining && len(e.queue) == 0
		e.mu.Unlock()
		if idle {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

func (e *Executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		cmd := e.queue[0]
		e.mu.Unlock()

		e.run(cmd)

		e.mu.Lock()
		e.queue = e.queue[1:]
		e.mu.Unlock()

		<-e.clock.After(e.gap)
	}
}

// run dispatches one command and holds for its duration. Dispatch failures
// count as instantly complete; only a successful dispatch earns the hold.
func (e *Executor) run(cmd Command) {
	err := e.safeDispatch(cmd)
	switch {
	case errors.Is(err, ErrUnknownType):
		e.log.Warn("skipping command of unknown type", "type", string(cmd.Type))
		return
	case err != nil:
		e.log.Error("command handler failed", "type", string(cmd.Type), "target", cmd.Target, "error", err)
		return
	}
	e.log.Debug("command dispatched", "type", string(cmd.Type), "target", cmd.Target)
	<-e.clock.After(cmd.HoldDuration())
}

// safeDispatch converts a panicking handler into an error so one bad command
// cannot kill the drain worker.
func (e *Executor) safeDispatch(cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panicked")
			e.log.Error("command handler panicked", "type", string(cmd.Type), "panic", r)
		}
	}()
	return e.dispatch(cmd)
}
