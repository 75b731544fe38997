package publisher

import (
	"sync"
	"time"

	"github.com/vocdoni/davinci-publisher/log"
)

// Observer is notified after every state transition of a run. It is called
// between stages, never while a stage runs, and must not modify the run.
type Observer interface {
	OnTransition(run *Run, from State)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(run *Run, from State)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(run *Run, from State) { f(run, from) }

// LogObserver reports transitions through log.Monitor, with the time spent
// in each stage.
type LogObserver struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewLogObserver returns an observer that logs every transition.
func NewLogObserver() *LogObserver {
	return &LogObserver{last: make(map[string]time.Time)}
}

// OnTransition logs the transition.
func (o *LogObserver) OnTransition(run *Run, from State) {
	id := run.ID.String()
	now := time.Now()

	o.mu.Lock()
	since, ok := o.last[id]
	if !ok {
		since = run.StartedAt
	}
	if run.State.Terminal() {
		delete(o.last, id)
	} else {
		o.last[id] = now
	}
	o.mu.Unlock()

	fields := map[string]any{
		"run":  id,
		"from": from.String(),
		"to":   run.State.String(),
		"took": now.Sub(since).String(),
	}
	if run.TxHash != nil {
		fields["tx"] = run.TxHash.Hex()
	}
	if run.Failure != nil {
		fields["kind"] = run.Failure.Kind.String()
	}
	log.Monitor("publish transition", fields)
}
