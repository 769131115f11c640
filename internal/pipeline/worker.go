package pipeline

import "github.com/dataflowlabs/csvstream/internal/statemachine"

// Worker is the single consumer thread that drains the feed queue. No
// other goroutine may touch the state machine while a Worker is running
// it - the concurrency model's "single thread" requirement.
type Worker struct {
	machine *statemachine.Machine
}

// NewWorker returns a Worker that drives m.
func NewWorker(m *statemachine.Machine) *Worker {
	return &Worker{machine: m}
}

// Run drains chunks until the sentinel, feeding each one to the state
// machine and then dropping it. On the sentinel it invokes end-of-feed,
// which flushes a trailing row-in-progress if one exists. It returns the
// first I/O error reported by the Producer, if any, or an error from the
// state machine itself (e.g. a strict-mode violation).
func (w *Worker) Run(chunks <-chan Chunk) error {
	for c := range chunks {
		if len(c.Data) > 0 {
			if err := w.machine.Feed(c.Data); err != nil {
				// Keep receiving so the Producer is never left blocked on
				// a full queue.
				for range chunks {
				}
				return err
			}
		}
		if c.Done {
			if c.Err != nil {
				return c.Err
			}
			return w.machine.EndOfInput()
		}
	}
	return w.machine.EndOfInput()
}
