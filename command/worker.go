package command

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// queueSize is the bounded per-device command channel spec.md §5
// requires: a stalled hardware write stalls only the one device that
// issued it, never the session event loop that submitted the command or
// any other device's queue.
const queueSize = 32

// ErrQueueFull is returned by Submit when a device's command queue is
// saturated. Submit never blocks waiting for room; it rejects instead.
var ErrQueueFull = errors.New("device command queue full")

type task struct {
	run   func(*Manager) error
	reply chan<- error
}

// Worker is the single goroutine that owns one ConnectedDevice's
// Manager and is therefore the only caller of its ApplyScalar/
// ApplyLinear/StopFeature/StopAllFeatures methods. Every hardware write
// for that device happens on this goroutine alone, so a write that
// blocks (a stuck BLE characteristic write, say) only ever stalls this
// device's own queue, matching the teacher's Sender/Receiver
// goroutine-per-concern shape (message/sender.go) generalized from "one
// client connection" to "one device" (spec.md §5).
type Worker struct {
	mgr   *Manager
	tasks chan task
	log   *logrus.Entry
}

// NewWorker builds a Worker around mgr. Run must be started, once, in
// its own goroutine, before Submit is used.
func NewWorker(mgr *Manager, log *logrus.Entry) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{mgr: mgr, tasks: make(chan task, queueSize), log: log}
}

// Run drains queued tasks, one at a time, until ctx is cancelled or Stop
// closes the queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			err := t.run(w.mgr)
			if t.reply != nil {
				t.reply <- err
				continue
			}
			if err != nil {
				w.log.WithError(err).Warn("device command failed")
			}
		}
	}
}

// Stop closes the task queue; a running Run returns once it drains.
func (w *Worker) Stop() {
	close(w.tasks)
}

// Submit enqueues fn to run on this device's goroutine and returns
// immediately: it never waits for fn to execute. A full queue is
// reported as ErrQueueFull rather than blocking the caller. reply, if
// non-nil, receives fn's result once it runs and must be buffered by at
// least 1 so the worker's send above never blocks on a caller that
// stopped listening; a nil reply means the caller doesn't need the
// result, and any error is logged here instead.
func (w *Worker) Submit(fn func(*Manager) error, reply chan<- error) error {
	select {
	case w.tasks <- task{run: fn, reply: reply}:
		return nil
	default:
		return ErrQueueFull
	}
}
