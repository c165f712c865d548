package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttplugio/buttplug-sub000/protocol"
)

// blockingFakeHW signals started on its first Write, then blocks until
// release is closed, simulating a stalled hardware transport (e.g. a
// BLE characteristic write that never completes).
type blockingFakeHW struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingFakeHW) Write(w protocol.HardwareWrite) error {
	select {
	case h.started <- struct{}{}:
	default:
	}
	<-h.release
	return nil
}

func (h *blockingFakeHW) Read(endpoint string, expectedLength int) ([]byte, error) {
	return nil, nil
}

// TestWorkerSubmitDoesNotBlockOnAStalledDevice reproduces spec.md §5's
// per-device task model: a hardware write stuck on one device's Worker
// must not prevent another device's Worker from completing its own
// command.
func TestWorkerSubmitDoesNotBlockOnAStalledDevice(t *testing.T) {
	stalledHandler := &fakeHandler{allowDup: true}
	stalledHW := &blockingFakeHW{started: make(chan struct{}, 1), release: make(chan struct{})}
	stalledMgr := NewManager(twoVibrateFeatures(), stalledHandler, stalledHW, 0)
	stalledWorker := NewWorker(stalledMgr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stalledWorker.Run(ctx)

	stalledReply := make(chan error, 1)
	require.NoError(t, stalledWorker.Submit(func(m *Manager) error {
		return m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5, ActuatorType: "Vibrate"}}, "ScalarCmd")
	}, stalledReply))

	select {
	case <-stalledHW.started:
	case <-time.After(time.Second):
		t.Fatal("stalled device's write never started")
	}

	// A second, unrelated device's worker must still make progress
	// while the first device's hardware write is stuck.
	otherHandler := &fakeHandler{allowDup: true}
	otherHW := &fakeHW{}
	otherMgr := NewManager(twoVibrateFeatures(), otherHandler, otherHW, 0)
	otherWorker := NewWorker(otherMgr, nil)
	go otherWorker.Run(ctx)

	otherReply := make(chan error, 1)
	require.NoError(t, otherWorker.Submit(func(m *Manager) error {
		return m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 1.0, ActuatorType: "Vibrate"}}, "ScalarCmd")
	}, otherReply))

	select {
	case err := <-otherReply:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("a stalled device blocked an unrelated device's worker")
	}

	close(stalledHW.release)
	require.NoError(t, <-stalledReply)
}

// TestWorkerSubmitRejectsWhenQueueIsFull reproduces spec.md §5's bounded
// (32) per-device command queue: once it is full, Submit reports
// ErrQueueFull immediately rather than blocking the caller.
func TestWorkerSubmitRejectsWhenQueueIsFull(t *testing.T) {
	handler := &fakeHandler{allowDup: true}
	hw := &blockingFakeHW{started: make(chan struct{}, 1), release: make(chan struct{})}
	mgr := NewManager(twoVibrateFeatures(), handler, hw, 0)
	w := NewWorker(mgr, nil)
	defer close(hw.release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Occupy the worker's single executing slot with a task stuck on
	// the blocking hardware write, then fill its queue behind it.
	require.NoError(t, w.Submit(func(m *Manager) error {
		return m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5, ActuatorType: "Vibrate"}}, "ScalarCmd")
	}, nil))
	select {
	case <-hw.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first task")
	}

	noop := func(m *Manager) error { return nil }
	for i := 0; i < queueSize; i++ {
		require.NoError(t, w.Submit(noop, nil))
	}

	err := w.Submit(noop, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
}
