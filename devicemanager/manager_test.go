package devicemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/simulated"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

const testDBConfig = `
version: {major: 2, minor: 0}
protocols:
  generic-actuator:
    btle:
      names: ["SimVibe"]
    defaults:
      name: Simulated Vibrator
      features:
        - feature-id: "00000000-0000-0000-0000-000000000001"
          feature-type: Vibrate
          output:
            step-range: {low: 0, high: 20}
            messages: ["ScalarCmd"]
`

func newTestManager(t *testing.T) (*Manager, *simulated.Manager) {
	t.Helper()
	cfg, err := deviceconfig.Load([]byte(testDBConfig))
	require.NoError(t, err)

	registry := protocol.NewRegistry()
	protocol.RegisterBuiltins(registry)

	sim := simulated.New("simulated")
	m := New(cfg, registry, nil, sim)
	return m, sim
}

func TestOnDiscoveredAddsMatchedDevice(t *testing.T) {
	m, sim := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	dev := &simulated.Device{Address: "AA:BB", Data: deviceconfig.AdvertisementData{Name: "SimVibe"}}
	sim.Discover(dev)

	select {
	case ev := <-m.Events():
		require.NotNil(t, ev.Added)
		assert.Equal(t, uint32(0), ev.Added.Index)
		assert.Equal(t, "Simulated Vibrator", ev.Added.Definition.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device added event")
	}

	devices := m.List()
	require.Len(t, devices, 1)
	assert.Equal(t, "AA:BB", devices[0].Address)
}

func TestUnmatchedDeviceIsIgnored(t *testing.T) {
	m, sim := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sim.Discover(&simulated.Device{Address: "ZZ:ZZ", Data: deviceconfig.AdvertisementData{Name: "Unknown"}})

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event for unmatched device: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Empty(t, m.List())
}

func TestDeviceIndexStableAcrossReconnect(t *testing.T) {
	m, sim := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	dev := &simulated.Device{Address: "AA:BB", Data: deviceconfig.AdvertisementData{Name: "SimVibe"}}
	sim.Discover(dev)
	firstAdded := (<-m.Events()).Added
	require.NotNil(t, firstAdded)

	sim.Lose("AA:BB")
	removed := (<-m.Events()).Removed
	require.NotNil(t, removed)
	assert.Equal(t, firstAdded.Index, removed.Index)

	sim.Discover(&simulated.Device{Address: "AA:BB", Data: deviceconfig.AdvertisementData{Name: "SimVibe"}})
	secondAdded := (<-m.Events()).Added
	require.NotNil(t, secondAdded)
	assert.Equal(t, firstAdded.Index, secondAdded.Index, "DeviceIndex must stay stable per address for the server's lifetime")
}

func TestStopAllWritesToEveryDevice(t *testing.T) {
	m, sim := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	dev := &simulated.Device{Address: "AA:BB", Data: deviceconfig.AdvertisementData{Name: "SimVibe"}}
	sim.Discover(dev)
	<-m.Events()

	m.StopAll()
	// StopAll only queues the stop onto the device's own command
	// goroutine and does not wait for it (spec.md §5), so poll briefly
	// rather than asserting immediately.
	require.Eventually(t, func() bool { return len(dev.Writes()) > 0 }, time.Second, 10*time.Millisecond)
}
