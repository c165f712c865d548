/*
Package devicemanager owns the live device map between the server's
session layer and the Hardware Managers/Protocol Handlers beneath it
(spec.md §3, §4.7, §5): DeviceIndex allocation, hardware discovery fan-in,
Device Configuration DB matching, and ConnectedDevice lifecycle.

Grounded on the teacher's client.go addDevice/removeDevice (a
mutex-protected map keyed by DeviceIndex) and spec.md §9's arena+index
guidance, generalized from "teacher only ever consumes
server-assigned indices" to "this package is the authority that assigns
them."
*/
package devicemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/command"
	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/metrics"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// ConnectedDevice is a runtime instance of a matched, initialized
// physical or virtual device (spec.md §3). Its DeviceIndex is stable
// for the life of the server process once assigned and is never reused
// for a different DeviceAddress.
type ConnectedDevice struct {
	Index      uint32
	Address    string
	Definition deviceconfig.DeviceDefinition
	Features   []command.Feature

	Handler  protocol.Handler
	Hardware protocol.Hardware
	Commands *command.Manager

	// Worker is the single goroutine permitted to call Commands'
	// methods (spec.md §5's per-device task model): every command for
	// this device crosses its bounded queue instead of running inline
	// on whichever session or watchdog goroutine issued it.
	Worker *command.Worker

	subMu      sync.Mutex
	sensorSubs map[sensorSubKey]*pollSubscription
	rawSubs    map[string]*pollSubscription
}

// Event reports a device lifecycle change, or a scanning-finished
// signal, to the server layer.
type Event struct {
	Added            *ConnectedDevice
	Removed          *ConnectedDevice
	ScanningFinished bool
}

// Manager is the single-writer authority over the device map (spec.md
// §5: "must be accessed under a single-writer discipline"). All mutating
// methods take the internal mutex; CommandCache access happens through
// each ConnectedDevice's own command.Manager, which is owned solely by
// that device, not by Manager's mutex.
type Manager struct {
	mu       sync.RWMutex
	cfg      *deviceconfig.DeviceConfiguration
	registry *protocol.Registry
	log      *logrus.Entry

	devices        map[uint32]*ConnectedDevice
	addressToIndex map[string]uint32 // permanent for the process lifetime
	nextIndex      uint32

	events chan Event
	hw     []hardwaremanager.Manager
}

// New constructs a Manager over the given Device Configuration DB
// snapshot and protocol registry. hws are the Hardware Managers to fan
// in discovery events from; Run subscribes to each one's Events()
// channel and fans them in until its ctx is cancelled.
func New(cfg *deviceconfig.DeviceConfiguration, registry *protocol.Registry, log *logrus.Entry, hws ...hardwaremanager.Manager) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:            cfg,
		registry:       registry,
		log:            log,
		devices:        map[uint32]*ConnectedDevice{},
		addressToIndex: map[string]uint32{},
		events:         make(chan Event, 32),
		hw:             hws,
	}
}

// Events returns the channel DeviceAdded/DeviceRemoved lifecycle events
// are delivered on.
func (m *Manager) Events() <-chan Event { return m.events }

// SetConfiguration atomically swaps the Device Configuration DB
// snapshot this Manager matches new discoveries against (spec.md §5's
// copy-on-write rule). Already-connected devices are unaffected; only
// future discoveries see the new snapshot.
func (m *Manager) SetConfiguration(cfg *deviceconfig.DeviceConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Run fans in discovery/loss events from every configured Hardware
// Manager until ctx is cancelled. It does not return until then.
func (m *Manager) Run(ctx context.Context) {
	cases := make(chan hardwaremanager.Event, 32)
	var wg sync.WaitGroup
	for _, h := range m.hw {
		wg.Add(1)
		go func(h hardwaremanager.Manager) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-h.Events():
					if !ok {
						return
					}
					select {
					case cases <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(h)
	}
	go func() {
		wg.Wait()
		close(cases)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cases:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

// StartScanning starts discovery on every configured Hardware Manager.
func (m *Manager) StartScanning(ctx context.Context) error {
	var firstErr error
	for _, h := range m.hw {
		if err := h.StartScanning(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", h.Name(), err)
		}
	}
	return firstErr
}

// StopScanning stops discovery on every configured Hardware Manager.
func (m *Manager) StopScanning() error {
	var firstErr error
	for _, h := range m.hw {
		if err := h.StopScanning(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", h.Name(), err)
		}
	}
	return firstErr
}

func (m *Manager) handle(ctx context.Context, ev hardwaremanager.Event) {
	if ev.Discovered != nil {
		m.onDiscovered(ctx, *ev.Discovered)
		return
	}
	if ev.LostAddress != "" {
		m.onLost(ev.LostAddress)
		return
	}
	if ev.ScanningFinished {
		m.events <- Event{ScanningFinished: true}
	}
}

func (m *Manager) onDiscovered(ctx context.Context, d hardwaremanager.Discovered) {
	m.mu.RLock()
	cfg := m.cfg
	_, already := m.addressToIndex[d.Address]
	m.mu.RUnlock()
	if already {
		m.mu.RLock()
		idx := m.addressToIndex[d.Address]
		_, connected := m.devices[idx]
		m.mu.RUnlock()
		if connected {
			return
		}
	}

	match, ok := cfg.Matcher().Match(d.Data)
	if !ok {
		m.log.WithField("address", d.Address).Debug("no protocol matched for discovered device")
		return
	}
	def, err := cfg.DefinitionFor(match.Protocol, match.Identifier)
	if err != nil {
		m.log.WithError(err).WithField("protocol", match.Protocol).Warn("protocol matched but has no definition")
		return
	}
	if override, ok := cfg.OverrideFor(d.Address, match.Protocol); ok {
		def = deviceconfig.ApplyFeatureOverrides(def, override)
	}
	if def.Deny {
		m.log.WithField("address", d.Address).Info("device denied by user configuration")
		return
	}

	if !m.registry.Has(match.Protocol) {
		m.log.WithField("protocol", match.Protocol).Warn("matched protocol has no registered handler; ignoring")
		return
	}

	hw, err := d.Connect(ctx)
	if err != nil {
		m.log.WithError(err).WithField("address", d.Address).Warn("failed to connect to discovered device")
		return
	}
	handler, err := m.registry.Build(match.Protocol, hw, def)
	if err != nil {
		m.log.WithError(err).WithField("protocol", match.Protocol).Warn("failed to build protocol handler")
		return
	}
	if err := handler.Initialize(); err != nil {
		m.log.WithError(err).WithField("address", d.Address).Warn("device initialization failed")
		return
	}

	features := featuresFromDefinition(def)
	mgr := command.NewManager(features, handler, hw, def.MessageGapMs)
	cd := &ConnectedDevice{
		Address:    d.Address,
		Definition: def,
		Features:   features,
		Handler:    handler,
		Hardware:   hw,
		Commands:   mgr,
		Worker:     command.NewWorker(mgr, m.log.WithField("address", d.Address)),
	}

	m.mu.Lock()
	idx, ok := m.addressToIndex[d.Address]
	if !ok {
		idx = m.nextIndex
		m.nextIndex++
		m.addressToIndex[d.Address] = idx
	}
	cd.Index = idx
	m.devices[idx] = cd
	m.mu.Unlock()

	go cd.Worker.Run(ctx)

	m.log.WithFields(logrus.Fields{"address": d.Address, "index": idx, "protocol": match.Protocol}).Info("device added")
	metrics.DevicesConnected.Inc()
	m.events <- Event{Added: cd}
}

func (m *Manager) onLost(address string) {
	m.mu.Lock()
	idx, ok := m.addressToIndex[address]
	var cd *ConnectedDevice
	if ok {
		cd, ok = m.devices[idx]
		delete(m.devices, idx)
	}
	m.mu.Unlock()
	if !ok || cd == nil {
		return
	}
	cd.Worker.Stop()
	m.log.WithFields(logrus.Fields{"address": address, "index": idx}).Info("device removed")
	metrics.DevicesConnected.Dec()
	m.events <- Event{Removed: cd}
}

// Get returns the connected device at index, if any.
func (m *Manager) Get(index uint32) (*ConnectedDevice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cd, ok := m.devices[index]
	return cd, ok
}

// List returns every currently connected device, ordered by index.
func (m *Manager) List() []*ConnectedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ConnectedDevice, 0, len(m.devices))
	for _, cd := range m.devices {
		out = append(out, cd)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Index > out[j].Index; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// StopAll queues StopAllFeatures on every connected device's own
// command goroutine and returns without waiting for any of them to
// finish (spec.md §5: a stalled device must not block the caller,
// typically the ping watchdog or a session's event loop). Errors are
// logged by the device's Worker, not returned, since spec.md §4.9
// requires every device be commanded to stop regardless of others'
// failures.
func (m *Manager) StopAll() {
	for _, cd := range m.List() {
		if err := cd.Worker.Submit(func(mgr *command.Manager) error {
			return mgr.StopAllFeatures()
		}, nil); err != nil {
			m.log.WithError(err).WithField("index", cd.Index).Warn("stop-all queue rejected for device")
		}
	}
}

func featuresFromDefinition(def deviceconfig.DeviceDefinition) []command.Feature {
	features := make([]command.Feature, 0, len(def.Features))
	for i, f := range def.Features {
		cf := command.Feature{
			Index:        uint32(i),
			ActuatorType: string(f.FeatureType),
			Messages:     map[string]bool{},
		}
		if f.Output != nil {
			cf.StepLow = f.Output.StepRange.Low
			cf.StepHigh = f.Output.StepRange.High
			for _, msg := range f.Output.Messages {
				cf.Messages[msg] = true
			}
		}
		if f.Input != nil {
			for _, msg := range f.Input.Messages {
				cf.Messages[msg] = true
			}
		}
		features = append(features, cf)
	}
	return features
}
