/*
Package xinput implements a hardwaremanager.Manager over Windows XInput
gamepad slots (spec.md §4.4's seventh transport: a small family of
devices emulate an Xbox controller so they can be driven by rumble
motor commands without any vendor driver). No XInput library appears
anywhere in the retrieved pack, so this package is built against a
small internal Pad seam: enumerate connected slots, then set/get rumble
state. Wiring a real library (go-vgo/robotgo, or a raw XInputGetState/
XInputSetState cgo binding) means implementing Pad over it — a one-file
adapter, not a change to this package.
*/
package xinput

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// Pad is the seam a real XInput implementation fills in: a rumble-motor
// pair (low-frequency, high-frequency), each in [0, 65535].
type Pad interface {
	SetRumble(low, high uint16) error
	Close() error
}

// Enumerator lists currently connected XInput slot indices (0-3).
type Enumerator func() ([]int, error)

// Opener opens a connected slot.
type Opener func(slot int) (Pad, error)

const pollInterval = 2 * time.Second

// Manager periodically polls XInput slots and offers newly connected
// pads as discoveries.
type Manager struct {
	enumerate Enumerator
	open      Opener
	cfg       func() *deviceconfig.DeviceConfiguration
	log       *logrus.Entry

	events chan hardwaremanager.Event

	mu     sync.Mutex
	cancel context.CancelFunc
	known  map[int]bool
}

// New constructs an xinput Manager.
func New(enumerate Enumerator, open Opener, cfg func() *deviceconfig.DeviceConfiguration, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		enumerate: enumerate,
		open:      open,
		cfg:       cfg,
		log:       log,
		events:    make(chan hardwaremanager.Event, 32),
		known:     map[int]bool{},
	}
}

func (m *Manager) Name() string { return "xinput" }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		m.poll()
		for {
			select {
			case <-scanCtx.Done():
				m.mu.Lock()
				m.cancel = nil
				m.mu.Unlock()
				select {
				case m.events <- hardwaremanager.Event{ScanningFinished: true}:
				default:
				}
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
	return nil
}

func (m *Manager) StopScanning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Manager) poll() {
	slots, err := m.enumerate()
	if err != nil {
		m.log.WithError(err).Debug("xinput enumeration failed")
		return
	}
	cfg := m.cfg()
	if cfg == nil {
		return
	}
	for _, slot := range slots {
		m.mu.Lock()
		seen := m.known[slot]
		m.known[slot] = true
		m.mu.Unlock()
		if seen {
			continue
		}
		ad := deviceconfig.AdvertisementData{IsXInput: true, Name: fmt.Sprintf("XInput%d", slot)}
		if _, ok := cfg.Matcher().Match(ad); !ok {
			continue
		}
		slotIdx := slot
		select {
		case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
			Address: ad.Name,
			Data:    ad,
			Connect: func(ctx context.Context) (protocol.Hardware, error) {
				p, err := m.open(slotIdx)
				if err != nil {
					return nil, fmt.Errorf("xinput: open slot %d: %w", slotIdx, err)
				}
				return &hardware{pad: p}, nil
			},
		}}:
		default:
			m.log.Warn("event buffer full, dropping xinput discovery")
		}
	}
}

// hardware is the connected protocol.Hardware handle for one XInput
// slot: the two endpoints "RumbleLow"/"RumbleHigh" each carry a single
// byte, the motor's scaled intensity, onto SetRumble's two channels.
type hardware struct {
	mu   sync.Mutex
	pad  Pad
	low  byte
	high byte
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	if len(w.Data) == 0 {
		return fmt.Errorf("xinput: empty write")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch w.Endpoint {
	case "RumbleLow":
		h.low = w.Data[0]
	case "RumbleHigh":
		h.high = w.Data[0]
	default:
		return fmt.Errorf("xinput: unknown endpoint %q", w.Endpoint)
	}
	low := uint16(h.low) * 257
	high := uint16(h.high) * 257
	return h.pad.SetRumble(low, high)
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	return nil, fmt.Errorf("xinput: endpoint %q does not support reads", endpoint)
}
