/*
Package wsdevice implements a hardwaremanager.Manager for application-
level websocket devices (spec.md §4.4's third transport, alongside BLE
and vendor HTTP services): rather than the server dialing out, a device
firmware or bridge dials in, announces its name on connect, and from
then on exchanges JSON-framed endpoint reads/writes over the same
connection.

Grounded on buttplugtest.Conn's accept/dispatch shape (upgrade the
request, read JSON frames in a loop, dispatch by message name) and
reusing gorilla/websocket as the teacher already does for its own
client-facing connection.
*/
package wsdevice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// ConfigSource returns the Device Configuration DB snapshot currently in
// effect.
type ConfigSource func() *deviceconfig.DeviceConfiguration

// Manager accepts inbound websocket connections from application-level
// devices. It implements both hardwaremanager.Manager and
// http.Handler; the caller mounts Manager at whatever path the server's
// device-facing listener uses (spec.md §6).
type Manager struct {
	cfg ConfigSource
	log *logrus.Entry

	upgrader websocket.Upgrader
	events   chan hardwaremanager.Event

	mu       sync.Mutex
	scanning bool
}

// New constructs a websocket device Manager.
func New(cfg ConfigSource, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		events:   make(chan hardwaremanager.Event, 32),
	}
}

func (m *Manager) Name() string { return "websocket" }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

// StartScanning arms the manager to announce newly accepted connections
// as discoveries; ServeHTTP accepts regardless, but announcements are
// only emitted while scanning is active, mirroring spec.md §4.4's
// discovery-phase gating for bus-style transports.
func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
		select {
		case m.events <- hardwaremanager.Event{ScanningFinished: true}:
		default:
		}
	}()
	return nil
}

func (m *Manager) StopScanning() error {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	select {
	case m.events <- hardwaremanager.Event{ScanningFinished: true}:
	default:
	}
	return nil
}

// ServeHTTP upgrades the request and waits for the device's announce
// frame, then emits a Discovered event if the announced name matches a
// protocol's WebsocketSpecifier.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	var announce announceFrame
	if err := conn.ReadJSON(&announce); err != nil {
		m.log.WithError(err).Warn("websocket device did not announce")
		conn.Close()
		return
	}

	cfg := m.cfg()
	if cfg == nil {
		conn.Close()
		return
	}
	ad := deviceconfig.AdvertisementData{WebsocketName: announce.Name}
	if _, ok := cfg.Matcher().Match(ad); !ok {
		m.log.WithField("name", announce.Name).Warn("websocket device name matched no protocol")
		conn.Close()
		return
	}

	hw := newHardware(conn, m.log.WithField("device", announce.Name))

	m.mu.Lock()
	scanning := m.scanning
	m.mu.Unlock()
	if !scanning {
		hw.Close()
		return
	}

	select {
	case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
		Address: announce.Name,
		Data:    ad,
		Connect: func(ctx context.Context) (protocol.Hardware, error) {
			return hw, nil
		},
	}}:
	default:
		m.log.Warn("event buffer full, dropping websocket discovery")
		hw.Close()
	}
}

type announceFrame struct {
	Name string `json:"name"`
}

type wsFrame struct {
	Endpoint string          `json:"endpoint"`
	Data     json.RawMessage `json:"data"`
}

// hardware is the connected protocol.Hardware handle for one
// application-level websocket device: writes frame straight to the
// socket, reads pull the next frame matching the requested endpoint from
// a small background-fed buffer.
type hardware struct {
	conn *websocket.Conn
	log  *logrus.Entry

	mu       sync.Mutex
	writeMu  sync.Mutex
	pending  map[string]chan []byte
	closed   chan struct{}
	closeErr error
}

const readTimeout = 5 * time.Second

func newHardware(conn *websocket.Conn, log *logrus.Entry) *hardware {
	h := &hardware{
		conn:    conn,
		log:     log,
		pending: map[string]chan []byte{},
		closed:  make(chan struct{}),
	}
	go h.readLoop()
	return h
}

func (h *hardware) readLoop() {
	for {
		var f wsFrame
		if err := h.conn.ReadJSON(&f); err != nil {
			h.log.WithError(err).Info("websocket device disconnected")
			h.Close()
			return
		}
		h.mu.Lock()
		ch, ok := h.pending[f.Endpoint]
		h.mu.Unlock()
		if ok {
			select {
			case ch <- []byte(f.Data):
			default:
			}
		}
	}
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	select {
	case <-h.closed:
		return fmt.Errorf("wsdevice: connection closed")
	default:
	}
	b, err := json.Marshal(w.Data)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteJSON(wsFrame{Endpoint: w.Endpoint, Data: b})
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	select {
	case <-h.closed:
		return nil, fmt.Errorf("wsdevice: connection closed")
	default:
	}
	h.mu.Lock()
	ch, ok := h.pending[endpoint]
	if !ok {
		ch = make(chan []byte, 1)
		h.pending[endpoint] = ch
	}
	h.mu.Unlock()

	select {
	case b := <-ch:
		var data []byte
		if err := json.Unmarshal(b, &data); err != nil {
			return nil, err
		}
		return data, nil
	case <-h.closed:
		return nil, fmt.Errorf("wsdevice: connection closed")
	case <-time.After(readTimeout):
		return nil, fmt.Errorf("wsdevice: timed out reading endpoint %q", endpoint)
	}
}

func (h *hardware) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return
	default:
		close(h.closed)
		h.conn.Close()
	}
}
