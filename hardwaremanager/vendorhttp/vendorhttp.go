/*
Package vendorhttp implements a hardwaremanager.Manager over a vendor's
local HTTP discovery/control service (spec.md §4.4's fourth transport;
the Lovense Connect desktop app is the archetype: a toy pairs with the
vendor's own app, which then exposes a small loopback HTTP API the
Buttplug server polls instead of touching Bluetooth directly).

Grounded on the local-HTTP-polling shape in other_examples'
lucarin91-arduino-create-agent main.go (a loopback JSON/WS service
queried by a host agent) and gmacf-bootz server/service/service.go
(periodic HTTP poll against a local daemon). No vendor-HTTP-client
library appears anywhere in the retrieved pack, so this is built on
stdlib net/http + encoding/json; a generic loopback JSON poller has no
third-party equivalent worth adding (see DESIGN.md).
*/
package vendorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// pollInterval is how often the local service's toy list is re-fetched
// while scanning.
const pollInterval = 2 * time.Second

// toyListResponse is the shape the Lovense Connect local service
// returns from its status endpoint: a map keyed by toy id.
type toyListResponse map[string]toyEntry

type toyEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manager polls a vendor's local HTTP service for connected toys.
type Manager struct {
	baseURL string
	client  *http.Client
	cfg     func() *deviceconfig.DeviceConfiguration
	log     *logrus.Entry

	events chan hardwaremanager.Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	known   map[string]bool
}

// New constructs a vendorhttp Manager polling baseURL (e.g.
// "http://127.0.0.1:20010") for its toy list.
func New(baseURL string, cfg func() *deviceconfig.DeviceConfiguration, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		cfg:     cfg,
		log:     log,
		events:  make(chan hardwaremanager.Event, 32),
		known:   map[string]bool{},
	}
}

func (m *Manager) Name() string { return "vendorhttp" }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

// StartScanning polls the vendor service's toy list until StopScanning or
// ctx is cancelled.
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
				m.poll(scanCtx)
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

func (m *Manager) poll(ctx context.Context) {
	toys, err := m.fetchToys(ctx)
	if err != nil {
		m.log.WithError(err).Debug("vendorhttp poll failed")
		return
	}
	cfg := m.cfg()
	if cfg == nil {
		return
	}
	for id, toy := range toys {
		m.mu.Lock()
		seen := m.known[id]
		m.known[id] = true
		m.mu.Unlock()
		if seen {
			continue
		}
		ad := deviceconfig.AdvertisementData{Name: toy.Name}
		if _, ok := cfg.Matcher().Match(ad); !ok {
			continue
		}
		toyID := id
		select {
		case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
			Address: toyID,
			Data:    ad,
			Connect: func(ctx context.Context) (protocol.Hardware, error) {
				return &hardware{base: m.baseURL, id: toyID, client: m.client}, nil
			},
		}}:
		default:
			m.log.Warn("event buffer full, dropping vendorhttp discovery")
		}
	}
}

func (m *Manager) fetchToys(ctx context.Context) (toyListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/GetToys", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vendorhttp: GetToys returned %s", resp.Status)
	}
	var toys toyListResponse
	if err := json.NewDecoder(resp.Body).Decode(&toys); err != nil {
		return nil, err
	}
	return toys, nil
}

// hardware issues commands to one toy via the vendor's local HTTP
// service. Endpoint names the vendor command (e.g. "Vibrate"); Data is
// sent as the command's single parameter.
type hardware struct {
	base   string
	id     string
	client *http.Client
}

type commandRequest struct {
	Command string `json:"command"`
	Action  string `json:"action"`
	ToyID   string `json:"toy"`
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	body, err := json.Marshal(commandRequest{
		Command: w.Endpoint,
		Action:  string(w.Data),
		ToyID:   h.id,
	})
	if err != nil {
		return err
	}
	resp, err := h.client.Post(h.base+"/Command", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vendorhttp: command %q returned %s", w.Endpoint, resp.Status)
	}
	return nil
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/GetToyStatus?toy=%s&stat=%s", h.base, h.id, endpoint), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vendorhttp: status %q returned %s", endpoint, resp.Status)
	}
	var out struct {
		Data []byte `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
