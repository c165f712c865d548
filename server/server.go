/*
Package server implements the Buttplug protocol server state machine
(spec.md §4.2, §4.9): one Device Manager shared across sessions, each
session its own per-connection goroutine moving through
Uninitialised -> Handshake -> Running -> Stopped.

Grounded on the teacher's client.go session-goroutine shape (initSession/
pingLoop/eventLoop over a single websocket connection), mirrored to the
server side: the teacher's ping *sender* loop becomes the server's ping
*watchdog timer*, and the teacher's single fixed device list becomes the
live devicemanager.Manager this package fans events from.
*/
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/devicemanager"
)

// Options configures a Server's protocol-level behavior (spec.md §6).
type Options struct {
	ServerName string

	// MaxPingTime is the watchdog interval: a session that goes this
	// long without a Ping is torn down and every device is told to stop
	// (spec.md §4.9, §8 scenario 5). Zero disables the watchdog.
	MaxPingTime time.Duration

	// AllowConcurrentClients permits more than one session at a time.
	// Default false: Buttplug's usual deployment is one controlling
	// application per server (Open Question resolution, see DESIGN.md).
	AllowConcurrentClients bool

	// AllowRaw gates RawWriteCmd/RawReadCmd/RawSubscribeCmd/
	// RawUnsubscribeCmd, which bypass the Device Configuration DB's
	// feature abstraction entirely (spec.md §6).
	AllowRaw bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns one devicemanager.Manager shared by every session it
// accepts, and fans that Manager's device lifecycle events out to each
// active session.
type Server struct {
	opts    Options
	devices *devicemanager.Manager
	log     *logrus.Entry

	mu       sync.Mutex
	sessions map[*session]bool
	active   int
}

// New constructs a Server. devices must already be wired with its
// Hardware Managers and protocol Registry; Run must be called (once)
// before any session connects, to start the device-event fan-out.
func New(opts Options, devices *devicemanager.Manager, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.ServerName == "" {
		opts.ServerName = "buttplug-server"
	}
	return &Server{
		opts:     opts,
		devices:  devices,
		log:      log,
		sessions: map[*session]bool{},
	}
}

// Run fans devicemanager.Manager events out to every registered session
// until ctx is cancelled. Must run concurrently with the Manager's own
// Run loop.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.devices.Events():
			if !ok {
				return
			}
			s.broadcastDeviceEvent(ev)
		}
	}
}

func (s *Server) broadcastDeviceEvent(ev devicemanager.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		select {
		case sess.deviceEvents <- ev:
		default:
			sess.log.Warn("session device-event buffer full, dropping event")
		}
	}
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// Handler returns the http.Handler that upgrades incoming connections to
// Buttplug protocol sessions.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.opts.AllowConcurrentClients {
		s.mu.Lock()
		if s.active > 0 {
			s.mu.Unlock()
			s.log.WithField("remote", r.RemoteAddr).Warn("refusing second concurrent client")
			http.Error(w, "a client is already connected", http.StatusConflict)
			return
		}
		s.active++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
		}()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := newSession(s, conn)
	s.register(sess)
	defer s.unregister(sess)
	sess.run(r.Context())
}
