package message

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// bufferSize is the amount of messages buffered by the Sender.
const bufferSize = 256

// IDCounter is a concurrency-safe id counter used for message ids.
// Id 0 is reserved for server-originated unsolicited messages (spec.md
// §3), so Generate never returns 0.
type IDCounter struct {
	sync.Mutex
	value uint32
}

// Generate creates a new non-zero id.
func (c *IDCounter) Generate() uint32 {
	c.Lock()
	defer c.Unlock()
	c.value++
	if c.value == 0 {
		c.value = 1
	}
	return c.value
}

// Sender buffers and writes Messages frames over a websocket connection.
type Sender struct {
	out     chan<- Messages
	once    sync.Once
	stop    chan struct{}
	log     *logrus.Entry
	version atomic.Uint32
}

// NewSender creates a Sender for the given websocket connection. log may
// be nil, in which case the standard logrus logger is used. The sender
// starts pinned at CanonicalVersion; call SetVersion once a session's
// handshake negotiates an older ProtocolSpecVersion.
func NewSender(conn *websocket.Conn, log *logrus.Entry) *Sender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	out := make(chan Messages, bufferSize)
	s := &Sender{
		stop: make(chan struct{}),
		out:  out,
		log:  log,
	}
	s.version.Store(uint32(CanonicalVersion))
	go writeLoop(conn, out, &s.version, log)
	return s
}

// SetVersion pins the wire shape writeLoop encodes DeviceList/DeviceAdded
// messages in. Safe to call concurrently with Send.
func (s *Sender) SetVersion(v SpecVersion) {
	s.version.Store(uint32(v))
}

func writeLoop(conn *websocket.Conn, buf <-chan Messages, version *atomic.Uint32, log *logrus.Entry) {
	for frame := range buf {
		b, err := EncodeFrameForVersion(frame, SpecVersion(version.Load()))
		if err != nil {
			log.WithError(err).Error("failed to encode outgoing frame")
			continue
		}
		err = conn.WriteMessage(websocket.TextMessage, b)
		if err == websocket.ErrCloseSent {
			return
		} else if err != nil {
			log.WithError(err).Error("error during write")
		}
	}
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if err != nil {
		log.WithError(err).Error("error closing websocket")
	}
}

// Send a frame to the peer. Non-blocking: a full buffer is reported as an
// error rather than stalling the caller (spec.md §5 bounded channels).
func (s *Sender) Send(frame Messages) error {
	select {
	case <-s.stop:
		return errStopped
	case s.out <- frame:
		return nil
	default:
		return errBufferFull
	}
}

// SendOne is a convenience wrapper for single-message frames.
func (s *Sender) SendOne(m Message) error {
	return s.Send(Messages{m})
}

// Stop causes the sender to stop accepting and sending messages.
func (s *Sender) Stop() {
	s.once.Do(func() {
		close(s.stop)
		close(s.out)
	})
}

type sendError string

func (e sendError) Error() string { return string(e) }

const (
	errStopped    = sendError("stopped")
	errBufferFull = sendError("write buffer full")
)
