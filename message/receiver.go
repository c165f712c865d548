package message

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Incoming pairs a decoded Message with the raw bytes it came from, so a
// caller can still recover an Id (ExtractID) when the message name was
// not recognised at all.
type Incoming struct {
	Message Message
	Raw     json.RawMessage
}

// Receiver reads Buttplug frames from a websocket connection and fans
// each decoded Message out to every subscribed Reader. Readers subscribe/
// unsubscribe dynamically; each gets its own buffered channel so one slow
// reader cannot stall another (spec.md §5).
type Receiver struct {
	once sync.Once
	conn *websocket.Conn
	hub  *hub
	log  *logrus.Entry
}

// NewReceiver creates a Receiver for the given websocket connection.
func NewReceiver(conn *websocket.Conn, log *logrus.Entry) *Receiver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Receiver{
		conn: conn,
		hub:  newHub(),
		log:  log,
	}
	go r.run()
	return r
}

func (rc *Receiver) run() {
	for {
		messageType, data, err := rc.conn.ReadMessage()
		if err != nil {
			rc.conn.Close()
			rc.hub.stop <- true
			return
		}
		if messageType != websocket.TextMessage {
			rc.log.Warn("incoming message is not a text frame")
			continue
		}
		msgs, raws, err := DecodeFrame(data)
		if err != nil {
			rc.log.WithError(err).Warn("error unmarshaling frame")
			continue
		}
		for i, msg := range msgs {
			rc.hub.incoming <- Incoming{Message: msg, Raw: raws[i]}
		}
	}
}

// Subscribe creates a new Reader that receives every decoded message.
// Callers must Unsubscribe when done.
func (rc *Receiver) Subscribe() *Reader {
	r := &Reader{buf: make(chan Incoming, 16)}
	rc.hub.subscribe <- r
	return r
}

// Unsubscribe removes a Reader's subscription.
func (rc *Receiver) Unsubscribe(r *Reader) {
	rc.hub.unsubscribe <- r
}

// Stop tears down the receiver and closes every subscribed Reader.
func (rc *Receiver) Stop() {
	rc.once.Do(func() {
		rc.hub.stop <- true
	})
}

// Reader receives messages from a Receiver subscription.
type Reader struct {
	buf chan Incoming
}

// Incoming returns the channel of messages for this subscription.
func (r *Reader) Incoming() <-chan Incoming {
	return r.buf
}

// hub broadcasts incoming messages to every subscribed Reader. Mirrors
// the teacher's message/receiver.go hub, generalized from the client's
// IncomingMessage to the bidirectional canonical Message.
type hub struct {
	readers     map[*Reader]bool
	incoming    chan Incoming
	subscribe   chan *Reader
	unsubscribe chan *Reader
	stop        chan bool
}

func newHub() *hub {
	h := &hub{
		readers:     make(map[*Reader]bool),
		incoming:    make(chan Incoming),
		subscribe:   make(chan *Reader),
		unsubscribe: make(chan *Reader),
		stop:        make(chan bool),
	}
	go h.run()
	return h
}

func (h *hub) run() {
	for {
		select {
		case <-h.stop:
			for reader := range h.readers {
				close(reader.buf)
				delete(h.readers, reader)
			}
			return
		case reader := <-h.subscribe:
			h.readers[reader] = true
		case reader := <-h.unsubscribe:
			if _, ok := h.readers[reader]; ok {
				close(reader.buf)
				delete(h.readers, reader)
			}
		case msg := <-h.incoming:
			for reader := range h.readers {
				select {
				case reader.buf <- msg:
				default:
					close(reader.buf)
					delete(h.readers, reader)
				}
			}
		}
	}
}
