package message

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func makeWsProto(s string) string {
	return "ws" + strings.TrimPrefix(s, "http")
}

func TestIDCounter(t *testing.T) {
	id := IDCounter{}
	if id.Generate() <= 0 {
		t.Errorf("invalid id")
	}
	id.value = 4294967295
	if id.Generate() == 0 {
		t.Errorf("id zero should not be generated")
	}
}

func TestSend(t *testing.T) {
	testSend(t, 1)
}

func BenchmarkSend(b *testing.B) {
	testSend(b, b.N)
}

func testSend(tb testing.TB, n int) {
	done := make(chan struct{})
	var upgrader = websocket.Upgrader{}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			tb.Error(err)
			return
		}
		go readLoop(ws)
		sender := NewSender(ws, nil)

		for i := 0; i < n; i++ {
			sender.SendOne(Message{Ping: &Ping{Id: uint32(i)}})
		}
		select {
		case <-done:
		case <-time.After(100 * time.Second):
			tb.Errorf("test timeout")
		}
		sender.Stop()
	}))
	defer s.Close()

	conn, _, err := websocket.DefaultDialer.Dial(makeWsProto(s.URL), nil)
	if err != nil {
		tb.Error(err)
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			tb.Error(err)
			return
		}
		msgs, _, err := DecodeFrame(data)
		if err != nil {
			tb.Errorf("error unmarshaling message: %v", err)
		}
		if msgs[0].Ping == nil {
			tb.Errorf("ping message not received")
		}
		if msgs[0].Ping.Id >= uint32(n-1) {
			close(done)
			return
		}
	}
}

func readLoop(c *websocket.Conn) {
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}
