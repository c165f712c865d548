package message

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func TestReceive(t *testing.T) {
	testReceive(t, 10, 1)
}

func TestReceiveMultipleSubs(t *testing.T) {
	testReceive(t, 10, 5)
}

func testReceive(tb testing.TB, nMsg, nSubs int) {
	start := make(chan struct{})
	done := make(chan struct{})

	var upgrader = websocket.Upgrader{}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			tb.Error(err)
			return
		}
		go readLoop(ws)
		<-start
		for i := 0; i < nMsg; i++ {
			b, _ := EncodeFrame(Messages{{Ok: &Ok{Id: uint32(i)}}})
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		<-done
	}))
	defer s.Close()

	conn, _, err := websocket.DefaultDialer.Dial(makeWsProto(s.URL), nil)
	if err != nil {
		tb.Error(err)
	}
	defer conn.Close()

	receiver := NewReceiver(conn, nil)

	var wg sync.WaitGroup
	for i := 0; i < nSubs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := receiver.Subscribe()
			defer receiver.Unsubscribe(r)
			for in := range r.Incoming() {
				if in.Message.Ok == nil {
					tb.Errorf("no ok message received %+v", in.Message)
					return
				}
				if in.Message.Ok.Id >= uint32(nMsg-1) {
					return
				}
			}
		}()
	}
	close(start)
	wg.Wait()
	receiver.Stop()
	close(done)
	conn.Close()
}
