package devicemanager

import (
	"time"

	"github.com/buttplugio/buttplug-sub000/protocol"
)

// No hardware manager in the retrieved pack exposes a push-notification
// stream behind a transport-agnostic interface (spec.md §4's
// subscribe(endpoint) -> stream<bytes> is transport-specific: BLE
// notify, a websocket device's own push frames, ...). Rather than widen
// protocol.Hardware/Handler with a transport-specific event-stream
// method that most handlers would have to stub out, SensorSubscribeCmd/
// RawSubscribeCmd are served by polling the existing Read path at a
// fixed interval and fanning the result out to every subscriber of that
// sensor/endpoint. Real push-capable transports (ble, wsdevice) can
// still deliver faster updates by shortening pollInterval per protocol
// if a future handler needs it; this is recorded as an Open Question
// resolution in DESIGN.md.
const pollInterval = 250 * time.Millisecond

type sensorSubKey struct {
	sensorIndex uint32
	sensorType  string
}

// pollSubscription is a single shared poll loop feeding every listener
// registered for one sensor or raw endpoint (spec.md §4: "multiple
// subscribers for the same sensor must share a single underlying
// hardware subscription").
type pollSubscription struct {
	stop      chan struct{}
	listeners map[int]func(protocol.SensorReading)
	nextID    int
	refCount  int
}

// SubscribeSensor registers cb to receive periodic SensorReading updates
// for (sensorIndex, sensorType) until the returned func is called.
func (cd *ConnectedDevice) SubscribeSensor(sensorIndex uint32, sensorType string, cb func(protocol.SensorReading)) func() {
	cd.subMu.Lock()
	if cd.sensorSubs == nil {
		cd.sensorSubs = map[sensorSubKey]*pollSubscription{}
	}
	key := sensorSubKey{sensorIndex, sensorType}
	sub, ok := cd.sensorSubs[key]
	if !ok {
		sub = &pollSubscription{stop: make(chan struct{}), listeners: map[int]func(protocol.SensorReading){}}
		cd.sensorSubs[key] = sub
		go cd.pollSensor(key, sub)
	}
	id := sub.nextID
	sub.nextID++
	sub.listeners[id] = cb
	sub.refCount++
	cd.subMu.Unlock()

	var once bool
	return func() {
		cd.subMu.Lock()
		defer cd.subMu.Unlock()
		if once {
			return
		}
		once = true
		sub, ok := cd.sensorSubs[key]
		if !ok {
			return
		}
		delete(sub.listeners, id)
		sub.refCount--
		if sub.refCount <= 0 {
			close(sub.stop)
			delete(cd.sensorSubs, key)
		}
	}
}

func (cd *ConnectedDevice) pollSensor(key sensorSubKey, sub *pollSubscription) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			reading, err := cd.Handler.Read(protocol.SensorRead{SensorIndex: key.sensorIndex, SensorType: key.sensorType})
			if err != nil {
				continue
			}
			cd.subMu.Lock()
			for _, l := range sub.listeners {
				l(reading)
			}
			cd.subMu.Unlock()
		}
	}
}

// rawPollLength is the best-effort read size used for a raw endpoint
// subscription, since RawSubscribeCmd carries no ExpectedLength (only
// RawReadCmd does).
const rawPollLength = 64

// SubscribeRaw registers cb to receive periodic raw reads of endpoint
// until the returned func is called.
func (cd *ConnectedDevice) SubscribeRaw(endpoint string, cb func(protocol.SensorReading)) func() {
	cd.subMu.Lock()
	if cd.rawSubs == nil {
		cd.rawSubs = map[string]*pollSubscription{}
	}
	sub, ok := cd.rawSubs[endpoint]
	if !ok {
		sub = &pollSubscription{stop: make(chan struct{}), listeners: map[int]func(protocol.SensorReading){}}
		cd.rawSubs[endpoint] = sub
		go cd.pollRaw(endpoint, sub)
	}
	id := sub.nextID
	sub.nextID++
	sub.listeners[id] = cb
	sub.refCount++
	cd.subMu.Unlock()

	var once bool
	return func() {
		cd.subMu.Lock()
		defer cd.subMu.Unlock()
		if once {
			return
		}
		once = true
		sub, ok := cd.rawSubs[endpoint]
		if !ok {
			return
		}
		delete(sub.listeners, id)
		sub.refCount--
		if sub.refCount <= 0 {
			close(sub.stop)
			delete(cd.rawSubs, endpoint)
		}
	}
}

func (cd *ConnectedDevice) pollRaw(endpoint string, sub *pollSubscription) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			data, err := cd.Hardware.Read(endpoint, rawPollLength)
			if err != nil || len(data) == 0 {
				continue
			}
			ints := make([]int32, len(data))
			for i, b := range data {
				ints[i] = int32(b)
			}
			cd.subMu.Lock()
			for _, l := range sub.listeners {
				l(protocol.SensorReading{SensorType: endpoint, Data: ints})
			}
			cd.subMu.Unlock()
		}
	}
}
