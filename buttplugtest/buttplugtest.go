// Package buttplugtest provides utilities for buttplug client testing: a
// minimal scripted server that speaks the canonical V3 message set over a
// websocket, for exercising Client against without a real device.
package buttplugtest

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/message"
)

var upgrader = websocket.Upgrader{}

// TestServer is a mock of a Buttplug server.
type TestServer struct {
	InitialDevices []message.Device
	Conn           *Conn
}

var (
	// DefaultAddDeviceMessage can be used to simulate adding a Launch.
	DefaultAddDeviceMessage = message.Device{
		DeviceName:     "Launch",
		DeviceIndex:    3,
		DeviceMessages: message.BuildDeviceMessages(launchFeatures),
		Features:       launchFeatures,
	}
)

var launchFeatures = []message.FeatureDescriptor{
	{Index: 0, FeatureType: message.ActuatorPositionWithDuration, Description: "Stroker", StepCount: 99, Messages: []string{"LinearCmd"}},
}

var vibeFeatures = []message.FeatureDescriptor{
	{Index: 0, FeatureType: message.ActuatorVibrate, Description: "Vibrator", StepCount: 20, Messages: []string{"ScalarCmd"}},
}

// DefaultTestServer is a TestServer with some predefined devices.
var DefaultTestServer = &TestServer{
	InitialDevices: []message.Device{
		{
			DeviceName:     "TestDevice 1",
			DeviceIndex:    0,
			DeviceMessages: message.BuildDeviceMessages(vibeFeatures),
			Features:       vibeFeatures,
		},
		{
			DeviceName:     "TestDevice 2",
			DeviceIndex:    1,
			DeviceMessages: message.BuildDeviceMessages(vibeFeatures),
			Features:       vibeFeatures,
		},
		{
			DeviceName:     "Launch",
			DeviceIndex:    2,
			DeviceMessages: message.BuildDeviceMessages(launchFeatures),
			Features:       launchFeatures,
		},
	},
}

func (t *TestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("upgrade error")
		return
	}
	defer conn.Close()
	t.Conn = &Conn{
		conn:    conn,
		devices: t.InitialDevices,
		log:     logrus.WithField("component", "buttplugtest"),
	}
	if err := t.Conn.ReadMessages(); err != nil {
		t.Conn.log.WithError(err).Info("connection closed")
	}
}

// Conn is an established websocket connection with the testserver.
type Conn struct {
	sync.Mutex
	conn    *websocket.Conn
	devices []message.Device
	log     *logrus.Entry
}

// ReadMessages reads and dispatches messages from the websocket until the
// connection closes.
func (c *Conn) ReadMessages() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		msgs, _, err := message.DecodeFrame(data)
		if err != nil {
			c.log.WithError(err).Warn("error decoding frame")
			continue
		}
		for _, m := range msgs {
			c.handleMessage(m)
		}
	}
}

func (c *Conn) handleMessage(m message.Message) {
	id := m.ID()
	switch m.Name() {
	case "RequestServerInfo":
		c.log.Infof("<-RequestServerInfo (%d)", id)
		c.sendServerInfo(id)
	case "RequestDeviceList":
		c.log.Infof("<-RequestDeviceList (%d)", id)
		c.sendDeviceList(id)
	case "StartScanning":
		c.log.Infof("<-StartScanning (%d)", id)
		c.sendOk(id)
	case "StopScanning":
		c.log.Infof("<-StopScanning (%d)", id)
		c.sendOk(id)
	case "Ping":
		c.log.Infof("<-Ping (%d)", id)
		c.sendOk(id)
	case "LinearCmd":
		c.log.Infof("<-LinearCmd (%d) %+v", id, m.LinearCmd.Vectors)
		c.sendOk(id)
	case "ScalarCmd":
		c.log.Infof("<-ScalarCmd (%d) %+v", id, m.ScalarCmd.Scalars)
		c.sendOk(id)
	case "RotateCmd":
		c.log.Infof("<-RotateCmd (%d) %+v", id, m.RotateCmd.Rotations)
		c.sendOk(id)
	case "RawWriteCmd":
		c.log.Infof("<-RawWriteCmd (%d)", id)
		c.sendOk(id)
	case "StopAllDevices":
		c.log.Infof("<-StopAllDevices (%d)", id)
		c.sendOk(id)
	case "StopDeviceCmd":
		c.log.Infof("<-StopDeviceCmd (%d)", id)
		c.sendOk(id)
	default:
		c.log.Warnf("<-unhandled message %q (%d)", m.Name(), id)
	}
}

func (c *Conn) send(m message.Message) {
	c.Lock()
	defer c.Unlock()
	b, err := message.EncodeFrame(message.Messages{m})
	if err != nil {
		c.log.WithError(err).Error("error encoding frame")
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.WithError(err).Error("error writing")
	}
}

func (c *Conn) sendOk(id uint32) {
	c.send(message.Message{Ok: &message.Ok{Id: id}})
	c.log.Infof("->Ok (%d)", id)
}

func (c *Conn) sendServerInfo(id uint32) {
	c.send(message.Message{ServerInfo: &message.ServerInfo{
		Id:             id,
		ServerName:     "TestButtplug",
		MessageVersion: uint32(message.CanonicalVersion),
		MaxPingTime:    1000,
	}})
	c.log.Infof("->ServerInfo (%d)", id)
}

func (c *Conn) sendDeviceList(id uint32) {
	c.send(message.Message{DeviceList: &message.DeviceList{
		Id:      id,
		Devices: c.devices,
	}})
	c.log.Infof("->DeviceList (%d)", id)
}

// SendScanningFinished will send a message to the client that scanning is
// finished.
func (c *Conn) SendScanningFinished() {
	c.send(message.Message{ScanningFinished: &message.Empty{Id: 0}})
	c.log.Info("->ScanningFinished (0)")
}

// AddDevice will send the a message to the client that the given device has
// been added.
func (c *Conn) AddDevice(d message.Device) {
	c.send(message.Message{DeviceAdded: &d})
	c.log.Info("->DeviceAdded (0)")
}

// RemoveDevice will send a message to the client that the device at index
// has been removed.
func (c *Conn) RemoveDevice(index uint32) {
	c.send(message.Message{DeviceRemoved: &message.DeviceRemoved{DeviceIndex: index}})
	c.log.Info("->DeviceRemoved (0)")
}
