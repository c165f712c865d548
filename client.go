/*
Package golibbuttplug provides a Buttplug websocket client.

Buttplug (https://buttplug.io/) is a quasi-standard set of technologies and
protocols to allow developers to write software that controls an array of sex
toys in a semi-future-proof way.
*/
package golibbuttplug

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/message"
)

// DefaultName is used when no name is specified when creating a new client.
const DefaultName = "golibbuttplug"

var defaultTimeout = time.Second * 30

// Client is a websocket API client that performs operations against a
// Buttplug server, speaking the canonical V3 message set.
type Client struct {
	ctx     context.Context
	conn    *websocket.Conn    // Websocket connection with Buttplug server.
	counter *message.IDCounter // Message ID counter
	log     *logrus.Entry

	once     sync.Once         // Ensure Close() is executed only once.
	sender   *message.Sender   // Sending messages.
	receiver *message.Receiver // Receiving messages.

	m       sync.RWMutex       // Protects devices map.
	devices map[uint32]*Device // Devices by their DeviceIndex
}

// NewClient returns a new client with a connection to a Buttplug server.
func NewClient(ctx context.Context, addr, name string) (c *Client, err error) {
	log := logrus.NewEntry(logrus.StandardLogger())
	c = &Client{
		ctx:     ctx,
		counter: new(message.IDCounter),
		log:     log,
		devices: make(map[uint32]*Device),
	}
	u, err := url.ParseRequestURI(addr)
	if err != nil {
		return nil, err
	}
	c.conn, _, err = websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.receiver = message.NewReceiver(c.conn, log)
	c.sender = message.NewSender(c.conn, log)
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	if name == "" {
		name = DefaultName
	}
	if err := c.initSession(name); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initDeviceList(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		c.log.Info("closing connection to Buttplug")
		c.sender.Stop()
		c.receiver.Stop()
		c.conn.Close()
		c.log.Info("connection to Buttplug closed")
	})
}

// InitSession creates a session with server by requesting serverinfo and
// starting a ping/pong exchange.
func (c *Client) initSession(name string) error {
	id := c.counter.Generate()
	r := message.Message{
		RequestServerInfo: &message.RequestServerInfo{
			Id:             id,
			ClientName:     name,
			MessageVersion: uint32(message.CanonicalVersion),
		},
	}
	if err := c.sender.SendOne(r); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, defaultTimeout)
	defer cancel()
	m, err := c.receiveMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.ServerInfo == nil {
		return errors.New("no serverinfo received")
	}
	si := *m.ServerInfo
	c.log.Infof("connected to Buttplug %s (message version %d)", si.ServerName, si.MessageVersion)
	interval := time.Second
	if si.MaxPingTime != 0 && si.MaxPingTime < 2000 {
		interval = time.Duration(si.MaxPingTime/2) * time.Millisecond
	}
	go c.pingLoop(interval)
	return nil
}

// PingLoop sends out pings.
func (c *Client) pingLoop(d time.Duration) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(d):
			id := c.counter.Generate()
			m := message.Message{Ping: &message.Ping{Id: id}}
			if err := c.sendMessage(id, m); err != nil {
				c.log.WithError(err).Warn("ping error")
				c.Close()
				return
			}
		}
	}
}

// InitDeviceList syncs up client device list with server.
func (c *Client) initDeviceList() error {
	id := c.counter.Generate()
	r := message.Message{RequestDeviceList: &message.Empty{Id: id}}
	if err := c.sender.SendOne(r); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, defaultTimeout)
	defer cancel()
	m, err := c.receiveMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.DeviceList == nil {
		return errors.New("no devicelist received")
	}
	for _, d := range m.DeviceList.Devices {
		c.addDevice(d)
	}
	s := c.receiver.Subscribe()
	go c.eventLoop(s)
	return nil
}

// EventLoop watches for (device) events.
func (c *Client) eventLoop(in *message.Reader) {
	for in := range in.Incoming() {
		m := in.Message
		if m.DeviceAdded != nil {
			c.addDevice(*m.DeviceAdded)
		}
		if m.DeviceRemoved != nil {
			c.removeDevice(m.DeviceRemoved.DeviceIndex)
		}
	}
}

// AddDevice to the device list.
func (c *Client) addDevice(d message.Device) {
	c.m.Lock()
	defer c.m.Unlock()
	c.log.Infof("found device: %s (%d)", d.DeviceName, d.DeviceIndex)
	c.devices[d.DeviceIndex] = &Device{
		client: c,
		device: d,
		done:   make(chan struct{}),
	}
}

// RemoveDevice from the device list.
func (c *Client) removeDevice(index uint32) {
	c.m.Lock()
	defer c.m.Unlock()
	if dev, ok := c.devices[index]; ok {
		c.log.Infof("removed device: %s (%d)", dev.device.DeviceName, index)
		close(dev.done)
	}
	delete(c.devices, index)
}

// ReceiveMessage waits for and reads a message with a given id.
func (c *Client) receiveMessage(ctx context.Context, id uint32) (message.Message, error) {
	r := c.receiver.Subscribe()
	defer c.receiver.Unsubscribe(r)
	for {
		select {
		case in, ok := <-r.Incoming():
			if !ok {
				return message.Message{}, errors.New("reader stopped")
			}
			if in.Message.ID() == id {
				return in.Message, nil
			}
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	}
}

// SendMessage is a generic send and read Ok/Error message with the default
// timeout.
func (c *Client) sendMessage(id uint32, m message.Message) error {
	if err := c.sender.SendOne(m); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, defaultTimeout)
	defer cancel()
	r, err := c.receiveMessage(ctx, id)
	if err != nil {
		return err
	}
	if r.Error != nil {
		return fmt.Errorf("server error: %s", r.Error.ErrorMessage)
	}
	if r.Ok == nil {
		return errors.New("did not receive ok")
	}
	return nil
}

// StartScanning requests to have the server start scanning for devices on all
// busses that it knows about. Useful for protocols like Bluetooth, which
// require an explicit discovery phase.
func (c *Client) StartScanning() error {
	id := c.counter.Generate()
	return c.sendMessage(id, message.Message{StartScanning: &message.Empty{Id: id}})
}

// StopScanning requests to have the server stop scanning for devices. Useful
// for protocols like Bluetooth, which may not timeout otherwise.
func (c *Client) StopScanning() error {
	id := c.counter.Generate()
	return c.sendMessage(id, message.Message{StopScanning: &message.Empty{Id: id}})
}

// WaitOnScanning waits until the server has stopped scanning on all busses.
func (c *Client) WaitOnScanning(ctx context.Context) error {
	r := c.receiver.Subscribe()
	defer c.receiver.Unsubscribe(r)
	for {
		select {
		case in, ok := <-r.Incoming():
			if !ok {
				return errors.New("reader stopped")
			}
			if in.Message.ScanningFinished != nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Devices returns all devices currently known by the client.
func (c *Client) Devices() []*Device {
	c.m.RLock()
	defer c.m.RUnlock()
	d := make([]*Device, 0, len(c.devices))
	for _, v := range c.devices {
		d = append(d, v)
	}
	return d
}

// StopAllDevices tells the server to stop all devices. Can be used for
// emergency situations, on client shutdown for cleanup, etc.
func (c *Client) StopAllDevices() error {
	id := c.counter.Generate()
	return c.sendMessage(id, message.Message{StopAllDevices: &message.Empty{Id: id}})
}
