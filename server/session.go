package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/command"
	"github.com/buttplugio/buttplug-sub000/devicemanager"
	"github.com/buttplugio/buttplug-sub000/message"
	"github.com/buttplugio/buttplug-sub000/metrics"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

type sessionState int

const (
	stateHandshake sessionState = iota
	stateRunning
	stateStopped
)

type sensorSubKey struct {
	deviceIndex uint32
	sensorIndex uint32
	sensorType  string
}

type rawSubKey struct {
	deviceIndex uint32
	endpoint    string
}

// cmdResult is one command's outcome, delivered back to run's select
// loop by submitCommand once the owning device's Worker executes it.
type cmdResult struct {
	id  uint32
	err error
}

// session is one connection's Uninitialised -> Handshake -> Running ->
// Stopped state machine (spec.md §4.2). Grounded on the teacher's
// client.go goroutine shape (a sender, a receiver, and a dispatch loop
// selecting over both), mirrored server-side.
type session struct {
	server *Server
	conn   *websocket.Conn
	log    *logrus.Entry

	sender   *message.Sender
	receiver *message.Receiver

	state   sessionState
	version message.SpecVersion

	deviceEvents chan devicemanager.Event

	// cmdResults carries the results of commands submitted to a
	// device's own Worker goroutine (command/worker.go) back to run's
	// select loop, so waiting on a device's hardware write never blocks
	// this session from handling Ping or other devices in the meantime
	// (spec.md §5).
	cmdResults chan cmdResult

	// fleshlightPos tracks each device's last legacy Fleshlight position,
	// needed to derive FleshlightLaunchFW12Cmd<->LinearCmd durations
	// (translate.go), keyed by DeviceIndex.
	fleshlightPos map[uint32]int

	sensorSubs map[sensorSubKey]func()
	rawSubs    map[rawSubKey]func()
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	log := srv.log.WithField("remote", conn.RemoteAddr().String())
	return &session{
		server:        srv,
		conn:          conn,
		log:           log,
		sender:        message.NewSender(conn, log),
		receiver:      message.NewReceiver(conn, log),
		state:         stateHandshake,
		version:       message.CanonicalVersion,
		deviceEvents:  make(chan devicemanager.Event, 32),
		cmdResults:    make(chan cmdResult, 32),
		fleshlightPos: map[uint32]int{},
		sensorSubs:    map[sensorSubKey]func(){},
		rawSubs:       map[rawSubKey]func(){},
	}
}

// run drives the session until its connection closes or ctx is
// cancelled. It must be called once, synchronously, from the HTTP
// handler goroutine that accepted the connection.
func (s *session) run(ctx context.Context) {
	defer s.shutdown()
	reader := s.receiver.Subscribe()
	defer s.receiver.Unsubscribe(reader)

	var pingTimer *time.Timer
	var pingC <-chan time.Time
	if s.server.opts.MaxPingTime > 0 {
		pingTimer = time.NewTimer(s.server.opts.MaxPingTime)
		pingC = pingTimer.C
		defer pingTimer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingC:
			s.onPingTimeout()
			return
		case ev, ok := <-s.deviceEvents:
			if !ok {
				return
			}
			s.handleDeviceEvent(ev)
		case r := <-s.cmdResults:
			s.reply(r.id, r.err)
		case in, ok := <-reader.Incoming():
			if !ok {
				s.server.devices.StopAll()
				return
			}
			if s.handleIncoming(in) && pingTimer != nil {
				if !pingTimer.Stop() {
					select {
					case <-pingTimer.C:
					default:
					}
				}
				pingTimer.Reset(s.server.opts.MaxPingTime)
			}
		}
	}
}

func (s *session) onPingTimeout() {
	s.log.Warn("ping watchdog expired, stopping every device")
	metrics.PingTimeouts.Inc()
	s.state = stateStopped
	s.server.devices.StopAll()
	s.sender.SendOne(message.Message{Error: &message.Error{Id: 0, ErrorCode: message.ErrorPing, ErrorMessage: "ping timeout"}})
}

func (s *session) shutdown() {
	s.state = stateStopped
	for _, unsub := range s.sensorSubs {
		unsub()
	}
	for _, unsub := range s.rawSubs {
		unsub()
	}
	s.receiver.Stop()
	s.sender.Stop()
}

// handleDeviceEvent translates a devicemanager lifecycle event into the
// unsolicited message it produces for this session (Id 0, spec.md §3).
func (s *session) handleDeviceEvent(ev devicemanager.Event) {
	switch {
	case ev.Added != nil:
		dev := buildDeviceMessage(ev.Added)
		s.sender.SendOne(message.Message{DeviceAdded: &dev})
	case ev.Removed != nil:
		s.sender.SendOne(message.Message{DeviceRemoved: &message.DeviceRemoved{DeviceIndex: ev.Removed.Index}})
	case ev.ScanningFinished:
		s.sender.SendOne(message.Message{ScanningFinished: &message.Empty{}})
	}
}

// handleIncoming dispatches one client message and replies. It returns
// true if receiving this message should reset the ping watchdog (true
// only for Ping, per spec.md §4.9).
func (s *session) handleIncoming(in message.Incoming) bool {
	m := in.Message
	name := m.Name()
	if name == "" {
		s.reply(message.ExtractID(in.Raw), fmt.Errorf("unrecognized message"))
		return false
	}

	if s.state == stateStopped {
		return false
	}

	if s.state == stateHandshake {
		if name == "RequestServerInfo" {
			s.handleHandshake(m)
			return false
		}
		s.reply(m.ID(), ErrNotInitialized)
		return false
	}

	if name == "RequestServerInfo" {
		s.reply(m.ID(), ErrAlreadyInitialized)
		return false
	}

	if err := message.ValidateInbound(m, s.version); err != nil {
		s.reply(m.ID(), err)
		return false
	}

	if name == "Ping" {
		s.ok(m.Ping.Id)
		return true
	}

	s.dispatchRunning(m)
	return false
}

func (s *session) handleHandshake(m message.Message) {
	req := m.RequestServerInfo
	negotiated := message.SpecVersion(req.MessageVersion)
	if negotiated > message.CanonicalVersion {
		negotiated = message.CanonicalVersion
	}
	s.version = negotiated
	s.sender.SetVersion(negotiated)
	s.state = stateRunning

	maxPing := uint32(s.server.opts.MaxPingTime / time.Millisecond)
	s.sender.SendOne(message.Message{ServerInfo: &message.ServerInfo{
		Id:             req.Id,
		ServerName:     s.server.opts.ServerName,
		MessageVersion: uint32(negotiated),
		MaxPingTime:    maxPing,
	}})
}

func (s *session) dispatchRunning(m message.Message) {
	switch m.Name() {
	case "StartScanning":
		s.reply(m.StartScanning.Id, s.server.devices.StartScanning(context.Background()))
	case "StopScanning":
		s.reply(m.StopScanning.Id, s.server.devices.StopScanning())
	case "RequestDeviceList":
		s.replyDeviceList(m.RequestDeviceList.Id)
	case "ScalarCmd":
		s.applyScalar(m.ScalarCmd.Id, m.ScalarCmd.DeviceIndex, m.ScalarCmd.Scalars)
	case "RotateCmd":
		s.applyRotate(m.RotateCmd.Id, m.RotateCmd.DeviceIndex, m.RotateCmd.Rotations)
	case "LinearCmd":
		s.applyLinear(m.LinearCmd.Id, m.LinearCmd.DeviceIndex, m.LinearCmd.Vectors)
	case "StopDeviceCmd":
		s.stopDevice(m.StopDeviceCmd.Id, m.StopDeviceCmd.DeviceIndex)
	case "StopAllDevices":
		s.server.devices.StopAll()
		s.ok(m.StopAllDevices.Id)
	case "SensorReadCmd":
		s.sensorRead(m.SensorReadCmd.Id, *m.SensorReadCmd)
	case "SensorSubscribeCmd":
		s.sensorSubscribe(m.SensorSubscribeCmd.Id, *m.SensorSubscribeCmd, true)
	case "SensorUnsubscribeCmd":
		s.sensorSubscribe(m.SensorUnsubscribeCmd.Id, *m.SensorUnsubscribeCmd, false)
	case "RawWriteCmd":
		s.rawWrite(m.RawWriteCmd.Id, *m.RawWriteCmd)
	case "RawReadCmd":
		s.rawRead(m.RawReadCmd.Id, *m.RawReadCmd)
	case "RawSubscribeCmd":
		s.rawSubscribe(m.RawSubscribeCmd.Id, *m.RawSubscribeCmd, true)
	case "RawUnsubscribeCmd":
		s.rawSubscribe(m.RawUnsubscribeCmd.Id, *m.RawUnsubscribeCmd, false)
	case "SingleMotorVibrateCmd":
		s.singleMotorVibrate(*m.SingleMotorVibrateCmd)
	case "VibrateCmd":
		s.vibrateCmd(*m.VibrateCmd)
	case "FleshlightLaunchFW12Cmd":
		s.fleshlightCmd(*m.FleshlightLaunchFW12Cmd)
	case "VorzeA10CycloneCmd":
		s.vorzeCmd(*m.VorzeA10CycloneCmd)
	case "KiirooCmd":
		s.vendorPassthrough(m.KiirooCmd.Id, m.KiirooCmd.DeviceIndex, []byte{byte(m.KiirooCmd.Command)})
	case "LovenseCmd":
		s.vendorPassthrough(m.LovenseCmd.Id, m.LovenseCmd.DeviceIndex, []byte(m.LovenseCmd.Command))
	case "BatteryLevelCmd":
		s.batteryLevelCmd(*m.BatteryLevelCmd)
	case "RSSILevelCmd":
		s.rssiLevelCmd(*m.RSSILevelCmd)
	case "RequestLog":
		// Collapsed into the server's own structured log stream; no Log
		// messages are ever forwarded to a V2+ dispatch path (SPEC_FULL.md
		// "Supplemented features"). Acknowledge and do nothing further.
		s.ok(m.RequestLog.Id)
	default:
		s.reply(m.ID(), fmt.Errorf("%s is not handled by this server", m.Name()))
	}
}

// --- replies ---

func (s *session) ok(id uint32) {
	s.sender.SendOne(message.Message{Ok: &message.Ok{Id: id}})
}

func (s *session) reply(id uint32, err error) {
	if err == nil {
		s.ok(id)
		return
	}
	s.sender.SendOne(message.Message{Error: &message.Error{
		Id:           id,
		ErrorMessage: err.Error(),
		ErrorCode:    errorCodeFor(err),
	}})
}

func (s *session) withDevice(id uint32, index uint32, fn func(cd *devicemanager.ConnectedDevice) error) {
	cd, ok := s.server.devices.Get(index)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	s.reply(id, fn(cd))
}

// submitCommand queues fn on cd's own Worker goroutine and arranges for
// its result to surface through s.cmdResults instead of here: the
// caller (run's select loop) never blocks on cd's hardware I/O, so one
// stalled device cannot stall this session's handling of Ping or any
// other device (spec.md §5).
func (s *session) submitCommand(id uint32, cd *devicemanager.ConnectedDevice, fn func(*command.Manager) error) {
	reply := make(chan error, 1)
	if err := cd.Worker.Submit(fn, reply); err != nil {
		s.reply(id, err)
		return
	}
	go func() {
		err := <-reply
		select {
		case s.cmdResults <- cmdResult{id: id, err: err}:
		default:
			s.log.Warn("session command-result buffer full, dropping result")
		}
	}()
}

func (s *session) stopDevice(id uint32, deviceIndex uint32) {
	cd, ok := s.server.devices.Get(deviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	s.submitCommand(id, cd, func(mgr *command.Manager) error {
		return mgr.StopAllFeatures()
	})
}

func (s *session) replyDeviceList(id uint32) {
	connected := s.server.devices.List()
	devices := make([]message.Device, 0, len(connected))
	for _, cd := range connected {
		devices = append(devices, buildDeviceMessage(cd))
	}
	s.sender.SendOne(message.Message{DeviceList: &message.DeviceList{Id: id, Devices: devices}})
}

// --- generic device commands ---

func (s *session) applyScalar(id uint32, deviceIndex uint32, subs []message.ScalarSubcommand) {
	cd, ok := s.server.devices.Get(deviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	cmds := make([]command.ScalarCommand, 0, len(subs))
	for _, sc := range subs {
		cmds = append(cmds, command.ScalarCommand{FeatureIndex: sc.Index, Scalar: sc.Scalar, ActuatorType: sc.ActuatorType})
	}
	s.submitCommand(id, cd, func(mgr *command.Manager) error {
		return mgr.ApplyScalar(cmds, "ScalarCmd")
	})
}

func (s *session) applyRotate(id uint32, deviceIndex uint32, subs []message.RotateSubcommand) {
	cd, ok := s.server.devices.Get(deviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	cmds := make([]command.ScalarCommand, 0, len(subs))
	for _, r := range subs {
		cmds = append(cmds, command.ScalarCommand{FeatureIndex: r.Index, Scalar: r.Speed, Clockwise: r.Clockwise, ActuatorType: "Rotate"})
	}
	s.submitCommand(id, cd, func(mgr *command.Manager) error {
		return mgr.ApplyScalar(cmds, "RotateCmd")
	})
}

func (s *session) applyLinear(id uint32, deviceIndex uint32, vecs []message.LinearSubcommand) {
	cd, ok := s.server.devices.Get(deviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	cmds := make([]command.LinearCommand, 0, len(vecs))
	for _, v := range vecs {
		cmds = append(cmds, command.LinearCommand{FeatureIndex: v.Index, Position: v.Position, DurationMs: v.Duration})
	}
	s.submitCommand(id, cd, func(mgr *command.Manager) error {
		return mgr.ApplyLinear(cmds)
	})
}

// --- sensors ---

func (s *session) sensorRead(id uint32, cmd message.SensorReadCmd) {
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	reading, err := cd.Handler.Read(protocol.SensorRead{SensorIndex: cmd.SensorIndex, SensorType: cmd.SensorType})
	if err != nil {
		s.reply(id, err)
		return
	}
	out := protoReadingToMessage(id, cmd.DeviceIndex, reading)
	s.sender.SendOne(message.Message{SensorReading: &out})
}

func (s *session) sensorSubscribe(id uint32, cmd message.SensorSubscribeCmd, subscribe bool) {
	key := sensorSubKey{cmd.DeviceIndex, cmd.SensorIndex, cmd.SensorType}
	if !subscribe {
		if unsub, ok := s.sensorSubs[key]; ok {
			unsub()
			delete(s.sensorSubs, key)
		}
		s.ok(id)
		return
	}
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	if _, already := s.sensorSubs[key]; !already {
		s.sensorSubs[key] = cd.SubscribeSensor(cmd.SensorIndex, cmd.SensorType, func(r protocol.SensorReading) {
			out := protoReadingToMessage(0, cmd.DeviceIndex, r)
			s.sender.SendOne(message.Message{SensorReading: &out})
		})
	}
	s.ok(id)
}

func protoReadingToMessage(id uint32, deviceIndex uint32, r protocol.SensorReading) message.SensorReading {
	data := make([]int, len(r.Data))
	for i, v := range r.Data {
		data[i] = int(v)
	}
	return message.SensorReading{
		Id:          id,
		DeviceIndex: deviceIndex,
		SensorIndex: r.SensorIndex,
		SensorType:  r.SensorType,
		Data:        data,
	}
}

// --- raw ---

func (s *session) rawWrite(id uint32, cmd message.RawWriteCmd) {
	if !s.server.opts.AllowRaw {
		s.reply(id, ErrRawNotAllowed)
		return
	}
	s.withDevice(id, cmd.DeviceIndex, func(cd *devicemanager.ConnectedDevice) error {
		return cd.Hardware.Write(protocol.HardwareWrite{Endpoint: cmd.Endpoint, Data: cmd.Data, WriteWithResponse: cmd.WriteWithResponse})
	})
}

func (s *session) rawRead(id uint32, cmd message.RawReadCmd) {
	if !s.server.opts.AllowRaw {
		s.reply(id, ErrRawNotAllowed)
		return
	}
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	data, err := cd.Hardware.Read(cmd.Endpoint, int(cmd.ExpectedLength))
	if err != nil {
		s.reply(id, err)
		return
	}
	s.sender.SendOne(message.Message{RawReading: &message.RawReading{Id: id, DeviceIndex: cmd.DeviceIndex, Endpoint: cmd.Endpoint, Data: data}})
}

func (s *session) rawSubscribe(id uint32, cmd message.RawSubscribeCmd, subscribe bool) {
	if !s.server.opts.AllowRaw {
		s.reply(id, ErrRawNotAllowed)
		return
	}
	key := rawSubKey{cmd.DeviceIndex, cmd.Endpoint}
	if !subscribe {
		if unsub, ok := s.rawSubs[key]; ok {
			unsub()
			delete(s.rawSubs, key)
		}
		s.ok(id)
		return
	}
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(id, ErrDeviceNotFound)
		return
	}
	if _, already := s.rawSubs[key]; !already {
		s.rawSubs[key] = cd.SubscribeRaw(cmd.Endpoint, func(r protocol.SensorReading) {
			data := make([]byte, len(r.Data))
			for i, v := range r.Data {
				data[i] = byte(v)
			}
			s.sender.SendOne(message.Message{RawReading: &message.RawReading{DeviceIndex: cmd.DeviceIndex, Endpoint: cmd.Endpoint, Data: data}})
		})
	}
	s.ok(id)
}

func (s *session) vendorPassthrough(id uint32, deviceIndex uint32, data []byte) {
	s.withDevice(id, deviceIndex, func(cd *devicemanager.ConnectedDevice) error {
		return cd.Hardware.Write(protocol.HardwareWrite{Endpoint: "command", Data: data})
	})
}

// --- deprecated v0-v2 translation ---

func (s *session) vibrateIndices(cd *devicemanager.ConnectedDevice) []uint32 {
	var indices []uint32
	for _, f := range cd.Features {
		if f.ActuatorType == "Vibrate" {
			indices = append(indices, f.Index)
		}
	}
	return indices
}

func (s *session) singleMotorVibrate(cmd message.SingleMotorVibrateCmd) {
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(cmd.Id, ErrDeviceNotFound)
		return
	}
	scalar := message.SingleMotorVibrateToScalar(cmd, s.vibrateIndices(cd))
	s.applyScalar(scalar.Id, scalar.DeviceIndex, scalar.Scalars)
}

func (s *session) vibrateCmd(cmd message.VibrateCmd) {
	scalar := message.VibrateCmdToScalar(cmd)
	s.applyScalar(scalar.Id, scalar.DeviceIndex, scalar.Scalars)
}

func (s *session) fleshlightCmd(cmd message.FleshlightLaunchFW12Cmd) {
	prev := s.fleshlightPos[cmd.DeviceIndex]
	linear := message.FleshlightToLinear(cmd, prev)
	s.fleshlightPos[cmd.DeviceIndex] = cmd.Position
	s.applyLinear(linear.Id, linear.DeviceIndex, linear.Vectors)
}

func (s *session) vorzeCmd(cmd message.VorzeA10CycloneCmd) {
	rotate := message.VorzeToRotate(cmd)
	s.applyRotate(rotate.Id, rotate.DeviceIndex, rotate.Rotations)
}

func (s *session) sensorIndexFor(cd *devicemanager.ConnectedDevice, actuatorType string) (uint32, bool) {
	for _, f := range cd.Features {
		if f.ActuatorType == actuatorType {
			return f.Index, true
		}
	}
	return 0, false
}

func (s *session) batteryLevelCmd(cmd message.BatteryLevelCmd) {
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(cmd.Id, ErrDeviceNotFound)
		return
	}
	sensorIndex, ok := s.sensorIndexFor(cd, message.SensorBattery)
	if !ok {
		s.reply(cmd.Id, fmt.Errorf("device has no battery sensor"))
		return
	}
	req := message.BatteryCmdToSensorRead(cmd, sensorIndex)
	reading, err := cd.Handler.Read(protocol.SensorRead{SensorIndex: req.SensorIndex, SensorType: req.SensorType})
	if err != nil {
		s.reply(cmd.Id, err)
		return
	}
	msgReading := protoReadingToMessage(cmd.Id, cmd.DeviceIndex, reading)
	out := message.SensorReadingToBatteryReading(msgReading)
	out.Id = cmd.Id
	s.sender.SendOne(message.Message{BatteryLevelReading: &out})
}

func (s *session) rssiLevelCmd(cmd message.RSSILevelCmd) {
	cd, ok := s.server.devices.Get(cmd.DeviceIndex)
	if !ok {
		s.reply(cmd.Id, ErrDeviceNotFound)
		return
	}
	sensorIndex, ok := s.sensorIndexFor(cd, message.SensorRSSI)
	if !ok {
		s.reply(cmd.Id, fmt.Errorf("device has no RSSI sensor"))
		return
	}
	req := message.RSSICmdToSensorRead(cmd, sensorIndex)
	reading, err := cd.Handler.Read(protocol.SensorRead{SensorIndex: req.SensorIndex, SensorType: req.SensorType})
	if err != nil {
		s.reply(cmd.Id, err)
		return
	}
	msgReading := protoReadingToMessage(cmd.Id, cmd.DeviceIndex, reading)
	out := message.SensorReadingToRSSIReading(msgReading)
	out.Id = cmd.Id
	s.sender.SendOne(message.Message{RSSILevelReading: &out})
}

// buildDeviceMessage projects a ConnectedDevice's Definition into the
// wire Device shape, deriving per-feature DeviceMessages attributes the
// way LegacyDeviceJSON/BuildDeviceMessages expect (message/device.go).
func buildDeviceMessage(cd *devicemanager.ConnectedDevice) message.Device {
	features := make([]message.FeatureDescriptor, 0, len(cd.Definition.Features))
	for i, f := range cd.Definition.Features {
		fd := message.FeatureDescriptor{
			Index:       uint32(i),
			FeatureType: string(f.FeatureType),
			Description: f.Description,
		}
		if f.Output != nil {
			fd.StepCount = f.Output.StepRange.High - f.Output.StepRange.Low
			fd.Messages = append(fd.Messages, f.Output.Messages...)
		}
		if f.Input != nil {
			fd.Messages = append(fd.Messages, f.Input.Messages...)
			for _, vr := range f.Input.ValueRange {
				fd.SensorRange = append(fd.SensorRange, [2]int{vr.Low, vr.High})
			}
		}
		features = append(features, fd)
	}
	name := cd.Definition.Name
	displayName := cd.Definition.UserDisplayName
	return message.Device{
		DeviceName:             name,
		DeviceIndex:            cd.Index,
		DeviceMessageTimingGap: cd.Definition.MessageGapMs,
		DeviceDisplayName:      displayName,
		DeviceMessages:         message.BuildDeviceMessages(features),
		Features:               features,
	}
}
