package golibbuttplug

import (
	"context"
	"errors"
	"fmt"

	"github.com/buttplugio/buttplug-sub000/message"
)

var (
	// ErrUnsupported is the error returned when the command executed is
	// not supported by the device.
	ErrUnsupported = errors.New("unsupported command")
	// ErrInvalidSpeed is the error retured when the speed is not supported
	// by the device.
	ErrInvalidSpeed = errors.New("invalid speed")
	// ErrInvalidPosition is the error retured when the position is not
	// supported by the device.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrNoSuchFeature is returned when a feature index has no
	// matching entry in the device's Features list.
	ErrNoSuchFeature = errors.New("no such feature")
)

// Device represents a connected device and can be used to execute
// commands against it using the canonical generic message set.
type Device struct {
	client *Client
	device message.Device
	done   chan struct{}
}

func (d *Device) String() string {
	return fmt.Sprintf("%s(%d)", d.device.DeviceName, d.device.DeviceIndex)
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.device.DeviceName
}

// IsSupported returns true if the message type is supported.
func (d *Device) IsSupported(msgtype string) bool {
	_, ok := d.device.DeviceMessages[msgtype]
	return ok
}

// Supported returns every generic message kind this device answers to.
func (d *Device) Supported() []string {
	out := make([]string, 0, len(d.device.DeviceMessages))
	for k := range d.device.DeviceMessages {
		out = append(out, k)
	}
	return out
}

// Features returns the device's feature descriptors, as received in its
// DeviceAdded/DeviceList entry.
func (d *Device) Features() []message.FeatureDescriptor {
	return d.device.Features
}

func (d *Device) featureByType(kind, actuator string) (message.FeatureDescriptor, error) {
	for _, f := range d.device.Features {
		if f.FeatureType != actuator {
			continue
		}
		for _, m := range f.Messages {
			if m == kind {
				return f, nil
			}
		}
	}
	return message.FeatureDescriptor{}, ErrNoSuchFeature
}

// StopDeviceCmd stops a device from whatever actions it may be taking.
func (d *Device) StopDeviceCmd() error {
	if !d.IsSupported("StopDeviceCmd") {
		return ErrUnsupported
	}
	id := d.client.counter.Generate()
	return d.client.sendMessage(id, message.Message{
		StopDeviceCmd: &message.StopDeviceCmd{
			Id:          id,
			DeviceIndex: d.device.DeviceIndex,
		},
	})
}

// VibrateCmd runs every Vibrate feature at the given speed, a float with a
// range of [0.0-1.0].
func (d *Device) VibrateCmd(spd float64) error {
	if !d.IsSupported("ScalarCmd") {
		return ErrUnsupported
	}
	if spd < 0 || spd > 1 {
		return ErrInvalidSpeed
	}
	var subs []message.ScalarSubcommand
	for _, f := range d.device.Features {
		if f.FeatureType != message.ActuatorVibrate {
			continue
		}
		for _, m := range f.Messages {
			if m == "ScalarCmd" {
				subs = append(subs, message.ScalarSubcommand{
					Index:        f.Index,
					Scalar:       spd,
					ActuatorType: message.ActuatorVibrate,
				})
			}
		}
	}
	if len(subs) == 0 {
		return ErrUnsupported
	}
	id := d.client.counter.Generate()
	return d.client.sendMessage(id, message.Message{
		ScalarCmd: &message.ScalarCmd{
			Id:          id,
			DeviceIndex: d.device.DeviceIndex,
			Scalars:     subs,
		},
	})
}

// RotateCmd spins every Rotate feature at the given speed and direction.
func (d *Device) RotateCmd(spd float64, clockwise bool) error {
	if !d.IsSupported("RotateCmd") {
		return ErrUnsupported
	}
	if spd < 0 || spd > 1 {
		return ErrInvalidSpeed
	}
	var subs []message.RotateSubcommand
	for _, f := range d.device.Features {
		if f.FeatureType != message.ActuatorRotate {
			continue
		}
		for _, m := range f.Messages {
			if m == "RotateCmd" {
				subs = append(subs, message.RotateSubcommand{
					Index:     f.Index,
					Speed:     spd,
					Clockwise: clockwise,
				})
			}
		}
	}
	if len(subs) == 0 {
		return ErrUnsupported
	}
	id := d.client.counter.Generate()
	return d.client.sendMessage(id, message.Message{
		RotateCmd: &message.RotateCmd{
			Id:          id,
			DeviceIndex: d.device.DeviceIndex,
			Rotations:   subs,
		},
	})
}

// LinearCmd moves every linear-stroke feature to pos (a float with a
// range of [0.0-1.0]) over durationMs milliseconds.
func (d *Device) LinearCmd(pos float64, durationMs uint32) error {
	if !d.IsSupported("LinearCmd") {
		return ErrUnsupported
	}
	if pos < 0 || pos > 1 {
		return ErrInvalidPosition
	}
	var subs []message.LinearSubcommand
	for _, f := range d.device.Features {
		if f.FeatureType != message.ActuatorPositionWithDuration {
			continue
		}
		for _, m := range f.Messages {
			if m == "LinearCmd" {
				subs = append(subs, message.LinearSubcommand{
					Index:    f.Index,
					Duration: durationMs,
					Position: pos,
				})
			}
		}
	}
	if len(subs) == 0 {
		return ErrUnsupported
	}
	id := d.client.counter.Generate()
	return d.client.sendMessage(id, message.Message{
		LinearCmd: &message.LinearCmd{
			Id:          id,
			DeviceIndex: d.device.DeviceIndex,
			Vectors:     subs,
		},
	})
}

// BatteryLevel requests the device's Battery sensor reading, a float
// with a range of [0.0-1.0].
func (d *Device) BatteryLevel() (float64, error) {
	f, err := d.featureByType("SensorReadCmd", message.SensorBattery)
	if err != nil {
		return 0, err
	}
	data, err := d.sensorRead(f.Index, message.SensorBattery)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("empty sensor reading")
	}
	return float64(data[0]) / 100, nil
}

// RSSILevel requests the device's RSSI sensor reading, in dBm.
func (d *Device) RSSILevel() (int, error) {
	f, err := d.featureByType("SensorReadCmd", message.SensorRSSI)
	if err != nil {
		return 0, err
	}
	data, err := d.sensorRead(f.Index, message.SensorRSSI)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("empty sensor reading")
	}
	return data[0], nil
}

func (d *Device) sensorRead(sensorIndex uint32, sensorType string) ([]int, error) {
	id := d.client.counter.Generate()
	if err := d.client.sender.SendOne(message.Message{
		SensorReadCmd: &message.SensorReadCmd{
			Id:          id,
			DeviceIndex: d.device.DeviceIndex,
			SensorIndex: sensorIndex,
			SensorType:  sensorType,
		},
	}); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(d.client.ctx, defaultTimeout)
	defer cancel()
	m, err := d.client.receiveMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Error != nil {
		return nil, fmt.Errorf("server error: %s", m.Error.ErrorMessage)
	}
	if m.SensorReading == nil {
		return nil, errors.New("did not receive sensor reading")
	}
	return m.SensorReading.Data, nil
}

// RawWriteCmd writes raw bytes directly to a named endpoint, bypassing
// the feature abstraction. Only permitted if the server was started with
// AllowRaw.
func (d *Device) RawWriteCmd(endpoint string, data []byte, withResponse bool) error {
	if !d.IsSupported("RawWriteCmd") {
		return ErrUnsupported
	}
	id := d.client.counter.Generate()
	return d.client.sendMessage(id, message.Message{
		RawWriteCmd: &message.RawWriteCmd{
			Id:                id,
			DeviceIndex:       d.device.DeviceIndex,
			Endpoint:          endpoint,
			Data:              data,
			WriteWithResponse: withResponse,
		},
	})
}

// Disconnected returns a receiving channel, that is closed when the device is
// removed.
func (d *Device) Disconnected() <-chan struct{} {
	return d.done
}
