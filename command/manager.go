/*
Package command implements the Generic Command Manager (spec.md §4.7):
per-feature command caching, value validation, step quantisation,
deduplication, and message-gap rate limiting, sitting between the
server's canonical commands and a protocol.Handler's hardware writes.

No pack repo has an analog of this layer (the teacher is a thin client
that only ever sends commands, never quantises or dedups them); the
quantisation formula and cache shape are built directly from spec.md
§4.7 and tested against its worked examples.
*/
package command

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/buttplugio/buttplug-sub000/metrics"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// ErrFeatureIndex is returned when a command addresses a feature index
// the device does not have.
var ErrFeatureIndex = errors.New("feature index out of range")

// ErrUnsupported is returned when a command addresses a feature that
// does not support the message kind.
var ErrUnsupported = errors.New("feature does not support this message kind")

// ErrOutOfRange is returned when a scalar value falls outside [0.0,1.0].
var ErrOutOfRange = errors.New("value out of range")

// Feature describes one addressable output feature of a device, as
// materialised from its DeviceFeature configuration, for quantisation
// purposes.
type Feature struct {
	Index        uint32
	ActuatorType string
	StepLow      uint32
	StepHigh     uint32
	Messages     map[string]bool // message kinds this feature supports, e.g. "ScalarCmd"
}

// Supports reports whether this feature accepts messageKind.
func (f Feature) Supports(messageKind string) bool {
	return f.Messages[messageKind]
}

type scalarCacheEntry struct {
	step      uint32
	clockwise bool
	set       bool
}

type linearCacheEntry struct {
	positionStep uint32
	durationMs   uint32
	set          bool
}

// Manager is the Generic Command Manager for one ConnectedDevice. It is
// owned solely by that device's task (spec.md §5); callers must not
// share a Manager across goroutines without external synchronization
// beyond what Manager itself provides, though Manager is safe for
// concurrent use via its internal mutex for the rare case of a
// watchdog-triggered StopAll racing a client command.
type Manager struct {
	mu       sync.Mutex
	features map[uint32]Feature
	handler  protocol.Handler
	hw       protocol.Hardware

	scalarCache map[uint32]*scalarCacheEntry
	linearCache map[uint32]*linearCacheEntry

	messageGap   time.Duration
	lastWriteAt  map[uint32]time.Time
}

// NewManager builds a Generic Command Manager over features, backed by
// handler for translation and hw for the actual hardware writes.
// messageGap is the device's declared MessageGapMs, zero if none.
func NewManager(features []Feature, handler protocol.Handler, hw protocol.Hardware, messageGapMs uint32) *Manager {
	byIndex := make(map[uint32]Feature, len(features))
	for _, f := range features {
		byIndex[f.Index] = f
	}
	return &Manager{
		features:    byIndex,
		handler:     handler,
		hw:          hw,
		scalarCache: map[uint32]*scalarCacheEntry{},
		linearCache: map[uint32]*linearCacheEntry{},
		messageGap:  time.Duration(messageGapMs) * time.Millisecond,
		lastWriteAt: map[uint32]time.Time{},
	}
}

// quantiseStep implements spec.md §4.7 item 3: step = ceil(value*(hi-lo))
// + lo when value > 0, else lo. Ceiling, not rounding, is mandatory.
func quantiseStep(value float64, lo, hi uint32) uint32 {
	if value <= 0 {
		return lo
	}
	span := float64(hi - lo)
	return uint32(math.Ceil(value*span)) + lo
}

// ScalarCommand is one (FeatureIndex, Scalar, ActuatorType) entry of an
// inbound ScalarCmd, or (FeatureIndex, Scalar=Speed, Clockwise) entry of
// an inbound RotateCmd.
type ScalarCommand struct {
	FeatureIndex uint32
	Scalar       float64
	ActuatorType string
	Clockwise    bool
}

// ApplyScalar validates, quantises, dedups, and (if not dropped) writes
// each entry of cmds. kind is "ScalarCmd" or "RotateCmd" depending on
// which message this came from, used for both feature-support checks
// and the protocol.Command.Kind passed to the handler. For RotateCmd,
// Clockwise is part of the dedup key alongside the quantised step: a
// resend at the same speed but the opposite direction is not a
// duplicate.
func (m *Manager) ApplyScalar(cmds []ScalarCommand, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	protoKind := "Scalar"
	if kind == "RotateCmd" {
		protoKind = "Rotate"
	}

	for _, c := range cmds {
		f, ok := m.features[c.FeatureIndex]
		if !ok {
			return errors.Wrapf(ErrFeatureIndex, "index %d", c.FeatureIndex)
		}
		if !f.Supports(kind) {
			return errors.Wrapf(ErrUnsupported, "feature %d, kind %s", c.FeatureIndex, kind)
		}
		if c.Scalar < 0.0 || c.Scalar > 1.0 {
			return errors.Wrapf(ErrOutOfRange, "feature %d scalar %f", c.FeatureIndex, c.Scalar)
		}
		step := quantiseStep(c.Scalar, f.StepLow, f.StepHigh)

		cache := m.scalarCache[c.FeatureIndex]
		if cache == nil {
			cache = &scalarCacheEntry{}
			m.scalarCache[c.FeatureIndex] = cache
		}
		dup := cache.set && cache.step == step && (kind != "RotateCmd" || cache.clockwise == c.Clockwise)
		if dup && m.handler.AllowsDuplicateSuppression() {
			continue
		}
		cache.step = step
		cache.clockwise = c.Clockwise
		cache.set = true

		if m.rateLimited(c.FeatureIndex) {
			cache.set = false
			continue
		}

		if err := m.write(protocol.Command{
			Kind:         protoKind,
			FeatureIndex: c.FeatureIndex,
			ActuatorType: f.ActuatorType,
			Step:         step,
			Clockwise:    c.Clockwise,
		}, c.FeatureIndex); err != nil {
			return err
		}
	}
	return nil
}

// LinearCommand is one (FeatureIndex, Position, DurationMs) entry of an
// inbound LinearCmd.
type LinearCommand struct {
	FeatureIndex uint32
	Position     float64
	DurationMs   uint32
}

// ApplyLinear validates, quantises, dedups (on the full (position,
// duration) pair, spec.md §4.7 item 5), and writes each entry.
func (m *Manager) ApplyLinear(cmds []LinearCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cmds {
		f, ok := m.features[c.FeatureIndex]
		if !ok {
			return errors.Wrapf(ErrFeatureIndex, "index %d", c.FeatureIndex)
		}
		if !f.Supports("LinearCmd") {
			return errors.Wrapf(ErrUnsupported, "feature %d, kind LinearCmd", c.FeatureIndex)
		}
		if c.Position < 0.0 || c.Position > 1.0 {
			return errors.Wrapf(ErrOutOfRange, "feature %d position %f", c.FeatureIndex, c.Position)
		}
		step := quantiseStep(c.Position, f.StepLow, f.StepHigh)

		cache := m.linearCache[c.FeatureIndex]
		if cache == nil {
			cache = &linearCacheEntry{}
			m.linearCache[c.FeatureIndex] = cache
		}
		dup := cache.set && cache.positionStep == step && cache.durationMs == c.DurationMs
		if dup && !m.handler.NeedsFullLinearResend() {
			continue
		}
		cache.positionStep = step
		cache.durationMs = c.DurationMs
		cache.set = true

		if err := m.write(protocol.Command{
			Kind:         "Linear",
			FeatureIndex: c.FeatureIndex,
			ActuatorType: f.ActuatorType,
			PositionStep: step,
			DurationMs:   c.DurationMs,
		}, c.FeatureIndex); err != nil {
			return err
		}
	}
	return nil
}

// StopFeature zeroes one feature's cache and emits whatever the
// protocol defines as stop for it.
func (m *Manager) StopFeature(index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopFeatureLocked(index)
}

func (m *Manager) stopFeatureLocked(index uint32) error {
	f, ok := m.features[index]
	if !ok {
		return errors.Wrapf(ErrFeatureIndex, "index %d", index)
	}
	if c := m.scalarCache[index]; c != nil {
		c.step = 0
		c.set = true
	}
	if c := m.linearCache[index]; c != nil {
		c.positionStep = 0
		c.durationMs = 0
		c.set = true
	}
	return m.write(protocol.Command{Kind: "Stop", FeatureIndex: index, ActuatorType: f.ActuatorType}, index)
}

// StopAllFeatures stops every feature on this device. It does not
// deduplicate against caches — every feature always receives an actual
// stop write, since a stuck device is worse than a redundant one.
func (m *Manager) StopAllFeatures() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for index := range m.features {
		if err := m.stopFeatureLocked(index); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// rateLimited reports whether a write to featureIndex must be coalesced
// away per spec.md §4.7's MessageGapMs rule. The current write is
// dropped before it reaches the wire and is never resent; ApplyScalar
// then marks the feature's cache entry unset, so the next command for
// that feature is written even if it repeats the dropped value.
func (m *Manager) rateLimited(featureIndex uint32) bool {
	if m.messageGap <= 0 {
		return false
	}
	last, ok := m.lastWriteAt[featureIndex]
	return ok && time.Since(last) < m.messageGap
}

func (m *Manager) write(cmd protocol.Command, featureIndex uint32) error {
	writes, err := m.handler.Handle(cmd)
	if err != nil {
		return fmt.Errorf("protocol handler: %w", err)
	}
	for _, w := range writes {
		if err := m.hw.Write(w); err != nil {
			return fmt.Errorf("hardware write: %w", err)
		}
	}
	metrics.CommandsDispatched.WithLabelValues(cmd.Kind).Inc()
	m.lastWriteAt[featureIndex] = time.Now()
	return nil
}
