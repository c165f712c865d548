package server

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/buttplugio/buttplug-sub000/command"
	"github.com/buttplugio/buttplug-sub000/message"
)

// ErrDeviceNotFound is returned when a command addresses a DeviceIndex
// with no connected device. spec.md §7 places "unknown device index"
// under the Msg category, not Device, since it is a malformed reference
// rather than a live device misbehaving; see errorCodeFor.
var ErrDeviceNotFound = errors.New("device not found")

// ErrRawNotAllowed is returned when a client sends a Raw* message while
// the server was started without AllowRaw (spec.md §6).
var ErrRawNotAllowed = errors.New("raw device messages are not permitted on this server")

// ErrAlreadyInitialized is returned for a second RequestServerInfo on
// the same session.
var ErrAlreadyInitialized = errors.New("session has already completed its handshake")

// ErrNotInitialized is returned for any message received before
// RequestServerInfo completes the handshake.
var ErrNotInitialized = errors.New("session has not completed its handshake")

// errorCodeFor maps a dispatch error to the wire ErrorCode taxonomy
// (spec.md §7): init-sequence violations report ERROR_INIT; a device
// that rejected a well-formed command (unsupported message, hardware
// write failure, feature index/range) reports ERROR_DEVICE; everything
// else, including an unknown DeviceIndex, reports ERROR_MSG.
func errorCodeFor(err error) message.ErrorCode {
	switch {
	case err == nil:
		return message.ErrorUnknown
	case stderrors.Is(err, ErrNotInitialized), stderrors.Is(err, ErrAlreadyInitialized):
		return message.ErrorInit
	case stderrors.Is(err, ErrDeviceNotFound):
		return message.ErrorMsg
	case stderrors.Is(err, command.ErrFeatureIndex),
		stderrors.Is(err, command.ErrUnsupported),
		stderrors.Is(err, command.ErrOutOfRange),
		stderrors.Is(err, ErrRawNotAllowed):
		return message.ErrorDevice
	default:
		return message.ErrorMsg
	}
}
