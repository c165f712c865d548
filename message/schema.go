package message

import "fmt"

// No JSON Schema library appears anywhere in the retrieved example pack
// (the teacher included — it round-trips typed structs and never
// validates), so structural validity is enforced here as plain Go
// functions over the already-parsed struct rather than a schema-string
// interpreter. See DESIGN.md for why this is the one component that
// stays on the standard library.

// ValidateInbound checks a client-originated Message for structural
// validity and version eligibility. A non-nil error is always reported
// to the client as Error{ErrorCode: ErrorMsg}.
func ValidateInbound(m Message, v SpecVersion) error {
	name := m.Name()
	if name == "" {
		return fmt.Errorf("unrecognized message")
	}
	if m.MinVersion() > v {
		return fmt.Errorf("%s is not defined for protocol version %d", name, v)
	}
	if mv := m.MaxVersion(); mv != 0 && mv < v {
		return fmt.Errorf("%s was removed before protocol version %d", name, v)
	}
	switch name {
	case "ScalarCmd":
		for _, s := range m.ScalarCmd.Scalars {
			if s.Scalar < 0 || s.Scalar > 1 {
				return fmt.Errorf("scalar value %v out of range [0.0, 1.0]", s.Scalar)
			}
		}
	case "RotateCmd":
		for _, r := range m.RotateCmd.Rotations {
			if r.Speed < 0 || r.Speed > 1 {
				return fmt.Errorf("rotate speed %v out of range [0.0, 1.0]", r.Speed)
			}
		}
	case "LinearCmd":
		for _, vec := range m.LinearCmd.Vectors {
			if vec.Position < 0 || vec.Position > 1 {
				return fmt.Errorf("linear position %v out of range [0.0, 1.0]", vec.Position)
			}
		}
	case "SingleMotorVibrateCmd":
		if m.SingleMotorVibrateCmd.Speed < 0 || m.SingleMotorVibrateCmd.Speed > 1 {
			return fmt.Errorf("speed %v out of range [0.0, 1.0]", m.SingleMotorVibrateCmd.Speed)
		}
	case "RequestServerInfo":
		if m.RequestServerInfo.ClientName == "" {
			return fmt.Errorf("client name required")
		}
	case "SensorReadCmd":
		if m.SensorReadCmd.SensorType == "" {
			return fmt.Errorf("sensor type required")
		}
	}
	return nil
}

// ValidateOutbound checks a server-originated Message. Failing this is a
// programmer error and must fail loudly in tests (spec.md §4.1), never
// be swallowed in production.
func ValidateOutbound(m Message, v SpecVersion) error {
	name := m.Name()
	if name == "" {
		return fmt.Errorf("attempted to send an empty message")
	}
	if m.MinVersion() > v {
		return fmt.Errorf("programmer error: %s postdates protocol version %d", name, v)
	}
	if mv := m.MaxVersion(); mv != 0 && mv < v {
		return fmt.Errorf("programmer error: %s predates protocol version %d and was not translated down", name, v)
	}
	return nil
}
