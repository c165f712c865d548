package message

import "encoding/json"

// DecodeFrame parses a wire frame (a JSON array of single-key message
// objects) into canonical Messages. Alongside it returns the raw
// per-element bytes, needed by callers to best-effort recover an Id for
// an Error reply when an element's key matches no known message at all
// (see ExtractID).
func DecodeFrame(data []byte) (Messages, []json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	msgs := make(Messages, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &msgs[i]); err != nil {
			return nil, nil, err
		}
	}
	return msgs, raw, nil
}

// EncodeFrame renders Messages as a wire frame. Each Message marshals to
// exactly one single-key object because every other field is a nil,
// omitempty pointer.
func EncodeFrame(msgs Messages) ([]byte, error) {
	if msgs == nil {
		msgs = Messages{}
	}
	return json.Marshal(msgs)
}

// ExtractID is a best-effort id recovery for a raw frame element that
// did not decode into any recognised Message field (an entirely unknown
// message name). Used to echo the client's Id on the resulting
// Error{ErrorMsg} reply, per spec.md §4.1.
func ExtractID(raw json.RawMessage) uint32 {
	var obj map[string]struct {
		Id uint32
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	for _, v := range obj {
		return v.Id
	}
	return 0
}

// EncodeFrameForVersion renders Messages as a wire frame the way a
// session pinned to SpecVersion v expects to see it. Every message is
// encoded in its canonical (V3) shape except DeviceList/DeviceAdded,
// whose DeviceMessages attribute block is rebuilt per-version via
// LegacyDeviceJSON (spec.md §4.1, §8 scenario 6 version downgrade).
func EncodeFrameForVersion(msgs Messages, v SpecVersion) ([]byte, error) {
	if v >= CanonicalVersion {
		return EncodeFrame(msgs)
	}
	if msgs == nil {
		msgs = Messages{}
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.DeviceList != nil:
			b, err := deviceListJSONForVersion(v, *m.DeviceList)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		case m.DeviceAdded != nil:
			devBytes, err := LegacyDeviceJSON(v, *m.DeviceAdded)
			if err != nil {
				return nil, err
			}
			wrapped, err := json.Marshal(map[string]json.RawMessage{"DeviceAdded": devBytes})
			if err != nil {
				return nil, err
			}
			out = append(out, wrapped)
		default:
			b, err := json.Marshal(m)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return json.Marshal(out)
}

func deviceListJSONForVersion(v SpecVersion, dl DeviceList) ([]byte, error) {
	devices := make([]json.RawMessage, 0, len(dl.Devices))
	for _, d := range dl.Devices {
		b, err := LegacyDeviceJSON(v, d)
		if err != nil {
			return nil, err
		}
		devices = append(devices, b)
	}
	body, err := json.Marshal(struct {
		Id      uint32 `json:"Id,omitempty"`
		Devices []json.RawMessage
	}{Id: dl.Id, Devices: devices})
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{"DeviceList": body})
}

// SplitFrames batches Messages into one or more frames so that no
// encoded frame exceeds maxBytes. A single message larger than maxBytes
// is still emitted alone (the limit cannot be honoured, but the
// transport is left to fail loudly rather than silently truncate).
// maxBytes <= 0 disables splitting.
func SplitFrames(msgs Messages, maxBytes int) []Messages {
	if maxBytes <= 0 || len(msgs) <= 1 {
		if len(msgs) == 0 {
			return nil
		}
		return []Messages{msgs}
	}
	var batches []Messages
	cur := Messages{}
	curSize := 2 // "[]"
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		size := len(b) + 1
		if len(cur) > 0 && curSize+size > maxBytes {
			batches = append(batches, cur)
			cur = Messages{}
			curSize = 2
		}
		cur = append(cur, m)
		curSize += size
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
