package deviceconfig

import (
	"sort"
	"strings"
)

// AdvertisementData is the transport-agnostic projection of whatever a
// Hardware Manager observed during discovery/enumeration: enough to run
// spec.md §4.4's ordered matching rules regardless of transport.
type AdvertisementData struct {
	Name             string
	Services         []string
	ManufacturerData map[uint16][]byte
	USBVendorID      uint16
	USBProductID     uint16
	HIDVendorID      uint16
	HIDProductID     uint16
	SerialPort       string
	IsXInput         bool
	IsLovenseService bool
	WebsocketName    string
}

// Match is a successful match result: the protocol to instantiate and
// the identifier key (if any) to look up in that protocol's keyed
// configurations.
type Match struct {
	Protocol   string
	Identifier string
}

type prefixEntry struct {
	prefix   string
	protocol string
}

// Matcher answers spec.md §4.4's ordered matching rules using map
// lookups for exact names, services, manufacturer company ids, USB/HID
// ids, serial ports and websocket names, and a linear scan of a
// prefix-sorted slice for BLE and websocket name prefixes.
type Matcher struct {
	exactNames   map[string]string
	namePrefixes []prefixEntry // sorted by prefix
	services     map[string]string
	manufacturer map[uint16][]manufacturerMatch
	usbIDs       map[[2]uint16]string
	hidIDs       map[[2]uint16]string
	serialPorts  map[string]string
	wsNames      map[string]string
	wsPrefixes   []prefixEntry
	xinput       string
	lovenseSvc   string
}

type manufacturerMatch struct {
	data     []byte
	protocol string
}

// BuildMatcher indexes every protocol's specifiers from a
// DeviceConfiguration for fast lookup.
func BuildMatcher(cfg *DeviceConfiguration) *Matcher {
	m := &Matcher{
		exactNames:   map[string]string{},
		services:     map[string]string{},
		manufacturer: map[uint16][]manufacturerMatch{},
		usbIDs:       map[[2]uint16]string{},
		hidIDs:       map[[2]uint16]string{},
		serialPorts:  map[string]string{},
		wsNames:      map[string]string{},
	}
	for name, p := range cfg.Protocols {
		if p.BLE != nil {
			for _, n := range p.BLE.Names {
				m.exactNames[n] = name
			}
			for _, pre := range p.BLE.NamePrefixes {
				m.namePrefixes = append(m.namePrefixes, prefixEntry{pre, name})
			}
			for _, svc := range p.BLE.Services {
				m.services[strings.ToLower(svc)] = name
			}
			for _, md := range p.BLE.ManufacturerData {
				m.manufacturer[md.CompanyID] = append(m.manufacturer[md.CompanyID], manufacturerMatch{md.Data, name})
			}
		}
		if p.USB != nil {
			m.usbIDs[[2]uint16{p.USB.VendorID, p.USB.ProductID}] = name
		}
		if p.HID != nil {
			m.hidIDs[[2]uint16{p.HID.VendorID, p.HID.ProductID}] = name
		}
		if p.Serial != nil && p.Serial.Port != "" {
			m.serialPorts[p.Serial.Port] = name
		}
		if p.Websocket != nil {
			for _, n := range p.Websocket.Names {
				m.wsNames[n] = name
			}
			for _, pre := range p.Websocket.NamePrefixes {
				m.wsPrefixes = append(m.wsPrefixes, prefixEntry{pre, name})
			}
		}
		if p.XInput != nil {
			m.xinput = name
		}
		if p.LovenseService != nil {
			m.lovenseSvc = name
		}
	}
	sort.Slice(m.namePrefixes, func(i, j int) bool { return m.namePrefixes[i].prefix < m.namePrefixes[j].prefix })
	sort.Slice(m.wsPrefixes, func(i, j int) bool { return m.wsPrefixes[i].prefix < m.wsPrefixes[j].prefix })
	return m
}

// Match evaluates the matching rules in this order: XInput marker,
// Lovense-service marker, websocket name then prefix, BLE exact name then
// name prefix, advertised-services intersection, manufacturer data, then
// USB, HID and serial ids. The first rule to produce any match wins.
// Within one rule there is no protocol priority: a prefix rule takes the
// first hit in prefix-sorted order, and a key claimed by two protocols
// resolves to whichever BuildMatcher indexed last.
func (m *Matcher) Match(ad AdvertisementData) (Match, bool) {
	if ad.IsXInput && m.xinput != "" {
		return Match{Protocol: m.xinput, Identifier: ad.Name}, true
	}
	if ad.IsLovenseService && m.lovenseSvc != "" {
		return Match{Protocol: m.lovenseSvc, Identifier: ad.Name}, true
	}
	if ad.WebsocketName != "" {
		if p, ok := m.wsNames[ad.WebsocketName]; ok {
			return Match{Protocol: p, Identifier: ad.WebsocketName}, true
		}
		if p, ok := matchPrefix(m.wsPrefixes, ad.WebsocketName); ok {
			return Match{Protocol: p, Identifier: ad.WebsocketName}, true
		}
	}
	if ad.Name != "" {
		if p, ok := m.exactNames[ad.Name]; ok {
			return Match{Protocol: p, Identifier: ad.Name}, true
		}
		if p, ok := matchPrefix(m.namePrefixes, ad.Name); ok {
			return Match{Protocol: p, Identifier: ad.Name}, true
		}
	}
	for _, svc := range ad.Services {
		if p, ok := m.services[strings.ToLower(svc)]; ok {
			return Match{Protocol: p, Identifier: ad.Name}, true
		}
	}
	for company, data := range ad.ManufacturerData {
		for _, candidate := range m.manufacturer[company] {
			if len(candidate.data) == 0 || hasPrefix(data, candidate.data) {
				return Match{Protocol: candidate.protocol, Identifier: ad.Name}, true
			}
		}
	}
	if p, ok := m.usbIDs[[2]uint16{ad.USBVendorID, ad.USBProductID}]; ok && (ad.USBVendorID != 0 || ad.USBProductID != 0) {
		return Match{Protocol: p, Identifier: ad.Name}, true
	}
	if p, ok := m.hidIDs[[2]uint16{ad.HIDVendorID, ad.HIDProductID}]; ok && (ad.HIDVendorID != 0 || ad.HIDProductID != 0) {
		return Match{Protocol: p, Identifier: ad.Name}, true
	}
	if ad.SerialPort != "" {
		if p, ok := m.serialPorts[ad.SerialPort]; ok {
			return Match{Protocol: p, Identifier: ad.Name}, true
		}
	}
	return Match{}, false
}

// matchPrefix scans a prefix-sorted slice for the first prefix of name.
// Exact-name lookup (the common case) is already O(1) via the map in
// Match; this handles the minority of configurations that key on a name
// prefix instead (e.g. "LVS-" for a Lovense family), and the slice is
// kept sorted so a future trie/binary-search refinement is a drop-in
// replacement for this loop without touching callers.
func matchPrefix(entries []prefixEntry, name string) (string, bool) {
	for _, e := range entries {
		if strings.HasPrefix(name, e.prefix) {
			return e.protocol, true
		}
	}
	return "", false
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if data[i] != b {
			return false
		}
	}
	return true
}
