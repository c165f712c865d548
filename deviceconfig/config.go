/*
Package deviceconfig implements the Device Configuration DB (spec.md
§4.5): loading a base configuration plus an optional user overlay,
matching discovered hardware to a protocol, and building the
DeviceDefinition for a matched identifier.

Grounded on jduranf-device-sdk-go's internal/config layered-loader shape,
generalized from TOML to the YAML/JSON schema spec.md §6 describes.
*/
package deviceconfig

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FeatureType enumerates the kinds of device feature spec.md §3 names.
type FeatureType string

const (
	Vibrate              FeatureType = "Vibrate"
	Rotate               FeatureType = "Rotate"
	Oscillate            FeatureType = "Oscillate"
	Constrict            FeatureType = "Constrict"
	Inflate              FeatureType = "Inflate"
	PositionWithDuration FeatureType = "PositionWithDuration"
	RotateWithDirection  FeatureType = "RotateWithDirection"
	Battery              FeatureType = "Battery"
	RSSI                 FeatureType = "RSSI"
	Button               FeatureType = "Button"
	Pressure             FeatureType = "Pressure"
)

// StepRange is an inclusive integer actuation range.
type StepRange struct {
	Low  uint32 `yaml:"low" json:"low"`
	High uint32 `yaml:"high" json:"high"`
}

// ValueRange is an inclusive signed sensing range.
type ValueRange struct {
	Low  int `yaml:"low" json:"low"`
	High int `yaml:"high" json:"high"`
}

// FeatureOutput describes the actuation side of a DeviceFeature.
type FeatureOutput struct {
	StepRange StepRange `yaml:"step-range" json:"step-range"`
	Messages  []string  `yaml:"messages" json:"messages"`
}

// FeatureInput describes the sensing side of a DeviceFeature.
type FeatureInput struct {
	ValueRange []ValueRange `yaml:"value-range" json:"value-range"`
	Messages   []string     `yaml:"messages" json:"messages"`
}

// DeviceFeature is spec.md §3's DeviceFeature record.
type DeviceFeature struct {
	FeatureId   uuid.UUID      `json:"feature-id"`
	FeatureType FeatureType    `yaml:"feature-type" json:"feature-type"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Output      *FeatureOutput `yaml:"output,omitempty" json:"output,omitempty"`
	Input       *FeatureInput  `yaml:"input,omitempty" json:"input,omitempty"`
}

// deviceFeatureShape mirrors DeviceFeature but with FeatureId as a
// plain string, since neither encoding/json nor yaml.v3 reliably
// recognise uuid.UUID's encoding.TextUnmarshaler on their own for every
// decode path used here.
type deviceFeatureShape struct {
	FeatureId   string         `yaml:"feature-id" json:"feature-id"`
	FeatureType FeatureType    `yaml:"feature-type" json:"feature-type"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Output      *FeatureOutput `yaml:"output,omitempty" json:"output,omitempty"`
	Input       *FeatureInput  `yaml:"input,omitempty" json:"input,omitempty"`
}

func (f *DeviceFeature) fromShape(s deviceFeatureShape) error {
	id, err := uuid.Parse(s.FeatureId)
	if err != nil {
		return errors.Wrapf(err, "feature-id %q", s.FeatureId)
	}
	f.FeatureId = id
	f.FeatureType = s.FeatureType
	f.Description = s.Description
	f.Output = s.Output
	f.Input = s.Input
	return nil
}

// UnmarshalYAML decodes a DeviceFeature, parsing feature-id as a UUID.
func (f *DeviceFeature) UnmarshalYAML(value *yaml.Node) error {
	var s deviceFeatureShape
	if err := value.Decode(&s); err != nil {
		return err
	}
	return f.fromShape(s)
}

// UnmarshalJSON decodes a DeviceFeature, parsing feature-id as a UUID.
func (f *DeviceFeature) UnmarshalJSON(data []byte) error {
	var s deviceFeatureShape
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return f.fromShape(s)
}

// MarshalJSON encodes a DeviceFeature with feature-id as a string.
func (f DeviceFeature) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceFeatureShape{
		FeatureId:   f.FeatureId.String(),
		FeatureType: f.FeatureType,
		Description: f.Description,
		Output:      f.Output,
		Input:       f.Input,
	})
}

// Validate enforces the invariants named in spec.md §3: a feature has at
// least one of output/input, step_range.lo <= step_range.hi, and the
// usable step count (hi-lo) is at least 1.
func (f DeviceFeature) Validate() error {
	if f.Output == nil && f.Input == nil {
		return fmt.Errorf("feature %s has neither output nor input", f.FeatureId)
	}
	if f.Output != nil {
		if f.Output.StepRange.Low > f.Output.StepRange.High {
			return fmt.Errorf("feature %s: step_range.lo > step_range.hi", f.FeatureId)
		}
		if f.Output.StepRange.High-f.Output.StepRange.Low < 1 {
			return fmt.Errorf("feature %s: step count must be >= 1", f.FeatureId)
		}
	}
	return nil
}

// DeviceDefinition is spec.md §3's DeviceDefinition record.
type DeviceDefinition struct {
	ProtocolName    string          `yaml:"protocol-name,omitempty" json:"protocol-name,omitempty"`
	IdentifierKey   string          `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	Name            string          `yaml:"name" json:"name"`
	Features        []DeviceFeature `yaml:"features" json:"features"`
	MessageGapMs    uint32          `yaml:"message-gap-ms,omitempty" json:"message-gap-ms,omitempty"`
	UserDisplayName string          `yaml:"user-display-name,omitempty" json:"user-display-name,omitempty"`
	Allow           bool            `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny            bool            `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// ManufacturerDataSpecifier matches BLE advertisement manufacturer data:
// CompanyID is mandatory, Data is an optional leading-bytes match.
type ManufacturerDataSpecifier struct {
	CompanyID uint16 `yaml:"company-id" json:"company-id"`
	Data      []byte `yaml:"data,omitempty" json:"data,omitempty"`
}

// BLESpecifier matches Bluetooth LE advertisements.
type BLESpecifier struct {
	Names            []string                    `yaml:"names,omitempty" json:"names,omitempty"`
	NamePrefixes     []string                     `yaml:"name-prefixes,omitempty" json:"name-prefixes,omitempty"`
	Services         []string                     `yaml:"services,omitempty" json:"services,omitempty"`
	ManufacturerData []ManufacturerDataSpecifier  `yaml:"manufacturer-data,omitempty" json:"manufacturer-data,omitempty"`
	Characteristics  map[string]map[string]string `yaml:"characteristics,omitempty" json:"characteristics,omitempty"` // serviceUUID -> endpoint -> characteristicUUID
}

// USBSpecifier matches a USB vendor dongle.
type USBSpecifier struct {
	VendorID  uint16 `yaml:"vendor-id" json:"vendor-id"`
	ProductID uint16 `yaml:"product-id" json:"product-id"`
}

// HIDSpecifier matches a HID device.
type HIDSpecifier struct {
	VendorID  uint16 `yaml:"vendor-id" json:"vendor-id"`
	ProductID uint16 `yaml:"product-id" json:"product-id"`
}

// SerialSpecifier matches a USB-serial port.
type SerialSpecifier struct {
	Port     string `yaml:"port,omitempty" json:"port,omitempty"`
	BaudRate int    `yaml:"baud-rate,omitempty" json:"baud-rate,omitempty"`
}

// WebsocketSpecifier matches an application-level websocket device by
// the name it announces on connect.
type WebsocketSpecifier struct {
	Names        []string `yaml:"names,omitempty" json:"names,omitempty"`
	NamePrefixes []string `yaml:"name-prefixes,omitempty" json:"name-prefixes,omitempty"`
}

// XInputSpecifier marks a protocol as claiming the XInput gamepad slots.
type XInputSpecifier struct{}

// LovenseServiceSpecifier marks a protocol as claiming the local
// lovense-connect HTTP service.
type LovenseServiceSpecifier struct{}

// ProtocolConfig is one protocol's entry in the Device Configuration DB:
// its communication specifiers plus default and per-identifier device
// definitions.
type ProtocolConfig struct {
	Name           string                   `yaml:"-" json:"-"`
	BLE            *BLESpecifier            `yaml:"btle,omitempty" json:"btle,omitempty"`
	USB            *USBSpecifier            `yaml:"usb,omitempty" json:"usb,omitempty"`
	HID            *HIDSpecifier            `yaml:"hid,omitempty" json:"hid,omitempty"`
	Serial         *SerialSpecifier         `yaml:"serial,omitempty" json:"serial,omitempty"`
	Websocket      *WebsocketSpecifier      `yaml:"websocket,omitempty" json:"websocket,omitempty"`
	XInput         *XInputSpecifier         `yaml:"xinput,omitempty" json:"xinput,omitempty"`
	LovenseService *LovenseServiceSpecifier `yaml:"lovense-service,omitempty" json:"lovense-service,omitempty"`
	Defaults       DeviceDefinition         `yaml:"defaults" json:"defaults"`
	Configurations map[string]DeviceDefinition `yaml:"configurations,omitempty" json:"configurations,omitempty"`
}

// ConfigVersion is a (major, minor) pair. Major mismatches refuse to
// load; minor mismatches warn and continue (spec.md §4.5 and §3).
type ConfigVersion struct {
	Major uint32 `yaml:"major" json:"major"`
	Minor uint32 `yaml:"minor" json:"minor"`
}

// SupportedMajorVersion is the only major config version this server
// understands. SupportedMinorVersion is the minor version this server
// was built against; a file declaring a different minor version is
// still loaded (minor versions only add optional fields) but logged,
// per spec.md §4.5/§3.
const SupportedMajorVersion = 2
const SupportedMinorVersion = 0

// DeviceConfiguration is the loaded, immutable (after construction)
// Device Configuration DB. Mutating it (via user overrides) produces a
// new DeviceConfiguration and swaps a pointer; it is never mutated in
// place (spec.md §5).
type DeviceConfiguration struct {
	Version   ConfigVersion
	Protocols map[string]ProtocolConfig

	matcher   *Matcher
	overrides []UserDeviceOverride
}

type fileShape struct {
	Version   ConfigVersion             `yaml:"version" json:"version"`
	Protocols map[string]ProtocolConfig `yaml:"protocols" json:"protocols"`
}

// Load parses a Device Configuration DB file. The format (YAML or JSON)
// is sniffed from the first non-whitespace byte; both decode into the
// same struct since YAML is a superset of JSON for this schema.
func Load(data []byte) (*DeviceConfiguration, error) {
	var fs fileShape
	if looksLikeJSON(data) {
		if err := json.Unmarshal(data, &fs); err != nil {
			return nil, errors.Wrap(err, "decoding device configuration as JSON")
		}
	} else {
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return nil, errors.Wrap(err, "decoding device configuration as YAML")
		}
	}
	if fs.Version.Major != SupportedMajorVersion {
		return nil, fmt.Errorf("device configuration major version %d is incompatible with supported major version %d",
			fs.Version.Major, SupportedMajorVersion)
	}
	if fs.Version.Minor != SupportedMinorVersion {
		logrus.WithFields(logrus.Fields{
			"fileMinor":      fs.Version.Minor,
			"supportedMinor": SupportedMinorVersion,
		}).Warn("device configuration minor version differs from supported version, continuing")
	}
	for name, p := range fs.Protocols {
		p.Name = name
		fs.Protocols[name] = p
		for _, f := range p.Defaults.Features {
			if err := f.Validate(); err != nil {
				return nil, errors.Wrapf(err, "protocol %s defaults", name)
			}
		}
		for id, def := range p.Configurations {
			for _, f := range def.Features {
				if err := f.Validate(); err != nil {
					return nil, errors.Wrapf(err, "protocol %s configuration %s", name, id)
				}
			}
		}
	}
	cfg := &DeviceConfiguration{Version: fs.Version, Protocols: fs.Protocols}
	cfg.matcher = BuildMatcher(cfg)
	return cfg, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// DefinitionFor merges a protocol's defaults with its keyed
// configuration entry (if any) for the given identifier, producing the
// materialised DeviceDefinition for that (ProtocolName, IdentifierKey)
// pair (spec.md §4.5 item 2).
func (c *DeviceConfiguration) DefinitionFor(protocol, identifier string) (DeviceDefinition, error) {
	p, ok := c.Protocols[protocol]
	if !ok {
		return DeviceDefinition{}, fmt.Errorf("unknown protocol %q", protocol)
	}
	def := p.Defaults
	def.ProtocolName = protocol
	if identifier != "" {
		if override, ok := p.Configurations[identifier]; ok {
			def = mergeDefinition(def, override)
		}
	}
	def.ProtocolName = protocol
	def.IdentifierKey = identifier
	return def, nil
}

// mergeDefinition overlays a keyed configuration entry on top of
// defaults: non-zero Name, MessageGapMs and UserDisplayName win, the
// feature list is replaced wholesale if the override provides one, and
// Allow/Deny are always taken from the override.
func mergeDefinition(defaults, override DeviceDefinition) DeviceDefinition {
	merged := defaults
	if override.Name != "" {
		merged.Name = override.Name
	}
	if len(override.Features) > 0 {
		merged.Features = override.Features
	}
	if override.MessageGapMs != 0 {
		merged.MessageGapMs = override.MessageGapMs
	}
	if override.UserDisplayName != "" {
		merged.UserDisplayName = override.UserDisplayName
	}
	merged.Allow = override.Allow
	merged.Deny = override.Deny
	return merged
}

// Matcher returns the DB's prebuilt matcher for hardware managers to
// query against advertisement/enumeration data.
func (c *DeviceConfiguration) Matcher() *Matcher {
	return c.matcher
}
