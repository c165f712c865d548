package deviceconfig

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DeviceIdentifier pins a user override to one physical device.
type DeviceIdentifier struct {
	Address    string `yaml:"address" json:"address"`
	Protocol   string `yaml:"protocol" json:"protocol"`
	Identifier string `yaml:"identifier,omitempty" json:"identifier,omitempty"`
}

// FeatureOverride narrows a feature's step range. Widening is rejected at
// apply time (spec.md §4.5: "narrowing is the only legal user
// direction").
type FeatureOverride struct {
	FeatureId uuid.UUID  `json:"feature-id"`
	StepRange *StepRange `yaml:"step-range,omitempty" json:"step-range,omitempty"`
}

type featureOverrideShape struct {
	FeatureId string     `yaml:"feature-id" json:"feature-id"`
	StepRange *StepRange `yaml:"step-range,omitempty" json:"step-range,omitempty"`
}

func (f *FeatureOverride) fromShape(s featureOverrideShape) error {
	id, err := uuid.Parse(s.FeatureId)
	if err != nil {
		return errors.Wrapf(err, "feature-id %q", s.FeatureId)
	}
	f.FeatureId = id
	f.StepRange = s.StepRange
	return nil
}

// UnmarshalYAML decodes a FeatureOverride, parsing feature-id as a UUID.
func (f *FeatureOverride) UnmarshalYAML(value *yaml.Node) error {
	var s featureOverrideShape
	if err := value.Decode(&s); err != nil {
		return err
	}
	return f.fromShape(s)
}

// UnmarshalJSON decodes a FeatureOverride, parsing feature-id as a UUID.
func (f *FeatureOverride) UnmarshalJSON(data []byte) error {
	var s featureOverrideShape
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return f.fromShape(s)
}

// MarshalJSON encodes a FeatureOverride with feature-id as a string.
func (f FeatureOverride) MarshalJSON() ([]byte, error) {
	return json.Marshal(featureOverrideShape{FeatureId: f.FeatureId.String(), StepRange: f.StepRange})
}

// DeviceOverride is one user-config device entry's policy.
type DeviceOverride struct {
	Allow       bool              `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny        bool              `yaml:"deny,omitempty" json:"deny,omitempty"`
	DisplayName string            `yaml:"display-name,omitempty" json:"display-name,omitempty"`
	Index       *uint32           `yaml:"index,omitempty" json:"index,omitempty"`
	Features    []FeatureOverride `yaml:"features,omitempty" json:"features,omitempty"`
}

// UserDeviceOverride pairs an identifier with its override policy.
type UserDeviceOverride struct {
	Identifier DeviceIdentifier `yaml:"identifier" json:"identifier"`
	Config     DeviceOverride   `yaml:"config" json:"config"`
}

// UserConfiguration is spec.md §6's user config file: additional
// specifiers (e.g. user-added websocket/serial devices) plus per-device
// overrides.
type UserConfiguration struct {
	Version      ConfigVersion               `yaml:"version" json:"version"`
	Protocols    map[string]ProtocolConfig   `yaml:"protocols,omitempty" json:"protocols,omitempty"`
	UserConfigs  struct {
		Specifiers map[string]ProtocolConfig `yaml:"specifiers,omitempty" json:"specifiers,omitempty"`
		Devices    []UserDeviceOverride       `yaml:"devices,omitempty" json:"devices,omitempty"`
	} `yaml:"user-configs" json:"user-configs"`
}

// LoadUserConfiguration parses a user config file, sniffing JSON vs YAML
// exactly as Load does.
func LoadUserConfiguration(data []byte) (*UserConfiguration, error) {
	var uc UserConfiguration
	if looksLikeJSON(data) {
		if err := json.Unmarshal(data, &uc); err != nil {
			return nil, errors.Wrap(err, "decoding user configuration as JSON")
		}
	} else {
		if err := yaml.Unmarshal(data, &uc); err != nil {
			return nil, errors.Wrap(err, "decoding user configuration as YAML")
		}
	}
	return &uc, nil
}

// WithUserConfiguration produces a new DeviceConfiguration snapshot that
// overlays uc on top of c: additional protocol specifiers are merged in,
// and per-device overrides are recorded for DeviceManager to apply at
// match/attach time. c is never mutated (spec.md §5 copy-on-write).
func (c *DeviceConfiguration) WithUserConfiguration(uc *UserConfiguration) (*DeviceConfiguration, error) {
	if uc.Version.Major != 0 && uc.Version.Major != c.Version.Major {
		return nil, fmt.Errorf("user configuration major version %d incompatible with base major version %d",
			uc.Version.Major, c.Version.Major)
	}
	merged := make(map[string]ProtocolConfig, len(c.Protocols))
	for k, v := range c.Protocols {
		merged[k] = v
	}
	for name, extra := range uc.Protocols {
		base, ok := merged[name]
		if !ok {
			extra.Name = name
			merged[name] = extra
			continue
		}
		merged[name] = mergeProtocolSpecifiers(base, extra)
	}
	for name, extra := range uc.UserConfigs.Specifiers {
		base, ok := merged[name]
		if !ok {
			extra.Name = name
			merged[name] = extra
			continue
		}
		merged[name] = mergeProtocolSpecifiers(base, extra)
	}
	out := &DeviceConfiguration{Version: c.Version, Protocols: merged, overrides: uc.UserConfigs.Devices}
	out.matcher = BuildMatcher(out)
	return out, nil
}

// mergeProtocolSpecifiers adds any specifiers present on extra but absent
// on base (user config supplements, e.g. an extra websocket name).
func mergeProtocolSpecifiers(base, extra ProtocolConfig) ProtocolConfig {
	if extra.BLE != nil {
		if base.BLE == nil {
			base.BLE = extra.BLE
		} else {
			b := *base.BLE
			b.Names = append(b.Names[:len(b.Names):len(b.Names)], extra.BLE.Names...)
			b.NamePrefixes = append(b.NamePrefixes[:len(b.NamePrefixes):len(b.NamePrefixes)], extra.BLE.NamePrefixes...)
			b.Services = append(b.Services[:len(b.Services):len(b.Services)], extra.BLE.Services...)
			b.ManufacturerData = append(b.ManufacturerData[:len(b.ManufacturerData):len(b.ManufacturerData)], extra.BLE.ManufacturerData...)
			base.BLE = &b
		}
	}
	if extra.Websocket != nil {
		if base.Websocket == nil {
			base.Websocket = extra.Websocket
		} else {
			w := *base.Websocket
			w.Names = append(w.Names[:len(w.Names):len(w.Names)], extra.Websocket.Names...)
			w.NamePrefixes = append(w.NamePrefixes[:len(w.NamePrefixes):len(w.NamePrefixes)], extra.Websocket.NamePrefixes...)
			base.Websocket = &w
		}
	}
	if extra.Serial != nil {
		base.Serial = extra.Serial
	}
	return base
}

// OverrideFor looks up the user-config override, if any, for a physical
// device address+protocol.
func (c *DeviceConfiguration) OverrideFor(address, protocol string) (DeviceOverride, bool) {
	for _, d := range c.overrides {
		if d.Identifier.Address == address && d.Identifier.Protocol == protocol {
			return d.Config, true
		}
	}
	return DeviceOverride{}, false
}

// ApplyFeatureOverrides narrows a DeviceDefinition's feature step ranges
// per a DeviceOverride. Any override step range that would widen a
// feature (lower the low bound or raise the high bound) is rejected and
// ignored rather than silently applied, since spec.md §4.5 makes
// narrowing the only legal user direction.
func ApplyFeatureOverrides(def DeviceDefinition, ov DeviceOverride) DeviceDefinition {
	if ov.DisplayName != "" {
		def.UserDisplayName = ov.DisplayName
	}
	def.Allow = ov.Allow
	def.Deny = ov.Deny
	if len(ov.Features) == 0 {
		return def
	}
	byID := make(map[uuid.UUID]FeatureOverride, len(ov.Features))
	for _, fo := range ov.Features {
		byID[fo.FeatureId] = fo
	}
	features := make([]DeviceFeature, len(def.Features))
	copy(features, def.Features)
	for i, f := range features {
		fo, ok := byID[f.FeatureId]
		if !ok || fo.StepRange == nil || f.Output == nil {
			continue
		}
		if fo.StepRange.Low < f.Output.StepRange.Low || fo.StepRange.High > f.Output.StepRange.High {
			continue // would widen; reject
		}
		narrowed := *f.Output
		narrowed.StepRange = *fo.StepRange
		features[i].Output = &narrowed
	}
	def.Features = features
	return def
}
