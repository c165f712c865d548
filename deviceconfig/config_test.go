package deviceconfig

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version:
  major: 2
  minor: 0
protocols:
  lovense:
    btle:
      names: ["LVS-Max"]
      name-prefixes: ["LVS-"]
      services: ["0000fff0-0000-1000-8000-00805f9b34fb"]
    defaults:
      name: Lovense Device
      features:
        - feature-id: "` + "00000000-0000-0000-0000-000000000001" + `"
          feature-type: Vibrate
          output:
            step-range: {low: 0, high: 20}
            messages: ["ScalarCmd"]
    configurations:
      LVS-Max:
        name: Lovense Max
`

func TestLoadRejectsMajorVersionMismatch(t *testing.T) {
	data := []byte(`{"version":{"major":99,"minor":0},"protocols":{}}`)
	_, err := Load(data)
	require.Error(t, err)
}

func TestLoadAcceptsJSONAndYAML(t *testing.T) {
	cfgYAML, err := Load([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfgYAML.Version.Major)

	cfgJSON, err := Load([]byte(`{"version":{"major":2,"minor":0},"protocols":{}}`))
	require.NoError(t, err)
	assert.Empty(t, cfgJSON.Protocols)
}

func TestDefinitionForMergesDefaultsAndOverride(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)

	def, err := cfg.DefinitionFor("lovense", "LVS-Max")
	require.NoError(t, err)
	assert.Equal(t, "Lovense Max", def.Name)
	assert.Len(t, def.Features, 1)
	assert.Equal(t, Vibrate, def.Features[0].FeatureType)

	def2, err := cfg.DefinitionFor("lovense", "unknown-identifier")
	require.NoError(t, err)
	assert.Equal(t, "Lovense Device", def2.Name)
}

func TestDefinitionForUnknownProtocol(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)
	_, err = cfg.DefinitionFor("nonexistent", "")
	assert.Error(t, err)
}

func TestFeatureValidateRejectsBadRanges(t *testing.T) {
	f := DeviceFeature{
		FeatureId:   uuid.New(),
		FeatureType: Vibrate,
		Output:      &FeatureOutput{StepRange: StepRange{Low: 5, High: 5}},
	}
	assert.Error(t, f.Validate())

	f.Output.StepRange = StepRange{Low: 5, High: 2}
	assert.Error(t, f.Validate())

	f.Output = nil
	f.Input = nil
	assert.Error(t, f.Validate())
}

func TestWithUserConfigurationMergesSpecifiersAndOverrides(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)

	userCfg := []byte(`
version:
  major: 2
  minor: 0
user-configs:
  specifiers:
    lovense:
      btle:
        names: ["LVS-Custom"]
  devices:
    - identifier:
        address: "AA:BB:CC:DD:EE:FF"
        protocol: lovense
      config:
        display-name: "My Toy"
        allow: true
`)
	uc, err := LoadUserConfiguration(userCfg)
	require.NoError(t, err)

	merged, err := cfg.WithUserConfiguration(uc)
	require.NoError(t, err)

	ad := AdvertisementData{Name: "LVS-Custom"}
	match, ok := merged.Matcher().Match(ad)
	require.True(t, ok)
	assert.Equal(t, "lovense", match.Protocol)

	ov, ok := merged.OverrideFor("AA:BB:CC:DD:EE:FF", "lovense")
	require.True(t, ok)
	assert.Equal(t, "My Toy", ov.DisplayName)
	assert.True(t, ov.Allow)
}

func TestApplyFeatureOverridesRejectsWidening(t *testing.T) {
	fid := uuid.New()
	def := DeviceDefinition{
		Features: []DeviceFeature{
			{
				FeatureId:   fid,
				FeatureType: Vibrate,
				Output:      &FeatureOutput{StepRange: StepRange{Low: 0, High: 20}},
			},
		},
	}

	narrowed := ApplyFeatureOverrides(def, DeviceOverride{
		Features: []FeatureOverride{{FeatureId: fid, StepRange: &StepRange{Low: 0, High: 10}}},
	})
	assert.Equal(t, uint32(10), narrowed.Features[0].Output.StepRange.High)

	widened := ApplyFeatureOverrides(def, DeviceOverride{
		Features: []FeatureOverride{{FeatureId: fid, StepRange: &StepRange{Low: 0, High: 99}}},
	})
	assert.Equal(t, uint32(20), widened.Features[0].Output.StepRange.High)
}
