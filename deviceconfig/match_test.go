package deviceconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *DeviceConfiguration {
	t.Helper()
	cfg, err := Load([]byte(`
version: {major: 2, minor: 0}
protocols:
  exact-proto:
    btle:
      names: ["ExactName"]
    defaults: {name: Exact}
  prefix-proto:
    btle:
      name-prefixes: ["LVS-"]
    defaults: {name: Prefix}
  service-proto:
    btle:
      services: ["0000fff0-0000-1000-8000-00805f9b34fb"]
    defaults: {name: Service}
  mfg-proto:
    btle:
      manufacturer-data:
        - company-id: 1000
          data: [1, 2]
    defaults: {name: Mfg}
  usb-proto:
    usb: {vendor-id: 4660, product-id: 22136}
    defaults: {name: USB}
  hid-proto:
    hid: {vendor-id: 1, product-id: 2}
    defaults: {name: HID}
  serial-proto:
    serial: {port: /dev/ttyUSB0}
    defaults: {name: Serial}
  xinput-proto:
    xinput: {}
    defaults: {name: XInput}
  lovense-svc-proto:
    lovense-service: {}
    defaults: {name: LovenseSvc}
`))
	require.NoError(t, err)
	return cfg
}

func TestMatchExactNameWins(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{Name: "ExactName"})
	require.True(t, ok)
	assert.Equal(t, "exact-proto", m.Protocol)
}

func TestMatchNamePrefix(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{Name: "LVS-Max"})
	require.True(t, ok)
	assert.Equal(t, "prefix-proto", m.Protocol)
}

func TestMatchService(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{
		Name:     "SomeUnknownName",
		Services: []string{"0000FFF0-0000-1000-8000-00805F9B34FB"},
	})
	require.True(t, ok)
	assert.Equal(t, "service-proto", m.Protocol)
}

func TestMatchManufacturerDataPrefix(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{
		Name:             "Unknown",
		ManufacturerData: map[uint16][]byte{1000: {1, 2, 3, 4}},
	})
	require.True(t, ok)
	assert.Equal(t, "mfg-proto", m.Protocol)

	_, ok = cfg.Matcher().Match(AdvertisementData{
		ManufacturerData: map[uint16][]byte{1000: {9, 9}},
	})
	assert.False(t, ok)
}

func TestMatchUSBAndHIDIds(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{USBVendorID: 0x1234, USBProductID: 0x5678})
	require.True(t, ok)
	assert.Equal(t, "usb-proto", m.Protocol)

	m, ok = cfg.Matcher().Match(AdvertisementData{HIDVendorID: 1, HIDProductID: 2})
	require.True(t, ok)
	assert.Equal(t, "hid-proto", m.Protocol)
}

func TestMatchSerialPort(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{SerialPort: "/dev/ttyUSB0"})
	require.True(t, ok)
	assert.Equal(t, "serial-proto", m.Protocol)
}

func TestMatchXInputAndLovenseServiceShortCircuit(t *testing.T) {
	cfg := testConfig(t)
	m, ok := cfg.Matcher().Match(AdvertisementData{IsXInput: true, Name: "ExactName"})
	require.True(t, ok)
	assert.Equal(t, "xinput-proto", m.Protocol)

	m, ok = cfg.Matcher().Match(AdvertisementData{IsLovenseService: true})
	require.True(t, ok)
	assert.Equal(t, "lovense-svc-proto", m.Protocol)
}

func TestMatchNoneFound(t *testing.T) {
	cfg := testConfig(t)
	_, ok := cfg.Matcher().Match(AdvertisementData{Name: "Totally Unknown Device"})
	assert.False(t, ok)
}
