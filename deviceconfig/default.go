package deviceconfig

import (
	_ "embed"

	"github.com/pkg/errors"
)

//go:embed assets/default.yaml
var defaultConfigYAML []byte

// Default loads the Device Configuration DB shipped with this binary,
// covering the representative protocol family implemented in package
// protocol (spec.md §6: "a reasonable built-in configuration ships with
// the server; --device-config-file overrides it").
func Default() (*DeviceConfiguration, error) {
	cfg, err := Load(defaultConfigYAML)
	if err != nil {
		return nil, errors.Wrap(err, "loading built-in device configuration")
	}
	return cfg, nil
}
