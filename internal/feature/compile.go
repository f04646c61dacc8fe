package feature

import (
	"errors"
	"fmt"

	"github.com/mahesararslan/merge-communication-server/pkg/config"
)

// Compile applies the features section of the configuration to the catalog
// and returns the enabled descriptors sorted by name. Every feature is
// enabled unless configured otherwise.
func Compile(overrides map[string]config.FeatureConfig) ([]Descriptor, error) {
	for name := range overrides {
		if _, err := Lookup(name); err != nil {
			return nil, fmt.Errorf("invalid features configuration: %w", err)
		}
	}

	names := Names()
	enabled := make([]Descriptor, 0, len(names))
	paths := make(map[string]string)
	channels := make(map[string]string)
	for _, name := range names {
		desc, _ := Lookup(name)
		override := overrides[name]
		if override.Enabled != nil && !*override.Enabled {
			continue
		}
		if override.Channel != "" {
			desc.Channel = override.Channel
		}
		if override.Path != "" {
			desc.Path = override.Path
		}

		if other, dup := paths[desc.Path]; dup {
			return nil, fmt.Errorf("features '%s' and '%s' share path '%s'", other, name, desc.Path)
		}
		if other, dup := channels[desc.Channel]; dup {
			return nil, fmt.Errorf("features '%s' and '%s' share bus channel '%s'", other, name, desc.Channel)
		}
		paths[desc.Path] = name
		channels[desc.Channel] = name
		enabled = append(enabled, desc)
	}
	if len(enabled) == 0 {
		return nil, errors.New("no features enabled")
	}
	return enabled, nil
}
