package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Inventory lists the devices registered when the hub starts.
//
//	devices:
//	  - kind: hue_light
//	    name: Living room
//	    delay: 250ms
type Inventory struct {
	Devices []DeviceSpec `yaml:"devices"`
}

type DeviceSpec struct {
	Kind  string   `yaml:"kind"`
	Name  string   `yaml:"name"`
	Delay Duration `yaml:"delay"`
}

// Duration accepts Go duration strings ("250ms", "1s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadInventory reads and validates a YAML inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return ParseInventory(data)
}

func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	for i, d := range inv.Devices {
		if strings.TrimSpace(d.Kind) == "" {
			return nil, fmt.Errorf("inventory device %d: kind is required", i)
		}
		if d.Delay < 0 {
			return nil, fmt.Errorf("inventory device %d: delay must not be negative", i)
		}
	}
	return &inv, nil
}
