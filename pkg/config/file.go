package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads path and decodes it as YAML into target. Keys missing from
// the file leave target's existing values untouched, so target can carry defaults.
func LoadYAML(path string, target interface{}) error {
	return decodeFile(path, "YAML", target, yaml.Unmarshal)
}

// LoadJSON is LoadYAML for JSON files.
func LoadJSON(path string, target interface{}) error {
	return decodeFile(path, "JSON", target, json.Unmarshal)
}

func decodeFile(path, format string, target interface{}, unmarshal func([]byte, interface{}) error) error {
	// #nosec G304 -- the config path comes from the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s config %s: %w", format, path, err)
	}
	if err := unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s config %s: %w", format, path, err)
	}
	return nil
}

// SaveYAML writes config to path as YAML with owner-only permissions.
func SaveYAML(path string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode YAML config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write YAML config %s: %w", path, err)
	}
	return nil
}
