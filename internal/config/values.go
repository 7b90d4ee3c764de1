package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ListValues returns the config as a flat key/value map. With mask set,
// secret values are redacted for display.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads a single dot-separated key from the config file. Secret
// values come back masked.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, true)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return val, nil
}

// SetValue writes a single dot-separated key to the config file. The
// value string is coerced to bool or number when it parses as one.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return err
	}
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	flat[key] = coerce(value)

	data, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	updated := &Config{}
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("apply config value: %w", err)
	}
	return Save(path, updated)
}

func coerce(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}

// Save writes the config to disk atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
