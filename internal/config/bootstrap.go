package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnsureConfigFile makes sure the config file exists.
//
// If the file does not exist, it writes the defaults as YAML so the daemon can
// boot and the operator has a file to edit. It never overwrites an existing file.
func EnsureConfigFile(path string) (created bool, err error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	b, err := marshalYAML(Default())
	if err != nil {
		return false, err
	}
	if err := writeAtomic(path, b, 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

func marshalYAML(cfg Config) ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(&cfg, "koanf"), nil); err != nil {
		return nil, err
	}
	// Durations read back from YAML as strings ("15s"), not nanoseconds.
	for key, d := range map[string]fmt.Stringer{
		"host.timeout":              cfg.Host.Timeout,
		"scanner.debounce":          cfg.Scanner.Debounce,
		"scanner.history_retention": cfg.Scanner.HistoryRetention,
	} {
		if err := k.Set(key, d.String()); err != nil {
			return nil, err
		}
	}
	return k.Marshal(yaml.Parser())
}
