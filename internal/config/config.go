package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks the environment variables that override file settings.
const EnvPrefix = "PLEXSCANNER_"

type Server struct {
	Addr string `koanf:"addr" validate:"required"`
}

// Host points at the plugin API of the media-management host.
type Host struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Plugin  string        `koanf:"plugin" validate:"required"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

type Paths struct {
	DB string `koanf:"db" validate:"required"`
}

type Logging struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type Scanner struct {
	Enabled          bool          `koanf:"enabled"`
	RefreshPerSecond float64       `koanf:"refresh_per_second" validate:"gte=0"`
	Debounce         time.Duration `koanf:"debounce" validate:"gte=0"`
	HistoryRetention time.Duration `koanf:"history_retention" validate:"gte=0"`
}

type Config struct {
	Server  Server  `koanf:"server"`
	Host    Host    `koanf:"host"`
	Paths   Paths   `koanf:"paths"`
	Logging Logging `koanf:"logging"`
	Scanner Scanner `koanf:"scanner"`
}

func Default() Config {
	return Config{
		Server: Server{Addr: ":3010"},
		Host: Host{
			BaseURL: "http://127.0.0.1:3000",
			Plugin:  "plexscanner",
			Timeout: 15 * time.Second,
		},
		Paths:   Paths{DB: "/data/plexscanner.db"},
		Logging: Logging{Level: "info", Format: "json"},
		Scanner: Scanner{
			Enabled:          true,
			RefreshPerSecond: 2,
			Debounce:         2 * time.Second,
			HistoryRetention: 30 * 24 * time.Hour,
		},
	}
}

// envKeys maps PLEXSCANNER_* suffixes to config paths. Keys hold underscores,
// so a plain "_" to "." replacement would not work.
var envKeys = map[string]string{
	"server_addr":                "server.addr",
	"host_base_url":              "host.base_url",
	"host_plugin":                "host.plugin",
	"host_token":                 "host.token",
	"host_timeout":               "host.timeout",
	"paths_db":                   "paths.db",
	"db_path":                    "paths.db",
	"logging_level":              "logging.level",
	"log_level":                  "logging.level",
	"logging_format":             "logging.format",
	"log_format":                 "logging.format",
	"scanner_enabled":            "scanner.enabled",
	"scanner_refresh_per_second": "scanner.refresh_per_second",
	"scanner_debounce":           "scanner.debounce",
	"scanner_history_retention":  "scanner.history_retention",
}

func envTransform(key string) string {
	return envKeys[strings.ToLower(strings.TrimPrefix(key, EnvPrefix))]
}

// Load layers defaults, the YAML file at path (optional, may be missing) and the
// environment, in that order of precedence.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key, e.g. "host.base_url".
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("koanf")
	})
	return v
}

func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if _, rest, ok := strings.Cut(key, "."); ok {
			key = rest
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", key, fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
