package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/lumen/internal/config/loader"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "LUMEN_"

// Config is the complete runtime configuration.
type Config struct {
	Executor ExecutorConfig `toml:"executor"`
	Identity IdentityConfig `toml:"identity"`
	VM       VMConfig       `toml:"vm"`
	Logging  LoggingConfig  `toml:"logging"`
	Console  ConsoleConfig  `toml:"console"`
	Paths    PathsConfig    `toml:"paths"`
}

// ExecutorConfig is reported by identifyexecutor.
type ExecutorConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// IdentityConfig holds identity settings.
type IdentityConfig struct {
	Default int `toml:"default"`
}

// VMConfig holds Lua VM limits.
type VMConfig struct {
	CallStackSize    int      `toml:"call_stack_size"`
	RegistryMaxSize  int      `toml:"registry_max_size"`
	ExecutionTimeout Duration `toml:"execution_timeout"`
	QueueSize        int      `toml:"queue_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConsoleConfig holds console queue settings.
type ConsoleConfig struct {
	Capacity int `toml:"capacity"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	Autoexec  string `toml:"autoexec"`
	Workspace string `toml:"workspace"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Executor: ExecutorConfig{
			Name:    "lumen",
			Version: "0.1.0",
		},
		Identity: IdentityConfig{Default: 2},
		VM: VMConfig{
			CallStackSize:    256,
			RegistryMaxSize:  1024 * 1024,
			ExecutionTimeout: Duration{0},
			QueueSize:        100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Console: ConsoleConfig{Capacity: 1000},
		Paths: PathsConfig{
			Autoexec:  "autoexec",
			Workspace: "workspace",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path is
// empty or missing) and the environment. The result is validated.
func Load(path string) (Config, error) {
	var file loader.Loader
	if path != "" {
		l, err := loader.ForPath(path)
		if err != nil {
			return Config{}, err
		}
		file = l
	}
	return LoadFrom(file, loader.NewEnvLoader(EnvPrefix))
}

// LoadFrom layers the given loaders over the defaults. Nil loaders are
// skipped.
func LoadFrom(layers ...loader.Loader) (Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return Config{}, err
	}

	for _, l := range layers {
		if l == nil {
			continue
		}
		m, err := l.Load()
		if err != nil {
			return Config{}, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// toMap converts c to its nested map form.
func toMap(c Config) (map[string]any, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return m, nil
}

// fromMap decodes a merged settings map.
func fromMap(m map[string]any) (Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return Config{}, fmt.Errorf("encoding settings: %w", err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, &ValidationError{Path: "", Message: err.Error(), Err: ErrTypeMismatch}
	}
	return c, nil
}

// TOML renders c as a TOML document.
func (c Config) TOML() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
