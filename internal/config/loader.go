package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all platform settings.
const envPrefix = "RXMI"

// newViper builds a pre-configured viper instance: YAML file type, RXMI_ env
// prefix, automatic env binding, and a key replacer mapping "." to "_" so that
// nested keys like "database.host" resolve to "RXMI_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindStructKeys(v, reflect.TypeOf(Config{}), "")
	return v
}

// bindStructKeys walks the mapstructure tags of the config tree and binds each
// leaf key explicitly. Viper's Unmarshal only consults env vars for keys it
// already knows about, so without this LoadFromEnv would silently ignore the
// environment when no config file is present.
func bindStructKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			bindStructKeys(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath, merges RXMI_* environment variable
// overrides, applies platform defaults for unset fields, and validates the
// result. It returns a fully-populated *Config or a descriptive error.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from RXMI_* environment variables with
// no config file required. This is the preferred loading strategy for
// containerised deployments.
//
// Naming convention:
//
//	RXMI_<SECTION>_<FIELD>   e.g.  RXMI_DATABASE_HOST, RXMI_ENGINE_QUALITY_THRESHOLD
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk. It is intended for
// hot-reloading non-critical settings such as log level; callers are
// responsible for applying only the safe subset of changes at runtime.
//
// Watch is non-blocking; the watching goroutine is managed by viper. Changes
// that fail to parse or validate are dropped without invoking onChange.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read so subsequent change events diff against known state.
	// Errors are ignored here; callers should call Load first.
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad wraps Load and panics on any error. Intended for main(), where a
// config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
