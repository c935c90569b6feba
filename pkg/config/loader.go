package config

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures configuration loading.
type LoaderOptions struct {
	// Path is the YAML config file. Empty means defaults only.
	Path string

	// Watch reloads the file on change and invokes OnChange.
	Watch bool

	// OnChange receives each successfully reloaded config.
	OnChange func(*Config) error
}

// Loader loads, env-expands and unmarshals the application config.
type Loader struct {
	options LoaderOptions
	parser  *yaml.YAML
}

func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{options: opts, parser: yaml.Parser()}
}

// Load reads the config file, expands environment references, applies
// defaults and validates. With Watch set it keeps reloading on file change.
func (l *Loader) Load() (*Config, error) {
	if l.options.Path == "" {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, cfg.Validate()
	}

	provider := file.Provider(l.options.Path)
	cfg, err := l.loadFrom(provider)
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		if err := provider.Watch(func(event interface{}, err error) {
			if err != nil {
				slog.Warn("Config watch error", "error", err)
				return
			}
			reloaded, err := l.loadFrom(file.Provider(l.options.Path))
			if err != nil {
				slog.Warn("Config reload failed, keeping previous", "error", err)
				return
			}
			if l.options.OnChange != nil {
				if err := l.options.OnChange(reloaded); err != nil {
					slog.Warn("Config change callback failed", "error", err)
					return
				}
			}
			slog.Info("Configuration reloaded", "path", l.options.Path)
		}); err != nil {
			slog.Warn("Config watching unavailable", "error", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFrom(provider koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Re-load through confmap after env expansion so koanf sees the final
	// values.
	expanded, ok := expandEnvInData(k.Raw()).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected config shape after env expansion")
	}
	k = koanf.New(".")
	if err := k.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return nil, fmt.Errorf("load expanded config: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is the one-shot entry point.
func Load(path string) (*Config, error) {
	return NewLoader(LoaderOptions{Path: path}).Load()
}
