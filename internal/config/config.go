// Package config loads the runtime configuration from a YAML file with
// BEHAVE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/manager"
	"github.com/zeusync/behave/internal/core/observability/log"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BEHAVE_"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Runtime  RuntimeConfig  `yaml:"runtime" envPrefix:"RUNTIME_"`
	Bus      BusConfig      `yaml:"bus" envPrefix:"BUS_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Features FeaturesConfig `yaml:"features" envPrefix:"FEATURES_"`

	// Trees are description files loaded at startup.
	Trees []string `yaml:"trees" env:"TREES" envSeparator:","`
	// Actors are spawned once their trees are loaded.
	Actors []ActorConfig `yaml:"actors" envPrefix:"ACTORS_"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

type RuntimeConfig struct {
	TickRate        time.Duration `yaml:"tick_rate" env:"TICK_RATE"`
	Workers         int           `yaml:"workers" env:"WORKERS"`
	MaxEventCascade int           `yaml:"max_event_cascade" env:"MAX_EVENT_CASCADE"`
	Shards          int           `yaml:"shards" env:"SHARDS"`
	// StateFile, when set, keeps actor blackboards across restarts.
	StateFile string `yaml:"state_file" env:"STATE_FILE"`
}

type BusConfig struct {
	Topic       string `yaml:"topic" env:"TOPIC"`
	StatusTopic string `yaml:"status_topic" env:"STATUS_TOPIC"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
	// Token, when set, is required from websocket clients.
	Token string `yaml:"token" env:"TOKEN"`
}

type FeaturesConfig struct {
	ProfileNodes bool `yaml:"profile_nodes" env:"PROFILE_NODES"`
}

type ActorConfig struct {
	ID   string `yaml:"id" env:"ID"`
	Tree string `yaml:"tree" env:"TREE"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Encoding: "json"},
		Runtime: RuntimeConfig{
			TickRate:        manager.DefaultTickRate,
			MaxEventCascade: bt.DefaultMaxEventCascade,
			Shards:          manager.DefaultShards,
		},
		Bus: BusConfig{
			Topic:       manager.DefaultTopic,
			StatusTopic: manager.DefaultStatusTopic,
		},
		Server:   ServerConfig{Addr: ":8080"},
		Features: FeaturesConfig{ProfileNodes: true},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err = decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err = dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, ok := log.ParseLevel(c.Log.Level); !ok {
		bad("log.level %q", c.Log.Level)
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		bad("log.encoding %q, want json or console", c.Log.Encoding)
	}
	if c.Runtime.TickRate <= 0 {
		bad("runtime.tick_rate must be positive")
	}
	if c.Runtime.Workers < 0 {
		bad("runtime.workers must not be negative")
	}
	if c.Runtime.MaxEventCascade <= 0 {
		bad("runtime.max_event_cascade must be positive")
	}
	if c.Runtime.Shards <= 0 {
		bad("runtime.shards must be positive")
	}
	if c.Bus.Topic == "" || c.Bus.StatusTopic == "" {
		bad("bus topics must be set")
	} else if c.Bus.Topic == c.Bus.StatusTopic {
		bad("bus.topic and bus.status_topic must differ")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		bad("server.addr must be set when the server is enabled")
	}
	seen := make(map[string]bool, len(c.Actors))
	for i, a := range c.Actors {
		if a.ID == "" || a.Tree == "" {
			bad("actors[%d] needs id and tree", i)
			continue
		}
		if seen[a.ID] {
			bad("actor %q listed twice", a.ID)
		}
		seen[a.ID] = true
	}
	return errors.Join(errs...)
}

// LoggerConfig converts the textual log settings; call after Validate.
func (c Config) LoggerConfig() log.Config {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.Config{Level: level, Encoding: c.Log.Encoding}
}

func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		TickRate:        c.Runtime.TickRate,
		Workers:         c.Runtime.Workers,
		MaxEventCascade: c.Runtime.MaxEventCascade,
		Shards:          c.Runtime.Shards,
		Topic:           c.Bus.Topic,
		StatusTopic:     c.Bus.StatusTopic,
	}
}
