package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/troupestream/agent"
)

// ErrInvalidConfig classifies every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stream     StreamConfig     `yaml:"stream"`
	Simulation SimulationConfig `yaml:"simulation"`
	Model      ModelConfig      `yaml:"model"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr               string        `yaml:"addr"`
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"` // 0 disables
}

// StreamConfig configures the streaming endpoint.
type StreamConfig struct {
	DefaultSteps      int           `yaml:"default_steps"`
	MaxSteps          int           `yaml:"max_steps"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	ChannelCapacity   int           `yaml:"channel_capacity"`
	RunTimeout        time.Duration `yaml:"run_timeout"` // 0 disables
	EmitErrorEvents   bool          `yaml:"emit_error_events"`
}

// SimulationConfig configures the world every request runs in.
type SimulationConfig struct {
	World              string          `yaml:"world"`
	Participants       []agent.Persona `yaml:"participants"`
	Designated         string          `yaml:"designated"`
	StepTimeout        time.Duration   `yaml:"step_timeout"`
	MaxModelCalls      int             `yaml:"max_model_calls"`
	MaxHistoryMessages int             `yaml:"max_history_messages"`
}

// ModelConfig selects and configures the language model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // mock, openai or anthropic
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Streaming   bool    `yaml:"streaming"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadHeaderTimeout:  10 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			RateLimitPerMinute: 60,
		},
		Stream: StreamConfig{
			DefaultSteps:      4,
			MaxSteps:          20,
			MaxConcurrentRuns: 8,
			ChannelCapacity:   64,
			RunTimeout:        5 * time.Minute,
		},
		Simulation: SimulationConfig{
			World:              "Chat Room",
			StepTimeout:        time.Minute,
			MaxModelCalls:      100,
			MaxHistoryMessages: 20,
		},
		Model: ModelConfig{
			Provider:    "mock",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Service: "troupestream",
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- the config path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeInto(&cfg, data); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg.resolvePersonas()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result without
// consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decodeInto(&cfg, data); err != nil {
		return Config{}, err
	}
	cfg.resolvePersonas()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

// resolvePersonas fills in the default roster and expands name-only entries
// that refer to built-in personas.
func (c *Config) resolvePersonas() {
	if len(c.Simulation.Participants) == 0 {
		c.Simulation.Participants = agent.DefaultRoster()
		return
	}
	for i, p := range c.Simulation.Participants {
		if p.Occupation != "" {
			continue
		}
		if builtin, ok := agent.BuiltinPersona(p.Name); ok {
			c.Simulation.Participants[i] = builtin
		}
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute must not be negative")
	}
	if c.Stream.DefaultSteps < 1 {
		add("stream.default_steps must be at least 1")
	}
	if c.Stream.MaxSteps < c.Stream.DefaultSteps {
		add("stream.max_steps must be at least stream.default_steps")
	}
	if c.Stream.MaxConcurrentRuns < 1 {
		add("stream.max_concurrent_runs must be at least 1")
	}
	if c.Stream.ChannelCapacity < 1 {
		add("stream.channel_capacity must be at least 1")
	}
	if c.Stream.RunTimeout < 0 || c.Simulation.StepTimeout < 0 {
		add("timeouts must not be negative")
	}
	if c.Simulation.MaxModelCalls < 0 {
		add("simulation.max_model_calls must not be negative")
	}

	seen := make(map[string]bool)
	for _, p := range c.Simulation.Participants {
		if err := p.Validate(); err != nil {
			add("simulation.participants: %v", err)
			continue
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			add("simulation.participants: duplicate %q", p.Name)
		}
		seen[key] = true
	}
	if c.Simulation.Designated != "" && !seen[strings.ToLower(c.Simulation.Designated)] {
		add("simulation.designated %q is not a participant", c.Simulation.Designated)
	}

	switch c.Model.Provider {
	case "mock", "openai", "anthropic":
	default:
		add("model.provider %q must be one of mock, openai, anthropic", c.Model.Provider)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// HasParticipant reports whether name is a configured participant.
func (c Config) HasParticipant(name string) bool {
	for _, p := range c.Simulation.Participants {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
