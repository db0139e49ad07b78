package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "TROUPE_"

type lookupFunc func(key string) (string, bool)

// applyEnv merges TROUPE_* variables into cfg. Environment values have the
// highest precedence.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SERVER_ADDR", &cfg.Server.Addr)
	e.duration("SERVER_READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.int("SERVER_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)

	e.int("STREAM_DEFAULT_STEPS", &cfg.Stream.DefaultSteps)
	e.int("STREAM_MAX_STEPS", &cfg.Stream.MaxSteps)
	e.int("STREAM_MAX_CONCURRENT_RUNS", &cfg.Stream.MaxConcurrentRuns)
	e.int("STREAM_CHANNEL_CAPACITY", &cfg.Stream.ChannelCapacity)
	e.duration("STREAM_RUN_TIMEOUT", &cfg.Stream.RunTimeout)
	e.bool("STREAM_EMIT_ERROR_EVENTS", &cfg.Stream.EmitErrorEvents)

	e.str("SIMULATION_WORLD", &cfg.Simulation.World)
	e.str("SIMULATION_DESIGNATED", &cfg.Simulation.Designated)
	e.duration("SIMULATION_STEP_TIMEOUT", &cfg.Simulation.StepTimeout)
	e.int("SIMULATION_MAX_MODEL_CALLS", &cfg.Simulation.MaxModelCalls)

	e.str("MODEL_PROVIDER", &cfg.Model.Provider)
	e.str("MODEL_NAME", &cfg.Model.Name)
	e.float("MODEL_TEMPERATURE", &cfg.Model.Temperature)
	e.int64("MODEL_MAX_TOKENS", &cfg.Model.MaxTokens)
	e.str("MODEL_API_KEY", &cfg.Model.APIKey)
	e.str("MODEL_BASE_URL", &cfg.Model.BaseURL)
	e.bool("MODEL_STREAMING", &cfg.Model.Streaming)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FORMAT", &cfg.Logging.Format)
	e.str("LOG_SERVICE", &cfg.Logging.Service)

	return e.err
}

type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, envPrefix, key, v, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
