// Package logging provides a minimal logging interface and adapters for troupestream.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the world, the runner and the HTTP layer use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - New building a JSON or text slog handler from a Config
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: "debug", Format: "text"})
//	r := runner.New(func(o *runner.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
