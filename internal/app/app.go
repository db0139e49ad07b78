// Package app wires configuration, model provider, session factory and HTTP
// server into the running troupestream service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/troupestream/agent"
	"github.com/hupe1980/troupestream/internal/config"
	"github.com/hupe1980/troupestream/logging"
	"github.com/hupe1980/troupestream/model"
	"github.com/hupe1980/troupestream/model/anthropic"
	"github.com/hupe1980/troupestream/model/openai"
	"github.com/hupe1980/troupestream/runner"
	"github.com/hupe1980/troupestream/server"
	"github.com/hupe1980/troupestream/world"
)

// NewModel builds the configured language model provider.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		name := cfg.Name
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewSessionFactory returns a factory building a fresh chat room per request.
func NewSessionFactory(cfg config.SimulationConfig, llm model.Model, streaming bool, logger logging.Logger) runner.SessionFactory {
	agentOpts := []func(o *agent.ModelAgentOptions){
		func(o *agent.ModelAgentOptions) {
			o.EnableStreaming = streaming
			if cfg.MaxHistoryMessages > 0 {
				o.MaxHistoryMessages = cfg.MaxHistoryMessages
			}
		},
	}

	return func() (runner.Session, error) {
		return world.NewChatRoom(cfg.World, cfg.Participants, llm, agentOpts, func(o *world.Options) {
			o.Designated = cfg.Designated
			o.StepTimeout = cfg.StepTimeout
			o.MaxModelCalls = cfg.MaxModelCalls
			o.Logger = logger
		})
	}
}

// NewServer builds the streaming server described by cfg.
func NewServer(cfg config.Config, logger logging.Logger) (*server.Server, error) {
	llm, err := NewModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	logger.Info("model configured", "provider", llm.Info().Provider, "model", llm.Info().Name)

	participants := make([]string, len(cfg.Simulation.Participants))
	for i, p := range cfg.Simulation.Participants {
		participants[i] = p.Name
	}

	factory := NewSessionFactory(cfg.Simulation, llm, cfg.Model.Streaming, logger)

	return server.New(factory, func(o *server.Options) {
		o.DefaultSteps = cfg.Stream.DefaultSteps
		o.MaxSteps = cfg.Stream.MaxSteps
		o.MaxConcurrentRuns = int64(cfg.Stream.MaxConcurrentRuns)
		o.ChannelCapacity = cfg.Stream.ChannelCapacity
		o.RunTimeout = cfg.Stream.RunTimeout
		o.EmitErrorEvents = cfg.Stream.EmitErrorEvents
		o.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
		o.Participants = participants
		o.Logger = logger
	}), nil
}

// Serve runs the HTTP server on ln until ctx is cancelled, then shuts down
// gracefully: the listener closes first, then in-flight runs are awaited.
func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger logging.Logger) error {
	srv, err := NewServer(cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "active_runs", srv.Active())

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
		_ = httpServer.Close()
	}
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Warn("runs still active at shutdown", "error", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
