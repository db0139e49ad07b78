// Command troupestream serves simulated persona conversations as a
// Server-Sent Events stream on POST /stream_conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/troupestream/internal/app"
	"github.com/hupe1980/troupestream/internal/config"
	"github.com/hupe1980/troupestream/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "troupestream: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("TROUPE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Logging.Service,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	return app.Serve(ctx, ln, cfg, logger)
}
