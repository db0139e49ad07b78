// Command troupe-listen sends a prompt to a troupestream server and prints the
// conversation as it unfolds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/troupestream/client"
	"github.com/hupe1980/troupestream/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "troupe-listen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url         = flag.String("url", "http://localhost:8080", "server base URL")
		prompt      = flag.String("prompt", "", "prompt injected into the conversation (required)")
		steps       = flag.Int("steps", 0, "number of simulation steps (server default when 0)")
		participant = flag.String("participant", "", "participant receiving the prompt")
		kinds       = flag.String("kinds", "", "comma separated kinds to show, e.g. TALK,THOUGHT")
		raw         = flag.Bool("raw", false, "print messages exactly as received")
		verbose     = flag.Bool("v", false, "log debug output to stderr")
	)
	flag.Parse()

	if *prompt == "" {
		flag.Usage()
		return fmt.Errorf("-prompt is required")
	}

	show, err := client.ParseKinds(*kinds)
	if err != nil {
		return err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "text", Output: os.Stderr})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*url, func(o *client.Options) { o.Logger = logger })
	msgs, errs := c.Stream(ctx, client.StreamRequest{
		Prompt:      *prompt,
		Steps:       *steps,
		Participant: *participant,
	})

	dedup := client.NewDeduper()
	for msg := range msgs {
		if *raw {
			fmt.Println(msg)
			continue
		}
		d := client.ParseDialogue(msg)
		if !client.Accept(d, show) || !dedup.First(msg) {
			continue
		}
		fmt.Println(d.String())
	}

	if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
