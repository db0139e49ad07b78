// Package troupestream provides a high-level façade for running simulated
// persona conversations in-process. Most applications either serve
// conversations over HTTP (see the server package and cmd/troupestream) or use
// this package to:
//  1. Create a Troupe via New() with a model and optional roster overrides
//  2. Start conversations asynchronously (Converse) or synchronously (ConverseSync)
//
// Every conversation runs in its own freshly built chat room and relays its
// messages through a bounded channel, exactly like the HTTP server does.
package troupestream

import (
	"context"
	"time"

	"github.com/hupe1980/troupestream/agent"
	"github.com/hupe1980/troupestream/channel"
	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/logging"
	"github.com/hupe1980/troupestream/model"
	"github.com/hupe1980/troupestream/runner"
	"github.com/hupe1980/troupestream/world"
)

// Options configures the Troupe instance.
type Options struct {
	// World is the name of the chat room.
	World string
	// Personas is the roster; defaults to agent.DefaultRoster().
	Personas []agent.Persona
	// AgentOptions are applied to every participant.
	AgentOptions []func(o *agent.ModelAgentOptions)
	// ChannelCapacity buffers messages between the run and the consumer.
	ChannelCapacity int
	// RunTimeout bounds a whole conversation (0 disables).
	RunTimeout time.Duration
	// StepTimeout bounds a single step (0 disables).
	StepTimeout time.Duration
	// MaxModelCalls caps model calls per conversation (0 is unlimited).
	MaxModelCalls int
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Troupe runs conversations between persona agents backed by one model.
type Troupe struct {
	opts    Options
	llm     model.Model
	runner  *runner.Runner
	factory runner.SessionFactory
}

// New creates a Troupe using llm for every participant.
func New(llm model.Model, optFns ...func(o *Options)) *Troupe {
	opts := Options{
		World:           "Chat Room",
		Personas:        agent.DefaultRoster(),
		ChannelCapacity: channel.DefaultCapacity,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	t := &Troupe{
		opts: opts,
		llm:  llm,
		runner: runner.New(func(o *runner.Options) {
			o.RunTimeout = opts.RunTimeout
			o.Logger = opts.Logger
		}),
	}

	t.factory = func() (runner.Session, error) {
		return world.NewChatRoom(opts.World, opts.Personas, llm, opts.AgentOptions, func(o *world.Options) {
			o.StepTimeout = opts.StepTimeout
			o.MaxModelCalls = opts.MaxModelCalls
			o.Logger = opts.Logger
		})
	}

	return t
}

// Converse starts a conversation and returns its run ID together with a
// message channel and an error channel. Both channels are closed when the
// conversation ends; a failed run sends its error first.
func (t *Troupe) Converse(ctx context.Context, req runner.Request) (string, <-chan core.Message, <-chan error, error) {
	sess, err := t.factory()
	if err != nil {
		return "", nil, nil, err
	}

	ch := channel.New(t.opts.ChannelCapacity)
	runID := t.runner.Start(ctx, sess, req, ch)

	msgCh := make(chan core.Message)
	errCh := make(chan error, 1)

	go pump(ctx, ch, msgCh, errCh)

	return runID, msgCh, errCh, nil
}

// pump moves events from ch to msgCh until End. Only the first error is
// reported; errCh needs a buffer of one.
func pump(ctx context.Context, ch *channel.Channel, msgCh chan<- core.Message, errCh chan<- error) {
	defer close(msgCh)
	defer close(errCh)

	report := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	for {
		ev, err := ch.Pop(ctx)
		if err != nil {
			report(err)
			return
		}
		switch ev.Kind {
		case channel.KindEnd:
			return
		case channel.KindError:
			report(ev.Err)
		case channel.KindData:
			select {
			case msgCh <- ev.Message:
			case <-ctx.Done():
				report(ctx.Err())
				return
			}
		}
	}
}

// ConverseSync is a synchronous helper that drains Converse and returns every
// message in order.
func (t *Troupe) ConverseSync(ctx context.Context, req runner.Request) ([]core.Message, error) {
	_, msgCh, errCh, err := t.Converse(ctx, req)
	if err != nil {
		return nil, err
	}

	var msgs []core.Message
	for m := range msgCh {
		msgs = append(msgs, m)
	}

	return msgs, <-errCh
}

// Cancel stops a running conversation.
func (t *Troupe) Cancel(runID string) error { return t.runner.Cancel(runID) }

// Wait blocks until every conversation finished or ctx is done.
func (t *Troupe) Wait(ctx context.Context) error { return t.runner.Wait(ctx) }
