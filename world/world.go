package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/logging"
)

var (
	// ErrUnknownParticipant is returned when a name matches no participant.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrInvalidSteps is returned by Run for a step count below one.
	ErrInvalidSteps = errors.New("steps must be at least 1")
)

type describer interface {
	Info() core.AgentInfo
}

type forgetter interface {
	Forget()
}

// Options configures a World.
type Options struct {
	// Designated is the participant prompts go to when none is named.
	// Defaults to the first participant.
	Designated string
	// StepTimeout bounds a single step (0 disables).
	StepTimeout time.Duration
	// MaxModelCalls caps model calls per run (0 is unlimited).
	MaxModelCalls int
	// Logger receives the default display output.
	Logger logging.Logger
}

// World is a chat room full of participants.
type World struct {
	name         string
	participants []core.Agent
	designated   string
	stepTimeout  time.Duration
	maxCalls     int
	logger       logging.Logger

	mu        sync.RWMutex
	history   []core.Message
	observers map[uint64]core.Observer
	nextObsID uint64
}

// New creates a world. Participant names must be unique (case-insensitive).
func New(name string, participants []core.Agent, optFns ...func(o *Options)) (*World, error) {
	if len(participants) == 0 {
		return nil, errors.New("world needs at least one participant")
	}

	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		key := strings.ToLower(p.Name())
		if seen[key] {
			return nil, fmt.Errorf("duplicate participant %q", p.Name())
		}
		seen[key] = true
	}

	w := &World{
		name:         name,
		participants: participants,
		stepTimeout:  opts.StepTimeout,
		maxCalls:     opts.MaxModelCalls,
		logger:       logging.OrNoOp(opts.Logger).With("component", "world", "world", name),
		observers:    make(map[uint64]core.Observer),
	}

	for _, p := range participants {
		if d, ok := p.(describer); ok {
			info := d.Info()
			w.logger.Debug("participant joined", "participant", info.Name, "occupation", info.Occupation)
		}
	}

	w.designated = participants[0].Name()
	if opts.Designated != "" {
		p, err := w.participant(opts.Designated)
		if err != nil {
			return nil, err
		}
		w.designated = p.Name()
	}

	return w, nil
}

// Name returns the world name.
func (w *World) Name() string { return w.name }

// DefaultParticipant returns the participant prompts are injected into by default.
func (w *World) DefaultParticipant() string { return w.designated }

// Participants returns the roster names in acting order.
func (w *World) Participants() []string {
	names := make([]string, len(w.participants))
	for i, p := range w.participants {
		names[i] = p.Name()
	}
	return names
}

// ResetHistory clears the communication history, including what
// participants heard or said when they are able to forget.
func (w *World) ResetHistory() {
	w.mu.Lock()
	w.history = nil
	w.mu.Unlock()

	for _, p := range w.participants {
		if f, ok := p.(forgetter); ok {
			f.Forget()
		}
	}
}

// History returns a copy of the communication history.
func (w *World) History() []core.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.Message, len(w.history))
	copy(out, w.history)
	return out
}

// Inject delivers text from outside the world to the named participant.
func (w *World) Inject(participant, text string) error {
	p, err := w.participant(participant)
	if err != nil {
		return err
	}
	p.Listen(core.NewMessage(core.UserSource, p.Name(), core.KindConversation, text))
	return nil
}

// Subscribe registers an observer for every displayed message. The returned
// func removes it again; calling it more than once is harmless.
func (w *World) Subscribe(obs core.Observer) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextObsID
	w.nextObsID++
	w.observers[id] = obs
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.observers, id)
			w.mu.Unlock()
		})
	}
}

// Observers returns the number of subscribed observers.
func (w *World) Observers() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.observers)
}

// Run lets every participant act once per step for the given number of
// steps. The context is checked before each step and each participant.
func (w *World) Run(ctx context.Context, steps int) error {
	if steps < 1 {
		return ErrInvalidSteps
	}

	limiter := core.NewModelLimiter(w.maxCalls)
	defer func() {
		w.logger.Debug("run finished", "steps", steps, "model_calls", limiter.Count(), "model_calls_remaining", limiter.Remaining())
	}()

	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.logger.Debug("step started", "step", step, "steps", steps)
		if err := w.step(ctx, core.Turn{Step: step, Steps: steps, World: w.name, Limiter: limiter}); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
	}
	return nil
}

func (w *World) step(ctx context.Context, turn core.Turn) error {
	if w.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.stepTimeout)
		defer cancel()
	}

	for _, p := range w.participants {
		if err := ctx.Err(); err != nil {
			return err
		}
		turn.Peers = w.peersOf(p.Name())
		msgs, err := p.Act(ctx, turn)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Source == "" {
				m.Source = p.Name()
			}
			w.display(m)
			w.deliver(m)
		}
	}
	return nil
}

// display is the default display path: record, log, then notify observers.
func (w *World) display(m core.Message) {
	w.mu.Lock()
	w.history = append(w.history, m)
	observers := make([]core.Observer, 0, len(w.observers))
	for _, obs := range w.observers {
		observers = append(observers, obs)
	}
	w.mu.Unlock()

	w.logger.Info(m.Render(), "source", m.Source, "target", m.Target, "kind", string(m.Kind))

	for _, obs := range observers {
		obs.Observe(m)
	}
}

// deliver routes talk and reach-outs to their target, or to everyone else for
// room messages. Each recipient hears talk as a CONVERSATION stimulus, which is
// displayed like any other message.
func (w *World) deliver(m core.Message) {
	if m.Kind != core.KindTalk && m.Kind != core.KindReachOut {
		return
	}
	for _, p := range w.participants {
		if p.Name() == m.Source {
			continue
		}
		if !m.Broadcast() && !strings.EqualFold(p.Name(), m.Target) {
			continue
		}
		if m.Kind == core.KindReachOut {
			p.Listen(m)
			continue
		}
		stimulus := core.NewMessage(m.Source, p.Name(), core.KindConversation, m.Text)
		w.display(stimulus)
		p.Listen(stimulus)
	}
}

func (w *World) participant(name string) (core.Agent, error) {
	for _, p := range w.participants {
		if strings.EqualFold(p.Name(), name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, name)
}

func (w *World) peersOf(name string) []string {
	peers := make([]string, 0, len(w.participants)-1)
	for _, p := range w.participants {
		if p.Name() != name {
			peers = append(peers, p.Name())
		}
	}
	return peers
}
