package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/troupestream/channel"
	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/logging"
)

// DefaultSteps is the number of steps a request runs when it names none.
const DefaultSteps = 4

// errorEventTimeout bounds how long a failed run waits to hand its error event
// to the consumer.
const errorEventTimeout = time.Second

// ErrSimulationFailure wraps every error that aborted a run.
var ErrSimulationFailure = errors.New("simulation failure")

// Request describes one conversation run.
type Request struct {
	Prompt      string
	Steps       int
	Participant string // empty selects the session's default participant
}

// Session is the simulation a run drives. Implementations need not be safe
// for concurrent runs; the runner expects a session per run.
type Session interface {
	ResetHistory()
	Inject(participant, text string) error
	Subscribe(obs core.Observer) (unsubscribe func())
	Run(ctx context.Context, steps int) error
	DefaultParticipant() string
}

// SessionFactory builds a fresh session for every run.
type SessionFactory func() (Session, error)

// Result describes a finished run.
type Result struct {
	RunID    string
	Err      error
	Duration time.Duration
}

// Options holds configuration overrides passed to New().
type Options struct {
	// RunTimeout bounds the total duration of a run started with Start (0 disables).
	RunTimeout time.Duration
	// OnComplete is invoked from the run goroutine after the channel was closed.
	OnComplete func(res Result)
	// Logger receives run lifecycle logs.
	Logger logging.Logger
}

// Runner starts, tracks and cancels conversation runs. Public methods are
// safe for concurrent use.
type Runner struct {
	runTimeout time.Duration
	onComplete func(res Result)
	logger     logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// New constructs a Runner with optional overrides.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		runTimeout: opts.RunTimeout,
		onComplete: opts.OnComplete,
		logger:     logging.OrNoOp(opts.Logger).With("component", "runner"),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start launches a run on a new goroutine and returns its ID immediately.
// The run context derives from ctx, so cancelling ctx (for example when the
// HTTP client goes away) stops the run between steps. All output, including
// the terminal End, is delivered through ch.
func (r *Runner) Start(ctx context.Context, sess Session, req Request, ch *channel.Channel) string {
	runID := core.NewID()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		start := time.Now()
		err := r.run(runCtx, runID, sess, req, ch)

		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
		cancel()

		if r.onComplete != nil {
			r.onComplete(Result{RunID: runID, Err: err, Duration: time.Since(start)})
		}
	}()

	return runID
}

// Run executes a run synchronously on the calling goroutine. It is the core
// used by Start and always closes ch before returning.
func (r *Runner) Run(ctx context.Context, sess Session, req Request, ch *channel.Channel) error {
	return r.run(ctx, core.NewID(), sess, req, ch)
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// CancelAll cancels every active run.
func (r *Runner) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cancel := range r.activeRuns {
		cancel()
	}
}

// Active returns the number of runs currently in flight.
func (r *Runner) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeRuns)
}

// Wait blocks until every run started so far has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, runID string, sess Session, req Request, ch *channel.Channel) (err error) {
	logger := r.logger.With("run_id", runID)
	start := time.Now()
	fwd := &forwarder{ctx: ctx, ch: ch, logger: logger}

	var unsubscribe func()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", ErrSimulationFailure, rec)
		}

		if unsubscribe != nil {
			unsubscribe()
		}

		switch {
		case err == nil:
			logger.Info("run finished", "messages", fwd.count(), "duration", time.Since(start))
		case errors.Is(err, context.Canceled):
			logger.Debug("run cancelled", "messages", fwd.count(), "duration", time.Since(start))
		default:
			logger.Error("run failed", "error", err, "messages", fwd.count(), "duration", time.Since(start))
			r.pushFailure(ctx, ch, err, logger)
		}

		ch.Close()
	}()

	steps := req.Steps
	if steps == 0 {
		steps = DefaultSteps
	}
	if steps < 1 {
		return fmt.Errorf("%w: steps must be at least 1, got %d", ErrSimulationFailure, steps)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: empty prompt", ErrSimulationFailure)
	}

	participant := req.Participant
	if participant == "" {
		participant = sess.DefaultParticipant()
	}

	logger.Info("run started", "participant", participant, "steps", steps)

	sess.ResetHistory()
	if err := sess.Inject(participant, req.Prompt); err != nil {
		return fmt.Errorf("%w: %w", ErrSimulationFailure, err)
	}

	unsubscribe = sess.Subscribe(fwd)

	if err := sess.Run(ctx, steps); err != nil {
		return fmt.Errorf("%w: %w", ErrSimulationFailure, err)
	}

	return nil
}

// pushFailure hands the error to the consumer ahead of End. It gives up after
// a short while so a vanished consumer cannot hold the run open.
func (r *Runner) pushFailure(ctx context.Context, ch *channel.Channel, err error, logger logging.Logger) {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorEventTimeout)
	defer cancel()

	if perr := ch.Push(pushCtx, channel.Failure(err)); perr != nil {
		logger.Debug("error event not delivered", "error", perr)
	}
}

// forwarder pushes every observed message into the run's channel. After the
// first failed push it stops forwarding.
type forwarder struct {
	ctx    context.Context
	ch     *channel.Channel
	logger logging.Logger

	mu        sync.Mutex
	forwarded int
	err       error
}

func (f *forwarder) Observe(msg core.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return
	}

	if err := f.ch.Push(f.ctx, channel.Data(msg)); err != nil {
		f.err = err
		f.logger.Warn("forwarding stopped", "error", err, "message_id", msg.ID)
		return
	}

	f.forwarded++
}

func (f *forwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwarded
}
