package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/troupestream/channel"
	"github.com/hupe1980/troupestream/internal/metrics"
	"github.com/hupe1980/troupestream/logging"
	"github.com/hupe1980/troupestream/runner"
)

// Options configures a Server.
type Options struct {
	// DefaultSteps is used when a request names no step count.
	DefaultSteps int
	// MaxSteps caps the requested step count (0 is unlimited).
	MaxSteps int
	// MaxConcurrentRuns caps runs in flight; further requests get 503.
	MaxConcurrentRuns int64
	// ChannelCapacity is the buffer size of every per request channel.
	ChannelCapacity int
	// RunTimeout bounds a single run (0 disables).
	RunTimeout time.Duration
	// EmitErrorEvents writes failed runs as "event: error" frames.
	EmitErrorEvents bool
	// RateLimitPerMinute limits requests per client IP (0 disables).
	RateLimitPerMinute int
	// Participants lists the names a request may address. Empty skips the check.
	Participants []string
	// Logger receives request and stream logs.
	Logger logging.Logger
}

// Server serves conversation streams. It is safe for concurrent use.
type Server struct {
	factory         runner.SessionFactory
	runner          *runner.Runner
	sem             *semaphore.Weighted
	defaultSteps    int
	maxSteps        int
	channelCapacity int
	emitErrorEvents bool
	rateLimit       int
	participants    []string
	logger          logging.Logger
}

// New creates a Server building one session per request with factory.
func New(factory runner.SessionFactory, optFns ...func(o *Options)) *Server {
	opts := Options{
		DefaultSteps:      runner.DefaultSteps,
		MaxConcurrentRuns: 8,
		ChannelCapacity:   channel.DefaultCapacity,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}

	s := &Server{
		factory:         factory,
		sem:             semaphore.NewWeighted(opts.MaxConcurrentRuns),
		defaultSteps:    opts.DefaultSteps,
		maxSteps:        opts.MaxSteps,
		channelCapacity: opts.ChannelCapacity,
		emitErrorEvents: opts.EmitErrorEvents,
		rateLimit:       opts.RateLimitPerMinute,
		participants:    opts.Participants,
		logger:          logging.OrNoOp(opts.Logger).With("component", "server"),
	}

	s.runner = runner.New(func(o *runner.Options) {
		o.RunTimeout = opts.RunTimeout
		o.Logger = opts.Logger
		o.OnComplete = s.runCompleted
	})

	return s
}

// Handler returns the HTTP handler with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(rateLimit(s.rateLimit))
		}
		r.Post("/stream_conversation", s.handleStream)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	return r
}

// Active returns the number of runs in flight.
func (s *Server) Active() int { return s.runner.Active() }

// Wait blocks until every run finished or ctx is done. On ctx expiry the
// remaining runs are cancelled.
func (s *Server) Wait(ctx context.Context) error {
	if err := s.runner.Wait(ctx); err != nil {
		s.runner.CancelAll()
		return err
	}
	return nil
}

func (s *Server) runCompleted(res runner.Result) {
	s.sem.Release(1)
	metrics.ActiveRuns.Dec()
	metrics.ObserveRun(res.Err, res.Duration)
}

func (s *Server) hasParticipant(name string) bool {
	if len(s.participants) == 0 {
		return true
	}
	for _, p := range s.participants {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

type healthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ActiveRuns: s.Active()})
}
