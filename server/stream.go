package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/troupestream/channel"
	"github.com/hupe1980/troupestream/internal/metrics"
	"github.com/hupe1980/troupestream/logging"
	"github.com/hupe1980/troupestream/runner"
)

// maxBodyBytes bounds the request body.
const maxBodyBytes = 1 << 20

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// Stream outcomes.
const (
	outcomeCompleted  = "completed"
	outcomeDisconnect = "client_disconnect"
	outcomeWriteError = "write_error"
)

// StreamRequest is the body of POST /stream_conversation.
type StreamRequest struct {
	Prompt      *string `json:"prompt"`
	Steps       *int    `json:"steps,omitempty"`
	Participant string  `json:"participant,omitempty"`
}

func (s *Server) decodeRequest(r *http.Request) (runner.Request, error) {
	var body StreamRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return runner.Request{}, fmt.Errorf("%w: malformed JSON body: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return runner.Request{}, fmt.Errorf("%w: body must contain a single JSON object", ErrBadRequest)
	}

	if body.Prompt == nil || strings.TrimSpace(*body.Prompt) == "" {
		return runner.Request{}, fmt.Errorf("%w: prompt is required", ErrBadRequest)
	}

	steps := s.defaultSteps
	if body.Steps != nil {
		steps = *body.Steps
	}
	if steps < 1 {
		return runner.Request{}, fmt.Errorf("%w: steps must be at least 1", ErrBadRequest)
	}
	if s.maxSteps > 0 && steps > s.maxSteps {
		return runner.Request{}, fmt.Errorf("%w: steps must be at most %d", ErrBadRequest, s.maxSteps)
	}

	if body.Participant != "" && !s.hasParticipant(body.Participant) {
		return runner.Request{}, fmt.Errorf("%w: unknown participant %q", ErrBadRequest, body.Participant)
	}

	return runner.Request{Prompt: *body.Prompt, Steps: steps, Participant: body.Participant}, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	req, err := s.decodeRequest(r)
	if err != nil {
		metrics.IncRejected(metrics.ReasonBadRequest)
		logger.Debug("rejected stream request", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.sem.TryAcquire(1) {
		metrics.IncRejected(metrics.ReasonBusy)
		logger.Warn("rejected stream request", "error", ErrBusy)
		writeError(w, http.StatusServiceUnavailable, ErrBusy)
		return
	}

	sess, err := s.factory()
	if err != nil {
		s.sem.Release(1)
		logger.Error("failed to build session", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to build session"))
		return
	}

	ch := channel.New(s.channelCapacity)

	// Cancelled when this handler returns, which stops the run if the client
	// left before the end.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	metrics.ActiveRuns.Inc()
	runID := s.runner.Start(ctx, sess, req, ch)
	logger = logger.With("run_id", runID)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logger.Debug("response does not support flushing", "error", err)
	}

	outcome := s.relay(ctx, w, rc, ch, logger)
	metrics.IncStream(outcome)
	logger.Debug("stream finished", "outcome", outcome)
}

// relay drains ch into w until End, a failed write or a cancelled context.
func (s *Server) relay(ctx context.Context, w io.Writer, rc *http.ResponseController, ch *channel.Channel, logger logging.Logger) string {
	for {
		ev, err := ch.Pop(ctx)
		if err != nil {
			metrics.ClientDisconnects.Inc()
			return outcomeDisconnect
		}

		switch ev.Kind {
		case channel.KindEnd:
			return outcomeCompleted
		case channel.KindError:
			logger.Warn("conversation failed", "error", ev.Err)
			if !s.emitErrorEvents {
				continue
			}
			if err := writeErrorEvent(w, ev.Err); err != nil {
				return s.writeFailed(err, logger)
			}
		case channel.KindData:
			if err := writeDataEvent(w, ev.Message.Render()); err != nil {
				return s.writeFailed(err, logger)
			}
			metrics.MessagesRelayed.Inc()
		}

		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return s.writeFailed(err, logger)
		}
	}
}

func (s *Server) writeFailed(err error, logger logging.Logger) string {
	metrics.ClientDisconnects.Inc()
	logger.Debug("stream write failed", "error", err)
	return outcomeWriteError
}

// writeDataEvent writes one frame of the form
//
//	data: {"message": <json string>}\n\n
func writeDataEvent(w io.Writer, message string) error {
	encoded, err := encodeJSONString(message)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: {\"message\": %s}\n\n", encoded)
	return err
}

func writeErrorEvent(w io.Writer, runErr error) error {
	encoded, err := encodeJSONString(runErr.Error())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: {\"error\": %s}\n\n", encoded)
	return err
}

// encodeJSONString encodes s as a JSON string without HTML escaping.
func encodeJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
