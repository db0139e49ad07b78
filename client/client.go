package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/troupestream/logging"
)

// maxFrameBytes bounds a single SSE line.
const maxFrameBytes = 1 << 20

// APIError is returned when the server rejects a request.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// StreamError is delivered when the server reports a failed run in-band.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "conversation failed: " + e.Message }

// StreamRequest is the body of POST /stream_conversation.
type StreamRequest struct {
	Prompt      string `json:"prompt"`
	Steps       int    `json:"steps,omitempty"`
	Participant string `json:"participant,omitempty"`
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client talks to one troupestream server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     logging.OrNoOp(opts.Logger),
	}
}

// Stream starts a conversation and delivers every message on the first
// channel. Both channels are closed when the stream ends; at most one error is
// sent. Cancelling ctx aborts the stream.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (<-chan string, <-chan error) {
	msgCh := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(msgCh)
		defer close(errCh)

		if err := c.stream(ctx, req, msgCh); err != nil {
			errCh <- err
		}
	}()

	return msgCh, errCh
}

func (c *Client) stream(ctx context.Context, req StreamRequest, msgCh chan<- string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stream_conversation", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post stream_conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	c.logger.Debug("stream opened", "run_id", resp.Header.Get("X-Run-ID"))

	return readEvents(ctx, resp.Body, func(event, data string) error {
		switch event {
		case "error":
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("decode error event: %w", err)
			}
			return &StreamError{Message: payload.Error}
		case "", "message":
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			select {
			case msgCh <- payload.Message:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.logger.Debug("ignoring event", "event", event)
			return nil
		}
	})
}

// readEvents parses a Server-Sent Events body and calls dispatch once per
// event carrying data.
func readEvents(ctx context.Context, r io.Reader, dispatch func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)

	var (
		event string
		data  []string
	)
	flush := func() error {
		defer func() { event, data = "", nil }()
		if len(data) == 0 {
			return nil
		}
		return dispatch(event, strings.Join(data, "\n"))
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	// A final event without trailing blank line is still delivered.
	return flush()
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
