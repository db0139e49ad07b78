package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/troupestream/agent"
	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/model"
	"github.com/hupe1980/troupestream/runner"
	"github.com/hupe1980/troupestream/world"
)

// stubSession emits fixed messages in the first step, then optionally fails
// or blocks until cancelled.
type stubSession struct {
	messages []string
	fail     error
	block    bool

	mu  sync.Mutex
	obs core.Observer
}

func (s *stubSession) ResetHistory() {}

func (s *stubSession) Inject(_, _ string) error { return nil }

func (s *stubSession) DefaultParticipant() string { return "Lisa" }

func (s *stubSession) Subscribe(o core.Observer) func() {
	s.mu.Lock()
	s.obs = o
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.obs = nil
		s.mu.Unlock()
	}
}

func (s *stubSession) Run(ctx context.Context, _ int) error {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()

	for _, text := range s.messages {
		obs.Observe(core.NewMessage("Lisa", "", core.KindTalk, text))
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fail
}

func stubFactory(newSession func() *stubSession, calls *atomic.Int32) runner.SessionFactory {
	return func() (runner.Session, error) {
		if calls != nil {
			calls.Add(1)
		}
		return newSession(), nil
	}
}

func chatRoomFactory(llm model.Model) runner.SessionFactory {
	return func() (runner.Session, error) {
		return world.NewChatRoom("office", agent.DefaultRoster(), llm, nil)
	}
}

func post(t *testing.T, ctx context.Context, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/stream_conversation", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func frames(t *testing.T, body []byte) []string {
	t.Helper()
	var out []string
	for _, chunk := range strings.SplitAfter(string(body), "\n\n") {
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasSuffix(chunk, "\n\n"), "unterminated frame %q", chunk)
		out = append(out, chunk)
	}
	return out
}

func TestStream_EndToEnd(t *testing.T) {
	s := New(chatRoomFactory(model.NewMockModel("mock")))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := post(t, context.Background(), srv.URL, `{"prompt": "hello", "steps": 2}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.NotEmpty(t, resp.Header.Get("X-Run-ID"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	got := frames(t, body)
	// step 1: Lisa talks to the room (talk, 3 stimuli, done), the others answer her (3 each)
	// step 2: Lisa answers Derek, Derek answers Lisa (3 each)
	require.Len(t, got, 20)

	assert.Equal(t, "data: {\"message\": \"Lisa: [TALK] > Mock response to: USER: hello\"}\n\n", got[0])
	assert.Equal(t, "data: {\"message\": \"Lisa --> Oscar: [CONVERSATION] > Mock response to: USER: hello\"}\n\n", got[1])
	assert.Equal(t, "data: {\"message\": \"Lisa: [DONE]\"}\n\n", got[4])
	for _, f := range got {
		require.True(t, strings.HasPrefix(f, "data: "))
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(f, "data: "))), &payload))
		require.Len(t, payload, 1)
		_, ok := payload["message"].(string)
		assert.True(t, ok)
	}

	assert.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"prompt": `},
		{"missing prompt", `{"steps": 2}`},
		{"blank prompt", `{"prompt": "   "}`},
		{"prompt not a string", `{"prompt": 42}`},
		{"zero steps", `{"prompt": "hi", "steps": 0}`},
		{"negative steps", `{"prompt": "hi", "steps": -3}`},
		{"too many steps", `{"prompt": "hi", "steps": 11}`},
		{"unknown participant", `{"prompt": "hi", "participant": "Nobody"}`},
		{"empty body", ``},
		{"trailing garbage", `{"prompt": "hi"} not json`},
		{"second document", `{"prompt": "hi"}{"prompt": 5}`},
	}

	var calls atomic.Int32
	s := New(stubFactory(func() *stubSession { return &stubSession{} }, &calls), func(o *Options) {
		o.MaxSteps = 10
		o.Participants = []string{"Lisa", "Oscar"}
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, context.Background(), srv.URL, tt.body)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Contains(t, body.Error, ErrBadRequest.Error())
		})
	}

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, s.Active())
}

func TestStream_ParticipantIsCaseInsensitive(t *testing.T) {
	s := New(stubFactory(func() *stubSession { return &stubSession{messages: []string{"hi"}} }, nil), func(o *Options) {
		o.Participants = []string{"Lisa", "Oscar"}
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := post(t, context.Background(), srv.URL, `{"prompt": "hi", "participant": "oscar"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS_PreflightAndNotFound(t *testing.T) {
	s := New(stubFactory(func() *stubSession { return &stubSession{} }, nil))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/stream_conversation", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST", resp.Header.Get("Access-Control-Allow-Methods"))

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/stream_conversation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStream_BusyWhenAtCapacity(t *testing.T) {
	var calls atomic.Int32
	s := New(stubFactory(func() *stubSession { return &stubSession{block: true} }, &calls), func(o *Options) {
		o.MaxConcurrentRuns = 1
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	first := post(t, ctx, srv.URL, `{"prompt": "hi"}`)
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Eventually(t, func() bool { return s.Active() == 1 }, time.Second, 5*time.Millisecond)

	second := post(t, context.Background(), srv.URL, `{"prompt": "hi"}`)
	defer second.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
	assert.Equal(t, "*", second.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	first.Body.Close()
	require.Eventually(t, func() bool { return s.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The slot is free again.
	require.Eventually(t, func() bool {
		resp := post(t, context.Background(), srv.URL, `{"prompt": "hi", "steps": 1}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		// Reading would block on the stub; the status is all we need.
		return true
	}, 2*time.Second, 10*time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer waitCancel()
	_ = s.Wait(waitCtx)
}

func TestStream_ClientDisconnectStopsRun(t *testing.T) {
	s := New(stubFactory(func() *stubSession {
		return &stubSession{messages: []string{"first"}, block: true}
	}, nil))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp := post(t, ctx, srv.URL, `{"prompt": "hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"message\": \"Lisa: [TALK] > first\"}\n", line)

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool { return s.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Wait(context.Background()))
}

func TestStream_SequentialRequestsAreIndependent(t *testing.T) {
	llm := model.NewMockModel("mock")
	s := New(chatRoomFactory(llm))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	read := func(prompt string) string {
		resp := post(t, context.Background(), srv.URL, `{"prompt": "`+prompt+`", "steps": 2}`)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	a := read("apples")
	b := read("bananas")

	assert.Contains(t, a, "apples")
	assert.NotContains(t, a, "bananas")
	assert.Contains(t, b, "bananas")
	assert.NotContains(t, b, "apples")
}

func TestStream_ErrorEvents(t *testing.T) {
	boom := errors.New("model unavailable")
	newSession := func() *stubSession { return &stubSession{messages: []string{"before"}, fail: boom} }

	t.Run("silent by default", func(t *testing.T) {
		srv := httptest.NewServer(New(stubFactory(newSession, nil)).Handler())
		defer srv.Close()

		resp := post(t, context.Background(), srv.URL, `{"prompt": "hi"}`)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, "data: {\"message\": \"Lisa: [TALK] > before\"}\n\n", string(body))
	})

	t.Run("emitted when enabled", func(t *testing.T) {
		srv := httptest.NewServer(New(stubFactory(newSession, nil), func(o *Options) {
			o.EmitErrorEvents = true
		}).Handler())
		defer srv.Close()

		resp := post(t, context.Background(), srv.URL, `{"prompt": "hi"}`)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		got := frames(t, body)
		require.Len(t, got, 2)
		assert.True(t, strings.HasPrefix(got[1], "event: error\ndata: {\"error\": "))
		assert.Contains(t, got[1], "model unavailable")
	})
}

func TestStream_RateLimit(t *testing.T) {
	s := New(stubFactory(func() *stubSession { return &stubSession{} }, nil), func(o *Options) {
		o.RateLimitPerMinute = 1
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	first := post(t, context.Background(), srv.URL, `{}`)
	first.Body.Close()
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)

	second := post(t, context.Background(), srv.URL, `{}`)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestHealthz(t *testing.T) {
	s := New(stubFactory(func() *stubSession { return &stubSession{} }, nil))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "active_runs": 0}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(stubFactory(func() *stubSession { return &stubSession{} }, nil))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "troupe_active_runs")
}

func TestWriteDataEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDataEvent(&buf, "Lisa --> Oscar: [TALK] > <b>\"yes\"</b> & more\nline"))
	assert.Equal(t, "data: {\"message\": \"Lisa --> Oscar: [TALK] > <b>\\\"yes\\\"</b> & more\\nline\"}\n\n", buf.String())
}
