package world

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/troupestream/agent"
	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/logging"
	"github.com/hupe1980/troupestream/model"
)

// scriptedAgent replies to whatever it heard and optionally thinks aloud.
type scriptedAgent struct {
	name    string
	think   bool
	fail    error
	block   bool
	mu      sync.Mutex
	inbox   []core.Message
	heard   []core.Message
	actions int
}

func (a *scriptedAgent) Name() string { return a.name }

func (a *scriptedAgent) Listen(m core.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbox = append(a.inbox, m)
	a.heard = append(a.heard, m)
}

func (a *scriptedAgent) Act(ctx context.Context, _ core.Turn) ([]core.Message, error) {
	a.mu.Lock()
	a.actions++
	inbox := a.inbox
	a.inbox = nil
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.fail != nil {
		return nil, a.fail
	}
	if len(inbox) == 0 {
		return nil, nil
	}

	var out []core.Message
	if a.think {
		out = append(out, core.NewMessage(a.name, "", core.KindThought, "hmm"))
	}
	last := inbox[len(inbox)-1]
	target := last.Source
	if target == core.UserSource {
		target = ""
	}
	out = append(out, core.NewMessage(a.name, target, core.KindTalk, "re: "+last.Text))
	return out, nil
}

func (a *scriptedAgent) heardCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.heard)
}

func collect(w *World) (*[]core.Message, func()) {
	var (
		mu  sync.Mutex
		got []core.Message
	)
	unsub := w.Subscribe(core.ObserverFunc(func(m core.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))
	return &got, unsub
}

func TestNew_Validation(t *testing.T) {
	_, err := New("empty", nil)
	require.Error(t, err)

	_, err = New("dup", []core.Agent{&scriptedAgent{name: "Lisa"}, &scriptedAgent{name: "lisa"}})
	require.Error(t, err)

	_, err = New("room", []core.Agent{&scriptedAgent{name: "Lisa"}}, func(o *Options) { o.Designated = "Nobody" })
	require.ErrorIs(t, err, ErrUnknownParticipant)

	w, err := New("room", []core.Agent{&scriptedAgent{name: "Lisa"}, &scriptedAgent{name: "Oscar"}}, func(o *Options) { o.Designated = "oscar" })
	require.NoError(t, err)
	assert.Equal(t, "Oscar", w.DefaultParticipant())
	assert.Equal(t, []string{"Lisa", "Oscar"}, w.Participants())
	assert.Equal(t, "room", w.Name())
}

func TestRun_DisplaysAndRoutes(t *testing.T) {
	lisa := &scriptedAgent{name: "Lisa", think: true}
	oscar := &scriptedAgent{name: "Oscar"}
	w, err := New("room", []core.Agent{lisa, oscar})
	require.NoError(t, err)

	got, unsub := collect(w)
	defer unsub()

	require.NoError(t, w.Inject("Lisa", "hello"))
	require.NoError(t, w.Run(context.Background(), 2))

	// step 1: Lisa thinks and talks to the room, Oscar hears it and answers Lisa
	// step 2: Lisa thinks and answers Oscar, Oscar answers again
	want := []string{
		"Lisa: [THOUGHT] > hmm",
		"Lisa: [TALK] > re: hello",
		"Lisa --> Oscar: [CONVERSATION] > re: hello",
		"Oscar --> Lisa: [TALK] > re: re: hello",
		"Oscar --> Lisa: [CONVERSATION] > re: re: hello",
		"Lisa: [THOUGHT] > hmm",
		"Lisa --> Oscar: [TALK] > re: re: re: hello",
		"Lisa --> Oscar: [CONVERSATION] > re: re: re: hello",
		"Oscar --> Lisa: [TALK] > re: re: re: re: hello",
		"Oscar --> Lisa: [CONVERSATION] > re: re: re: re: hello",
	}
	rendered := make([]string, len(*got))
	for i, m := range *got {
		rendered[i] = m.Render()
	}
	assert.Equal(t, want, rendered)

	assert.Equal(t, *got, w.History())
	// thoughts are never delivered
	assert.Equal(t, 2, oscar.heardCount())
}

func TestRun_ModelAgentActionsReachObservers(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.AddResponse("USER: hello", "THOUGHT: they want a plan\nREACH_OUT: oscar\nTALK: Oscar, what do you think?")

	w, err := NewChatRoom("office", []agent.Persona{agent.Lisa(), agent.Oscar()}, llm, nil)
	require.NoError(t, err)

	got, unsub := collect(w)
	defer unsub()

	require.NoError(t, w.Inject("Lisa", "hello"))
	require.NoError(t, w.Run(context.Background(), 1))

	kinds := make([]core.Kind, len(*got))
	for i, m := range *got {
		kinds[i] = m.Kind
	}
	assert.Equal(t, []core.Kind{
		core.KindThought,
		core.KindReachOut,
		core.KindTalk,
		core.KindConversation,
		core.KindDone,
		core.KindTalk,
		core.KindConversation,
		core.KindDone,
	}, kinds)

	assert.Equal(t, "Lisa: [THOUGHT] > they want a plan", (*got)[0].Render())
	assert.Equal(t, "Oscar", (*got)[1].Target)
	assert.Equal(t, "Lisa --> Oscar: [TALK] > Oscar, what do you think?", (*got)[2].Render())
	assert.Equal(t, "Lisa --> Oscar: [CONVERSATION] > Oscar, what do you think?", (*got)[3].Render())
	assert.Equal(t, "Lisa: [DONE]", (*got)[4].Render())
	assert.Equal(t, "Oscar --> Lisa: [TALK] > Mock response to: Lisa: Oscar, what do you think?", (*got)[5].Render())
}

func TestRun_InvalidSteps(t *testing.T) {
	w, err := New("room", []core.Agent{&scriptedAgent{name: "Lisa"}})
	require.NoError(t, err)
	require.ErrorIs(t, w.Run(context.Background(), 0), ErrInvalidSteps)
}

func TestInject_UnknownParticipant(t *testing.T) {
	w, err := New("room", []core.Agent{&scriptedAgent{name: "Lisa"}})
	require.NoError(t, err)
	require.ErrorIs(t, w.Inject("Nobody", "hi"), ErrUnknownParticipant)
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	lisa := &scriptedAgent{name: "Lisa"}
	w, err := New("room", []core.Agent{lisa})
	require.NoError(t, err)

	got, unsub := collect(w)
	assert.Equal(t, 1, w.Observers())
	unsub()
	unsub()
	assert.Equal(t, 0, w.Observers())

	require.NoError(t, w.Inject("Lisa", "hi"))
	require.NoError(t, w.Run(context.Background(), 1))
	assert.Empty(t, *got)
	assert.Len(t, w.History(), 1)
}

func TestResetHistory(t *testing.T) {
	lisa := &scriptedAgent{name: "Lisa"}
	w, err := New("room", []core.Agent{lisa})
	require.NoError(t, err)

	require.NoError(t, w.Inject("Lisa", "hi"))
	require.NoError(t, w.Run(context.Background(), 1))
	require.NotEmpty(t, w.History())

	w.ResetHistory()
	assert.Empty(t, w.History())
}

func TestResetHistory_ParticipantsForget(t *testing.T) {
	lisa := agent.NewModelAgent(agent.Lisa(), model.NewMockModel("mock"))
	oscar := agent.NewModelAgent(agent.Oscar(), model.NewMockModel("mock"))
	w, err := New("room", []core.Agent{lisa, oscar})
	require.NoError(t, err)

	require.NoError(t, w.Inject("Lisa", "hi"))
	require.NoError(t, w.Run(context.Background(), 1))
	require.NotEmpty(t, lisa.Memory(0))
	require.NotEmpty(t, oscar.Memory(0))

	require.NoError(t, w.Inject("Oscar", "still pending"))
	w.ResetHistory()

	assert.Empty(t, w.History())
	assert.Empty(t, lisa.Memory(0))
	assert.Empty(t, oscar.TakeInbox())
}

func TestNew_LogsParticipants(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "debug", Format: "text", Output: &buf})
	require.NoError(t, err)

	_, err = NewChatRoom("office", []agent.Persona{agent.Emma()}, model.NewMockModel("mock"), nil,
		func(o *Options) { o.Logger = logger })
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "participant=Emma")
	assert.Contains(t, buf.String(), `occupation="HR manager"`)
}

func TestRun_AgentErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	lisa := &scriptedAgent{name: "Lisa", fail: boom}
	oscar := &scriptedAgent{name: "Oscar"}
	w, err := New("room", []core.Agent{lisa, oscar})
	require.NoError(t, err)

	err = w.Run(context.Background(), 3)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, oscar.actions)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	lisa := &scriptedAgent{name: "Lisa"}
	w, err := New("room", []core.Agent{lisa})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, w.Run(ctx, 3), context.Canceled)
	assert.Equal(t, 0, lisa.actions)
}

func TestRun_StepTimeout(t *testing.T) {
	w, err := New("room", []core.Agent{&scriptedAgent{name: "Lisa", block: true}}, func(o *Options) {
		o.StepTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	start := time.Now()
	err = w.Run(context.Background(), 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewChatRoom_WithMockModel(t *testing.T) {
	llm := model.NewMockModel("mock")
	w, err := NewChatRoom("office", agent.DefaultRoster(), llm, nil, func(o *Options) { o.MaxModelCalls = 100 })
	require.NoError(t, err)

	got, unsub := collect(w)
	defer unsub()

	require.NoError(t, w.Inject(w.DefaultParticipant(), "hello"))
	require.NoError(t, w.Run(context.Background(), 2))

	require.NotEmpty(t, *got)
	assert.Equal(t, "Lisa", (*got)[0].Source)
	assert.Equal(t, core.KindTalk, (*got)[0].Kind)
	assert.Contains(t, (*got)[0].Text, "hello")
}

func TestNewChatRoom_ModelCallLimit(t *testing.T) {
	llm := model.NewMockModel("mock")
	w, err := NewChatRoom("office", agent.DefaultRoster(), llm, nil, func(o *Options) { o.MaxModelCalls = 1 })
	require.NoError(t, err)

	require.NoError(t, w.Inject("Lisa", "hello"))
	require.ErrorIs(t, w.Run(context.Background(), 2), core.ErrModelCallLimit)
}
