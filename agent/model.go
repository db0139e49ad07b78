package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/model"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction        Instruction
	EnableStreaming    bool
	MaxHistoryMessages int
}

// ModelAgent is a persona driven participant that asks a language model for
// one in-character reply whenever it heard something new.
//
// ModelAgent embeds BaseAgent for identity, inbox and memory.
type ModelAgent struct {
	BaseAgent
	persona            Persona
	llm                model.Model
	instruction        Instruction
	enableStreaming    bool
	maxHistoryMessages int
}

// NewModelAgent creates a new model-based participant with sensible defaults:
// the DefaultInstruction template, non-streaming generation and a 20 message
// history window.
func NewModelAgent(persona Persona, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:        NewInstructionFromText(DefaultInstruction),
		MaxHistoryMessages: 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelAgent{
		BaseAgent:          NewBaseAgent(persona.Name, persona.Occupation),
		persona:            persona,
		llm:                llm,
		instruction:        opts.Instruction,
		enableStreaming:    opts.EnableStreaming,
		maxHistoryMessages: opts.MaxHistoryMessages,
	}
}

// Persona returns the persona this agent plays.
func (a *ModelAgent) Persona() Persona { return a.persona }

// Model returns the language model instance.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Act implements core.Agent. It stays silent when nothing new was heard.
// Otherwise the completion is split into actions: an optional THOUGHT, an
// optional REACH_OUT to a peer, the TALK (addressed to the reached out peer,
// the last speaker, or the room when the last stimulus came from outside the
// world) and finally DONE.
func (a *ModelAgent) Act(ctx context.Context, turn core.Turn) ([]core.Message, error) {
	heard := a.TakeInbox()
	if len(heard) == 0 {
		return nil, nil
	}

	if err := turn.Limiter.Increment(); err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.Name(), err)
	}

	instructions, err := a.instruction.Resolve(PromptContext{Persona: a.persona, Turn: turn})
	if err != nil {
		return nil, fmt.Errorf("agent %s: resolve instruction: %w", a.Name(), err)
	}

	resp, err := model.Collect(ctx, a.llm, model.Request{
		Instructions: instructions,
		Contents:     a.contents(),
		Stream:       a.enableStreaming,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: generate: %w", a.Name(), err)
	}

	reply := ParseReply(resp.Content.Text())
	if reply.Thought == "" && reply.Talk == "" {
		return nil, nil
	}

	var out []core.Message
	if reply.Thought != "" {
		out = append(out, core.NewMessage(a.Name(), "", core.KindThought, reply.Thought))
	}

	target := replyTarget(heard)
	if peer, ok := findPeer(turn.Peers, reply.ReachOut); ok {
		out = append(out, core.NewMessage(a.Name(), peer, core.KindReachOut, a.Name()+" would like to talk to you."))
		target = peer
	}

	if reply.Talk != "" {
		msg := core.NewMessage(a.Name(), target, core.KindTalk, reply.Talk)
		a.Remember(msg)
		out = append(out, msg)
	}

	return append(out, core.NewMessage(a.Name(), "", core.KindDone, "")), nil
}

// contents converts the memory window into model contents: own messages as
// assistant turns, everything else as "Speaker: text" user turns.
func (a *ModelAgent) contents() []core.Content {
	memory := a.Memory(a.maxHistoryMessages)
	contents := make([]core.Content, 0, len(memory))
	for _, m := range memory {
		if m.Source == a.Name() {
			contents = append(contents, core.NewTextContent(core.RoleAssistant, m.Text))
			continue
		}
		contents = append(contents, core.NewTextContent(core.RoleUser, m.Source+": "+m.Text))
	}
	return contents
}

func replyTarget(heard []core.Message) string {
	last := heard[len(heard)-1]
	if last.Source == core.UserSource {
		return ""
	}
	return last.Source
}

func findPeer(peers []string, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, p := range peers {
		if strings.EqualFold(p, name) {
			return p, true
		}
	}
	return "", false
}
