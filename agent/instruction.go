package agent

import (
	"strings"

	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/internal/util"
)

// DefaultInstruction is the system prompt template used by ModelAgent.
const DefaultInstruction = `You are {{.name}}, a {{.age}} year old {{.occupation}}.
Your personality: {{join ", " .traits}}. You are interested in {{join ", " .interests}}.
You are in "{{.world}}" together with {{join ", " .peers}}.
Stay in character. Answer in this format:
THOUGHT: one short private thought about the conversation
TALK: one short chat message (at most three sentences)
To address one person in particular, add a line REACH_OUT: <name> before TALK.
Do not prefix your message with your name.`

// PromptContext is what instructions are rendered from.
type PromptContext struct {
	Persona Persona
	Turn    core.Turn
}

// State flattens the context into template variables.
func (pc PromptContext) State() map[string]any {
	return map[string]any{
		"name":       pc.Persona.Name,
		"age":        pc.Persona.Age,
		"occupation": pc.Persona.Occupation,
		"traits":     pc.Persona.Traits,
		"interests":  pc.Persona.Interests,
		"world":      pc.Turn.World,
		"peers":      pc.Turn.Peers,
		"step":       pc.Turn.Step,
		"steps":      pc.Turn.Steps,
	}
}

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(PromptContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(PromptContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(pc PromptContext) (string, error) { return f(pc) }

// Instruction represents either a static template or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a template string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(PromptContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// Resolve returns the instruction text, rendering the template or invoking the provider.
func (i Instruction) Resolve(pc PromptContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(pc)
	}
	text, err := util.RenderTemplate(i.text, pc.State())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
