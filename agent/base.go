package agent

import (
	"sync"

	"github.com/hupe1980/troupestream/core"
)

// BaseAgent bundles identity plus the inbox and memory every participant
// needs. Embed it in concrete agent implementations and supply an Act method
// to satisfy the core.Agent interface. All exported methods are
// goroutine-safe.
type BaseAgent struct {
	name       string
	occupation string

	mu     sync.Mutex
	inbox  []core.Message // stimuli heard since the last turn
	memory []core.Message // everything heard or said, oldest first
}

// NewBaseAgent constructs a BaseAgent.
func NewBaseAgent(name, occupation string) BaseAgent {
	return BaseAgent{name: name, occupation: occupation}
}

// Name returns the participant name used as message source.
func (b *BaseAgent) Name() string { return b.name }

// Info returns identifying details for listings and logs.
func (b *BaseAgent) Info() core.AgentInfo {
	return core.AgentInfo{Name: b.name, Occupation: b.occupation}
}

// Listen queues a stimulus for the next turn. It never blocks.
func (b *BaseAgent) Listen(msg core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox = append(b.inbox, msg)
}

// TakeInbox returns and clears the pending stimuli, moving them to memory.
func (b *BaseAgent) TakeInbox() []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	heard := b.inbox
	b.inbox = nil
	b.memory = append(b.memory, heard...)
	return heard
}

// Remember appends a message the agent produced itself.
func (b *BaseAgent) Remember(msg core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory = append(b.memory, msg)
}

// Memory returns up to limit of the most recent remembered messages (all when
// limit <= 0). The returned slice is a copy.
func (b *BaseAgent) Memory(limit int) []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.memory) > limit {
		start = len(b.memory) - limit
	}
	out := make([]core.Message, len(b.memory)-start)
	copy(out, b.memory[start:])
	return out
}

// Forget clears inbox and memory. World.ResetHistory calls it on every
// participant that has it.
func (b *BaseAgent) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox = nil
	b.memory = nil
}
