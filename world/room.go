package world

import (
	"fmt"

	"github.com/hupe1980/troupestream/agent"
	"github.com/hupe1980/troupestream/core"
	"github.com/hupe1980/troupestream/model"
)

// NewChatRoom builds a world of model backed persona agents sharing one model.
func NewChatRoom(name string, personas []agent.Persona, llm model.Model, agentOpts []func(o *agent.ModelAgentOptions), optFns ...func(o *Options)) (*World, error) {
	participants := make([]core.Agent, 0, len(personas))
	for _, p := range personas {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.Name, err)
		}
		participants = append(participants, agent.NewModelAgent(p, llm, agentOpts...))
	}
	return New(name, participants, optFns...)
}
