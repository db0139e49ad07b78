package core

import "context"

// Agent defines the contract every participant of a simulated conversation
// implements.
//
// The world drives agents in roster order once per step:
//   - Listen delivers a stimulus (a message addressed to the agent or the room)
//   - Act lets the agent react to what it heard since its last turn
//
// Act may return zero messages (the agent stays silent this step). Returned
// messages must carry the agent's name as Source. Implementations must respect
// context cancellation; Listen must not block.
type Agent interface {
	Name() string
	Listen(msg Message)
	Act(ctx context.Context, turn Turn) ([]Message, error)
}

// Turn carries per step information handed to an agent when it acts.
type Turn struct {
	Step    int           // 1-based step number
	Steps   int           // total number of steps in this run
	World   string        // name of the world the agent lives in
	Peers   []string      // names of the other participants
	Limiter *ModelLimiter // shared per run model call budget (may be nil)
}

// AgentInfo carries identifying details about an agent for logs and listings.
type AgentInfo struct{ Name, Occupation string }
