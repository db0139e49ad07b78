// Package core provides the foundational domain types and interfaces shared by
// the simulation world, the participants and the streaming bridge:
//
//   - Messages (immutable conversational turns with a speaker, target and kind)
//   - Agents (participants that listen to stimuli and act once per step)
//   - Observers (non-destructive hooks notified for every displayed message)
//   - Content / Parts (role based model input and output)
//   - ModelLimiter (per run cap on model calls)
//
// The package intentionally keeps implementation concerns (worlds, concrete
// agents, transports) out of scope, exposing small interfaces so the runner and
// the HTTP layer can be tested against fakes.
package core
