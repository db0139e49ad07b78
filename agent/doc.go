// Package agent contains the participants of a simulated conversation.
//
// The package focuses on three concerns:
//
//  1. Shared identity + inbox/memory plumbing (BaseAgent)
//  2. Personas describing who a participant is (Persona, built-in roster)
//  3. The model-backed participant that replies in character (ModelAgent)
//
// Execution model:
//   - The world calls Listen to deliver stimuli; they queue in the inbox
//   - Once per step the world calls Act; an agent with an empty inbox stays
//     silent, otherwise it asks its model.Model for one in-character reply
//   - Instructions (system prompts) are templates rendered per turn
//
// Agents are owned by exactly one world. A world is built per request, so an
// agent never serves two conversations at once.
package agent
