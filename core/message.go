package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message the way the conversation display renders it.
type Kind string

const (
	// KindConversation is a stimulus delivered from outside the world (e.g. the user prompt).
	KindConversation Kind = "CONVERSATION"
	// KindTalk is an utterance addressed to another participant or the room.
	KindTalk Kind = "TALK"
	// KindThought is an internal reflection; displayed but never delivered.
	KindThought Kind = "THOUGHT"
	// KindReachOut signals a participant trying to contact another one.
	KindReachOut Kind = "REACH_OUT"
	// KindDone marks a participant yielding its turn.
	KindDone Kind = "DONE"
)

// UserSource is the speaker name used for stimuli injected from outside the world.
const UserSource = "USER"

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindTalk, KindThought, KindReachOut, KindDone:
		return true
	default:
		return false
	}
}

// Message is one conversational turn produced inside the world. After it has
// been displayed it must be treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target,omitempty"` // empty addresses the whole room
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and UTC timestamp.
func NewMessage(source, target string, kind Kind, text string) Message {
	return Message{
		ID:        NewID(),
		Source:    source,
		Target:    target,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// Broadcast reports whether the message is addressed to everyone in the room.
func (m Message) Broadcast() bool { return m.Target == "" }

// Render returns the display line for the message, e.g.
//
//	Lisa --> Oscar: [TALK] > hello there
//
// Multi-line text is flattened so one message always renders as one line.
// Messages without text (DONE) end after the kind.
func (m Message) Render() string {
	var b strings.Builder
	b.WriteString(m.Source)
	if m.Target != "" {
		b.WriteString(" --> ")
		b.WriteString(m.Target)
	}
	b.WriteString(": [")
	b.WriteString(string(m.Kind))
	b.WriteString("]")
	if text := strings.Join(strings.Fields(m.Text), " "); text != "" {
		b.WriteString(" > ")
		b.WriteString(text)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (m Message) String() string { return m.Render() }

// NewID returns a random identifier for runs and messages.
func NewID() string { return uuid.NewString() }
