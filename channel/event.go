package channel

import "github.com/hupe1980/troupestream/core"

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// KindData carries a produced message.
	KindData EventKind = iota
	// KindError reports a failed run.
	KindError
	// KindEnd is the terminal sentinel.
	KindEnd
)

// String returns the lower case name of the kind.
func (k EventKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one item travelling through a Channel.
type Event struct {
	Kind    EventKind
	Message core.Message // set for KindData
	Err     error        // set for KindError
}

// Data wraps msg into a data event.
func Data(msg core.Message) Event { return Event{Kind: KindData, Message: msg} }

// Failure wraps err into an error event.
func Failure(err error) Event { return Event{Kind: KindError, Err: err} }

// End returns the terminal sentinel.
func End() Event { return Event{Kind: KindEnd} }

// IsEnd reports whether e is the terminal sentinel.
func (e Event) IsEnd() bool { return e.Kind == KindEnd }
