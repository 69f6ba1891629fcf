package phxclient

// Event is the event tag carried by every envelope. The protocol reserves a
// handful of phx_ prefixed names; any other value is an application event.
type Event string

// Protocol events
const (
	EventJoin      Event = "phx_join"
	EventLeave     Event = "phx_leave"
	EventHeartbeat Event = "heartbeat"
	EventReply     Event = "phx_reply"
	EventError     Event = "phx_error"
)

// EventKind classifies an Event
type EventKind int

const (
	KindCustom EventKind = iota
	KindJoin
	KindLeave
	KindHeartbeat
	KindReply
	KindError
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindHeartbeat:
		return "heartbeat"
	case KindReply:
		return "reply"
	case KindError:
		return "error"
	default:
		return "custom"
	}
}

// Custom builds an application event with the given name.
func Custom(name string) Event {
	return Event(name)
}

// Kind reports which protocol event e is, or KindCustom.
func (e Event) Kind() EventKind {
	switch e {
	case EventJoin:
		return KindJoin
	case EventLeave:
		return KindLeave
	case EventHeartbeat:
		return KindHeartbeat
	case EventReply:
		return KindReply
	case EventError:
		return KindError
	default:
		return KindCustom
	}
}

// IsCustom returns true for application events
func (e Event) IsCustom() bool {
	return e.Kind() == KindCustom
}

func (e Event) String() string {
	return string(e)
}
