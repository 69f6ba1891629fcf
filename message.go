package phxclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message represents one Phoenix channel envelope, inbound or outbound
type Message struct {
	Topic   string          `json:"topic"`
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Ref is empty when the envelope carries no correlation reference.
	Ref string `json:"ref"`
}

// outEnvelope fixes the wire field order and renders an empty ref as null.
type outEnvelope struct {
	Topic   string          `json:"topic"`
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// inEnvelope uses pointers so missing fields can be told apart from empty ones.
type inEnvelope struct {
	Topic   *string         `json:"topic"`
	Event   *string         `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     json.RawMessage `json:"ref"`
}

var emptyPayload = json.RawMessage(`{}`)

// Encode renders an envelope as a JSON text frame. A json.RawMessage payload is
// written verbatim; any other value goes through encoding/json. A nil payload
// becomes an empty object.
func Encode(topic string, event Event, payload any, ref string) ([]byte, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	env := outEnvelope{
		Topic:   topic,
		Event:   event,
		Payload: raw,
	}
	if ref != "" {
		env.Ref = &ref
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Encode renders m as a JSON text frame
func (m Message) Encode() ([]byte, error) {
	return Encode(m.Topic, m.Event, m.Payload, m.Ref)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyPayload, nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Decode parses a received frame. It accepts the object envelope and the
// [join_ref, ref, topic, event, payload] array that vsn 2.0.0 servers send.
// Frames without a topic or event are rejected with a *MessageError.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, decodeError(data, fmt.Errorf("empty message"))
	}

	switch trimmed[0] {
	case '{':
		return decodeObject(data)
	case '[':
		return decodeArray(data)
	default:
		return Message{}, decodeError(data, fmt.Errorf("unexpected frame start %q", trimmed[0]))
	}
}

func decodeObject(data []byte) (Message, error) {
	var env inEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, decodeError(data, fmt.Errorf("failed to decode JSON: %w", err))
	}
	if env.Topic == nil {
		return Message{}, decodeError(data, fmt.Errorf("missing topic"))
	}
	if env.Event == nil {
		return Message{}, decodeError(data, fmt.Errorf("missing event"))
	}

	ref, err := parseRef(env.Ref)
	if err != nil {
		return Message{}, decodeError(data, err)
	}

	return Message{
		Topic:   *env.Topic,
		Event:   Event(*env.Event),
		Payload: env.Payload,
		Ref:     ref,
	}, nil
}

func decodeArray(data []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Message{}, decodeError(data, fmt.Errorf("failed to decode JSON: %w", err))
	}
	if len(parts) != 5 {
		return Message{}, decodeError(data, fmt.Errorf("invalid message format: expected 5 elements, got %d", len(parts)))
	}

	var topic, event string
	if err := json.Unmarshal(parts[2], &topic); err != nil || isNull(parts[2]) {
		return Message{}, decodeError(data, fmt.Errorf("invalid topic type"))
	}
	if err := json.Unmarshal(parts[3], &event); err != nil || isNull(parts[3]) {
		return Message{}, decodeError(data, fmt.Errorf("invalid event type"))
	}

	ref, err := parseRef(parts[1])
	if err != nil {
		return Message{}, decodeError(data, err)
	}

	return Message{
		Topic:   topic,
		Event:   Event(event),
		Payload: parts[4],
		Ref:     ref,
	}, nil
}

// parseRef accepts null, a string or a bare number.
func parseRef(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("invalid ref %s", raw)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// RefNumber returns the numeric value of m.Ref, as handed out by Sender.Join.
func (m Message) RefNumber() (uint64, bool) {
	if m.Ref == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(m.Ref, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reply represents the payload of a phx_reply envelope
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Common reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply extracts the reply payload from a phx_reply message
func (m Message) Reply() (Reply, error) {
	if m.Event != EventReply {
		return Reply{}, fmt.Errorf("message is not a reply")
	}

	var reply Reply
	if err := json.Unmarshal(m.Payload, &reply); err != nil {
		return Reply{}, fmt.Errorf("invalid reply payload format: %w", err)
	}
	if reply.Status == "" {
		return Reply{}, fmt.Errorf("missing or invalid status in reply")
	}
	return reply, nil
}

// OK returns true if the reply status is "ok"
func (r Reply) OK() bool {
	return r.Status == StatusOK
}
