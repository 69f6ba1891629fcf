package phxclient

import (
	"errors"
	"fmt"
)

var (
	// ErrPoisoned is returned once a goroutine panicked while holding the sender.
	// It is sticky: the sender is never usable again.
	ErrPoisoned = errors.New("sender mutex has been poisoned")

	// ErrInboxClosed is returned when delivering to, or receiving from, an inbox
	// the consumer has closed.
	ErrInboxClosed = errors.New("inbox closed")
)

// ConnectError reports a failed websocket dial or upgrade
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// JoinError reports a join envelope that could not be written
type JoinError struct {
	Topic string
	Ref   uint64
	Err   error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("failed to join %s (ref %d): %v", e.Topic, e.Ref, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

// MessageErrorKind classifies a MessageError
type MessageErrorKind int

const (
	// MessageDecode is a malformed frame; the stream continues after it.
	MessageDecode MessageErrorKind = iota
	// MessageTransport is a read failure; the stream ends after it.
	MessageTransport
	// MessageClosed means the delivery inbox was closed.
	MessageClosed
)

func (k MessageErrorKind) String() string {
	switch k {
	case MessageDecode:
		return "decode"
	case MessageTransport:
		return "transport"
	case MessageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageError reports a problem with a single inbound frame
type MessageError struct {
	Kind MessageErrorKind
	// Frame holds the raw frame for decode errors.
	Frame []byte
	Err   error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message %s error: %v", e.Kind, e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

func decodeError(frame []byte, err error) *MessageError {
	return &MessageError{Kind: MessageDecode, Frame: frame, Err: err}
}

// ClientErrorKind classifies a ClientError
type ClientErrorKind int

const (
	ErrConnect ClientErrorKind = iota
	ErrJoin
	// ErrThread means the shared sender is poisoned. It is never retryable.
	ErrThread
)

func (k ClientErrorKind) String() string {
	switch k {
	case ErrConnect:
		return "connect"
	case ErrJoin:
		return "join"
	case ErrThread:
		return "thread"
	default:
		return "unknown"
	}
}

// ClientError is returned by Client operations
type ClientError struct {
	Kind ClientErrorKind
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client %s error: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Fatal returns true for errors that leave the client unusable
func (e *ClientError) Fatal() bool {
	return e.Kind == ErrThread || e.Kind == ErrConnect
}
