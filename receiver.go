package phxclient

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// frameReader is the read half of a websocket connection
type frameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Receiver owns the read side of a connection and yields decoded envelopes
// one at a time. Once the stream has ended it cannot be restarted; a new
// Receiver needs a new Connect.
type Receiver struct {
	conn    frameReader
	done    bool
	logger  zerolog.Logger
	metrics *Metrics
}

func newReceiver(conn frameReader, opts *ConnectOptions) *Receiver {
	return &Receiver{
		conn:    conn,
		logger:  opts.Logger.With().Str("type", "receiver").Logger(),
		metrics: opts.Metrics,
	}
}

// Next blocks until the next frame arrives.
//
// A malformed frame, or any frame that is not a text frame, yields a
// *MessageError of kind MessageDecode and the stream continues. When the connection closes Next returns io.EOF. Any other
// read failure is reported once as a MessageTransport error, after which
// every call returns io.EOF.
func (r *Receiver) Next() (Message, error) {
	if r.done {
		return Message{}, io.EOF
	}

	messageType, data, err := r.conn.ReadMessage()
	if err != nil {
		r.done = true
		if isConnClosed(err) {
			r.logger.Debug().Err(err).Msg("connection closed")
			return Message{}, io.EOF
		}
		r.logger.Error().Err(err).Msg("websocket read error")
		return Message{}, &MessageError{Kind: MessageTransport, Err: err}
	}

	if messageType != websocket.TextMessage {
		r.metrics.decodeFailed()
		r.logger.Warn().Int("message_type", messageType).Msg("unsupported frame type")
		return Message{}, decodeError(data, fmt.Errorf("unsupported frame type %d", messageType))
	}

	msg, err := Decode(data)
	if err != nil {
		r.metrics.decodeFailed()
		r.logger.Warn().Err(err).Bytes("frame", data).Msg("failed to decode message")
		return Message{}, err
	}

	r.metrics.received()
	r.logger.Trace().
		Str("topic", msg.Topic).
		Str("event", msg.Event.String()).
		Str("ref", msg.Ref).
		Msg("received")
	return msg, nil
}

// All returns an iterator over the remaining stream. Decode errors are
// yielded alongside a zero Message; iteration stops when the stream ends.
func (r *Receiver) All() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			msg, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}

// Close closes the underlying connection. The sender's next write fails.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// isConnClosed reports whether err means the peer or we closed the socket
func isConnClosed(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, websocket.ErrCloseSent)
}
