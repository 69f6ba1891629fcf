package phxclient

import (
	"context"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// heartbeatTopic is the topic Phoenix reserves for socket level traffic
const heartbeatTopic = "phoenix"

// frameWriter is the write half of a websocket connection
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Sender owns the write side of a connection. It stamps outbound envelopes
// with references from a counter that only ever increases.
//
// A Sender is not safe for concurrent use; Client serializes access to it.
// Close is the exception and may be called at any time.
type Sender struct {
	conn         frameWriter
	ref          uint64
	writeTimeout time.Duration
	logger       zerolog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

func newSender(conn frameWriter, opts *ConnectOptions) *Sender {
	return &Sender{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger.With().Str("type", "sender").Logger(),
		metrics:      opts.Metrics,
		tracer:       opts.TracerProvider.Tracer(tracerName),
	}
}

// makeRef generates the next reference
func (s *Sender) makeRef() uint64 {
	s.ref++
	if s.ref == 0 { // overflow protection
		s.ref = 1
	}
	return s.ref
}

// Send writes a fire-and-forget envelope with a fresh reference. Failures are
// logged and dropped; use Join when the caller needs to know.
func (s *Sender) Send(topic string, event Event, payload any) {
	ref := strconv.FormatUint(s.makeRef(), 10)
	if err := s.write(topic, event, payload, ref); err != nil {
		s.logger.Error().Err(err).
			Str("topic", topic).
			Str("event", event.String()).
			Str("ref", ref).
			Msg("failed to send message")
	}
}

// Heartbeat writes the keepalive envelope. It carries no reference.
// The error is returned so the keepalive loop can notice a dead connection.
func (s *Sender) Heartbeat() error {
	err := s.write(heartbeatTopic, EventHeartbeat, emptyPayload, "")
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to send heartbeat")
	}
	return err
}

// Join sends phx_join for topic with an empty payload and returns the
// reference that the server will echo in its reply.
func (s *Sender) Join(topic string) (uint64, error) {
	return s.JoinWithParams(topic, nil)
}

// JoinWithParams is like Join but sends payload as the join parameters
func (s *Sender) JoinWithParams(topic string, payload any) (uint64, error) {
	ref := s.makeRef()

	_, span := s.tracer.Start(context.Background(), "phx.join",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("phx.topic", topic),
			attribute.Int64("phx.ref", int64(ref)),
		),
	)
	defer span.End()

	if err := s.write(topic, EventJoin, payload, strconv.FormatUint(ref, 10)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "join write failed")
		return 0, &JoinError{Topic: topic, Ref: ref, Err: err}
	}

	s.logger.Debug().Str("topic", topic).Uint64("ref", ref).Msg("join sent")
	return ref, nil
}

// Close sends a normal closure frame and closes the connection. The receiver
// sees the close as the end of its stream.
func (s *Sender) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write close frame")
	}
	return s.conn.Close()
}

func (s *Sender) write(topic string, event Event, payload any, ref string) error {
	data, err := Encode(topic, event, payload, ref)
	if err != nil {
		s.metrics.failed(event)
		return err
	}

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.metrics.failed(event)
			return err
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.metrics.failed(event)
		return err
	}

	s.metrics.sent(event)
	s.logger.Trace().RawJSON("frame", data).Msg("sent")
	return nil
}
