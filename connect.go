package phxclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProtocolVersion is the Phoenix socket protocol version sent as vsn
const ProtocolVersion = "2.0.0"

const tracerName = "github.com/go-phx-channels/phxclient"

// Param is one query parameter appended to the socket endpoint
type Param struct {
	Key   string
	Value string
}

// ConnectOptions configures Connect
type ConnectOptions struct {
	// Logger for diagnostic output (default: disabled)
	Logger *zerolog.Logger

	// Dialer used for the upgrade (default: websocket.DefaultDialer)
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request
	Header http.Header

	// WriteTimeout bounds every frame write (default: 10 seconds).
	// A negative value disables the deadline.
	WriteTimeout time.Duration

	// Metrics records frame counters when set
	Metrics *Metrics

	// TracerProvider for connect and join spans (default: otel global)
	TracerProvider trace.TracerProvider
}

// setDefaultConnectOptions sets default values for unspecified options
func setDefaultConnectOptions(opts *ConnectOptions) {
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
}

// Endpoint builds the socket URL: the /websocket route, the vsn parameter,
// then each param as &key=value in the order given.
//
// Keys and values are not URL-encoded. Callers with reserved characters in
// their params must encode them first.
func Endpoint(baseURL string, params []Param) string {
	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteString("/websocket?vsn=")
	b.WriteString(ProtocolVersion)
	for _, p := range params {
		b.WriteByte('&')
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Connect performs the websocket upgrade against baseURL and splits the
// connection into its write and read halves. It does not retry.
func Connect(ctx context.Context, baseURL string, params []Param, opts *ConnectOptions) (*Sender, *Receiver, error) {
	var o ConnectOptions
	if opts != nil {
		o = *opts
	}
	setDefaultConnectOptions(&o)

	addr := Endpoint(baseURL, params)

	ctx, span := o.TracerProvider.Tracer(tracerName).Start(ctx, "phx.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("phx.vsn", ProtocolVersion)),
	)
	defer span.End()

	o.Logger.Debug().Str("url", baseURL).Msg("connecting")

	conn, resp, err := o.Dialer.DialContext(ctx, addr, o.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, nil, &ConnectError{URL: baseURL, Err: err}
	}

	o.Logger.Info().Str("url", baseURL).Msg("connected")

	return newSender(conn, &o), newReceiver(conn, &o), nil
}
