package phxclient

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderJoinRefsStrictlyIncrease(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	var last uint64
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		ref, err := sender.Join("room:lobby")
		require.NoError(t, err)
		assert.Greater(t, ref, last)
		assert.False(t, seen[ref], "duplicate ref %d", ref)
		seen[ref] = true
		last = ref
	}
	assert.Equal(t, uint64(1), minKey(seen))
}

func minKey(m map[uint64]bool) uint64 {
	var min uint64
	for k := range m {
		if min == 0 || k < min {
			min = k
		}
	}
	return min
}

func TestSenderJoinEnvelope(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	ref, err := sender.Join("room:lobby")
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 1)

	msg, err := Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "room:lobby", msg.Topic)
	assert.Equal(t, EventJoin, msg.Event)
	assert.JSONEq(t, `{}`, string(msg.Payload))

	n, ok := msg.RefNumber()
	require.True(t, ok)
	assert.Equal(t, ref, n)
}

func TestSenderJoinWithParams(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	_, err := sender.JoinWithParams("room:lobby", map[string]any{"user_id": 123})
	require.NoError(t, err)

	msg, err := Decode(conn.frames()[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":123}`, string(msg.Payload))
}

func TestSenderHeartbeatEnvelope(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	// refs used by other sends must not leak into heartbeats
	sender.Send("room:1", Custom("ping"), nil)
	require.NoError(t, sender.Heartbeat())
	require.NoError(t, sender.Heartbeat())

	frames := conn.frames()
	require.Len(t, frames, 3)

	for _, frame := range frames[1:] {
		assert.JSONEq(t, `{"topic":"phoenix","event":"heartbeat","payload":{},"ref":null}`, string(frame))
	}
}

func TestSenderSendStampsRef(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	_, err := sender.Join("room:1")
	require.NoError(t, err)
	sender.Send("room:1", Custom("new_msg"), map[string]any{"body": "hello"})

	msg, err := Decode(conn.frames()[1])
	require.NoError(t, err)
	assert.Equal(t, "2", msg.Ref)
	assert.Equal(t, Custom("new_msg"), msg.Event)
	assert.JSONEq(t, `{"body":"hello"}`, string(msg.Payload))
}

func TestSenderJoinWriteFailure(t *testing.T) {
	conn := newFakeConn()
	conn.failWrites(errBrokenPipe)
	sender := newSender(conn, testOptions(nil))

	ref, err := sender.Join("room:lobby")
	require.Error(t, err)
	assert.Zero(t, ref)

	var joinErr *JoinError
	require.True(t, errors.As(err, &joinErr))
	assert.Equal(t, "room:lobby", joinErr.Topic)
	assert.Equal(t, uint64(1), joinErr.Ref)
	assert.ErrorIs(t, err, errBrokenPipe)
}

func TestSenderSendWriteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	conn := newFakeConn()
	conn.failWrites(errBrokenPipe)
	sender := newSender(conn, testOptions(&ConnectOptions{Logger: &logger}))

	assert.NotPanics(t, func() {
		sender.Send("room:lobby", Custom("new_msg"), map[string]any{"body": "hi"})
	})

	out := buf.String()
	assert.Contains(t, out, "failed to send message")
	assert.Contains(t, out, `"type":"sender"`)
	assert.Contains(t, out, "broken pipe")
}

func TestSenderSendEncodeFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	conn := newFakeConn()
	sender := newSender(conn, testOptions(&ConnectOptions{Logger: &logger}))

	sender.Send("room:lobby", Custom("bad"), map[string]any{"ch": make(chan int)})

	assert.Empty(t, conn.frames())
	assert.Contains(t, buf.String(), "failed to send message")
}

func TestSenderWriteDeadline(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(&ConnectOptions{WriteTimeout: time.Minute}))

	before := time.Now()
	require.NoError(t, sender.Heartbeat())

	require.Len(t, conn.deadlines, 1)
	assert.True(t, conn.deadlines[0].After(before.Add(59*time.Second)))
}

func TestSenderNoWriteDeadlineWhenDisabled(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(&ConnectOptions{WriteTimeout: -1}))

	require.NoError(t, sender.Heartbeat())
	assert.Empty(t, conn.deadlines)
}

func TestSenderClose(t *testing.T) {
	conn := newFakeConn()
	sender := newSender(conn, testOptions(nil))

	require.NoError(t, sender.Close())
	assert.Equal(t, []int{websocket.CloseMessage}, conn.controls)

	err := sender.Heartbeat()
	assert.ErrorIs(t, err, websocket.ErrCloseSent)
}

func TestSenderMetrics(t *testing.T) {
	metrics, err := NewMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)

	conn := newFakeConn()
	sender := newSender(conn, testOptions(&ConnectOptions{Metrics: metrics}))

	_, err = sender.Join("room:1")
	require.NoError(t, err)
	require.NoError(t, sender.Heartbeat())
	sender.Send("room:1", Custom("a"), nil)
	sender.Send("room:1", Custom("b"), nil)

	conn.failWrites(errBrokenPipe)
	_, err = sender.Join("room:2")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesSent.WithLabelValues("join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesSent.WithLabelValues("heartbeat")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.framesSent.WithLabelValues("custom")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sendFailures.WithLabelValues("join")))
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewMetrics("dup", reg)
	require.NoError(t, err)

	_, err = NewMetrics("dup", reg)
	assert.Error(t, err)
}
