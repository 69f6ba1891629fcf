package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	phx "github.com/go-phx-channels/phxclient"
	"github.com/go-phx-channels/phxclient/internal/phxtest"
)

func testConfig(url string, topics ...string) config {
	cfg := defaultConfig()
	cfg.URL = url
	cfg.Topics = topics
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func TestRunSendDeliversEvent(t *testing.T) {
	srv := phxtest.New(zerolog.Nop())
	url := srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	logger := zerolog.Nop()
	err := runSend(ctx, testConfig(url, "room:lobby"), &logger, "room:lobby", phx.Custom("shout"), json.RawMessage(`{"body":"hi"}`))
	require.NoError(t, err)

	msg, err := srv.WaitForFrame(ctx, func(m phx.Message) bool { return m.Event == phx.Custom("shout") })
	require.NoError(t, err)
	assert.Equal(t, "room:lobby", msg.Topic)
	assert.JSONEq(t, `{"body":"hi"}`, string(msg.Payload))
}

func TestRunSendJoinRejected(t *testing.T) {
	srv := phxtest.New(zerolog.Nop())
	srv.OnJoin = func(topic string, params json.RawMessage) (string, any) {
		return phx.StatusError, map[string]string{"reason": "nope"}
	}
	url := srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	logger := zerolog.Nop()
	err := runSend(ctx, testConfig(url, "room:x"), &logger, "room:x", phx.Custom("shout"), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestRunListenPrintsJoinAndPushes(t *testing.T) {
	srv := phxtest.New(zerolog.Nop())
	url := srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runListen(ctx, testConfig(url, "room:lobby"), zerolog.Nop(), &out)
	}()

	_, err := srv.WaitForFrame(ctx, func(m phx.Message) bool { return m.Event == phx.EventJoin })
	require.NoError(t, err)

	// give the join reply a moment to be printed, then push
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Push("room:lobby", phx.Custom("new_msg"), map[string]string{"body": "hello"}))
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not stop")
	}

	text := out.String()
	assert.Contains(t, text, "room:lobby")
	assert.Contains(t, text, "joined")
	assert.Contains(t, text, "new_msg")
	assert.Contains(t, text, `{"body":"hello"}`)
}

func TestRunListenEndsWhenServerCloses(t *testing.T) {
	srv := phxtest.New(zerolog.Nop())
	url := srv.Start()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runListen(context.Background(), testConfig(url), zerolog.Nop(), &out)
	}()

	require.Eventually(t, func() bool { return len(srv.Queries()) == 1 }, time.Second, 5*time.Millisecond)
	srv.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not notice the closed connection")
	}
}
