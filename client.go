package phxclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is how often the client sends a heartbeat
const DefaultHeartbeatInterval = 2 * time.Second

// Options configures a Client
type Options struct {
	ConnectOptions

	// HeartbeatInterval for sending heartbeats (default: 2 seconds).
	// Zero or negative values use the default.
	HeartbeatInterval time.Duration
}

// setDefaultOptions sets default values for unspecified options
func setDefaultOptions(options *Options) {
	setDefaultConnectOptions(&options.ConnectOptions)
	if options.HeartbeatInterval <= 0 {
		options.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// ClientState represents where a client is in its lifecycle
type ClientState int32

const (
	StateConstructing ClientState = iota
	StateRunning
	// StateStopped means both background goroutines exited and Wait returned.
	StateStopped
)

// String returns the string representation of the client state
func (cs ClientState) String() string {
	switch cs {
	case StateConstructing:
		return "constructing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// sharedSender is the single Sender reachable from the public API and the
// heartbeat goroutine. A panic while it is held poisons it for good.
type sharedSender struct {
	mu       sync.Mutex
	sender   *Sender
	poisoned bool
}

// with runs fn while holding the sender. The reference bump and the write
// inside fn happen without interleaving with any other caller.
func (h *sharedSender) with(fn func(s *Sender) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.poisoned {
		return ErrPoisoned
	}

	defer func() {
		if r := recover(); r != nil {
			h.poisoned = true
			panic(r)
		}
	}()
	return fn(h.sender)
}

func (h *sharedSender) isPoisoned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.poisoned
}

// Client keeps one Phoenix socket alive with heartbeats and hands every
// inbound envelope to an Inbox.
//
// Shutdown is two steps: Close the connection, then Wait for the background
// goroutines. Wait alone only returns once the connection has gone away.
type Client struct {
	logger zerolog.Logger
	sender *sharedSender
	inbox  *Inbox
	state  atomic.Int32

	heartbeatInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New connects to baseURL and starts the heartbeat and delivery goroutines.
// On a connect failure no Client is returned.
func New(ctx context.Context, baseURL string, params []Param, options *Options) (*Client, *Inbox, error) {
	var o Options
	if options != nil {
		o = *options
	}
	setDefaultOptions(&o)

	o.Logger.Debug().Str("url", baseURL).Msg("creating client")

	sender, receiver, err := Connect(ctx, baseURL, params, &o.ConnectOptions)
	if err != nil {
		return nil, nil, &ClientError{Kind: ErrConnect, Err: err}
	}

	c := newClient(sender, &o)
	c.start(receiver)
	return c, c.inbox, nil
}

func newClient(sender *Sender, o *Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:            o.Logger.With().Str("type", "client").Logger(),
		sender:            &sharedSender{sender: sender},
		inbox:             newInbox(),
		heartbeatInterval: o.HeartbeatInterval,
		ctx:               ctx,
		cancel:            cancel,
	}
	c.state.Store(int32(StateConstructing))
	return c
}

func (c *Client) start(receiver *Receiver) {
	c.wg.Add(2)
	go c.keepalive()
	go c.deliver(receiver)
	c.state.Store(int32(StateRunning))
}

// Send writes an envelope on a best-effort basis. Write failures are logged,
// not returned; the only error is a *ClientError of kind ErrThread when the
// sender is poisoned.
func (c *Client) Send(topic string, event Event, payload any) error {
	err := c.sender.with(func(s *Sender) error {
		s.Send(topic, event, payload)
		return nil
	})
	if err != nil {
		return &ClientError{Kind: ErrThread, Err: err}
	}
	return nil
}

// Join sends phx_join for topic and returns its reference. The server's
// phx_reply with the same ref arrives through the Inbox.
func (c *Client) Join(topic string) (uint64, error) {
	return c.JoinWithParams(topic, nil)
}

// JoinWithParams is like Join but sends payload as the join parameters
func (c *Client) JoinWithParams(topic string, payload any) (uint64, error) {
	var ref uint64
	err := c.sender.with(func(s *Sender) error {
		var err error
		ref, err = s.JoinWithParams(topic, payload)
		return err
	})
	switch {
	case errors.Is(err, ErrPoisoned):
		return 0, &ClientError{Kind: ErrThread, Err: err}
	case err != nil:
		return 0, &ClientError{Kind: ErrJoin, Err: err}
	}
	return ref, nil
}

// State returns the current lifecycle state
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// Close stops the heartbeat and closes the connection, which ends the
// inbound stream. It does not wait for the goroutines; call Wait for that.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		// Not under the sender lock: closing is what unblocks a stalled write.
		c.closeErr = c.sender.sender.Close()
	})
	return c.closeErr
}

// Wait blocks until the heartbeat and delivery goroutines have exited.
// It reports a poisoned sender as a *ClientError of kind ErrThread.
func (c *Client) Wait() error {
	c.wg.Wait()
	c.state.Store(int32(StateStopped))
	if c.sender.isPoisoned() {
		return &ClientError{Kind: ErrThread, Err: ErrPoisoned}
	}
	return nil
}

// keepalive sends a heartbeat every interval until the client is closed or
// a heartbeat write fails. Gorilla write errors are sticky, so a failed
// heartbeat means the connection is finished; closing it ends delivery too.
// A panic that did not poison the sender also closes the connection.
func (c *Client) keepalive() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			if c.sender.isPoisoned() {
				c.logger.Error().Interface("panic", r).Msg("heartbeat stopped, sender poisoned")
				return
			}
			c.logger.Error().Interface("panic", r).Msg("heartbeat panicked, closing connection")
			c.Close()
		}
	}()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-ticker.C:
			err := c.sender.with(func(s *Sender) error {
				return s.Heartbeat()
			})
			if errors.Is(err, ErrPoisoned) {
				c.logger.Error().Msg("heartbeat stopped, sender poisoned")
				return
			}
			if err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat failed, closing connection")
				c.Close()
				return
			}
		}
	}
}

// deliver drains the receiver into the inbox until either side is done
func (c *Client) deliver(receiver *Receiver) {
	defer c.wg.Done()
	defer c.inbox.finish()

	for msg, err := range receiver.All() {
		if perr := c.inbox.put(Delivery{Message: msg, Err: err}); perr != nil {
			c.logger.Debug().Msg("inbox closed, stopping delivery")
			return
		}
	}
	c.logger.Debug().Msg("inbound stream ended")
}
