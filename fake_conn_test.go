package phxclient

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type readResult struct {
	data   []byte
	binary bool
	err    error
}

// fakeConn stands in for *websocket.Conn on both halves
type fakeConn struct {
	mu        sync.Mutex
	written   [][]byte
	controls  []int
	deadlines []time.Time
	writeErr  error
	closed    bool

	reads     chan readResult
	closeOnce sync.Once

	// writing detects overlapping WriteMessage calls
	writing    atomic.Bool
	overlapped atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if !c.writing.CompareAndSwap(false, true) {
		c.overlapped.Store(true)
	}
	defer c.writing.Store(false)

	// widen the window for overlapping writers
	time.Sleep(50 * time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	if r.err != nil {
		return 0, nil, r.err
	}
	if r.binary {
		return websocket.BinaryMessage, r.data, nil
	}
	return websocket.TextMessage, r.data, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.reads) })
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

var errBrokenPipe = errors.New("write: broken pipe")

func testOptions(opts *ConnectOptions) *ConnectOptions {
	if opts == nil {
		opts = &ConnectOptions{}
	}
	setDefaultConnectOptions(opts)
	return opts
}
