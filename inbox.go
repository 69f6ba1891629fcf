package phxclient

import (
	"context"
	"io"
	"sync"
)

// Delivery is one item of the inbound stream: a decoded message, or the
// error that took its place.
type Delivery struct {
	Message Message
	Err     error
}

// Inbox is the unbounded queue between the client's delivery goroutine and
// the application. It has a single producer and a single consumer.
type Inbox struct {
	mu       sync.Mutex
	items    []Delivery
	notify   chan struct{}
	closed   bool
	finished bool
}

func newInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Recv blocks until an item is available and returns it. Decode problems come
// back as *MessageError and the stream continues. Recv returns io.EOF once
// the connection has closed and every queued item was read, and
// ErrInboxClosed after Close.
func (in *Inbox) Recv(ctx context.Context) (Message, error) {
	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			return Message{}, ErrInboxClosed
		}
		if len(in.items) > 0 {
			d := in.items[0]
			in.items[0] = Delivery{}
			in.items = in.items[1:]
			in.mu.Unlock()
			return d.Message, d.Err
		}
		if in.finished {
			in.mu.Unlock()
			return Message{}, io.EOF
		}
		in.mu.Unlock()

		select {
		case <-in.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Len returns the number of queued items
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Close discards queued items and stops delivery. It does not interrupt a
// read in progress: the client's delivery goroutine exits when the next frame
// arrives. With a server that answers heartbeats that is within one heartbeat
// interval; a silent server keeps it blocked until Client.Close.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.closed = true
	in.items = nil
	in.mu.Unlock()
	in.signal()
}

// put appends d unless the consumer has closed the inbox
func (in *Inbox) put(d Delivery) error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return &MessageError{Kind: MessageClosed, Err: ErrInboxClosed}
	}
	in.items = append(in.items, d)
	in.mu.Unlock()
	in.signal()
	return nil
}

// finish marks the end of the stream
func (in *Inbox) finish() {
	in.mu.Lock()
	in.finished = true
	in.mu.Unlock()
	in.signal()
}

func (in *Inbox) signal() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}
