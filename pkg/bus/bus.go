package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultBufferSize = 100

// Stats counts messages accepted onto the bus since it was created.
type Stats struct {
	Native   uint64 // inbound from platform polling
	Injected uint64 // inbound delivered through the external bridge
	Outbound uint64
}

// MessageBus carries inbound messages to the agent and its replies back to
// the channels. Close releases every blocked publisher and consumer.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool

	native   atomic.Uint64
	injected atomic.Uint64
	replies  atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithSize(defaultBufferSize)
}

// NewMessageBusWithSize creates a bus whose queues hold size messages each
// before publishers block.
func NewMessageBusWithSize(size int) *MessageBus {
	size = max(size, 0)
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if err := enqueue(ctx, mb, mb.inbound, msg); err != nil {
		return err
	}
	if msg.Injected {
		mb.injected.Add(1)
	} else {
		mb.native.Add(1)
	}
	return nil
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return dequeue(ctx, mb, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if err := enqueue(ctx, mb, mb.outbound, msg); err != nil {
		return err
	}
	mb.replies.Add(1)
	return nil
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return dequeue(ctx, mb, mb.outbound)
}

func (mb *MessageBus) Stats() Stats {
	return Stats{
		Native:   mb.native.Load(),
		Injected: mb.injected.Load(),
		Outbound: mb.replies.Load(),
	}
}

// IsClosed reports whether Close has been called.
func (mb *MessageBus) IsClosed() bool {
	return mb.closed.Load()
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}

func enqueue[T any](ctx context.Context, mb *MessageBus, q chan T, msg T) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case q <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dequeue reports false once the bus is closed or ctx is done, even if
// messages remain queued.
func dequeue[T any](ctx context.Context, mb *MessageBus, q chan T) (T, bool) {
	var zero T
	select {
	case <-mb.done:
		return zero, false
	default:
	}
	select {
	case msg, ok := <-q:
		return msg, ok
	case <-mb.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}
