package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channel carries items from connection tasks to a consumer. An unbounded
// channel never drops and never blocks a sender for longer than it takes to
// queue the item; a bounded channel drops the newest item when full.
type Channel[T any] struct {
	name string
	out  chan T

	// unbounded mode only
	in      chan T
	pending atomic.Int64

	bounded bool

	mu     sync.RWMutex
	closed bool

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// New returns an unbounded channel for buffer 0 and a bounded one otherwise.
func New[T any](name string, buffer int) *Channel[T] {
	if buffer > 0 {
		return NewBounded[T](name, buffer)
	}
	return NewUnbounded[T](name)
}

func NewUnbounded[T any](name string) *Channel[T] {
	c := &Channel[T]{
		name: name,
		out:  make(chan T),
		in:   make(chan T),
		log:  logger.GetLogger(),
	}
	go c.pump()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"channel": name,
		"mode":    "unbounded",
	}).Debug("channel initialized")
	return c
}

func NewBounded[T any](name string, size int) *Channel[T] {
	c := &Channel[T]{
		name:    name,
		out:     make(chan T, size),
		bounded: true,
		log:     logger.GetLogger(),
	}

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"channel":     name,
		"mode":        "bounded",
		"buffer_size": size,
	}).Debug("channel initialized")
	return c
}

// pump moves items from in to out through an in-memory queue, so senders
// never wait on the consumer. out is closed once in is closed and the
// queue is drained.
func (c *Channel[T]) pump() {
	defer close(c.out)

	var queue []T
	in := c.in
	for in != nil || len(queue) > 0 {
		var (
			out  chan T
			next T
		)
		if len(queue) > 0 {
			out = c.out
			next = queue[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, v)
			c.pending.Add(1)
		case out <- next:
			var zero T
			queue[0] = zero
			queue = queue[1:]
			c.pending.Add(-1)
		}
	}
}

// Send delivers v. It returns false when v was dropped, the channel is
// closed or ctx is done.
func (c *Channel[T]) Send(ctx context.Context, v T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	if !c.bounded {
		select {
		case c.in <- v:
			c.incrementSent()
			return true
		case <-ctx.Done():
			return false
		}
	}

	select {
	case c.out <- v:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		metrics.EmitDropMetric(c.log, c.name, "output")
		return false
	}
}

// Out is the receive side. It is closed after Close once all queued items
// have been received.
func (c *Channel[T]) Out() <-chan T {
	return c.out
}

// Close stops accepting items. It is safe to call more than once.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.bounded {
		close(c.out)
	} else {
		close(c.in)
	}
	c.log.WithComponent("channels").WithField("channel", c.name).Debug("channel closed")
}

func (c *Channel[T]) Name() string { return c.name }

// Len is the number of items waiting to be received.
func (c *Channel[T]) Len() int {
	if c.bounded {
		return len(c.out)
	}
	return int(c.pending.Load())
}

// Cap is the bound of a bounded channel and 0 for an unbounded one.
func (c *Channel[T]) Cap() int {
	if c.bounded {
		return cap(c.out)
	}
	return 0
}

func (c *Channel[T]) incrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channel[T]) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.Dropped++
	c.statsMutex.Unlock()
}

func (c *Channel[T]) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
