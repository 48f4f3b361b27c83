package channel

import (
	"context"
	"testing"
	"time"
)

func TestUnboundedNeverDrops(t *testing.T) {
	c := NewUnbounded[int]("unbounded_test")
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if !c.Send(ctx, i) {
			t.Fatalf("send %d failed", i)
		}
	}
	if c.Cap() != 0 {
		t.Fatalf("unbounded cap = %d", c.Cap())
	}
	c.Close()

	next := 0
	for v := range c.Out() {
		if v != next {
			t.Fatalf("got %d want %d: order not preserved", v, next)
		}
		next++
	}
	if next != 1000 {
		t.Fatalf("received %d items, want 1000", next)
	}
	if s := c.GetStats(); s.Sent != 1000 || s.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestBoundedDropsNewest(t *testing.T) {
	c := NewBounded[string]("bounded_test", 2)
	ctx := context.Background()

	if !c.Send(ctx, "a") || !c.Send(ctx, "b") {
		t.Fatalf("sends within capacity failed")
	}
	if c.Send(ctx, "c") {
		t.Fatalf("expected send beyond capacity to drop")
	}
	if c.Len() != 2 || c.Cap() != 2 {
		t.Fatalf("len/cap = %d/%d", c.Len(), c.Cap())
	}
	c.Close()

	var got []string
	for v := range c.Out() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected items %v", got)
	}
	if s := c.GetStats(); s.Sent != 2 || s.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestSendAfterCloseAndCancel(t *testing.T) {
	c := New[int]("closed_test", 0)
	c.Close()
	c.Close()
	if c.Send(context.Background(), 1) {
		t.Fatalf("send after close should fail")
	}
	select {
	case _, ok := <-c.Out():
		if ok {
			t.Fatalf("expected closed output")
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed")
	}

	b := New[int]("cancel_test", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Send(context.Background(), 1)
	if b.Send(ctx, 2) {
		t.Fatalf("send on full channel with cancelled ctx should fail")
	}
}
