package imq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestQueue builds a Queue wired directly to a miniredis-backed writer,
// bypassing Start/dial so Send can be exercised without a live server.
func newTestQueue(t *testing.T, addr string, opts Options) *Queue {
	t.Helper()
	q, err := New("orders", opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = cli.Close() })
	q.writer = cli
	q.started.Store(true)
	return q
}

func TestSendImmediateDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	q := newTestQueue(t, mr.Addr(), Options{})
	ctx := context.Background()

	res, err := q.Send(ctx, "orders", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ID == "" {
		t.Fatalf("Send() returned empty ID")
	}
	if res.Duplicate {
		t.Fatalf("Send() reported Duplicate without a DedupKey")
	}

	n, err := q.writer.LLen(ctx, listKey(q.opts.Prefix, "orders")).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("LLen() = %d, want 1", n)
	}
}

func TestSendDelayedDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	q := newTestQueue(t, mr.Addr(), Options{})
	ctx := context.Background()

	res, err := q.Send(ctx, "orders", "payload", SendOptions{Delay: time.Minute})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	card, err := q.writer.ZCard(ctx, delayedKey(q.opts.Prefix, "orders")).Result()
	if err != nil {
		t.Fatalf("ZCard() error = %v", err)
	}
	if card != 1 {
		t.Fatalf("ZCard() = %d, want 1", card)
	}

	ttl, err := q.writer.TTL(ctx, ttlKey(q.opts.Prefix, "orders", res.ID)).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("TTL() = %v, want a positive TTL on the beacon key", ttl)
	}

	n, err := q.writer.LLen(ctx, listKey(q.opts.Prefix, "orders")).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("delayed Send() should not push to the list directly, LLen() = %d", n)
	}
}

func TestSendDedupSuppressesDuplicate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	q := newTestQueue(t, mr.Addr(), Options{})
	ctx := context.Background()
	sendOpts := SendOptions{DedupKey: []string{"order-1"}}

	res1, err := q.Send(ctx, "orders", "a", sendOpts)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res1.Duplicate {
		t.Fatalf("first Send() unexpectedly reported Duplicate")
	}

	res2, err := q.Send(ctx, "orders", "a", sendOpts)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !res2.Duplicate {
		t.Fatalf("second Send() with the same DedupKey should report Duplicate")
	}
	if res2.ID == res1.ID {
		t.Fatalf("Send() should still mint a fresh envelope id on a suppressed duplicate")
	}

	n, err := q.writer.LLen(ctx, listKey(q.opts.Prefix, "orders")).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("LLen() = %d, want 1 (duplicate publish should be suppressed)", n)
	}
}
