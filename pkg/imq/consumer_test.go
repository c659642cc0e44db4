package imq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestUnsafeReadLoopDeliversMessage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	opts := Options{}.withDefaults()
	q, err := New("orders", opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer reader.Close()
	q.reader = reader

	received := make(chan string, 1)
	q.OnMessage(func(message []byte, id, from string) {
		received <- string(message)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.wg.Add(1)
	go q.readLoop(ctx)

	packed, err := q.cod.pack(Envelope{ID: "abc", From: "producer", Message: json.RawMessage(`"hello"`)})
	if err != nil {
		t.Fatalf("pack() error = %v", err)
	}
	writer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer writer.Close()
	if err := writer.LPush(context.Background(), listKey(opts.Prefix, "orders"), packed).Err(); err != nil {
		t.Fatalf("LPush() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `"hello"` {
			t.Fatalf("received %q, want %q", msg, `"hello"`)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for unsafeReadLoop to deliver the message")
	}

	cancel()
	q.wg.Wait()
}

func TestSafeReadLoopUsesWorkerListAndCleansUpAfterProcessing(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	opts := Options{SafeDelivery: true, SafeDeliveryTTL: time.Minute}.withDefaults()
	q, err := New("orders", opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer reader.Close()
	q.reader = reader

	received := make(chan struct{}, 1)
	q.OnMessage(func(message []byte, id, from string) {
		received <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.wg.Add(1)
	go q.readLoop(ctx)

	packed, err := q.cod.pack(Envelope{ID: "xyz", From: "producer", Message: json.RawMessage(`1`)})
	if err != nil {
		t.Fatalf("pack() error = %v", err)
	}
	writer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer writer.Close()
	if err := writer.LPush(context.Background(), listKey(opts.Prefix, "orders"), packed).Err(); err != nil {
		t.Fatalf("LPush() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for safeReadLoop to deliver the message")
	}

	cancel()
	q.wg.Wait()

	keys, err := writer.Keys(context.Background(), workerGlobPattern(opts.Prefix, "orders")).Result()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("worker list was not cleaned up after processing: %v", keys)
	}
}
