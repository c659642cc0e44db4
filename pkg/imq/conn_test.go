package imq

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRegistry() *registry {
	return &registry{
		writers:  make(map[string]*writerEntry),
		watchers: make(map[string]*watcherConn),
	}
}

func TestAcquireWriterSharesClientPerAddress(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	r := newTestRegistry()
	ctx := context.Background()

	c1, err := r.acquireWriter(ctx, mr.Addr(), "q1")
	if err != nil {
		t.Fatalf("acquireWriter() error = %v", err)
	}
	c2, err := r.acquireWriter(ctx, mr.Addr(), "q2")
	if err != nil {
		t.Fatalf("acquireWriter() error = %v", err)
	}
	if c1 != c2 {
		t.Fatalf("acquireWriter() returned distinct clients for the same address")
	}

	entry := r.writers[mr.Addr()]
	if entry.refcount.Load() != 2 {
		t.Fatalf("refcount = %d, want 2", entry.refcount.Load())
	}

	r.releaseWriter(mr.Addr())
	if _, ok := r.writers[mr.Addr()]; !ok {
		t.Fatalf("writer entry removed before refcount reached zero")
	}
	if entry.refcount.Load() != 1 {
		t.Fatalf("refcount = %d, want 1", entry.refcount.Load())
	}

	r.releaseWriter(mr.Addr())
	if _, ok := r.writers[mr.Addr()]; ok {
		t.Fatalf("writer entry should be removed once refcount reaches zero")
	}
}

func TestReleaseWriterOnUnknownAddressIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.releaseWriter("127.0.0.1:0")
}

func TestAcquireWatcherConnSharesConnectionAndScripts(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	r := newTestRegistry()
	ctx := context.Background()

	wc1, err := r.acquireWatcherConn(ctx, mr.Addr(), "q1")
	if err != nil {
		t.Fatalf("acquireWatcherConn() error = %v", err)
	}
	wc2, err := r.acquireWatcherConn(ctx, mr.Addr(), "q2")
	if err != nil {
		t.Fatalf("acquireWatcherConn() error = %v", err)
	}
	if wc1 != wc2 {
		t.Fatalf("acquireWatcherConn() returned distinct connections for the same address")
	}
	if wc1.scripts == nil {
		t.Fatalf("watcherConn.scripts was not initialized")
	}
	if wc1.refcount.Load() != 2 {
		t.Fatalf("refcount = %d, want 2", wc1.refcount.Load())
	}

	r.releaseWatcherConn(mr.Addr())
	if _, ok := r.watchers[mr.Addr()]; !ok {
		t.Fatalf("watcher entry removed before refcount reached zero")
	}

	r.releaseWatcherConn(mr.Addr())
	if _, ok := r.watchers[mr.Addr()]; ok {
		t.Fatalf("watcher entry should be removed once refcount reaches zero")
	}
}
