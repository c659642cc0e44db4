package imq

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// channel identifies one of the three connection roles a Queue needs.
type channel string

const (
	channelReader  channel = "reader"
	channelWriter  channel = "writer"
	channelWatcher channel = "watcher"
)

// writerEntry is a reference-counted, process-wide shared client for one
// server address. Every Queue instance pointed at the same address reuses
// the same *redis.Client rather than opening its own.
type writerEntry struct {
	client   *redis.Client
	refcount atomic.Int64
}

// registry holds the process-global writer and watcher connections, keyed
// by "host:port". It mirrors the acquire/release shape of a resource pool,
// but holds exactly one shared resource per address instead of checking
// instances in and out, since writer/watcher connections are multiplexed
// for their whole lifetime rather than leased per call.
type registry struct {
	mu       sync.Mutex
	writers  map[string]*writerEntry
	watchers map[string]*watcherConn
}

var globalRegistry = &registry{
	writers:  make(map[string]*writerEntry),
	watchers: make(map[string]*watcherConn),
}

// newRedisClient dials addr and sets the connection's name so the watcher
// election step can later identify connections by role via CLIENT LIST.
func newRedisClient(addr string, name string) *redis.Client {
	hostname, _ := os.Hostname()
	return redis.NewClient(&redis.Options{
		Addr:       addr,
		ClientName: fmt.Sprintf("%s:pid:%d:host:%s", name, os.Getpid(), hostname),
	})
}

// acquireWriter returns the shared writer client for addr, creating and
// CLIENT SETNAME-ing it on first use. Call releaseWriter exactly once per
// acquireWriter call when the owning Queue is destroyed.
func (r *registry) acquireWriter(ctx context.Context, addr, name string) (*redis.Client, error) {
	r.mu.Lock()
	entry, ok := r.writers[addr]
	if !ok {
		cli := newRedisClient(addr, name+":writer")
		if err := cli.Ping(ctx).Err(); err != nil {
			r.mu.Unlock()
			_ = cli.Close()
			return nil, newError(OnWatch, CodeTransport, name, fmt.Errorf("imq: connect writer %s: %w", addr, err))
		}
		entry = &writerEntry{client: cli}
		r.writers[addr] = entry
	}
	entry.refcount.Add(1)
	r.mu.Unlock()
	return entry.client, nil
}

// releaseWriter decrements the refcount for addr's writer, closing the
// underlying client only once no Queue references it anymore.
func (r *registry) releaseWriter(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.writers[addr]
	if !ok {
		return
	}
	if entry.refcount.Add(-1) <= 0 {
		_ = entry.client.Close()
		delete(r.writers, addr)
	}
}

// watcherConn is the shared pubsub+scripting connection for one address,
// reused by every Queue instance watching that address. At most one process
// sharing this address ever "owns" the watcher role at a time (see watcher.go);
// every local Queue instance still shares a single client and subscription.
type watcherConn struct {
	client   *redis.Client
	scripts  *scriptRegistry
	refcount atomic.Int64

	mu      sync.Mutex
	started bool
	elected bool
	stop    func()
	queues  map[string]*Queue

	// wg tracks the election/subscribe/sweep goroutine's own lifetime,
	// independent of any single Queue's wg: the loop outlives any one
	// Queue's Stop and only exits when this connection's refcount reaches
	// zero.
	wg sync.WaitGroup
}

func (r *registry) acquireWatcherConn(ctx context.Context, addr, name string) (*watcherConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wc, ok := r.watchers[addr]
	if !ok {
		cli := newRedisClient(addr, name+":watcher")
		if err := cli.Ping(ctx).Err(); err != nil {
			_ = cli.Close()
			return nil, newError(OnWatch, CodeTransport, name, fmt.Errorf("imq: connect watcher %s: %w", addr, err))
		}
		wc = &watcherConn{client: cli, scripts: newScriptRegistry(cli)}
		r.watchers[addr] = wc
	}
	wc.refcount.Add(1)
	return wc, nil
}

func (r *registry) releaseWatcherConn(addr string) {
	r.mu.Lock()
	wc, ok := r.watchers[addr]
	if !ok {
		r.mu.Unlock()
		return
	}
	last := wc.refcount.Add(-1) <= 0
	if last {
		delete(r.watchers, addr)
	}
	r.mu.Unlock()

	if !last {
		return
	}
	wc.mu.Lock()
	stop := wc.stop
	wc.mu.Unlock()
	if stop != nil {
		stop()
	}
	// Wait for the election/subscribe/sweep loop to release the watch
	// lock and return before closing the connection out from under it.
	wc.wg.Wait()
	_ = wc.client.Close()
}

// newReader opens a dedicated, unshared connection for blocking reads. The
// reader is never pooled process-wide because BRPOP/BRPOPLPUSH monopolize it.
func newReader(ctx context.Context, addr, name string) (*redis.Client, error) {
	cli := newRedisClient(addr, name+":reader")
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, newError(OnReadUnsafe, CodeTransport, name, fmt.Errorf("imq: connect reader %s: %w", addr, err))
	}
	return cli, nil
}
