// Package imq implements a distributed message queue on top of a
// Redis-compatible server: immediate and delayed delivery, an optional
// safe-delivery worker-list protocol with crash recovery, and a
// cross-process watcher election that promotes delayed messages as they
// come due.
package imq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Queue is one named message queue on one server. Construct with New,
// start background loops with Start, and call Destroy when done so the
// shared writer/watcher connections can be released (Stop only halts this
// Queue's reader and read loop).
type Queue struct {
	name string
	opts Options
	addr string
	cod  codec

	dispatcher

	writer *redis.Client
	reader *redis.Client
	wconn  *watcherConn

	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
}

// New constructs a Queue bound to name. It does not connect until Start is
// called (or until the first Send, which calls Start implicitly).
func New(name string, opts Options) (*Queue, error) {
	if name == "" {
		return nil, newError(OnConfig, CodeConfig, name, fmt.Errorf("imq: queue name must not be empty"))
	}
	opts = opts.withDefaults()
	q := &Queue{
		name: name,
		opts: opts,
		addr: opts.addr(),
		cod:  newCodec(opts.UseGzip),
	}
	q.dispatcher.logger = opts.Logger
	return q, nil
}

// Start connects the reader, writer, and watcher connections and launches
// the background read/sweep/election loops. Start is idempotent.
func (q *Queue) Start(ctx context.Context) error {
	if q.closed.Load() {
		return newError(OnConfig, CodeClosed, q.name, ErrClosed)
	}
	if !q.started.CompareAndSwap(false, true) {
		return nil
	}

	writer, err := globalRegistry.acquireWriter(ctx, q.addr, q.name)
	if err != nil {
		q.started.Store(false)
		q.opts.Logger.Error("queue start failed", map[string]any{"queue": q.name, "error": err.Error()})
		return err
	}
	q.writer = writer

	reader, err := newReader(ctx, q.addr, q.name)
	if err != nil {
		globalRegistry.releaseWriter(q.addr)
		q.started.Store(false)
		q.opts.Logger.Error("queue start failed", map[string]any{"queue": q.name, "error": err.Error()})
		return err
	}
	q.reader = reader

	wconn, err := globalRegistry.acquireWatcherConn(ctx, q.addr, q.name)
	if err != nil {
		_ = q.reader.Close()
		globalRegistry.releaseWriter(q.addr)
		q.started.Store(false)
		q.opts.Logger.Error("queue start failed", map[string]any{"queue": q.name, "error": err.Error()})
		return err
	}
	q.wconn = wconn

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go q.readLoop(runCtx)

	q.startWatcher()
	track(q)

	q.opts.Logger.Info("queue started", map[string]any{"queue": q.name, "addr": q.addr})
	return nil
}

// Stop halts this Queue's reader and its background read loop. The shared
// writer and watcher connections are left live for the rest of the process
// (other queues on this address may still be using them); only Destroy
// releases them. Stop is idempotent.
func (q *Queue) Stop() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !q.started.Load() {
		return nil
	}
	untrack(q)
	if q.wconn != nil {
		q.wconn.mu.Lock()
		delete(q.wconn.queues, q.name)
		q.wconn.mu.Unlock()
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	if q.reader != nil {
		_ = q.reader.Close()
	}
	q.opts.Logger.Info("queue stopped", map[string]any{"queue": q.name})
	return nil
}

// Destroy stops the queue, releases its shared writer and watcher
// connections (once no other Queue on this address still references them),
// and removes its list and delayed-set keys from the server. TTL beacons and
// worker lists are left in place.
func (q *Queue) Destroy(ctx context.Context) error {
	wasStarted := q.started.Load()

	// Destroy is the only place that tears the shared writer down, so the
	// clear step always acquires its own handle rather than reusing
	// q.writer, which Stop leaves referenced but this function may be
	// about to release.
	writer, err := globalRegistry.acquireWriter(ctx, q.addr, q.name)
	if err != nil {
		return err
	}
	defer globalRegistry.releaseWriter(q.addr)

	if wasStarted {
		globalRegistry.releaseWatcherConn(q.addr)
	}
	if err := q.Stop(); err != nil {
		return err
	}
	if err := q.clear(ctx, writer); err != nil {
		return err
	}
	if wasStarted {
		globalRegistry.releaseWriter(q.addr)
	}
	return nil
}

// Clear removes this queue's list and delayed-set contents without tearing
// down connections. Useful between test cases.
func (q *Queue) Clear(ctx context.Context) error {
	if q.writer == nil {
		return newError(OnConfig, CodeClosed, q.name, ErrClosed)
	}
	return q.clear(ctx, q.writer)
}

func (q *Queue) clear(ctx context.Context, writer *redis.Client) error {
	keys := []string{
		listKey(q.opts.Prefix, q.name),
		delayedKey(q.opts.Prefix, q.name),
	}
	if err := writer.Del(ctx, keys...).Err(); err != nil {
		return newError(OnConfig, CodeTransport, q.name, fmt.Errorf("imq: clear %s: %w", q.name, err))
	}
	return nil
}
