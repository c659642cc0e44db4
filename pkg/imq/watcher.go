package imq

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	watchLockTTL     = 10 * time.Second
	watchLockRenew   = 3 * time.Second
	expiredEventChan = "__keyevent@0__:expired"

	// electionBackoffMin/Max bound the small random back-off before a
	// non-owner reclaims an apparently stale lock. Options.WatcherCheckDelay
	// is reserved for a future watcher heartbeat and is intentionally not
	// used for this; it is not the same knob.
	electionBackoffMin = 1 * time.Millisecond
	electionBackoffMax = 50 * time.Millisecond

	// electionPollInterval is how often a non-owner retries acquiring the
	// lock while another process appears to hold it.
	electionPollInterval = 200 * time.Millisecond
)

// startWatcher registers q with its shared watcherConn and, if this is the
// first registration on that connection, launches the election/subscribe/
// sweep loop. Every Queue sharing an address shares one watcher loop, whose
// lifetime is independent of any single Queue's Start/Stop: it only ends
// when the watcherConn's refcount reaches zero (see releaseWatcherConn).
func (q *Queue) startWatcher() {
	wc := q.wconn
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.queues == nil {
		wc.queues = make(map[string]*Queue)
	}
	wc.queues[q.name] = q

	if wc.started {
		return
	}
	wc.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	wc.stop = cancel

	wc.wg.Add(1)
	go func() {
		defer wc.wg.Done()
		runWatcherConn(runCtx, wc, q.opts)
	}()
}

// runWatcherConn owns the election loop, the keyspace-notification
// subscription, and the safe-delivery sweeper for one shared watcherConn.
// Exactly one process holds the lock at a time; every process still runs
// this loop so it can take over if the current owner disappears.
func runWatcherConn(ctx context.Context, wc *watcherConn, opts Options) {
	lockVal := fmt.Sprintf("pid:%d:%d", time.Now().UnixNano(), rand.Int63())
	lockKeyName := lockKey(opts.Prefix)

	sweepTicker := time.NewTicker(opts.SweepInterval)
	defer sweepTicker.Stop()
	renewTicker := time.NewTicker(watchLockRenew)
	defer renewTicker.Stop()

	var psub *redis.PubSub
	owned := false

	acquire := func() {
		ok, err := wc.client.SetNX(ctx, lockKeyName, lockVal, watchLockTTL).Result()
		if err != nil {
			reportToAll(wc, newError(OnWatch, CodeTransport, "", fmt.Errorf("imq: SETNX lock: %w", err)))
			return
		}
		if ok {
			owned = true
		} else if staleLock(ctx, wc, lockKeyName) {
			// current holder's connection is gone from CLIENT LIST; reclaim after backoff.
			backoff := electionBackoffMin + time.Duration(rand.Int63n(int64(electionBackoffMax-electionBackoffMin)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			_ = wc.client.Del(ctx, lockKeyName).Err()
			if ok2, _ := wc.client.SetNX(ctx, lockKeyName, lockVal, watchLockTTL).Result(); ok2 {
				owned = true
			}
		}
		if owned {
			wc.mu.Lock()
			wc.elected = true
			wc.mu.Unlock()
			psub = wc.client.PSubscribe(ctx, expiredEventChan, delayedGlobPattern(opts.Prefix))
		}
	}

	acquire()
	for !owned {
		select {
		case <-ctx.Done():
			return
		case <-time.After(electionPollInterval):
			acquire()
		}
	}

	msgCh := psub.Channel()
	defer psub.Close()

	for {
		select {
		case <-ctx.Done():
			_ = wc.client.Eval(context.Background(), releaseLockScript, []string{lockKeyName}, lockVal).Err()
			return

		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			handleExpiredNotification(ctx, wc, opts, msg)

		case <-renewTicker.C:
			if err := wc.client.Expire(ctx, lockKeyName, watchLockTTL).Err(); err != nil {
				reportToAll(wc, newError(OnWatch, CodeTransport, "", fmt.Errorf("imq: renew lock: %w", err)))
			}

		case <-sweepTicker.C:
			sweepAll(ctx, wc, opts)
		}
	}
}

// staleLock reports whether the process currently holding lockKeyName no
// longer appears to be connected, by scanning CLIENT LIST for a watcher
// connection name. This is a documented heuristic, not a guarantee: a
// holder that is alive but not yet visible in CLIENT LIST for any reason
// looks stale and may be prematurely reclaimed.
func staleLock(ctx context.Context, wc *watcherConn, lockKeyName string) bool {
	list, err := wc.client.ClientList(ctx).Result()
	if err != nil {
		return false
	}
	watchers := strings.Count(list, ":watcher:pid:")
	return watchers <= 1
}

const releaseLockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// handleExpiredNotification routes one keyspace-expiration pubsub message to
// its delayed-promotion step. The target queue name is recovered directly
// from the expired TTL beacon key, so this works for any queue name sharing
// this prefix on the server — including one never locally registered on the
// watch-owner's own process (e.g. a producer-only process that sent a
// delayed message to a queue it never constructed a Queue for).
func handleExpiredNotification(ctx context.Context, wc *watcherConn, opts Options, msg *redis.Message) {
	name, ok := queueNameFromTTLKey(opts.Prefix, msg.Payload)
	if !ok {
		return
	}
	processDelayed(ctx, wc, opts.Prefix, name)
}

// processDelayed runs the moveDelayed script for queue name, promoting
// every delayed entry whose due time has passed into the main list. It is a
// pure function of the derived keys and the shared watcherConn, not of any
// locally registered *Queue.
func processDelayed(ctx context.Context, wc *watcherConn, prefix, name string) {
	zkey := delayedKey(prefix, name)
	lkey := listKey(prefix, name)
	_, err := wc.scripts.eval(ctx, "moveDelayed", []string{zkey, lkey}, nowMs())
	if err != nil {
		if imqErr, ok := err.(*Error); ok {
			imqErr.Source = OnProcessDelayed
			imqErr.Queue = name
			reportToAll(wc, imqErr)
			return
		}
		reportToAll(wc, newError(OnProcessDelayed, CodeTransport, name, err))
	}
}

// sweepAll scans the entire "<prefix>:*:worker:*" namespace across every
// queue name on the server and returns stalled (expired) entries to their
// parent list, regardless of whether any queue of that name is locally
// registered on this process.
func sweepAll(ctx context.Context, wc *watcherConn, opts Options) {
	pattern := workerGlobPatternAll(opts.Prefix)
	now := nowMs()

	var cursor uint64
	for {
		keys, next, err := wc.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			reportToAll(wc, newError(OnSafeDelivery, CodeTransport, "", fmt.Errorf("imq: SCAN %s: %w", pattern, err)))
			return
		}
		for _, wkey := range keys {
			expireMs, ok := parseWorkerKey(wkey)
			if !ok || expireMs > now {
				continue
			}
			name, ok := queueNameFromWorkerKey(opts.Prefix, wkey)
			if !ok {
				continue
			}
			rescueWorkerList(ctx, wc, opts.Prefix, name, wkey)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// rescueWorkerList returns every message left in a stalled worker list back
// onto the main list, then deletes the worker list.
func rescueWorkerList(ctx context.Context, wc *watcherConn, prefix, name, wkey string) {
	lkey := listKey(prefix, name)
	for {
		val, err := wc.client.RPopLPush(ctx, wkey, lkey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			reportToAll(wc, newError(OnSafeDelivery, CodeTransport, name, fmt.Errorf("imq: rescue %s: %w", wkey, err)))
			return
		}
		_ = val
	}
	_ = wc.client.Del(ctx, wkey).Err()
}

// reportToAll fans a watcher-level error out to every locally registered
// queue's OnError handlers. Errors that name a specific queue (e.g. a
// promotion failure) still reach every local queue sharing this connection,
// since the watch role itself is shared process-wide.
func reportToAll(wc *watcherConn, err *Error) {
	wc.mu.Lock()
	queues := wc.queues
	wc.mu.Unlock()
	for _, q := range queues {
		q.emitError(err)
	}
}
