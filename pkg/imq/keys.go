package imq

import (
	"strconv"
	"strings"
)

// Key format (stable): "<prefix>:<name>" for the main list, with suffixes
// for the delayed sorted set, TTL beacons, safe-delivery worker lists and
// the watcher election lock. Never change these without a migration plan —
// every process sharing a server must agree on them.

func listKey(prefix, name string) string {
	return prefix + ":" + name
}

func delayedKey(prefix, name string) string {
	return prefix + ":" + name + ":delayed"
}

func ttlKey(prefix, name, id string) string {
	return prefix + ":" + name + ":" + id + ":ttl"
}

func workerKey(prefix, name, workerID string, expireMs int64) string {
	return prefix + ":" + name + ":worker:" + workerID + ":" + strconv.FormatInt(expireMs, 10)
}

func lockKey(prefix string) string {
	return prefix + ":watch:lock"
}

// delayedGlobPattern matches the literal key shape documented for the
// watcher's PSUBSCRIBE; nothing in the data model ever publishes on a
// channel with this name (delayed-entry promotion is actually driven by
// the TTL beacon key's keyspace-expired notification), so in practice this
// subscription never yields a message. It is kept only to match spec's
// documented wording verbatim.
func delayedGlobPattern(prefix string) string {
	return prefix + ":delayed:*"
}

func workerGlobPattern(prefix, name string) string {
	return prefix + ":" + name + ":worker:*"
}

// workerGlobPatternAll matches safe-delivery worker lists for every queue
// name sharing prefix, for the watcher's server-wide sweep.
func workerGlobPatternAll(prefix string) string {
	return prefix + ":*:worker:*"
}

// queueNameFromListKey recovers the queue name from a LIST key, undoing listKey.
func queueNameFromListKey(prefix, key string) (string, bool) {
	p := prefix + ":"
	if !strings.HasPrefix(key, p) {
		return "", false
	}
	return strings.TrimPrefix(key, p), true
}

// queueNameFromTTLKey recovers the queue name from a TTL beacon key, undoing
// ttlKey. Used by the watcher to route a keyspace-expired notification to
// the right queue's delayed set without requiring a locally registered
// *Queue for that name.
func queueNameFromTTLKey(prefix, key string) (string, bool) {
	p := prefix + ":"
	if !strings.HasPrefix(key, p) {
		return "", false
	}
	rest := strings.TrimPrefix(key, p)
	rest = strings.TrimSuffix(rest, ":ttl")
	if rest == strings.TrimPrefix(key, p) {
		return "", false // no ":ttl" suffix
	}
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// queueNameFromWorkerKey recovers the queue name from a WORK key, undoing
// workerKey. Used by the watcher's server-wide sweep, which discovers
// worker lists via SCAN rather than per-queue lookups.
func queueNameFromWorkerKey(prefix, key string) (string, bool) {
	p := prefix + ":"
	if !strings.HasPrefix(key, p) {
		return "", false
	}
	rest := strings.TrimPrefix(key, p)
	idx := strings.Index(rest, ":worker:")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// parseWorkerKey extracts the expiry (ms) encoded into a WORK key produced by workerKey.
func parseWorkerKey(key string) (expireMs int64, ok bool) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 || idx == len(key)-1 {
		return 0, false
	}
	ms, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
