// Package dedupe implements an opt-in, producer-side idempotent-send guard
// for pkg/imq. It is not part of the queue's core delivery contract (the
// core makes no exactly-once promise across process crashes); it is a
// best-effort workflow-layer guard, the kind of thing a caller reaches for
// when they know a given send might be retried and want the server, not the
// caller, to be the one deciding whether it has already been seen.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BuildKey deterministically hashes parts into a guard key scoped under
// prefix. Each part is JSON-string-encoded and the parts are hashed in the
// order given, so the same parts in the same order always hash the same way;
// a different order yields a different key.
func BuildKey(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(encodeDeterministic(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:dedup:%s", prefix, hex.EncodeToString(h.Sum(nil)))
}

func encodeDeterministic(v string) []byte {
	// parts are already strings; json.Marshal gives us a stable, escaped
	// encoding so embedded separators in one part can't collide with
	// boundaries between parts.
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(v)
	}
	return b
}

// Guard attempts to claim key (built from parts) for ttl. It returns
// duplicate=true if the key was already claimed by an earlier Guard call
// within the TTL window. A transport error never reports duplicate=true:
// per the core's invariant that a dedup guard must never cause message
// loss, callers should treat an error as "not a duplicate" and proceed.
func Guard(ctx context.Context, client *redis.Client, prefix string, ttl time.Duration, parts ...string) (duplicate bool, err error) {
	key := BuildKey(prefix, parts...)
	ok, err := client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("imq/dedupe: SETNX %s: %w", key, err)
	}
	return !ok, nil
}
