package imq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Mikhus/imq/pkg/imq/dedupe"
)

// SendOptions configures a single Send call.
type SendOptions struct {
	// Delay schedules delivery for d from now instead of immediately.
	Delay time.Duration

	// DedupKey, if non-empty, is hashed together with the queue name into an
	// opt-in idempotent-send guard (see pkg/imq/dedupe). A duplicate Send
	// within DedupTTL is suppressed; see SendResult.Duplicate.
	DedupKey []string
}

// SendResult reports the outcome of a Send call.
type SendResult struct {
	// ID is always a freshly minted envelope id, even when Duplicate is true.
	ID string
	// Duplicate is true when a DedupKey guard suppressed the publish.
	Duplicate bool
}

// Send publishes message to toQueue, returning the envelope id immediately;
// delivery is not acknowledged synchronously. Transport errors are reported
// via OnError, not via the returned error, except for encoding/configuration
// failures and a failure of the implicit Start, which fail fast.
func (q *Queue) Send(ctx context.Context, toQueue string, message any, opts ...SendOptions) (SendResult, error) {
	var o SendOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	if !q.started.Load() {
		if err := q.Start(ctx); err != nil {
			return SendResult{}, err
		}
	}
	if q.closed.Load() {
		return SendResult{}, newError(OnConfig, CodeClosed, q.name, ErrClosed)
	}

	id := uuid.NewString()
	res := SendResult{ID: id}

	if len(o.DedupKey) > 0 {
		dup, err := dedupe.Guard(ctx, q.writer, q.opts.Prefix, q.opts.DedupTTL, append([]string{toQueue}, o.DedupKey...)...)
		if err != nil {
			q.emitError(newError(OnMessage, CodeDedup, toQueue, err))
		} else if dup {
			res.Duplicate = true
			return res, nil
		}
	}

	raw, err := packMessage(message)
	if err != nil {
		return SendResult{}, newError(OnMessage, CodeDecode, toQueue, err)
	}
	env := Envelope{ID: id, From: q.name, Message: raw}
	packed, err := q.cod.pack(env)
	if err != nil {
		return SendResult{}, newError(OnMessage, CodeDecode, toQueue, err)
	}

	if o.Delay <= 0 {
		if err := q.writer.LPush(ctx, listKey(q.opts.Prefix, toQueue), packed).Err(); err != nil {
			q.emitError(newError(OnMessage, CodeTransport, toQueue, fmt.Errorf("imq: LPUSH %s: %w", toQueue, err)))
		}
		return res, nil
	}

	dueMs := float64(nowMs() + o.Delay.Milliseconds())
	z := redis.Z{Score: dueMs, Member: packed}
	if err := q.writer.ZAdd(ctx, delayedKey(q.opts.Prefix, toQueue), z).Err(); err != nil {
		q.emitError(newError(OnMessage, CodeTransport, toQueue, fmt.Errorf("imq: ZADD %s: %w", toQueue, err)))
		return res, nil
	}
	if err := q.writer.SetNX(ctx, ttlKey(q.opts.Prefix, toQueue, id), "", o.Delay).Err(); err != nil {
		q.emitError(newError(OnMessage, CodeTransport, toQueue, fmt.Errorf("imq: SET ttl %s: %w", toQueue, err)))
	}
	return res, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
