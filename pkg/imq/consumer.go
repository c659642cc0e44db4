package imq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// readLoop dispatches to the unsafe or safe read loop based on Options.SafeDelivery.
func (q *Queue) readLoop(ctx context.Context) {
	defer q.wg.Done()
	if q.opts.SafeDelivery {
		q.safeReadLoop(ctx)
		return
	}
	q.unsafeReadLoop(ctx)
}

// unsafeReadLoop pops messages directly off the main list. A message is
// gone the instant BRPOP returns it, whether or not this process manages to
// process it — there is no crash recovery in this mode (see SafeDelivery).
func (q *Queue) unsafeReadLoop(ctx context.Context) {
	key := listKey(q.opts.Prefix, q.name)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.reader.BRPop(ctx, 0, key).Result()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			q.emitError(newError(OnReadUnsafe, CodeTransport, q.name, fmt.Errorf("imq: BRPOP %s: %w", q.name, err)))
			continue
		}
		// res = [key, value]
		if len(res) != 2 {
			continue
		}
		q.process(res[1])
	}
}

// safeReadLoop moves a message into a per-worker list before processing it,
// then deletes that list once processing completes. A crash between the
// move and the delete leaves the worker list behind for the sweeper (see
// watcher.go) to return to the main list.
func (q *Queue) safeReadLoop(ctx context.Context) {
	key := listKey(q.opts.Prefix, q.name)
	workerID := uuid.NewString()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		expireMs := nowMs() + q.opts.SafeDeliveryTTL.Milliseconds()
		wkey := workerKey(q.opts.Prefix, q.name, workerID, expireMs)

		val, err := q.reader.BRPopLPush(ctx, key, wkey, 0).Result()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			q.emitError(newError(OnReadSafe, CodeTransport, q.name, fmt.Errorf("imq: BRPOPLPUSH %s: %w", q.name, err)))
			continue
		}

		q.process(val)

		if err := q.reader.Del(ctx, wkey).Err(); err != nil {
			q.emitError(newError(OnSafeDelivery, CodeTransport, q.name, fmt.Errorf("imq: DEL %s: %w", wkey, err)))
		}
	}
}

// process unpacks one envelope and dispatches it to registered MessageHandlers.
func (q *Queue) process(data string) {
	env, err := q.cod.unpack([]byte(data))
	if err != nil {
		q.emitError(newError(OnMessage, CodeDecode, q.name, fmt.Errorf("%w: %v", ErrCodecMismatch, err)))
		return
	}
	q.emitMessage(env.Message, env.ID, env.From)
}
