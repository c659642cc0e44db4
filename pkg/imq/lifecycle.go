package imq

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	signalOnce    sync.Once
	trackedMu     sync.Mutex
	trackedQueues = make(map[*Queue]struct{})
)

// track registers q so a process-wide SIGINT/SIGTERM releases its watcher
// lock (if held) before the process exits. Called once from Start.
func track(q *Queue) {
	trackedMu.Lock()
	trackedQueues[q] = struct{}{}
	trackedMu.Unlock()

	signalOnce.Do(installSignalHandler)
}

func untrack(q *Queue) {
	trackedMu.Lock()
	delete(trackedQueues, q)
	trackedMu.Unlock()
}

// installSignalHandler installs a single process-wide SIGINT/SIGTERM
// handler that stops every tracked Queue and ends its shared watcher loop
// (which releases the watcher lock if this process holds it), then exits
// the process with status 0.
// Embedders that want to manage their own signal handling can ignore this
// entirely; it only ever acts on queues this package started.
func installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		trackedMu.Lock()
		queues := make([]*Queue, 0, len(trackedQueues))
		for q := range trackedQueues {
			queues = append(queues, q)
		}
		trackedMu.Unlock()

		for _, q := range queues {
			_ = q.Stop()
			if wc := q.wconn; wc != nil {
				wc.mu.Lock()
				stop := wc.stop
				wc.mu.Unlock()
				if stop != nil {
					stop()
				}
				wc.wg.Wait()
			}
		}
		os.Exit(0)
	}()
}

// WaitForShutdown blocks until ctx is cancelled (typically by a caller's own
// signal handling), then stops q. Convenience helper for simple daemons
// that would rather not rely on the package-global signal handler.
func WaitForShutdown(ctx context.Context, q *Queue) {
	<-ctx.Done()
	_ = q.Stop()
}
