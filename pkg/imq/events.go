package imq

import "sync"

// MessageHandler receives a decoded payload along with the envelope id and
// the originating queue name ("from").
type MessageHandler func(message []byte, id string, from string)

// ErrorHandler receives every non-fatal error surfaced by a Queue's
// background loops. Errors here never stop the Queue; they are reported for
// observability only.
type ErrorHandler func(err *Error)

// dispatcher fans a Queue's message/error events out to any number of
// registered callbacks. Registration is safe to call concurrently with
// emission, matching the Go shape of the "EventEmitter" surface in the core
// design: callback registration instead of a literal event bus.
//
// Every emitted error is also logged through the configured Logger before
// being fanned out, independent of whether any ErrorHandler is registered.
type dispatcher struct {
	mu       sync.RWMutex
	messages []MessageHandler
	errors   []ErrorHandler
	logger   Logger
}

func (d *dispatcher) OnMessage(h MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, h)
}

func (d *dispatcher) OnError(h ErrorHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, h)
}

func (d *dispatcher) emitMessage(message []byte, id, from string) {
	d.mu.RLock()
	handlers := d.messages
	d.mu.RUnlock()
	for _, h := range handlers {
		h(message, id, from)
	}
}

func (d *dispatcher) emitError(err *Error) {
	d.mu.RLock()
	handlers := d.errors
	logger := d.logger
	d.mu.RUnlock()

	if logger != nil {
		fields := map[string]any{"source": string(err.Source), "code": string(err.Code), "error": err.Error()}
		if err.Queue != "" {
			fields["queue"] = err.Queue
		}
		if meta, ok := Meta(err.Code); ok && meta.Retryable {
			logger.Warn("imq error", fields)
		} else {
			logger.Error("imq error", fields)
		}
	}

	for _, h := range handlers {
		h(err)
	}
}
