package imq

import (
	"errors"
	"testing"
)

func TestDispatcherFansOutToAllHandlers(t *testing.T) {
	var d dispatcher
	var calls []string
	d.OnMessage(func(message []byte, id, from string) {
		calls = append(calls, "a:"+id)
	})
	d.OnMessage(func(message []byte, id, from string) {
		calls = append(calls, "b:"+id)
	})
	d.emitMessage([]byte("x"), "id-1", "orders")

	if len(calls) != 2 || calls[0] != "a:id-1" || calls[1] != "b:id-1" {
		t.Fatalf("calls = %v, want both handlers invoked in registration order", calls)
	}
}

func TestDispatcherErrorHandlers(t *testing.T) {
	var d dispatcher
	var got *Error
	d.OnError(func(err *Error) { got = err })

	e := newError(OnWatch, CodeElection, "orders", errors.New("clock skew detected"))
	d.emitError(e)

	if got != e {
		t.Fatalf("OnError handler did not receive the emitted error")
	}
}
