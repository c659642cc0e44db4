package imq

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	e := newError(OnMessage, CodeTransport, "orders", base)
	if !errors.Is(e, base) {
		t.Fatalf("errors.Is(e, base) = false, want true")
	}
}

func TestErrorStringIncludesQueue(t *testing.T) {
	e := newError(OnReadSafe, CodeDecode, "orders", errors.New("bad payload"))
	msg := e.Error()
	if !strings.Contains(msg, "orders") || !strings.Contains(msg, string(OnReadSafe)) {
		t.Fatalf("Error() = %q, want it to mention queue and source", msg)
	}
}

func TestKnownCodesHaveMeta(t *testing.T) {
	for _, code := range []Code{CodeTransport, CodeDecode, CodeElection, CodeScript, CodeConfig, CodeClosed, CodeDedup} {
		if _, ok := Meta(code); !ok {
			t.Fatalf("Meta(%q) missing", code)
		}
	}
}
