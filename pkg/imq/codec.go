package imq

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope wraps every payload moving through a queue. Field order matches
// the wire shape: id, from, message.
type Envelope struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	Message json.RawMessage `json:"message"`
}

// codec packs and unpacks Envelope values. The plain codec is just JSON; the
// gzip codec wraps it in compress/gzip. A consumer and producer sharing a
// queue name must agree on the same codec — mixing them is a decode error,
// not a panic (see Options.UseGzip).
type codec struct {
	gzip bool
}

func newCodec(useGzip bool) codec {
	return codec{gzip: useGzip}
}

func (c codec) pack(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("imq: marshal envelope: %w", err)
	}
	if !c.gzip {
		return raw, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("imq: gzip envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("imq: gzip envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func (c codec) unpack(data []byte) (Envelope, error) {
	var env Envelope
	raw := data
	if c.gzip {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return env, fmt.Errorf("imq: ungzip envelope: %w", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return env, fmt.Errorf("imq: ungzip envelope: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("imq: unmarshal envelope: %w", err)
	}
	return env, nil
}

// packMessage marshals an arbitrary user payload into the envelope's message field.
func packMessage(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("imq: marshal message: %w", err)
	}
	return b, nil
}
