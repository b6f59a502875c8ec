// Package wire is the one place the engine commits to a concrete,
// byte-stable binary codec. Every durable artifact, WAL records and
// snapshot blobs alike, is encoded with it, so replay and
// cross-release compatibility depend on nothing but this file.
package wire

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v with the canonical codec. Map keys are sorted so
// that two shards fed identical state produce byte-identical output;
// Go's native map iteration order is randomized per-process and would
// otherwise break snapshot/WAL determinism across runs.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes b into v using the canonical codec.
func Unmarshal(b []byte, v any) error {
	return msgpack.Unmarshal(b, v)
}
