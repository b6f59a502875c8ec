// Package snapshot persists a shard's full engine state as a single
// checksummed blob, so a restart can skip replaying the entire WAL
// from the beginning.
package snapshot

import (
	"fmt"
	"os"

	"lukechampine.com/blake3"

	"fenrir/internal/wire"
)

// Meta describes a snapshot: its format version, owning shard, last
// engine_seq, and the checksum of its state.
type Meta struct {
	Version   uint32
	ShardId   uint64
	LastSeq   uint64
	Checksum  string
}

// Snapshot pairs metadata with the engine state it describes. State is
// generic so this package has no dependency on the shard package that
// owns EngineState; only the wire codec needs to know its shape.
type Snapshot[T any] struct {
	Meta  Meta
	State T
}

// Build serializes state to compute its checksum and wraps it with
// metadata. The checksum is over state alone, not the envelope, so it
// stays stable if Meta ever gains fields.
func Build[T any](shardId, lastSeq uint64, state T) (Snapshot[T], error) {
	payload, err := wire.Marshal(state)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("snapshot: marshal state: %w", err)
	}
	sum := blake3.Sum256(payload)
	return Snapshot[T]{
		Meta: Meta{
			Version:  1,
			ShardId:  shardId,
			LastSeq:  lastSeq,
			Checksum: fmt.Sprintf("%x", sum),
		},
		State: state,
	}, nil
}

// Save writes the snapshot's wire encoding to path atomically: the
// payload lands in a temp file in the same directory first, then a
// rename swaps it into place, so a crash mid-write never leaves a
// half-written blob at path.
func Save[T any](path string, snap Snapshot[T]) error {
	payload, err := wire.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads and decodes the snapshot at path. A missing file is not
// an error: it returns ok=false so callers can start from an empty
// state plus the full WAL.
func Load[T any](path string) (Snapshot[T], bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot[T]{}, false, nil
		}
		return Snapshot[T]{}, false, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var snap Snapshot[T]
	if err := wire.Unmarshal(payload, &snap); err != nil {
		return Snapshot[T]{}, false, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return snap, true, nil
}

// LoadMeta returns only the metadata, for inspection tooling that does
// not know the state's Go type. It reads and decodes the whole blob,
// state included, into the same Snapshot[T] shape the file was written
// with (State as `any`, so the state becomes generic maps and slices)
// rather than a differently-shaped wrapper, so it works regardless of
// whether the codec encodes structs positionally or by field name.
func LoadMeta(path string) (Meta, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var snap Snapshot[any]
	if err := wire.Unmarshal(payload, &snap); err != nil {
		return Meta{}, fmt.Errorf("snapshot: unmarshal meta: %w", err)
	}
	return snap.Meta, nil
}
