// Package wal is the append-only durable log every shard writes an
// event envelope to before and after processing it. Records are
// length-prefixed with the canonical wire codec so replay can recover
// exactly what the shard saw, in order.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/metrics"
	"fenrir/internal/wire"
)

// Wal is a single append-only file. It is not safe for concurrent use;
// each shard owns exactly one.
type Wal struct {
	file *os.File
}

// Open creates the file if missing and positions it for appending,
// while keeping it readable for Load.
func Open(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Wal{file: f}, nil
}

// Append encodes event with the canonical codec, writes a u32 little
// endian length prefix and the payload, then flushes to disk.
func (w *Wal) Append(event *common.EventEnvelope) error {
	start := time.Now()
	defer func() { metrics.WalAppendSeconds.Observe(time.Since(start).Seconds()) }()

	payload, err := wire.Marshal(event)
	if err != nil {
		return fmt.Errorf("wal: marshal: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.file.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wal: write length: %w", err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("wal: write payload: %w", err)
	}
	return w.file.Sync()
}

func (w *Wal) Close() error {
	return w.file.Close()
}

// Truncate resets the file to empty, for use after a snapshot makes
// the existing log redundant.
func (w *Wal) Truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Load reads every complete record from path in order. End-of-file
// exactly at a record boundary is a clean close and ends the read. A
// partial length prefix, or a length prefix followed by fewer bytes
// than declared (a torn write from a crash mid-append), is a truncated
// tail and aborts the load with an error rather than silently dropping
// the record.
func Load(path string) ([]common.EventEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	var events []common.EventEnvelope
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return events, fmt.Errorf("wal: truncated length prefix: %w", err)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(f, buf); err != nil {
			return events, fmt.Errorf("wal: truncated record tail: %w", err)
		}
		var event common.EventEnvelope
		if err := wire.Unmarshal(buf, &event); err != nil {
			return events, fmt.Errorf("wal: unmarshal record: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}
