package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func envelope(seq uint64) *common.EventEnvelope {
	return &common.EventEnvelope{
		ShardId:   1,
		EngineSeq: seq,
		Event: common.NewOrderEvent(common.NewOrder{
			RequestId:  "r1",
			MarketId:   1,
			PriceTicks: 100,
			Qty:        5,
		}),
		Ts: 1000,
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard0.wal")
	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(envelope(1)))
	require.NoError(t, w.Append(envelope(2)))
	require.NoError(t, w.Close())

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].EngineSeq)
	assert.Equal(t, uint64(2), records[1].EngineSeq)
	assert.Equal(t, "r1", records[0].Event.NewOrder.RequestId)
}

func TestLoadMissingFileReturnsNoRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.wal")
	records, err := Load(path)
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestTruncateResetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard0.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(envelope(1)))
	require.NoError(t, w.Truncate())
	require.NoError(t, w.Append(envelope(2)))
	require.NoError(t, w.Close())

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].EngineSeq)
}

// TestLoadTornTailErrors is the crash-recovery edge case: a record whose
// length prefix promises more bytes than the file actually holds (a
// torn write) must surface as an error, not be silently dropped.
func TestLoadTornTailErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard0.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(envelope(1)))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()-1))
	require.NoError(t, f.Close())

	_, err = Load(path)
	assert.Error(t, err)
}
