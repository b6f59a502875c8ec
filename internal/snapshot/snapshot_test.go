package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureState struct {
	Foo string
	Bar int64
}

func TestBuildSaveLoadRoundTrip(t *testing.T) {
	state := fixtureState{Foo: "hello", Bar: 42}
	snap, err := Build(3, 17, state)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), snap.Meta.Version)
	assert.Equal(t, uint64(3), snap.Meta.ShardId)
	assert.Equal(t, uint64(17), snap.Meta.LastSeq)
	assert.NotEmpty(t, snap.Meta.Checksum)

	path := filepath.Join(t.TempDir(), "snap.bin")
	require.NoError(t, Save(path, snap))

	loaded, ok, err := Load[fixtureState](path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, loaded)
}

func TestLoadMissingReturnsNotOk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.bin")
	_, ok, err := Load[fixtureState](path)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildChecksumStableForIdenticalState(t *testing.T) {
	state := fixtureState{Foo: "hello", Bar: 42}
	a, err := Build(1, 1, state)
	require.NoError(t, err)
	b, err := Build(2, 99, state)
	require.NoError(t, err)

	// Checksum covers State alone, so it is stable across different
	// Meta fields as long as the underlying state is identical.
	assert.Equal(t, a.Meta.Checksum, b.Meta.Checksum)
}

func TestLoadMetaReturnsSavedMeta(t *testing.T) {
	snap, err := Build(5, 9, fixtureState{Foo: "x", Bar: 1})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snap.bin")
	require.NoError(t, Save(path, snap))

	meta, err := LoadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, snap.Meta, meta)
}
