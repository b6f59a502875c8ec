package engine

import (
	"fmt"

	"fenrir/internal/shard"
	"fenrir/internal/snapshot"
)

func snapshotLoad(path string) (shard.EngineState, bool, error) {
	snap, ok, err := snapshot.Load[shard.EngineState](path)
	if err != nil {
		return shard.EngineState{}, false, fmt.Errorf("engine: load snapshot %s: %w", path, err)
	}
	if !ok {
		return shard.EngineState{}, false, nil
	}
	return snap.State, true, nil
}
