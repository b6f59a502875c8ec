// Command replay rebuilds a single shard's state from its on-disk
// snapshot and WAL tail, then prints the BLAKE3 hash of the resulting
// state so two independent runs of the same shard files can be
// compared for the determinism invariant in spec.md section 8.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"lukechampine.com/blake3"

	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/risk"
	"fenrir/internal/shard"
	"fenrir/internal/snapshot"
	"fenrir/internal/wal"
	"fenrir/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("replay failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, walPath, snapPath string
	var shardId int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "replay a shard's snapshot and WAL tail and print its state hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			return run(configPath, walPath, snapPath, shardId)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the engine's YAML settings file")
	cmd.Flags().StringVar(&walPath, "wal", "", "path to the shard's WAL file (defaults to persistence.wal_path.shard<N>)")
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "path to the shard's snapshot file (defaults to persistence.snapshot_path.shard<N>)")
	cmd.Flags().IntVar(&shardId, "shard", 0, "shard id to replay")
	return cmd
}

func run(configPath, walPath, snapPath string, shardId int) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if walPath == "" {
		walPath = fmt.Sprintf("%s.shard%d", settings.Persistence.WalPath, shardId)
	}
	if snapPath == "" {
		snapPath = fmt.Sprintf("%s.shard%d", settings.Persistence.SnapshotPath, shardId)
	}

	var markets []config.MarketConfig
	for _, m := range settings.Markets {
		if int(m.MarketId)%settings.ShardCount == shardId {
			markets = append(markets, m)
		}
	}

	state, hasSnap, err := snapshot.Load[shard.EngineState](snapPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	// Replay runs against a scratch copy of the WAL: HandleEvent
	// appends as it replays, and this is a read-only inspection tool,
	// not a participant in the shard's durable log.
	scratchPath, cleanup, err := scratchCopy(walPath)
	if err != nil {
		return fmt.Errorf("stage wal for replay: %w", err)
	}
	defer cleanup()

	w, err := wal.Open(scratchPath)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer w.Close()

	riskEngine := risk.New()

	var sh *shard.EngineShard
	var lastSeq uint64
	if hasSnap {
		sh, err = shard.Restore(state.State, markets, w, riskEngine)
		lastSeq = state.State.EngineSeq
	} else {
		sh, err = shard.New(common.ShardId(shardId), markets, w, riskEngine)
	}
	if err != nil {
		return fmt.Errorf("build shard: %w", err)
	}

	records, err := wal.Load(scratchPath)
	if err != nil {
		return fmt.Errorf("load wal: %w", err)
	}

	replayed := 0
	for _, rec := range records {
		if rec.EngineSeq <= lastSeq || !isInputKind(rec.Event.Kind) {
			continue
		}
		if _, err := sh.HandleEvent(rec.Event, rec.Ts); err != nil {
			return fmt.Errorf("replay engine_seq %d: %w", rec.EngineSeq, err)
		}
		replayed++
	}

	final := sh.Snapshot()
	payload, err := wire.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}
	sum := blake3.Sum256(payload)

	log.Info().
		Int("shard_id", shardId).
		Int("records_replayed", replayed).
		Uint64("engine_seq", final.EngineSeq).
		Str("state_hash", fmt.Sprintf("%x", sum)).
		Msg("replay complete")
	return nil
}

// scratchCopy copies path to a sibling .replay temp file so wal.Open
// never appends to the shard's real log. If path does not exist, the
// scratch file starts empty, matching wal.Open's create-if-missing
// behavior.
func scratchCopy(path string) (scratchPath string, cleanup func(), err error) {
	scratchPath = path + ".replay"
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return scratchPath, func() { os.Remove(scratchPath) }, nil
		}
		return "", nil, err
	}
	defer src.Close()

	dst, err := os.Create(scratchPath)
	if err != nil {
		return "", nil, err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", nil, err
	}
	return scratchPath, func() { os.Remove(scratchPath) }, nil
}

func isInputKind(kind common.EventKind) bool {
	switch kind {
	case common.EventNewOrder, common.EventCancelOrder, common.EventPriceUpdate, common.EventFundingUpdate:
		return true
	default:
		return false
	}
}
