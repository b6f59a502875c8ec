// Package engine wires the bus, the per-shard workers, and the WAL
// together: Router is the process-level object cmd/engine runs.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/bus"
	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/risk"
	"fenrir/internal/shard"
	"fenrir/internal/snapshot"
	"fenrir/internal/wal"
	"fenrir/internal/wire"
)

// job is an input event routed to a shard, carrying the bus message so
// the shard worker can ack it only once every output is published.
type job struct {
	event common.Event
	ts    uint64
	msg   bus.Message
}

// Router owns one EngineShard per shard id, dispatches input events by
// market_id-mod-shard_count, and runs each shard on its own goroutine
// under a supervising tomb, the same pattern the teacher's TCP server
// uses for its worker pool.
type Router struct {
	settings  config.Settings
	bus       bus.Bus
	shards    []*shard.EngineShard
	senders   []chan job
	snapPaths []string
}

// New constructs a shard per settings.ShardCount: opens each shard's
// WAL, restores it from its on-disk snapshot if one exists, and
// replays any WAL records written after that snapshot so a restart
// picks up exactly where the process left off.
func New(settings config.Settings, b bus.Bus) (*Router, error) {
	r := &Router{settings: settings, bus: b}
	for shardId := 0; shardId < settings.ShardCount; shardId++ {
		shardMarkets := marketsForShard(settings.Markets, shardId, settings.ShardCount)

		walPath := fmt.Sprintf("%s.shard%d", settings.Persistence.WalPath, shardId)
		records, err := wal.Load(walPath)
		if err != nil {
			return nil, fmt.Errorf("router: load wal %s: %w", walPath, err)
		}
		w, err := wal.Open(walPath)
		if err != nil {
			return nil, err
		}

		riskEngine := risk.New()

		snapPath := filepath.Join(fmt.Sprintf("%s.shard%d", settings.Persistence.SnapshotPath, shardId))
		sh, err := loadOrNewShard(uint64(shardId), shardMarkets, w, riskEngine, snapPath, records)
		if err != nil {
			return nil, err
		}

		r.shards = append(r.shards, sh)
		r.senders = append(r.senders, make(chan job, 1024))
		r.snapPaths = append(r.snapPaths, snapPath)
	}
	return r, nil
}

func marketsForShard(markets []config.MarketConfig, shardId, shardCount int) []config.MarketConfig {
	var out []config.MarketConfig
	for _, m := range markets {
		if int(m.MarketId)%shardCount == shardId {
			out = append(out, m)
		}
	}
	return out
}

// loadOrNewShard restores from the shard's snapshot (if any), then
// replays every WAL input record with engine_seq beyond the
// snapshot's last_seq. Output records (acks, fills, deltas) are
// skipped: HandleEvent regenerates them deterministically from the
// inputs, and replaying them directly would double-count engine_seq.
//
// HandleEvent unconditionally appends to w as it replays, so the WAL
// is truncated first and rewritten fresh by the replay itself: w ends
// up holding exactly one copy of the tail it started with, instead of
// growing a duplicate copy on every restart. Every replayed record is
// already held in memory in records before the truncate, so nothing
// is lost by clearing the file first.
func loadOrNewShard(shardId common.ShardId, markets []config.MarketConfig, w *wal.Wal, riskEngine *risk.Engine, snapPath string, records []common.EventEnvelope) (*shard.EngineShard, error) {
	state, ok, err := snapshotLoad(snapPath)
	if err != nil {
		return nil, err
	}

	var sh *shard.EngineShard
	var lastSeq uint64
	if !ok {
		sh, err = shard.New(shardId, markets, w, riskEngine)
	} else {
		sh, err = shard.Restore(state, markets, w, riskEngine)
		lastSeq = state.EngineSeq
	}
	if err != nil {
		return nil, err
	}

	var toReplay []common.EventEnvelope
	for _, rec := range records {
		if rec.EngineSeq > lastSeq && isInputKind(rec.Event.Kind) {
			toReplay = append(toReplay, rec)
		}
	}
	if len(toReplay) == 0 {
		return sh, nil
	}

	if err := w.Truncate(); err != nil {
		return nil, fmt.Errorf("router: truncate wal before replay for shard %d: %w", shardId, err)
	}
	for _, rec := range toReplay {
		if _, err := sh.HandleEvent(rec.Event, rec.Ts); err != nil {
			return nil, fmt.Errorf("router: replay wal for shard %d: %w", shardId, err)
		}
	}
	return sh, nil
}

func isInputKind(kind common.EventKind) bool {
	switch kind {
	case common.EventNewOrder, common.EventCancelOrder, common.EventPriceUpdate, common.EventFundingUpdate:
		return true
	default:
		return false
	}
}

// Run starts every shard worker and the bus subscription loop under a
// single tomb; it blocks until ctx is canceled or a fatal error occurs.
func (r *Router) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	for i, sh := range r.shards {
		shardId, shard, sender := i, sh, r.senders[i]
		t.Go(func() error {
			r.runShardWorker(ctx, shardId, shard, sender)
			return nil
		})
	}

	t.Go(func() error {
		return r.runSubscriber(ctx)
	})

	if r.settings.SnapshotIntervalSecs > 0 {
		t.Go(func() error {
			r.runSnapshotLoop(ctx)
			return nil
		})
	}

	log.Info().Int("shard_count", len(r.shards)).Msg("router running")
	return t.Wait()
}

// runSnapshotLoop periodically persists every shard's state to disk
// and, only once that snapshot is durably written, truncates the
// shard's WAL: the snapshot must hit disk before the log backing it is
// cleared, or a crash between the two would lose everything the log
// held.
func (r *Router) runSnapshotLoop(ctx context.Context) {
	interval := time.Duration(r.settings.SnapshotIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, sh := range r.shards {
				if err := r.snapshotShard(uint64(i), sh, r.snapPaths[i]); err != nil {
					log.Error().Err(err).Int("shard_id", i).Msg("periodic snapshot failed")
				}
			}
		}
	}
}

func (r *Router) snapshotShard(shardId uint64, sh *shard.EngineShard, path string) error {
	state := sh.Snapshot()
	snap, err := snapshot.Build(shardId, state.EngineSeq, state)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	if err := snapshot.Save(path, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := sh.TruncateWAL(); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	log.Info().Uint64("shard_id", shardId).Uint64("engine_seq", state.EngineSeq).Msg("snapshot written, wal truncated")
	return nil
}

func (r *Router) runShardWorker(ctx context.Context, shardId int, sh *shard.EngineShard, jobs <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			outputs, err := sh.HandleEvent(j.event, j.ts)
			if err != nil {
				log.Error().Err(err).Int("shard_id", shardId).Msg("handle_event failed, leaving unacked")
				continue
			}
			published := true
			for _, out := range outputs {
				payload, err := wire.Marshal(&out)
				if err != nil {
					log.Error().Err(err).Msg("failed to encode output event")
					published = false
					continue
				}
				if err := r.bus.Publish(ctx, r.settings.Bus.OutputSubject, payload); err != nil {
					log.Error().Err(err).Msg("failed to publish output event")
					published = false
				}
			}
			if !published {
				log.Error().Int("shard_id", shardId).Msg("not every output was published, leaving unacked")
				continue
			}
			if err := j.msg.Ack(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to ack input message")
			}
		}
	}
}

func (r *Router) runSubscriber(ctx context.Context) error {
	messages, err := r.bus.Subscribe(ctx, r.settings.Bus.InputSubject)
	if err != nil {
		return err
	}
	shardCount := len(r.shards)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				log.Info().Msg("router stopped")
				return nil
			}
			var envelope common.EventEnvelope
			if err := wire.Unmarshal(msg.Payload, &envelope); err != nil {
				log.Warn().Err(err).Msg("failed to decode input event")
				_ = msg.Ack(ctx)
				continue
			}
			marketId, _ := common.MarketIdFor(envelope.Event)
			shardId := int(marketId) % shardCount
			select {
			case r.senders[shardId] <- job{event: envelope.Event, ts: envelope.Ts, msg: msg}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
