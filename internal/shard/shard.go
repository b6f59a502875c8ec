// Package shard implements EngineShard, the single-threaded unit of
// matching state: one goroutine per shard owns a set of markets, a
// risk engine, and a WAL, and processes events strictly in arrival
// order so replay is deterministic.
package shard

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"fenrir/internal/batch"
	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/metrics"
	"fenrir/internal/risk"
	"fenrir/internal/wal"
)

const dedupeSize = 10_000

// OrderSnapshot is a flattened resting order, the unit EngineState
// persists per market.
type OrderSnapshot struct {
	OrderId      common.OrderId
	SubaccountId common.SubaccountId
	Side         common.Side
	PriceTicks   common.PriceTicks
	Remaining    common.Quantity
	IngressSeq   uint64
}

// EngineState is everything needed to resume a shard exactly where it
// left off: its sequence counters, the resting orders of every market,
// and the risk engine's subaccount ledger.
type EngineState struct {
	ShardId        common.ShardId
	EngineSeq      uint64
	NextOrderId    common.OrderId
	Orderbooks     map[common.MarketId][]OrderSnapshot
	Subaccounts    map[common.SubaccountId]*risk.Subaccount
	MarkPrices     map[common.MarketId]common.PriceTicks
	FundingIndices map[common.MarketId]int64
}

type marketState struct {
	config     config.MarketConfig
	book       *book.OrderBook
	batch      batch.Auction
	openOrders map[common.SubaccountId]int
}

// owner records who a resting order belongs to, for risk bookkeeping
// at fill time without a lookup back through the book.
type owner struct {
	subaccountId common.SubaccountId
	side         common.Side
}

// EngineShard is a single shard's full state. It is owned by exactly
// one goroutine; nothing here is safe for concurrent access.
type EngineShard struct {
	ShardId     common.ShardId
	EngineSeq   uint64
	NextOrderId common.OrderId

	markets map[common.MarketId]*marketState
	risk    *risk.Engine
	wal     *wal.Wal
	dedupe  *lru.Cache[string, struct{}]
	owners  map[common.OrderId]owner
}

// New builds a shard for the given markets, backed by wal, starting
// empty. Each market's mark price seeds from its tick size, matching
// the original bootstrap behavior until the first real PriceUpdate.
func New(shardId common.ShardId, markets []config.MarketConfig, w *wal.Wal, riskEngine *risk.Engine) (*EngineShard, error) {
	dedupe, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, err
	}
	ms := make(map[common.MarketId]*marketState, len(markets))
	for _, m := range markets {
		riskEngine.UpdateMark(m.MarketId, m.TickSize)
		ms[m.MarketId] = &marketState{config: m, book: book.New(), openOrders: make(map[common.SubaccountId]int)}
	}
	return &EngineShard{
		ShardId:     shardId,
		NextOrderId: 1,
		markets:     ms,
		risk:        riskEngine,
		wal:         w,
		dedupe:      dedupe,
		owners:      make(map[common.OrderId]owner),
	}, nil
}

// TruncateWAL drops the shard's WAL back to zero length. Safe to call
// once a snapshot durably captures everything the WAL would replay.
func (s *EngineShard) TruncateWAL() error {
	return s.wal.Truncate()
}

// Snapshot captures the shard's full state for persistence.
func (s *EngineShard) Snapshot() EngineState {
	books := make(map[common.MarketId][]OrderSnapshot, len(s.markets))
	for marketId, ms := range s.markets {
		views := ms.book.OrderViews()
		orders := make([]OrderSnapshot, len(views))
		for i, v := range views {
			orders[i] = OrderSnapshot{
				OrderId:      v.OrderId,
				SubaccountId: v.SubaccountId,
				Side:         v.Side,
				PriceTicks:   v.PriceTicks,
				Remaining:    v.Remaining,
				IngressSeq:   v.IngressSeq,
			}
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].IngressSeq < orders[j].IngressSeq })
		books[marketId] = orders
	}
	return EngineState{
		ShardId:        s.ShardId,
		EngineSeq:      s.EngineSeq,
		NextOrderId:    s.NextOrderId,
		Orderbooks:     books,
		Subaccounts:    s.risk.Subaccounts,
		MarkPrices:     s.risk.MarkPrices,
		FundingIndices: s.risk.FundingIndices,
	}
}

// Restore rebuilds a shard from a prior Snapshot, re-inserting every
// resting order as a zero-match GTC limit so the book's FIFO ordering
// is reconstructed exactly from ingress_seq.
func Restore(state EngineState, markets []config.MarketConfig, w *wal.Wal, riskEngine *risk.Engine) (*EngineShard, error) {
	shard, err := New(state.ShardId, markets, w, riskEngine)
	if err != nil {
		return nil, err
	}
	shard.EngineSeq = state.EngineSeq
	shard.NextOrderId = state.NextOrderId
	if state.Subaccounts != nil {
		shard.risk.Subaccounts = state.Subaccounts
	}
	if state.MarkPrices != nil {
		shard.risk.MarkPrices = state.MarkPrices
	}
	if state.FundingIndices != nil {
		shard.risk.FundingIndices = state.FundingIndices
	}
	for marketId, orders := range state.Orderbooks {
		ms, ok := shard.markets[marketId]
		if !ok {
			continue
		}
		for _, o := range orders {
			incoming := book.IncomingOrder{
				OrderId:      o.OrderId,
				SubaccountId: o.SubaccountId,
				Side:         o.Side,
				OrderType:    common.Limit,
				Tif:          common.Gtc,
				PriceTicks:   o.PriceTicks,
				Qty:          o.Remaining,
				IngressSeq:   o.IngressSeq,
			}
			ms.book.PlaceOrder(incoming, 0)
			shard.owners[o.OrderId] = owner{subaccountId: o.SubaccountId, side: o.Side}
			ms.openOrders[o.SubaccountId]++
		}
	}
	return shard, nil
}

// HandleEvent advances engine_seq, writes the input to the WAL, then
// dispatches and writes every produced output to the WAL before
// returning it for publication. The WAL-before-and-after discipline
// means a crash between the two writes leaves the input durable even
// if its outputs are not, which replay recomputes deterministically.
func (s *EngineShard) HandleEvent(event common.Event, ts uint64) ([]common.EventEnvelope, error) {
	s.EngineSeq++
	input := common.EventEnvelope{ShardId: s.ShardId, EngineSeq: s.EngineSeq, Event: event, Ts: ts}
	if err := s.wal.Append(&input); err != nil {
		return nil, err
	}

	var outputs []common.EventEnvelope
	switch event.Kind {
	case common.EventNewOrder:
		outputs = s.onNewOrder(event.NewOrder, ts)
	case common.EventCancelOrder:
		outputs = s.onCancel(event.CancelOrder, ts)
	case common.EventPriceUpdate:
		s.risk.UpdateMark(event.PriceUpdate.MarketId, event.PriceUpdate.MarkPrice)
	case common.EventFundingUpdate:
		s.risk.UpdateFunding(event.FundingUpdate.MarketId, event.FundingUpdate.FundingIndex)
	}

	for i := range outputs {
		if err := s.wal.Append(&outputs[i]); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

func (s *EngineShard) onNewOrder(order common.NewOrder, ts uint64) []common.EventEnvelope {
	if _, seen := s.dedupe.Get(order.RequestId); seen {
		return nil
	}
	s.dedupe.Add(order.RequestId, struct{}{})

	ms, ok := s.markets[order.MarketId]
	if !ok {
		metrics.OrdersRejected.WithLabelValues(common.ReasonUnknownMarket).Inc()
		return []common.EventEnvelope{s.reject(order.RequestId, common.ReasonUnknownMarket, ts)}
	}
	if reason, ok := s.validateOrder(order, ms); !ok {
		metrics.OrdersRejected.WithLabelValues(reason).Inc()
		return []common.EventEnvelope{s.reject(order.RequestId, reason, ts)}
	}
	metrics.OrdersAccepted.Inc()

	orderId := s.NextOrderId
	s.NextOrderId++
	s.owners[orderId] = owner{subaccountId: order.SubaccountId, side: order.Side}
	incoming := book.IncomingOrder{
		OrderId:      orderId,
		SubaccountId: order.SubaccountId,
		Side:         order.Side,
		OrderType:    order.OrderType,
		Tif:          order.Tif,
		PriceTicks:   order.PriceTicks,
		Qty:          order.Qty,
		ReduceOnly:   order.ReduceOnly,
		IngressSeq:   s.EngineSeq,
	}

	events := []common.EventEnvelope{{
		ShardId:   s.ShardId,
		EngineSeq: s.EngineSeq,
		Ts:        ts,
		Event: common.OrderAckEvent(common.OrderAck{
			RequestId:       order.RequestId,
			Status:          common.Accepted,
			AssignedOrderId: orderId,
			EngineSeq:       s.EngineSeq,
			Ts:              ts,
		}),
	}}

	switch ms.config.MatchingMode {
	case common.Continuous:
		fills, restingId := ms.book.PlaceOrder(incoming, 1024)
		events = append(events, s.emitFills(fills, ms, ts)...)
		s.releaseFilledMakers(fills, ms)
		if restingId != nil {
			ms.openOrders[order.SubaccountId]++
		} else {
			delete(s.owners, orderId)
		}
		events = append(events, s.emitBookDelta(order.MarketId, ms, ts))
	case common.Batch:
		ms.batch.Push(incoming)
	}

	log.Debug().Uint64("engine_seq", s.EngineSeq).Uint64("order_id", orderId).Msg("order accepted")
	return events
}

func (s *EngineShard) onCancel(cancel common.CancelOrder, ts uint64) []common.EventEnvelope {
	ms, ok := s.markets[cancel.MarketId]
	if !ok || cancel.OrderId == nil {
		return nil
	}
	if ms.book.Cancel(*cancel.OrderId) {
		if o, ok := s.owners[*cancel.OrderId]; ok {
			ms.openOrders[o.subaccountId]--
		}
		delete(s.owners, *cancel.OrderId)
		return []common.EventEnvelope{s.emitBookDelta(cancel.MarketId, ms, ts)}
	}
	return nil
}

// ClearBatch runs the periodic auction for marketId and returns the
// envelopes it produces, in the same way a continuous fill does: the
// shard stamps engine_seq/ts and runs fills through risk before the
// caller publishes them. HandleEvent never invokes it; the caller
// decides when a clear runs. Resting orders go back to the book with
// their filled quantity subtracted; fully filled ones are released.
func (s *EngineShard) ClearBatch(marketId common.MarketId, markPrice common.PriceTicks, ts uint64) []common.EventEnvelope {
	ms, ok := s.markets[marketId]
	if !ok {
		return nil
	}
	s.EngineSeq++
	_, fills, resting, dropped := ms.batch.Clear(markPrice)
	events := s.emitFills(fills, ms, ts)
	for _, o := range dropped {
		delete(s.owners, o.OrderId)
	}
	filled := make(map[common.OrderId]common.Quantity, len(fills))
	for _, f := range fills {
		filled[f.MakerOrderId] += f.Qty
		filled[f.TakerOrderId] += f.Qty
	}
	for _, o := range resting {
		o.Qty -= filled[o.OrderId]
		if o.Qty == 0 {
			delete(s.owners, o.OrderId)
			continue
		}
		if _, restingId := ms.book.PlaceOrder(o, 0); restingId != nil {
			ms.openOrders[o.SubaccountId]++
		}
	}
	events = append(events, s.emitBookDelta(marketId, ms, ts))
	return events
}

// wouldRest reports whether order, if it cannot fully match, goes on
// to rest in the book rather than being discarded.
func wouldRest(order common.NewOrder) bool {
	return order.Tif == common.Gtc && order.OrderType != common.Market
}

func (s *EngineShard) validateOrder(order common.NewOrder, ms *marketState) (string, bool) {
	if order.OrderType == common.PostOnly && ms.book.WouldCross(order.Side, order.PriceTicks) {
		return common.ReasonPostOnlyCrosses, false
	}
	if wouldRest(order) && ms.config.MaxOpenOrdersPerSubaccount > 0 &&
		ms.openOrders[order.SubaccountId] >= ms.config.MaxOpenOrdersPerSubaccount {
		return common.ReasonMaxOpenOrders, false
	}
	err := s.risk.ValidateOrder(ms.config, order.SubaccountId, order.Side, order.OrderType, order.PriceTicks, order.Qty, order.ReduceOnly)
	switch err {
	case nil:
		return "", true
	case risk.ErrPriceBand:
		return common.ReasonPriceBand, false
	case risk.ErrInsufficientMargin:
		return common.ReasonInsufficientMargin, false
	case risk.ErrReduceOnly:
		return common.ReasonReduceOnly, false
	case risk.ErrMaxPosition:
		return common.ReasonMaxPosition, false
	default:
		return err.Error(), false
	}
}

func (s *EngineShard) reject(requestId, reason string, ts uint64) common.EventEnvelope {
	return common.EventEnvelope{
		ShardId:   s.ShardId,
		EngineSeq: s.EngineSeq,
		Ts:        ts,
		Event: common.OrderAckEvent(common.OrderAck{
			RequestId:    requestId,
			Status:       common.Rejected,
			RejectReason: reason,
			EngineSeq:    s.EngineSeq,
			Ts:           ts,
		}),
	}
}

// emitFills stamps each fill with market/engine metadata and fees, and
// runs it through risk bookkeeping for both sides. It never mutates
// owner records or open-order counters: whether an order is still
// resting afterward differs between continuous matching (check the
// book immediately) and batch clearing (the order was never in the
// book to begin with), so callers handle that.
func (s *EngineShard) emitFills(fills []common.Fill, ms *marketState, ts uint64) []common.EventEnvelope {
	events := make([]common.EventEnvelope, 0, len(fills))
	for _, fill := range fills {
		fill.MarketId = ms.config.MarketId
		fill.EngineSeq = s.EngineSeq
		fill.Ts = ts
		fill.MakerFee = feeFor(fill.Qty, fill.PriceTicks, ms.config.MakerFeeBps)
		fill.TakerFee = feeFor(fill.Qty, fill.PriceTicks, ms.config.TakerFeeBps)
		metrics.FillsTotal.Inc()

		if o, ok := s.owners[fill.MakerOrderId]; ok {
			s.risk.ApplyFill(ms.config, o.subaccountId, o.side, fill.PriceTicks, fill.Qty, fill.MakerFee)
		}
		if o, ok := s.owners[fill.TakerOrderId]; ok {
			s.risk.ApplyFill(ms.config, o.subaccountId, o.side, fill.PriceTicks, fill.Qty, fill.TakerFee)
		}

		events = append(events, common.EventEnvelope{
			ShardId:   s.ShardId,
			EngineSeq: s.EngineSeq,
			Ts:        ts,
			Event:     common.FillEvent(fill),
		})
	}
	return events
}

// releaseFilledMakers drops the owner record and decrements the
// open-order counter for every maker a continuous match fully filled.
// Must run after PlaceOrder returns, once matching for this call has
// finished, so HasOrder reflects the final state rather than a
// mid-match one.
func (s *EngineShard) releaseFilledMakers(fills []common.Fill, ms *marketState) {
	for _, fill := range fills {
		if ms.book.HasOrder(fill.MakerOrderId) {
			continue
		}
		if o, ok := s.owners[fill.MakerOrderId]; ok {
			delete(s.owners, fill.MakerOrderId)
			ms.openOrders[o.subaccountId]--
		}
	}
}

func (s *EngineShard) emitBookDelta(marketId common.MarketId, ms *marketState, ts uint64) common.EventEnvelope {
	snap := ms.book.Snapshot(10)
	return common.EventEnvelope{
		ShardId:   s.ShardId,
		EngineSeq: s.EngineSeq,
		Ts:        ts,
		Event: common.BookDeltaEvent(common.BookDelta{
			MarketId:   marketId,
			BidsLevels: snap.Bids,
			AsksLevels: snap.Asks,
			EngineSeq:  s.EngineSeq,
			Ts:         ts,
		}),
	}
}

func feeFor(qty, priceTicks common.Quantity, feeBps int64) int64 {
	notional := int64(qty * priceTicks)
	return notional * feeBps / 10_000
}
