// Package risk implements per-subaccount margin and position
// bookkeeping: order-time validation (price band, reduce-only,
// max-position, initial margin) and post-fill position updates.
package risk

import (
	"errors"
	"math/bits"

	"fenrir/internal/common"
	"fenrir/internal/config"
)

var (
	ErrPriceBand          = errors.New("price band violation")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrReduceOnly         = errors.New("reduce-only violation")
	ErrMaxPosition        = errors.New("max position exceeded")
)

// Position is a subaccount's exposure to one market.
//
// NOTE: entry_price is overwritten on every fill rather than
// recomputed as a size-weighted average. This mirrors the original
// engine's behavior exactly; it is a known inaccuracy for partial
// fills at different prices, preserved rather than silently fixed.
type Position struct {
	Size         int64
	EntryPrice   common.PriceTicks
	FundingIndex int64
}

type Subaccount struct {
	Collateral  int64
	Positions   map[common.MarketId]*Position
	CrossMargin bool
}

func newSubaccount() *Subaccount {
	return &Subaccount{Positions: make(map[common.MarketId]*Position)}
}

// Engine holds the risk state for every subaccount plus the mark
// prices and funding indices the book feeds it out of band. Every
// risk parameter that bounds an order (price band, max position,
// initial margin) lives on the per-market config instead of here,
// since spec.md scopes risk limits per market rather than globally.
type Engine struct {
	Subaccounts    map[common.SubaccountId]*Subaccount
	MarkPrices     map[common.MarketId]common.PriceTicks
	FundingIndices map[common.MarketId]int64
}

func New() *Engine {
	return &Engine{
		Subaccounts:    make(map[common.SubaccountId]*Subaccount),
		MarkPrices:     make(map[common.MarketId]common.PriceTicks),
		FundingIndices: make(map[common.MarketId]int64),
	}
}

func (e *Engine) UpdateMark(marketId common.MarketId, mark common.PriceTicks) {
	e.MarkPrices[marketId] = mark
}

func (e *Engine) UpdateFunding(marketId common.MarketId, index int64) {
	e.FundingIndices[marketId] = index
}

func (e *Engine) EnsureSubaccount(id common.SubaccountId) *Subaccount {
	acc, ok := e.Subaccounts[id]
	if !ok {
		acc = newSubaccount()
		e.Subaccounts[id] = acc
	}
	return acc
}

// ValidateOrder runs the full order-time risk checklist: price band
// (skipped for Market orders), reduce-only, max position, then
// initial margin computed against current equity.
func (e *Engine) ValidateOrder(
	market config.MarketConfig,
	subaccountId common.SubaccountId,
	side common.Side,
	orderType common.OrderType,
	priceTicks common.PriceTicks,
	qty common.Quantity,
	reduceOnly bool,
) error {
	mark, ok := e.MarkPrices[market.MarketId]
	if !ok {
		mark = priceTicks
	}
	if orderType != common.Market {
		band := market.PriceBandBps
		width := mark * band / 10_000
		var lower common.PriceTicks
		if width < mark { // saturating subtraction: a band of 100% or more floors lower at 0
			lower = mark - width
		}
		upper := mark + width
		if priceTicks < lower || priceTicks > upper {
			return ErrPriceBand
		}
	}

	var position int64
	if acc, ok := e.Subaccounts[subaccountId]; ok {
		if pos, ok := acc.Positions[market.MarketId]; ok {
			position = pos.Size
		}
	}
	delta := int64(qty)
	if side == common.Sell {
		delta = -delta
	}
	projected := position + delta
	if reduceOnly && abs64(projected) > abs64(position) {
		return ErrReduceOnly
	}
	if abs64(projected) > market.MaxPosition {
		return ErrMaxPosition
	}

	equity := e.Equity(subaccountId)
	notional := priceTicks * uint64(qty)
	imRequired := int64(notionalMarginBps(notional, market.InitialMarginBps))
	if equity < imRequired {
		return ErrInsufficientMargin
	}
	return nil
}

// ApplyFill updates the subaccount's position and collateral after a
// fill. entry_price is set to the fill price unconditionally, per the
// preserved behavior documented on Position.
func (e *Engine) ApplyFill(
	market config.MarketConfig,
	subaccountId common.SubaccountId,
	side common.Side,
	priceTicks common.PriceTicks,
	qty common.Quantity,
	fee int64,
) {
	acc := e.EnsureSubaccount(subaccountId)
	pos, ok := acc.Positions[market.MarketId]
	if !ok {
		pos = &Position{EntryPrice: priceTicks}
		acc.Positions[market.MarketId] = pos
	}
	delta := int64(qty)
	if side == common.Sell {
		delta = -delta
	}
	newSize := pos.Size + delta
	pos.EntryPrice = priceTicks
	if newSize == 0 {
		pos.Size = 0
	} else {
		pos.Size = newSize
	}
	acc.Collateral -= fee
}

// Equity is collateral plus unrealized PnL across every open position.
func (e *Engine) Equity(subaccountId common.SubaccountId) int64 {
	acc, ok := e.Subaccounts[subaccountId]
	if !ok {
		return 0
	}
	equity := acc.Collateral
	for marketId, pos := range acc.Positions {
		mark, ok := e.MarkPrices[marketId]
		if !ok {
			mark = pos.EntryPrice
		}
		pnl := int64(pos.Size) * (int64(mark) - int64(pos.EntryPrice))
		equity += pnl
	}
	return equity
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// notionalMarginBps computes notional*bps/10_000 at 128-bit precision,
// mirroring the original's u128 intermediate: notional*bps overflows
// 64 bits well within realistic position sizes.
func notionalMarginBps(notional, bps uint64) uint64 {
	hi, lo := bits.Mul64(notional, bps)
	quo, _ := bits.Div64(hi, lo, 10_000)
	return quo
}
