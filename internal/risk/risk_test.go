package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fenrir/internal/common"
	"fenrir/internal/config"
)

func testMarket() config.MarketConfig {
	return config.MarketConfig{
		MarketId:         1,
		InitialMarginBps: 1000, // 10%
		MaxPosition:      100,
		PriceBandBps:     500, // 5%
	}
}

func TestValidateOrderPriceBand(t *testing.T) {
	e := New()
	e.UpdateMark(1, 100)
	market := testMarket()
	e.EnsureSubaccount(1).Collateral = 1_000_000

	err := e.ValidateOrder(market, 1, common.Buy, common.Limit, 106, 1, false)
	assert.ErrorIs(t, err, ErrPriceBand)

	err = e.ValidateOrder(market, 1, common.Buy, common.Limit, 104, 1, false)
	assert.NoError(t, err)
}

func TestValidateOrderSkipsPriceBandForMarket(t *testing.T) {
	e := New()
	e.UpdateMark(1, 100)
	market := testMarket()
	e.EnsureSubaccount(1).Collateral = 1_000_000

	err := e.ValidateOrder(market, 1, common.Buy, common.Market, 500, 1, false)
	assert.NoError(t, err)
}

func TestValidateOrderMaxPosition(t *testing.T) {
	e := New()
	e.UpdateMark(1, 100)
	market := testMarket()
	acc := e.EnsureSubaccount(1)
	acc.Collateral = 1_000_000
	acc.Positions[1] = &Position{Size: 95, EntryPrice: 100}

	err := e.ValidateOrder(market, 1, common.Buy, common.Limit, 100, 10, false)
	assert.ErrorIs(t, err, ErrMaxPosition)
}

func TestValidateOrderReduceOnly(t *testing.T) {
	e := New()
	e.UpdateMark(1, 100)
	market := testMarket()
	acc := e.EnsureSubaccount(1)
	acc.Collateral = 1_000_000
	acc.Positions[1] = &Position{Size: 10, EntryPrice: 100}

	// Adding to a long position under reduce-only is rejected.
	err := e.ValidateOrder(market, 1, common.Buy, common.Limit, 100, 5, true)
	assert.ErrorIs(t, err, ErrReduceOnly)

	// Reducing it is fine.
	err = e.ValidateOrder(market, 1, common.Sell, common.Limit, 100, 5, true)
	assert.NoError(t, err)
}

func TestValidateOrderInsufficientMargin(t *testing.T) {
	e := New()
	e.UpdateMark(1, 100)
	market := testMarket()
	acc := e.EnsureSubaccount(1)
	acc.Collateral = 1 // far too little for a 10%-margin order

	err := e.ValidateOrder(market, 1, common.Buy, common.Limit, 100, 50, false)
	assert.ErrorIs(t, err, ErrInsufficientMargin)
}

// TestApplyFillOverwritesEntryPrice documents the preserved "bug":
// entry_price is reset to the latest fill price rather than averaged.
func TestApplyFillOverwritesEntryPrice(t *testing.T) {
	e := New()
	market := testMarket()

	e.ApplyFill(market, 1, common.Buy, 100, 10, 0)
	e.ApplyFill(market, 1, common.Buy, 200, 10, 0)

	pos := e.Subaccounts[1].Positions[1]
	assert.Equal(t, int64(20), pos.Size)
	assert.Equal(t, common.PriceTicks(200), pos.EntryPrice)
}

func TestApplyFillDeductsFeeFromCollateral(t *testing.T) {
	e := New()
	market := testMarket()
	acc := e.EnsureSubaccount(1)
	acc.Collateral = 100

	e.ApplyFill(market, 1, common.Buy, 100, 10, 7)
	assert.Equal(t, int64(93), acc.Collateral)
}

func TestEquityIncludesUnrealizedPnl(t *testing.T) {
	e := New()
	market := testMarket()
	e.UpdateMark(market.MarketId, 110)
	e.ApplyFill(market, 1, common.Buy, 100, 10, 0)

	// size=10, entry=100, mark=110 -> unrealized pnl = 10*(110-100) = 100
	assert.Equal(t, int64(100), e.Equity(1))
}

func TestNotionalMarginBpsDoesNotOverflow(t *testing.T) {
	// notional*bps would overflow a 64-bit multiply for large enough
	// inputs; the 128-bit intermediate must still divide cleanly.
	got := notionalMarginBps(1<<62, 10_000)
	assert.Equal(t, uint64(1<<62), got)
}
