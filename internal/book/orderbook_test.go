package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func restingAsk(b *OrderBook, orderId common.OrderId, price common.PriceTicks, qty common.Quantity, seq uint64) {
	b.PlaceOrder(IncomingOrder{
		OrderId:    orderId,
		Side:       common.Sell,
		OrderType:  common.Limit,
		Tif:        common.Gtc,
		PriceTicks: price,
		Qty:        qty,
		IngressSeq: seq,
	}, 1024)
}

// TestLimitMatchAtMakerPrice is spec scenario (1): a resting ask at
// 100/5 partially fills against an incoming Gtc buy at 105/3, trading
// at the maker's price.
func TestLimitMatchAtMakerPrice(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 5, 1)

	fills, restingId := b.PlaceOrder(IncomingOrder{
		OrderId:    2,
		Side:       common.Buy,
		OrderType:  common.Limit,
		Tif:        common.Gtc,
		PriceTicks: 105,
		Qty:        3,
		IngressSeq: 2,
	}, 1024)

	require.Len(t, fills, 1)
	assert.Equal(t, common.Fill{MakerOrderId: 1, TakerOrderId: 2, PriceTicks: 100, Qty: 3}, fills[0])
	assert.Nil(t, restingId)

	snap := b.Snapshot(10)
	assert.Equal(t, []common.BookLevel{{PriceTicks: 100, Qty: 2}}, snap.Asks)
	assert.Empty(t, snap.Bids)
}

// TestFIFOWithinLevel is spec scenario (2): two resting asks at the
// same price fill in arrival order against an Ioc taker.
func TestFIFOWithinLevel(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 2, 1)
	restingAsk(b, 2, 100, 2, 2)

	fills, restingId := b.PlaceOrder(IncomingOrder{
		OrderId:    3,
		Side:       common.Buy,
		OrderType:  common.Limit,
		Tif:        common.TifIoc,
		PriceTicks: 100,
		Qty:        3,
		IngressSeq: 3,
	}, 1024)

	require.Len(t, fills, 2)
	assert.Equal(t, common.OrderId(1), fills[0].MakerOrderId)
	assert.Equal(t, common.Quantity(2), fills[0].Qty)
	assert.Equal(t, common.OrderId(2), fills[1].MakerOrderId)
	assert.Equal(t, common.Quantity(1), fills[1].Qty)
	assert.Nil(t, restingId)

	snap := b.Snapshot(10)
	assert.Equal(t, []common.BookLevel{{PriceTicks: 100, Qty: 1}}, snap.Asks)
}

// TestIocNeverRests is spec scenario (3).
func TestIocNeverRests(t *testing.T) {
	b := New()
	fills, restingId := b.PlaceOrder(IncomingOrder{
		OrderId:    1,
		Side:       common.Buy,
		OrderType:  common.Limit,
		Tif:        common.TifIoc,
		PriceTicks: 100,
		Qty:        5,
		IngressSeq: 1,
	}, 1024)

	assert.Empty(t, fills)
	assert.Nil(t, restingId)
	snap := b.Snapshot(10)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

// TestFokRequiresFullFill is spec scenario (4).
func TestFokRequiresFullFill(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 2, 1)

	fills, restingId := b.PlaceOrder(IncomingOrder{
		OrderId:    2,
		Side:       common.Buy,
		OrderType:  common.Limit,
		Tif:        common.TifFok,
		PriceTicks: 100,
		Qty:        5,
		IngressSeq: 2,
	}, 1024)

	assert.Empty(t, fills)
	assert.Nil(t, restingId)
	snap := b.Snapshot(10)
	assert.Equal(t, []common.BookLevel{{PriceTicks: 100, Qty: 2}}, snap.Asks)
}

// TestPostOnlyRejectsCross is spec scenario (5): would_cross must be
// checked by the caller before sequencing; the book itself just
// reports whether it would cross.
func TestPostOnlyRejectsCross(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 5, 1)

	assert.True(t, b.WouldCross(common.Buy, 110))
	assert.False(t, b.WouldCross(common.Buy, 99))
}

func TestCancel(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 5, 1)

	assert.True(t, b.HasOrder(1))
	assert.True(t, b.Cancel(1))
	assert.False(t, b.HasOrder(1))
	assert.False(t, b.Cancel(1))
	assert.Empty(t, b.Snapshot(10).Asks)
}

func TestMarketOrderCrossesAnyPrice(t *testing.T) {
	b := New()
	restingAsk(b, 1, 150, 5, 1)

	fills, restingId := b.PlaceOrder(IncomingOrder{
		OrderId:    2,
		Side:       common.Buy,
		OrderType:  common.Market,
		Tif:        common.Gtc,
		Qty:        5,
		IngressSeq: 2,
	}, 1024)

	require.Len(t, fills, 1)
	assert.Equal(t, common.PriceTicks(150), fills[0].PriceTicks)
	assert.Nil(t, restingId)
}

// TestLevelTotalQtyInvariant is spec invariant 1: total_qty at a level
// always equals the sum of remaining over its resting orders.
func TestLevelTotalQtyInvariant(t *testing.T) {
	b := New()
	restingAsk(b, 1, 100, 3, 1)
	restingAsk(b, 2, 100, 4, 2)

	views := b.OrderViews()
	var sum common.Quantity
	for _, v := range views {
		sum += v.Remaining
	}
	snap := b.Snapshot(10)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, sum, snap.Asks[0].Qty)
}
