package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

func TestClearEmptyPending(t *testing.T) {
	var a Auction
	result, fills, resting, dropped := a.Clear(100)
	assert.Equal(t, ClearingResult{Price: 100, Volume: 0}, result)
	assert.Empty(t, fills)
	assert.Empty(t, resting)
	assert.Empty(t, dropped)
}

// TestUniformPriceClearing is spec scenario (7): the candidate maximizing
// traded volume wins regardless of how close it sits to the mark price,
// since volume dominates the tie-break chain.
func TestUniformPriceClearing(t *testing.T) {
	var a Auction
	a.Push(book.IncomingOrder{OrderId: 1, Side: common.Buy, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 101, Qty: 5, IngressSeq: 1})
	a.Push(book.IncomingOrder{OrderId: 2, Side: common.Buy, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 100, Qty: 5, IngressSeq: 2})
	a.Push(book.IncomingOrder{OrderId: 3, Side: common.Sell, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 99, Qty: 4, IngressSeq: 3})
	a.Push(book.IncomingOrder{OrderId: 4, Side: common.Sell, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 101, Qty: 6, IngressSeq: 4})

	result, fills, resting, dropped := a.Clear(100)

	assert.Equal(t, common.PriceTicks(101), result.Price)
	assert.Equal(t, common.Quantity(5), result.Volume)

	require.Len(t, fills, 2)
	assert.Equal(t, common.Fill{MakerOrderId: 3, TakerOrderId: 1, PriceTicks: 101, Qty: 4}, fills[0])
	assert.Equal(t, common.Fill{MakerOrderId: 4, TakerOrderId: 1, PriceTicks: 101, Qty: 1}, fills[1])

	// Resting quantities are returned verbatim, not reduced by the fills
	// just distributed: the shard carries residuals back to the book.
	require.Len(t, resting, 4)
	byId := make(map[common.OrderId]book.IncomingOrder, len(resting))
	for _, o := range resting {
		byId[o.OrderId] = o
	}
	assert.Equal(t, common.Quantity(5), byId[1].Qty)
	assert.Equal(t, common.Quantity(5), byId[2].Qty)
	assert.Equal(t, common.Quantity(4), byId[3].Qty)
	assert.Equal(t, common.Quantity(6), byId[4].Qty)
	assert.Empty(t, dropped)
}

func TestClearDropsMarketAndNonGtcResidual(t *testing.T) {
	var a Auction
	a.Push(book.IncomingOrder{OrderId: 1, Side: common.Buy, OrderType: common.Market, Tif: common.TifIoc, Qty: 3, IngressSeq: 1})
	a.Push(book.IncomingOrder{OrderId: 2, Side: common.Sell, OrderType: common.Limit, Tif: common.TifIoc, PriceTicks: 100, Qty: 1, IngressSeq: 2})
	a.Push(book.IncomingOrder{OrderId: 3, Side: common.Sell, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 100, Qty: 5, IngressSeq: 3})

	_, fills, resting, dropped := a.Clear(100)

	require.Len(t, fills, 2)
	require.Len(t, resting, 1)
	assert.Equal(t, common.OrderId(3), resting[0].OrderId)
	require.Len(t, dropped, 2)
}

func TestClearPicksCandidateClosestToMarkOnVolumeTie(t *testing.T) {
	var a Auction
	// Both 100 and 101 clear the same volume (2); 100 is closer to mark.
	a.Push(book.IncomingOrder{OrderId: 1, Side: common.Buy, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 101, Qty: 2, IngressSeq: 1})
	a.Push(book.IncomingOrder{OrderId: 2, Side: common.Sell, OrderType: common.Limit, Tif: common.Gtc, PriceTicks: 100, Qty: 2, IngressSeq: 2})

	result, _, _, _ := a.Clear(100)
	assert.Equal(t, common.PriceTicks(100), result.Price)
	assert.Equal(t, common.Quantity(2), result.Volume)
}
