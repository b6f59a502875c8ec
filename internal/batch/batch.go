// Package batch implements the periodic uniform-price auction used by
// markets configured for batch matching instead of continuous
// matching: orders queue up between ticks and clear together at a
// single price chosen to maximize traded volume.
package batch

import (
	"sort"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

// ClearingResult is the chosen uniform price and the volume traded at it.
type ClearingResult struct {
	Price  common.PriceTicks
	Volume common.Quantity
}

// Auction accumulates orders for one market between clears.
type Auction struct {
	pending []book.IncomingOrder
}

func (a *Auction) Push(o book.IncomingOrder) {
	a.pending = append(a.pending, o)
}

func (a *Auction) Pending() int {
	return len(a.pending)
}

// Clear selects the clearing price with the most traded volume, then
// the least imbalance, then the smallest distance from markPrice, then
// the lowest price, and distributes fills FIFO by ingress sequence
// among buyers and sellers. Every GTC non-market order is returned in
// resting with its original quantity, filled or not; subtracting the
// fills is left to the caller. Market and non-GTC orders never rest;
// they are returned separately as dropped so the caller can release
// any bookkeeping it was holding for them.
func (a *Auction) Clear(markPrice common.PriceTicks) (result ClearingResult, fills []common.Fill, resting, dropped []book.IncomingOrder) {
	orders := a.pending
	a.pending = nil

	if len(orders) == 0 {
		return ClearingResult{Price: markPrice}, nil, nil, nil
	}

	candidates := make([]common.PriceTicks, 0, len(orders)+1)
	for _, o := range orders {
		if o.OrderType != common.Market {
			candidates = append(candidates, o.PriceTicks)
		}
	}
	candidates = append(candidates, markPrice)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	candidates = dedupSorted(candidates)

	best := ClearingResult{Price: markPrice}
	bestImbalance := ^common.Quantity(0)
	bestDistance := ^common.Quantity(0)

	for _, price := range candidates {
		buy, sell := demandSupply(orders, price)
		volume := min64(buy, sell)
		imbalance := max64(buy, sell) - volume
		var distance common.Quantity
		if price > markPrice {
			distance = price - markPrice
		} else {
			distance = markPrice - price
		}

		better := volume > best.Volume ||
			(volume == best.Volume && imbalance < bestImbalance) ||
			(volume == best.Volume && imbalance == bestImbalance && distance < bestDistance) ||
			(volume == best.Volume && imbalance == bestImbalance && distance == bestDistance && price < best.Price)

		if better {
			best = ClearingResult{Price: price, Volume: volume}
			bestImbalance = imbalance
			bestDistance = distance
		}
	}

	buyOrders := filterSide(orders, common.Buy)
	sellOrders := filterSide(orders, common.Sell)
	sort.Slice(buyOrders, func(i, j int) bool { return buyOrders[i].IngressSeq < buyOrders[j].IngressSeq })
	sort.Slice(sellOrders, func(i, j int) bool { return sellOrders[i].IngressSeq < sellOrders[j].IngressSeq })

	remainingBuys := best.Volume
	remainingSells := best.Volume

	for bi := range buyOrders {
		if remainingBuys == 0 {
			break
		}
		buy := &buyOrders[bi]
		tradable := min64(buy.Qty, remainingBuys)
		remainingBuys -= tradable
		for si := range sellOrders {
			if remainingSells == 0 || tradable == 0 {
				break
			}
			sell := &sellOrders[si]
			tradeQty := min64(min64(tradable, remainingSells), sell.Qty)
			if tradeQty == 0 {
				continue
			}
			sell.Qty -= tradeQty
			tradable -= tradeQty
			remainingSells -= tradeQty
			fills = append(fills, common.Fill{
				MakerOrderId: sell.OrderId,
				TakerOrderId: buy.OrderId,
				PriceTicks:   best.Price,
				Qty:          tradeQty,
			})
		}
	}

	for _, o := range orders {
		if o.Tif == common.Gtc && o.OrderType != common.Market {
			resting = append(resting, o)
		} else {
			dropped = append(dropped, o)
		}
	}

	return best, fills, resting, dropped
}

func demandSupply(orders []book.IncomingOrder, price common.PriceTicks) (common.Quantity, common.Quantity) {
	var buy, sell common.Quantity
	for _, o := range orders {
		switch o.Side {
		case common.Buy:
			if o.OrderType == common.Market || o.PriceTicks >= price {
				buy += o.Qty
			}
		case common.Sell:
			if o.OrderType == common.Market || o.PriceTicks <= price {
				sell += o.Qty
			}
		}
	}
	return buy, sell
}

func filterSide(orders []book.IncomingOrder, side common.Side) []book.IncomingOrder {
	out := make([]book.IncomingOrder, 0, len(orders))
	for _, o := range orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func dedupSorted(xs []common.PriceTicks) []common.PriceTicks {
	if len(xs) == 0 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func min64(a, b common.Quantity) common.Quantity {
	if a < b {
		return a
	}
	return b
}

func max64(a, b common.Quantity) common.Quantity {
	if a > b {
		return a
	}
	return b
}
