// Package book implements the price-ordered, time-ordered matching
// primitive: a pair of btree-indexed price levels, each an intrusive
// FIFO queue of arena-addressed order nodes.
package book

import (
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// levelEntry is the btree element: a price plus the level living at
// it. Only price participates in ordering.
type levelEntry struct {
	price common.PriceTicks
	lvl   *level
}

type levels = btree.BTreeG[*levelEntry]

// OrderBook is a single market's book: descending bids, ascending
// asks, an arena of resting order nodes, and an index from OrderId to
// arena handle.
//
// Invariant: for every resting OrderId in a level's list, the index
// maps to a live node whose price/side match the enclosing level, and
// level.totalQty equals the sum of remaining over its list.
type OrderBook struct {
	bids  *levels
	asks  *levels
	pool  arena
	index map[common.OrderId]int
}

func New() *OrderBook {
	return &OrderBook{
		bids:  btree.NewBTreeG(func(a, b *levelEntry) bool { return a.price > b.price }),
		asks:  btree.NewBTreeG(func(a, b *levelEntry) bool { return a.price < b.price }),
		index: make(map[common.OrderId]int),
	}
}

func (b *OrderBook) treeFor(side common.Side) *levels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) levelAt(side common.Side, price common.PriceTicks) (*level, bool) {
	tree := b.treeFor(side)
	entry, ok := tree.GetMut(&levelEntry{price: price})
	if !ok {
		return nil, false
	}
	return entry.lvl, true
}

func (b *OrderBook) bestLevel(side common.Side) (common.PriceTicks, *level, bool) {
	tree := b.treeFor(side)
	entry, ok := tree.MinMut()
	if !ok {
		return 0, nil, false
	}
	return entry.price, entry.lvl, true
}

func crosses(side common.Side, orderType common.OrderType, limitPrice, bestPrice common.PriceTicks) bool {
	if orderType == common.Market {
		return true
	}
	if side == common.Buy {
		return limitPrice >= bestPrice
	}
	return limitPrice <= bestPrice
}

// WouldCross reports whether a resting order at price on side would
// immediately cross the opposite side. Used by post-only pre-validation.
func (b *OrderBook) WouldCross(side common.Side, price common.PriceTicks) bool {
	bestPrice, _, ok := b.bestLevel(opposite(side))
	if !ok {
		return false
	}
	if side == common.Buy {
		return price >= bestPrice
	}
	return price <= bestPrice
}

func (b *OrderBook) availableQty(incoming IncomingOrder) common.Quantity {
	var available common.Quantity
	maker := opposite(incoming.Side)
	tree := b.treeFor(maker)
	tree.Scan(func(entry *levelEntry) bool {
		if !crosses(incoming.Side, incoming.OrderType, incoming.PriceTicks, entry.price) {
			return false
		}
		available += entry.lvl.totalQty
		return true
	})
	return available
}

// PlaceOrder matches incoming against the opposite side, best price
// first and FIFO within a price, stopping once remaining quantity
// hits zero or maxMatches trades have occurred. Any leftover quantity
// is then handled per TIF: Fok requires the fill to be fully
// demonstrable up-front or nothing happens at all; Ioc discards the
// remainder; Gtc rests unless it is a post-only that already crossed.
func (b *OrderBook) PlaceOrder(incoming IncomingOrder, maxMatches int) ([]common.Fill, *common.OrderId) {
	if incoming.Tif == common.TifFok {
		if b.availableQty(incoming) < incoming.Qty {
			return nil, nil
		}
	}

	var fills []common.Fill
	remaining := incoming.Qty
	matches := 0
	makerSide := opposite(incoming.Side)

	for remaining > 0 && matches < maxMatches {
		bestPrice, lvl, ok := b.bestLevel(makerSide)
		if !ok {
			break
		}
		if !crosses(incoming.Side, incoming.OrderType, incoming.PriceTicks, bestPrice) {
			break
		}
		headIdx := lvl.head
		if headIdx == noHandle {
			b.removeLevelIfEmpty(makerSide, bestPrice)
			continue
		}
		maker := b.pool.get(headIdx)

		tradeQty := remaining
		if maker.remaining < tradeQty {
			tradeQty = maker.remaining
		}
		remaining -= tradeQty
		maker.remaining -= tradeQty
		lvl.totalQty -= tradeQty
		matches++

		fills = append(fills, common.Fill{
			MakerOrderId: maker.orderId,
			TakerOrderId: incoming.OrderId,
			PriceTicks:   bestPrice,
			Qty:          tradeQty,
		})

		if maker.remaining == 0 {
			b.detachHead(makerSide, bestPrice, lvl, headIdx, maker)
		}
		if lvl.totalQty == 0 {
			b.removeLevelIfEmpty(makerSide, bestPrice)
		}
	}

	if remaining == 0 {
		return fills, nil
	}

	switch incoming.Tif {
	case common.TifIoc, common.TifFok:
		return fills, nil
	default: // Gtc
		if incoming.OrderType == common.PostOnly && len(fills) > 0 {
			return fills, nil
		}
		id := b.addResting(incoming, remaining)
		return fills, &id
	}
}

// detachHead removes the fully-filled node at a level's head and
// advances the level's head pointer to the next node.
func (b *OrderBook) detachHead(side common.Side, price common.PriceTicks, lvl *level, idx int, node *orderNode) {
	next := node.next
	lvl.head = next
	if next == noHandle {
		lvl.tail = noHandle
	} else {
		b.pool.get(next).prev = noHandle
	}
	delete(b.index, node.orderId)
	b.pool.release(idx)
}

func (b *OrderBook) removeLevelIfEmpty(side common.Side, price common.PriceTicks) {
	lvl, ok := b.levelAt(side, price)
	if ok && lvl.totalQty == 0 {
		b.treeFor(side).Delete(&levelEntry{price: price})
	}
}

func (b *OrderBook) addResting(incoming IncomingOrder, remaining common.Quantity) common.OrderId {
	tree := b.treeFor(incoming.Side)
	entry, ok := tree.GetMut(&levelEntry{price: incoming.PriceTicks})
	if !ok {
		entry = &levelEntry{price: incoming.PriceTicks, lvl: newLevel()}
		tree.Set(entry)
	}
	lvl := entry.lvl

	idx := b.pool.alloc(orderNode{
		orderId:      incoming.OrderId,
		subaccountId: incoming.SubaccountId,
		side:         incoming.Side,
		priceTicks:   incoming.PriceTicks,
		remaining:    remaining,
		ingressSeq:   incoming.IngressSeq,
		prev:         lvl.tail,
		next:         noHandle,
	})
	if lvl.tail != noHandle {
		b.pool.get(lvl.tail).next = idx
	}
	if lvl.head == noHandle {
		lvl.head = idx
	}
	lvl.tail = idx
	lvl.totalQty += remaining
	b.index[incoming.OrderId] = idx
	return incoming.OrderId
}

// Cancel removes a resting order from its level and the index.
// Returns false if the order is not resting.
func (b *OrderBook) Cancel(orderId common.OrderId) bool {
	idx, ok := b.index[orderId]
	if !ok {
		return false
	}
	node := b.pool.get(idx)
	lvl, ok := b.levelAt(node.side, node.priceTicks)
	if ok {
		if node.prev != noHandle {
			b.pool.get(node.prev).next = node.next
		} else {
			lvl.head = node.next
		}
		if node.next != noHandle {
			b.pool.get(node.next).prev = node.prev
		} else {
			lvl.tail = node.prev
		}
		lvl.totalQty -= node.remaining
		b.removeLevelIfEmpty(node.side, node.priceTicks)
	}
	delete(b.index, orderId)
	b.pool.release(idx)
	return true
}

// HasOrder reports whether orderId is still resting.
func (b *OrderBook) HasOrder(orderId common.OrderId) bool {
	_, ok := b.index[orderId]
	return ok
}

// Snapshot returns the top `depth` levels on each side, best first.
func (b *OrderBook) Snapshot(depth int) Snapshot {
	out := Snapshot{}
	collect := func(tree *levels, dst *[]common.BookLevel) {
		n := 0
		tree.Scan(func(entry *levelEntry) bool {
			if n >= depth {
				return false
			}
			*dst = append(*dst, common.BookLevel{PriceTicks: entry.price, Qty: entry.lvl.totalQty})
			n++
			return true
		})
	}
	collect(b.bids, &out.Bids)
	collect(b.asks, &out.Asks)
	return out
}

// OrderViews iterates every resting order, for state snapshotting.
func (b *OrderBook) OrderViews() []OrderView {
	out := make([]OrderView, 0, len(b.index))
	for id, idx := range b.index {
		node := b.pool.get(idx)
		out = append(out, OrderView{
			OrderId:      id,
			SubaccountId: node.subaccountId,
			Side:         node.side,
			PriceTicks:   node.priceTicks,
			Remaining:    node.remaining,
			IngressSeq:   node.ingressSeq,
		})
	}
	return out
}
