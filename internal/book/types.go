package book

import "fenrir/internal/common"

// IncomingOrder is the matching primitive's input: an order plus the
// ingress sequence the owning shard stamped on arrival, which breaks
// FIFO ties for orders resting at the same price.
type IncomingOrder struct {
	OrderId      common.OrderId
	SubaccountId common.SubaccountId
	Side         common.Side
	OrderType    common.OrderType
	Tif          common.TimeInForce
	PriceTicks   common.PriceTicks
	Qty          common.Quantity
	ReduceOnly   bool
	IngressSeq   uint64
}

// OrderView is a flattened resting order, used for state snapshotting.
type OrderView struct {
	OrderId      common.OrderId
	SubaccountId common.SubaccountId
	Side         common.Side
	PriceTicks   common.PriceTicks
	Remaining    common.Quantity
	IngressSeq   uint64
}

// Snapshot is the depth-capped top of book on each side, best first.
type Snapshot struct {
	Bids []common.BookLevel
	Asks []common.BookLevel
}

func opposite(s common.Side) common.Side {
	if s == common.Buy {
		return common.Sell
	}
	return common.Buy
}
