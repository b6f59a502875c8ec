// Package common holds the wire-level domain types shared by every
// subsystem of the matching engine: identifiers, enums, and the event
// envelope that flows between the bus, the router, and the shards.
package common

// MarketId, SubaccountId and OrderId are opaque 64-bit handles assigned
// by the exchange or its clients. PriceTicks and Quantity are
// pre-quantized by the owning market's tick_size/lot_size; scaling to a
// human price is the client's concern, not the engine's.
type (
	MarketId     = uint64
	SubaccountId = uint64
	OrderId      = uint64
	ShardId      = uint64
	PriceTicks   = uint64
	Quantity     = uint64
)
