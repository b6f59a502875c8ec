package common

// NewOrder is the decoded form of an incoming order request.
type NewOrder struct {
	RequestId    string
	MarketId     MarketId
	SubaccountId SubaccountId
	Side         Side
	OrderType    OrderType
	Tif          TimeInForce
	PriceTicks   PriceTicks
	Qty          Quantity
	ReduceOnly   bool
	ExpiryTs     uint64
	Nonce        uint64
	ClientTs     uint64
}

// CancelOrder cancels a resting order. A nil OrderId/NonceStart/NonceEnd
// denotes "absent". The codec carries these pointers through as-is: a
// zero value sent on the wire arrives as a pointer to zero, not as nil.
type CancelOrder struct {
	RequestId    string
	MarketId     MarketId
	SubaccountId SubaccountId
	OrderId      *OrderId
	NonceStart   *uint64
	NonceEnd     *uint64
}

type PriceUpdate struct {
	MarketId   MarketId
	MarkPrice  PriceTicks
	IndexPrice PriceTicks
	Ts         uint64
}

type FundingUpdate struct {
	MarketId     MarketId
	FundingIndex int64
	Ts           uint64
}

type OrderAck struct {
	RequestId        string
	Status           OrderStatus
	RejectReason     string
	AssignedOrderId  OrderId
	EngineSeq        uint64
	Ts               uint64
}

type Fill struct {
	MarketId      MarketId
	MakerOrderId  OrderId
	TakerOrderId  OrderId
	PriceTicks    PriceTicks
	Qty           Quantity
	MakerFee      int64
	TakerFee      int64
	EngineSeq     uint64
	Ts            uint64
}

type BookLevel struct {
	PriceTicks PriceTicks
	Qty        Quantity
}

type BookDelta struct {
	MarketId   MarketId
	BidsLevels []BookLevel
	AsksLevels []BookLevel
	EngineSeq  uint64
	Ts         uint64
}

type SettlementBatch struct {
	BatchId      string
	Ts           uint64
	Fills        []Fill
	PriceRefs    string
	FundingRefs  string
	StateRoot    []byte
}

// EventKind tags the variant carried by an Event. Dispatch on this is a
// flat switch; there is no dynamic dispatch in the hot path.
type EventKind int

const (
	EventNewOrder EventKind = iota
	EventCancelOrder
	EventPriceUpdate
	EventFundingUpdate
	EventOrderAck
	EventFill
	EventBookDelta
	EventSettlementBatch
)

// Event is the single discriminated-union type every envelope carries.
// Exactly one of the typed fields matching Kind is populated; the rest
// are left at zero value.
type Event struct {
	Kind            EventKind
	NewOrder        NewOrder
	CancelOrder     CancelOrder
	PriceUpdate     PriceUpdate
	FundingUpdate   FundingUpdate
	OrderAck        OrderAck
	Fill            Fill
	BookDelta       BookDelta
	SettlementBatch SettlementBatch
}

func NewOrderEvent(o NewOrder) Event             { return Event{Kind: EventNewOrder, NewOrder: o} }
func CancelOrderEvent(o CancelOrder) Event       { return Event{Kind: EventCancelOrder, CancelOrder: o} }
func PriceUpdateEvent(o PriceUpdate) Event       { return Event{Kind: EventPriceUpdate, PriceUpdate: o} }
func FundingUpdateEvent(o FundingUpdate) Event   { return Event{Kind: EventFundingUpdate, FundingUpdate: o} }
func OrderAckEvent(o OrderAck) Event             { return Event{Kind: EventOrderAck, OrderAck: o} }
func FillEvent(o Fill) Event                     { return Event{Kind: EventFill, Fill: o} }
func BookDeltaEvent(o BookDelta) Event           { return Event{Kind: EventBookDelta, BookDelta: o} }
func SettlementBatchEvent(o SettlementBatch) Event {
	return Event{Kind: EventSettlementBatch, SettlementBatch: o}
}

// MarketIdFor returns the routing key for input events; output events
// (acks, fills, deltas, settlement batches) have no routing role and
// return ok=false.
func MarketIdFor(e Event) (MarketId, bool) {
	switch e.Kind {
	case EventNewOrder:
		return e.NewOrder.MarketId, true
	case EventCancelOrder:
		return e.CancelOrder.MarketId, true
	case EventPriceUpdate:
		return e.PriceUpdate.MarketId, true
	case EventFundingUpdate:
		return e.FundingUpdate.MarketId, true
	default:
		return 0, false
	}
}

// EventEnvelope wraps an Event with the shard and sequence metadata
// that make it a WAL/bus record.
type EventEnvelope struct {
	ShardId   ShardId
	EngineSeq uint64
	Event     Event
	Ts        uint64
}
