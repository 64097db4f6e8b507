package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a durable, externally-observable record of an order state
// transition. The event stream plus point-queries of current order
// state are the only way a consumer reconstructs order history.
type Event interface {
	EventName() string
	Order() uint64
}

// OrderCreated is emitted when an order enters a book's pending set,
// including the bracket order spawned by a stop-limit fill.
type OrderCreated struct {
	Book      string
	OrderID   uint64
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	Recipient common.Address
	At        time.Time
}

func (e *OrderCreated) EventName() string { return "OrderCreated" }
func (e *OrderCreated) Order() uint64     { return e.OrderID }

// OrderProcessed is emitted when an order leaves the pending set by
// fill. TakeProfitLeg is only meaningful for bracket fills.
type OrderProcessed struct {
	Book          string
	OrderID       uint64
	TokenOut      common.Address
	AmountOut     *big.Int
	TakeProfitLeg bool
	At            time.Time
}

func (e *OrderProcessed) EventName() string { return "OrderProcessed" }
func (e *OrderProcessed) Order() uint64     { return e.OrderID }

// OrderCancelled is emitted when the owner withdraws a pending order
// and its custodied input is refunded.
type OrderCancelled struct {
	Book     string
	OrderID  uint64
	Refunded *big.Int
	At       time.Time
}

func (e *OrderCancelled) EventName() string { return "OrderCancelled" }
func (e *OrderCancelled) Order() uint64     { return e.OrderID }

// EventSink receives events synchronously from the books. A nil sink
// is allowed and drops everything.
type EventSink func(Event)
