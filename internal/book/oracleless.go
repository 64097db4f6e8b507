package book

import (
	"fmt"
	"math/big"

	"trigger_go/internal/domain"
	"trigger_go/internal/permit"
	"trigger_go/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

// OracleLess is the book for orders with no price trigger at all: the
// owner states a minimum output and anyone may fill against it. It is
// not polled for upkeep; fills come straight through FillOrder.
type OracleLess struct {
	core
	orders map[uint64]*domain.OracleLessOrder
}

// NewOracleLess creates an empty oracle-less book.
func NewOracleLess(cfg Config) *OracleLess {
	return &OracleLess{
		core:   newCore("OracleLess", cfg),
		orders: make(map[uint64]*domain.OracleLessOrder),
	}
}

// Order returns a copy of an order record, pending or not found.
func (b *OracleLess) Order(id uint64) (domain.OracleLessOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ord, ok := b.orders[id]
	if !ok {
		return domain.OracleLessOrder{}, false
	}
	return *ord, true
}

// OracleLessCreate carries the createOrder arguments. No oracle is
// consulted: MinAmountOut is the only fill bound.
type OracleLessCreate struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	FeeBips      uint16
	Permit       *permit.Single
	PermitSig    []byte
}

// CreateOrder takes custody of the input and appends the order to the
// pending set.
func (b *OracleLess) CreateOrder(caller common.Address, p OracleLessCreate) (uint64, error) {
	if !domain.ValidBips(p.FeeBips) {
		return 0, domain.ErrInvalidBips
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return 0, domain.ErrOrderTooSmall
	}

	var id uint64
	var events []domain.Event
	err := b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if err := b.requireSlot(); err != nil {
			return err
		}
		if err := b.procure(tx, caller, p.TokenIn, p.AmountIn, p.Permit, p.PermitSig); err != nil {
			return err
		}

		ord := &domain.OracleLessOrder{
			Order: domain.Order{
				ID:        b.ctrl.GenerateOrderID(),
				TokenIn:   p.TokenIn,
				TokenOut:  p.TokenOut,
				AmountIn:  new(big.Int).Set(p.AmountIn),
				Recipient: p.Recipient,
				FeeBips:   p.FeeBips,
			},
			MinAmountOut: new(big.Int).Set(p.MinAmountOut),
		}
		id = ord.ID
		b.orders[id] = ord
		b.pending = append(b.pending, id)
		events = append(events, &domain.OrderCreated{
			Book:      b.name,
			OrderID:   id,
			TokenIn:   ord.TokenIn,
			TokenOut:  ord.TokenOut,
			AmountIn:  new(big.Int).Set(ord.AmountIn),
			Recipient: ord.Recipient,
			At:        nowUTC(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.emit(events)
	return id, nil
}

// OracleLessModify carries the modifyOrder arguments. AmountDelta of
// zero leaves the committed amount untouched.
type OracleLessModify struct {
	TokenOut     common.Address
	AmountDelta  *big.Int
	Increase     bool
	MinAmountOut *big.Int
	Recipient    common.Address
	Permit       *permit.Single
	PermitSig    []byte
}

// ModifyOrder adjusts a pending order. Only the current recipient may
// call.
func (b *OracleLess) ModifyOrder(caller common.Address, orderID uint64, m OracleLessModify) error {
	return b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		ord, ok := b.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if caller != ord.Recipient {
			return domain.ErrUnauthorized
		}

		newAmount := new(big.Int).Set(ord.AmountIn)
		if m.AmountDelta != nil && m.AmountDelta.Sign() > 0 {
			if m.Increase {
				if err := b.procure(tx, caller, ord.TokenIn, m.AmountDelta, m.Permit, m.PermitSig); err != nil {
					return err
				}
				newAmount.Add(newAmount, m.AmountDelta)
			} else {
				if m.AmountDelta.Cmp(ord.AmountIn) >= 0 {
					return fmt.Errorf("%w: decrease %s exceeds committed %s",
						domain.ErrInsufficientBalance, m.AmountDelta, ord.AmountIn)
				}
				if err := b.refund(tx, ord.TokenIn, ord.Recipient, m.AmountDelta); err != nil {
					return err
				}
				newAmount.Sub(newAmount, m.AmountDelta)
			}
		}

		ord.AmountIn = newAmount
		ord.TokenOut = m.TokenOut
		ord.MinAmountOut = new(big.Int).Set(m.MinAmountOut)
		ord.Recipient = m.Recipient
		return nil
	})
}

// CancelOrder removes a pending order and refunds its full custodied
// amount to the recipient. Owner only.
func (b *OracleLess) CancelOrder(caller common.Address, orderID uint64) error {
	var events []domain.Event
	err := b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		ord, ok := b.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if caller != ord.Recipient {
			return domain.ErrUnauthorized
		}
		if err := b.refund(tx, ord.TokenIn, ord.Recipient, ord.AmountIn); err != nil {
			return err
		}
		b.removePending(orderID)
		delete(b.orders, orderID)
		events = append(events, &domain.OrderCancelled{
			Book:     b.name,
			OrderID:  orderID,
			Refunded: new(big.Int).Set(ord.AmountIn),
			At:       nowUTC(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	b.emit(events)
	return nil
}

// FillOrder executes an order against the given swap target. Any
// caller may fill; the order's MinAmountOut bounds the outcome. The
// index must still map to the order id, guarding against fills raced
// by cancellations.
func (b *OracleLess) FillOrder(caller common.Address, pendingOrderIdx uint16, orderID uint64, target common.Address, txData []byte) error {
	var events []domain.Event
	err := b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if int(pendingOrderIdx) >= len(b.pending) || b.pending[pendingOrderIdx] != orderID {
			return domain.ErrInvalidUpkeepData
		}
		ord := b.orders[orderID]

		res, err := b.engine.Execute(tx, b.addr, target, txData, ord.TokenIn, ord.TokenOut, ord.AmountIn, ord.MinAmountOut)
		if err != nil {
			return err
		}
		payout, err := b.settle(tx, ord.TokenOut, ord.Recipient, res.Received, ord.FeeBips)
		if err != nil {
			return err
		}
		unspent := new(big.Int).Sub(ord.AmountIn, res.Spent)
		if err := b.refund(tx, ord.TokenIn, ord.Recipient, unspent); err != nil {
			return err
		}

		b.removePending(orderID)
		delete(b.orders, orderID)
		events = append(events, &domain.OrderProcessed{
			Book:      b.name,
			OrderID:   orderID,
			TokenOut:  ord.TokenOut,
			AmountOut: payout,
			At:        nowUTC(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	b.emit(events)
	return nil
}
