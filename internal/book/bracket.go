package book

import (
	"fmt"
	"math/big"

	"trigger_go/internal/domain"
	"trigger_go/internal/permit"
	"trigger_go/internal/token"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/common"
)

// Bracket is the take-profit/stop-loss book. Orders fill and pay out
// when either price leg is crossed, each leg bounded by its own
// slippage.
type Bracket struct {
	core
	orders map[uint64]*domain.BracketOrder
}

// NewBracket creates an empty bracket book.
func NewBracket(cfg Config) *Bracket {
	return &Bracket{
		core:   newCore("Bracket", cfg),
		orders: make(map[uint64]*domain.BracketOrder),
	}
}

func (b *Bracket) Type() domain.OrderType { return domain.StopLossLimitType }

// Order returns a copy of an order record, pending or not found.
func (b *Bracket) Order(id uint64) (domain.BracketOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ord, ok := b.orders[id]
	if !ok {
		return domain.BracketOrder{}, false
	}
	return *ord, true
}

// BracketCreate carries the createOrder arguments.
type BracketCreate struct {
	// SwapPayload, when non-empty, is an ABI-encoded SwapParams: the
	// caller provides that asset instead of TokenIn, and the swap
	// output becomes the order's working amount.
	SwapPayload        []byte
	TakeProfit         *big.Int
	StopPrice          *big.Int
	AmountIn           *big.Int
	TokenIn            common.Address
	TokenOut           common.Address
	Recipient          common.Address
	FeeBips            uint16
	TakeProfitSlippage uint16
	StopSlippage       uint16
	Permit             *permit.Single
	PermitSig          []byte
}

// CreateOrder validates, takes custody of the input (optionally
// swapping on create), and appends the order to the pending set.
func (b *Bracket) CreateOrder(caller common.Address, p BracketCreate) (uint64, error) {
	if !domain.ValidBips(p.FeeBips, p.TakeProfitSlippage, p.StopSlippage) {
		return 0, domain.ErrInvalidBips
	}

	var id uint64
	var events []domain.Event
	err := b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if err := b.requireSlot(); err != nil {
			return err
		}

		amountIn := new(big.Int).Set(p.AmountIn)
		if len(p.SwapPayload) > 0 {
			sp, err := wire.DecodeSwapParams(p.SwapPayload)
			if err != nil {
				return err
			}
			if sp.Bips > domain.MaxBips {
				return domain.ErrInvalidBips
			}
			if err := b.procure(tx, caller, sp.TokenIn, sp.AmountIn, p.Permit, p.PermitSig); err != nil {
				return err
			}
			minRecv, err := b.ctrl.MinAmountReceived(tx, sp.AmountIn, sp.TokenIn, p.TokenIn, uint64(sp.Bips))
			if err != nil {
				return err
			}
			res, err := b.engine.Execute(tx, b.addr, sp.Target, sp.TxData, sp.TokenIn, p.TokenIn, sp.AmountIn, minRecv)
			if err != nil {
				return err
			}
			amountIn = res.Received
			unspent := new(big.Int).Sub(sp.AmountIn, res.Spent)
			if err := b.refund(tx, sp.TokenIn, p.Recipient, unspent); err != nil {
				return err
			}
		} else {
			if err := b.procure(tx, caller, p.TokenIn, amountIn, p.Permit, p.PermitSig); err != nil {
				return err
			}
		}

		if err := b.ctrl.CheckMinOrderSize(tx, p.TokenIn, amountIn); err != nil {
			return err
		}
		rate, err := b.ctrl.ExchangeRate(p.TokenIn, p.TokenOut)
		if err != nil {
			return err
		}

		ord := &domain.BracketOrder{
			Order: domain.Order{
				ID:        b.ctrl.GenerateOrderID(),
				TokenIn:   p.TokenIn,
				TokenOut:  p.TokenOut,
				AmountIn:  amountIn,
				Recipient: p.Recipient,
				FeeBips:   p.FeeBips,
			},
			TakeProfit:         new(big.Int).Set(p.TakeProfit),
			StopPrice:          new(big.Int).Set(p.StopPrice),
			TakeProfitSlippage: p.TakeProfitSlippage,
			StopSlippage:       p.StopSlippage,
			Direction:          domain.NewDirection(rate, p.TakeProfit),
		}
		id = ord.ID
		b.orders[id] = ord
		b.pending = append(b.pending, id)
		events = append(events, &domain.OrderCreated{
			Book:      b.name,
			OrderID:   id,
			TokenIn:   ord.TokenIn,
			TokenOut:  ord.TokenOut,
			AmountIn:  new(big.Int).Set(amountIn),
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

// SpawnOrder admits an order filled out of another book, inside that
// book's transaction. Custody moves from the spawning book; with a
// swap payload present the transferred asset is sp.TokenIn and the
// swap output becomes the order's working amount, any unspent input
// refunded to the recipient. The caller must make this its final
// fallible step.
func (b *Bracket) SpawnOrder(tx *token.Tx, from common.Address, ord *domain.BracketOrder, sp *wire.SwapParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireSlot(); err != nil {
		return err
	}

	if sp != nil {
		if err := tx.Transfer(sp.TokenIn, from, b.addr, sp.AmountIn); err != nil {
			return err
		}
		minRecv, err := b.ctrl.MinAmountReceived(tx, sp.AmountIn, sp.TokenIn, ord.TokenIn, uint64(sp.Bips))
		if err != nil {
			return err
		}
		res, err := b.engine.Execute(tx, b.addr, sp.Target, sp.TxData, sp.TokenIn, ord.TokenIn, sp.AmountIn, minRecv)
		if err != nil {
			return err
		}
		ord.AmountIn = res.Received
		unspent := new(big.Int).Sub(sp.AmountIn, res.Spent)
		if err := b.refund(tx, sp.TokenIn, ord.Recipient, unspent); err != nil {
			return err
		}
	} else {
		if err := tx.Transfer(ord.TokenIn, from, b.addr, ord.AmountIn); err != nil {
			return err
		}
	}

	rate, err := b.ctrl.ExchangeRate(ord.TokenIn, ord.TokenOut)
	if err != nil {
		return err
	}
	ord.Direction = domain.NewDirection(rate, ord.TakeProfit)

	b.orders[ord.ID] = ord
	b.pending = append(b.pending, ord.ID)
	b.emit([]domain.Event{&domain.OrderCreated{
		Book:      b.name,
		OrderID:   ord.ID,
		TokenIn:   ord.TokenIn,
		TokenOut:  ord.TokenOut,
		AmountIn:  new(big.Int).Set(ord.AmountIn),
		Recipient: ord.Recipient,
		At:        nowUTC(),
	}})
	return nil
}

// BracketModify carries the modifyOrder arguments. AmountDelta of zero
// leaves the committed amount untouched.
type BracketModify struct {
	TakeProfit         *big.Int
	StopPrice          *big.Int
	AmountDelta        *big.Int
	Increase           bool
	TokenOut           common.Address
	Recipient          common.Address
	TakeProfitSlippage uint16
	StopSlippage       uint16
	Permit             *permit.Single
	PermitSig          []byte
}

// ModifyOrder adjusts a pending order. Only the current recipient may
// call. An increasing delta is pulled from the caller, a decreasing
// one refunded to the recipient. Swapping the take-profit and stop
// prices past each other flips the order's direction rather than
// failing; that preserves the reference behavior.
func (b *Bracket) ModifyOrder(caller common.Address, orderID uint64, m BracketModify) error {
	if !domain.ValidBips(m.TakeProfitSlippage, m.StopSlippage) {
		return domain.ErrInvalidBips
	}

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
			if err := b.ctrl.CheckMinOrderSize(tx, ord.TokenIn, newAmount); err != nil {
				return err
			}
		}

		rate, err := b.ctrl.ExchangeRate(ord.TokenIn, m.TokenOut)
		if err != nil {
			return err
		}

		ord.AmountIn = newAmount
		ord.TakeProfit = new(big.Int).Set(m.TakeProfit)
		ord.StopPrice = new(big.Int).Set(m.StopPrice)
		ord.TokenOut = m.TokenOut
		ord.Recipient = m.Recipient
		ord.TakeProfitSlippage = m.TakeProfitSlippage
		ord.StopSlippage = m.StopSlippage
		ord.Direction = domain.NewDirection(rate, ord.TakeProfit)
		return nil
	})
}

// CancelOrder removes a pending order and refunds its full custodied
// amount to the recipient. Owner only.
func (b *Bracket) CancelOrder(caller common.Address, orderID uint64) error {
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

// CheckUpkeep scans the pending set in insertion order and returns the
// first fillable order's encoded payload. At most one order per call,
// by design.
func (b *Bracket) CheckUpkeep() (bool, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, id := range b.pending {
		ord := b.orders[id]
		rate, err := b.ctrl.ExchangeRate(ord.TokenIn, ord.TokenOut)
		if err != nil {
			return false, nil, err
		}
		inRange, takeProfit := ord.InRange(rate)
		if !inRange {
			continue
		}
		data, err := wire.EncodeUpkeepData(&wire.MasterUpkeepData{
			OrderType:       domain.StopLossLimitType,
			Target:          b.addr,
			TokenIn:         ord.TokenIn,
			TokenOut:        ord.TokenOut,
			OrderID:         id,
			PendingOrderIdx: uint16(i),
			Bips:            uint64(ord.SlippageBips(takeProfit)),
			AmountIn:        ord.AmountIn,
			ExchangeRate:    rate,
		})
		if err != nil {
			return false, nil, err
		}
		return true, data, nil
	}
	return false, nil, nil
}

// PerformUpkeep fills the order named by the payload: re-validates the
// trigger, runs the caller's swap, settles fee and payout, refunds any
// underfill, and removes the order.
func (b *Bracket) PerformUpkeep(d *wire.MasterUpkeepData) error {
	var events []domain.Event
	err := b.ledger.WithTx(func(tx *token.Tx) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if err := b.validatePayload(d); err != nil {
			return err
		}
		ord := b.orders[d.OrderID]

		rate, err := b.ctrl.ExchangeRate(ord.TokenIn, ord.TokenOut)
		if err != nil {
			return err
		}
		inRange, takeProfit := ord.InRange(rate)
		if !inRange {
			return fmt.Errorf("%w: order %d not in range", domain.ErrInvalidUpkeepData, d.OrderID)
		}
		if d.AmountIn.Cmp(ord.AmountIn) > 0 {
			return domain.NewFillError("fill",
				fmt.Errorf("%w: payload %s, committed %s", domain.ErrOverspend, d.AmountIn, ord.AmountIn))
		}

		bips := ord.SlippageBips(takeProfit)
		minRecv, err := b.ctrl.MinAmountReceived(tx, d.AmountIn, ord.TokenIn, ord.TokenOut, uint64(bips))
		if err != nil {
			return err
		}
		res, err := b.engine.Execute(tx, b.addr, d.Target, d.TxData, ord.TokenIn, ord.TokenOut, d.AmountIn, minRecv)
		if err != nil {
			return err
		}
		payout, err := b.settle(tx, ord.TokenOut, ord.Recipient, res.Received, ord.FeeBips)
		if err != nil {
			return err
		}
		// Underfill: whatever the filler did not spend goes back.
		unspent := new(big.Int).Sub(ord.AmountIn, res.Spent)
		if err := b.refund(tx, ord.TokenIn, ord.Recipient, unspent); err != nil {
			return err
		}

		b.removePending(d.OrderID)
		delete(b.orders, d.OrderID)
		events = append(events, &domain.OrderProcessed{
			Book:          b.name,
			OrderID:       d.OrderID,
			TokenOut:      ord.TokenOut,
			AmountOut:     payout,
			TakeProfitLeg: takeProfit,
			At:            nowUTC(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	b.emit(events)
	return nil
}
