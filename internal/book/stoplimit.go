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

// StopLimit is the entry-trigger book. A fill does not swap here: it
// hands the custodied input to the bracket book as a new bracket order
// carrying the same order id, optionally swapping on the way in.
type StopLimit struct {
	core
	bracket *Bracket
	orders  map[uint64]*domain.StopLimitOrder
}

// NewStopLimit creates an empty stop-limit book feeding the given
// bracket book.
func NewStopLimit(cfg Config, bracket *Bracket) *StopLimit {
	return &StopLimit{
		core:    newCore("StopLimit", cfg),
		bracket: bracket,
		orders:  make(map[uint64]*domain.StopLimitOrder),
	}
}

func (b *StopLimit) Type() domain.OrderType { return domain.StopLimitType }

// Order returns a copy of an order record, pending or not found.
func (b *StopLimit) Order(id uint64) (domain.StopLimitOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ord, ok := b.orders[id]
	if !ok {
		return domain.StopLimitOrder{}, false
	}
	return *ord, true
}

// StopLimitCreate carries the createOrder arguments. The bracket
// fields seed the order spawned on fill.
type StopLimitCreate struct {
	StopLimitPrice     *big.Int
	TakeProfit         *big.Int
	StopPrice          *big.Int
	AmountIn           *big.Int
	TokenIn            common.Address
	TokenOut           common.Address
	Recipient          common.Address
	FeeBips            uint16
	TakeProfitSlippage uint16
	StopSlippage       uint16
	SwapSlippage       uint16
	SwapOnFill         bool
	Permit             *permit.Single
	PermitSig          []byte
}

// CreateOrder validates, takes custody of the input, and appends the
// order to the pending set.
func (b *StopLimit) CreateOrder(caller common.Address, p StopLimitCreate) (uint64, error) {
	if !domain.ValidBips(p.FeeBips, p.TakeProfitSlippage, p.StopSlippage, p.SwapSlippage) {
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
		if err := b.procure(tx, caller, p.TokenIn, p.AmountIn, p.Permit, p.PermitSig); err != nil {
			return err
		}
		if err := b.ctrl.CheckMinOrderSize(tx, p.TokenIn, p.AmountIn); err != nil {
			return err
		}
		rate, err := b.ctrl.ExchangeRate(p.TokenIn, p.TokenOut)
		if err != nil {
			return err
		}

		ord := &domain.StopLimitOrder{
			Order: domain.Order{
				ID:        b.ctrl.GenerateOrderID(),
				TokenIn:   p.TokenIn,
				TokenOut:  p.TokenOut,
				AmountIn:  new(big.Int).Set(p.AmountIn),
				Recipient: p.Recipient,
				FeeBips:   p.FeeBips,
			},
			StopLimitPrice:     new(big.Int).Set(p.StopLimitPrice),
			TakeProfit:         new(big.Int).Set(p.TakeProfit),
			StopPrice:          new(big.Int).Set(p.StopPrice),
			TakeProfitSlippage: p.TakeProfitSlippage,
			StopSlippage:       p.StopSlippage,
			SwapSlippage:       p.SwapSlippage,
			SwapOnFill:         p.SwapOnFill,
			Direction:          domain.NewDirection(rate, p.StopLimitPrice),
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

// StopLimitModify carries the modifyOrder arguments. AmountDelta of
// zero leaves the committed amount untouched.
type StopLimitModify struct {
	StopLimitPrice     *big.Int
	TakeProfit         *big.Int
	StopPrice          *big.Int
	AmountDelta        *big.Int
	Increase           bool
	TokenOut           common.Address
	Recipient          common.Address
	TakeProfitSlippage uint16
	StopSlippage       uint16
	SwapSlippage       uint16
	SwapOnFill         bool
	Permit             *permit.Single
	PermitSig          []byte
}

// ModifyOrder adjusts a pending order. Only the current recipient may
// call. The direction is re-derived from the new stop-limit price.
func (b *StopLimit) ModifyOrder(caller common.Address, orderID uint64, m StopLimitModify) error {
	if !domain.ValidBips(m.TakeProfitSlippage, m.StopSlippage, m.SwapSlippage) {
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
		ord.StopLimitPrice = new(big.Int).Set(m.StopLimitPrice)
		ord.TakeProfit = new(big.Int).Set(m.TakeProfit)
		ord.StopPrice = new(big.Int).Set(m.StopPrice)
		ord.TokenOut = m.TokenOut
		ord.Recipient = m.Recipient
		ord.TakeProfitSlippage = m.TakeProfitSlippage
		ord.StopSlippage = m.StopSlippage
		ord.SwapSlippage = m.SwapSlippage
		ord.SwapOnFill = m.SwapOnFill
		ord.Direction = domain.NewDirection(rate, ord.StopLimitPrice)
		return nil
	})
}

// CancelOrder removes a pending order and refunds its full custodied
// amount to the recipient. Owner only.
func (b *StopLimit) CancelOrder(caller common.Address, orderID uint64) error {
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
// first triggered order's encoded payload. Bips carries the swap
// slippage only when the order swaps on fill; the fill itself performs
// no swap otherwise.
func (b *StopLimit) CheckUpkeep() (bool, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, id := range b.pending {
		ord := b.orders[id]
		rate, err := b.ctrl.ExchangeRate(ord.TokenIn, ord.TokenOut)
		if err != nil {
			return false, nil, err
		}
		if !ord.InRange(rate) {
			continue
		}
		var bips uint64
		if ord.SwapOnFill {
			bips = uint64(ord.SwapSlippage)
		}
		data, err := wire.EncodeUpkeepData(&wire.MasterUpkeepData{
			OrderType:       domain.StopLimitType,
			Target:          b.addr,
			TokenIn:         ord.TokenIn,
			TokenOut:        ord.TokenOut,
			OrderID:         id,
			PendingOrderIdx: uint16(i),
			Bips:            bips,
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

// PerformUpkeep fills the order named by the payload by spawning a
// bracket order under the same id. Without swap-on-fill the custodied
// input moves to the bracket book unchanged; with it, the input is
// swapped through the payload's target and the bracket order holds the
// reversed pair.
func (b *StopLimit) PerformUpkeep(d *wire.MasterUpkeepData) error {
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
		if !ord.InRange(rate) {
			return fmt.Errorf("%w: order %d not in range", domain.ErrInvalidUpkeepData, d.OrderID)
		}

		spawned := &domain.BracketOrder{
			Order: domain.Order{
				ID:        ord.ID,
				TokenIn:   ord.TokenIn,
				TokenOut:  ord.TokenOut,
				AmountIn:  new(big.Int).Set(ord.AmountIn),
				Recipient: ord.Recipient,
				FeeBips:   ord.FeeBips,
			},
			TakeProfit:         new(big.Int).Set(ord.TakeProfit),
			StopPrice:          new(big.Int).Set(ord.StopPrice),
			TakeProfitSlippage: ord.TakeProfitSlippage,
			StopSlippage:       ord.StopSlippage,
		}
		var sp *wire.SwapParams
		if ord.SwapOnFill {
			spawned.TokenIn = ord.TokenOut
			spawned.TokenOut = ord.TokenIn
			sp = &wire.SwapParams{
				TokenIn:  ord.TokenIn,
				AmountIn: new(big.Int).Set(ord.AmountIn),
				Target:   d.Target,
				Bips:     uint32(ord.SwapSlippage),
				TxData:   d.TxData,
			}
		}
		// Last fallible step: bracket state committed below cannot be
		// unwound by a ledger rollback.
		if err := b.bracket.SpawnOrder(tx, b.addr, spawned, sp); err != nil {
			return err
		}

		b.removePending(d.OrderID)
		delete(b.orders, d.OrderID)
		events = append(events, &domain.OrderProcessed{
			Book:      b.name,
			OrderID:   d.OrderID,
			TokenOut:  spawned.TokenIn,
			AmountOut: new(big.Int).Set(spawned.AmountIn),
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
