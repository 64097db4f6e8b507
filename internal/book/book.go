// Package book implements the three order books behind a common
// capability interface: StopLimit, Bracket, and OracleLess. Each book
// owns its order records, their pending-set membership, and custody of
// every pending order's committed input.
//
// Locking follows the host-transaction model: every mutating entry
// point runs inside one ledger transaction, whose lock serializes all
// writers globally. Book mutexes are acquired inside that transaction
// (ledger first, then books in StopLimit < Bracket < OracleLess order);
// read paths take only the book's RLock.
package book

import (
	"math/big"
	"sync"
	"time"

	"trigger_go/internal/domain"
	"trigger_go/internal/permit"
	"trigger_go/internal/swap"
	"trigger_go/internal/token"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/common"
)

// Controller is the master capability the books depend on: shared id
// generation, rate/size calculators, and global limits. The master
// implements it.
type Controller interface {
	GenerateOrderID() uint64
	ExchangeRate(tokenIn, tokenOut common.Address) (*big.Int, error)
	MinAmountReceived(tx *token.Tx, amountIn *big.Int, tokenIn, tokenOut common.Address, bips uint64) (*big.Int, error)
	CheckMinOrderSize(tx *token.Tx, tok common.Address, amountIn *big.Int) error
	MaxPendingOrders() int
	FeeAccount() common.Address
}

// OrderBook is what the upkeep coordinator polls and dispatches to.
// OracleLess does not implement it; those orders are filled directly.
type OrderBook interface {
	Name() string
	Address() common.Address
	Type() domain.OrderType
	CheckUpkeep() (bool, []byte, error)
	PerformUpkeep(data *wire.MasterUpkeepData) error
}

// core holds the plumbing every book shares.
type core struct {
	name    string
	addr    common.Address
	chainID uint64
	permit2 common.Address

	mu      sync.RWMutex
	pending []uint64

	ledger *token.Ledger
	engine *swap.Engine
	ctrl   Controller
	sink   domain.EventSink
}

// Config wires a book's collaborators.
type Config struct {
	Address common.Address
	ChainID uint64
	Permit2 common.Address
	Ledger  *token.Ledger
	Engine  *swap.Engine
	Ctrl    Controller
	Sink    domain.EventSink
}

func newCore(name string, cfg Config) core {
	return core{
		name:    name,
		addr:    cfg.Address,
		chainID: cfg.ChainID,
		permit2: cfg.Permit2,
		ledger:  cfg.Ledger,
		engine:  cfg.Engine,
		ctrl:    cfg.Ctrl,
		sink:    cfg.Sink,
	}
}

func (c *core) Name() string            { return c.name }
func (c *core) Address() common.Address { return c.addr }

// PendingOrders returns a snapshot of the pending set in insertion
// order.
func (c *core) PendingOrders() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uint64, len(c.pending))
	copy(out, c.pending)
	return out
}

func (c *core) emit(events []domain.Event) {
	if c.sink == nil {
		return
	}
	for _, ev := range events {
		c.sink(ev)
	}
}

// requireSlot enforces the pending-count cap. Caller holds the lock.
func (c *core) requireSlot() error {
	if len(c.pending) >= c.ctrl.MaxPendingOrders() {
		return domain.ErrMaxPendingOrders
	}
	return nil
}

// validatePayload checks a perform payload against the live pending
// set: the index must still hold the named order. Caller holds the
// lock.
func (c *core) validatePayload(d *wire.MasterUpkeepData) error {
	if int(d.PendingOrderIdx) >= len(c.pending) {
		return domain.ErrInvalidUpkeepData
	}
	if c.pending[d.PendingOrderIdx] != d.OrderID {
		return domain.ErrInvalidUpkeepData
	}
	return nil
}

// removePending drops an order id from the pending set, preserving
// insertion order of the rest. Caller holds the lock.
func (c *core) removePending(id uint64) {
	for i, pid := range c.pending {
		if pid == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// procure pulls amount of tok from caller into the book's custody,
// either against a standing allowance or a signed permit.
func (c *core) procure(tx *token.Tx, caller, tok common.Address, amount *big.Int, p *permit.Single, sig []byte) error {
	if p != nil {
		now := uint64(time.Now().Unix())
		if err := permit.Verify(p, sig, caller, c.addr, c.chainID, c.permit2, now); err != nil {
			return err
		}
		if p.Details.Token != tok || p.Details.Amount.Cmp(amount) < 0 {
			return permit.ErrBadSignature
		}
		if err := tx.Approve(tok, caller, c.addr, p.Details.Amount); err != nil {
			return err
		}
	}
	return tx.TransferFrom(tok, c.addr, caller, c.addr, amount)
}

// refund returns custody to an order's recipient.
func (c *core) refund(tx *token.Tx, tok, recipient common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	return tx.Transfer(tok, c.addr, recipient, amount)
}

// settle pays out a fill: the protocol fee goes to the master, the
// remainder to the recipient. Returns the recipient's share.
func (c *core) settle(tx *token.Tx, tokenOut, recipient common.Address, received *big.Int, feeBips uint16) (*big.Int, error) {
	fee := new(big.Int).Mul(received, big.NewInt(int64(feeBips)))
	fee.Quo(fee, big.NewInt(domain.MaxBips))
	if fee.Sign() > 0 {
		if err := tx.Transfer(tokenOut, c.addr, c.ctrl.FeeAccount(), fee); err != nil {
			return nil, err
		}
	}
	payout := new(big.Int).Sub(received, fee)
	if err := tx.Transfer(tokenOut, c.addr, recipient, payout); err != nil {
		return nil, err
	}
	return payout, nil
}
