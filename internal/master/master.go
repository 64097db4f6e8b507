// Package master coordinates the order books: it issues order ids from
// one sequence, answers rate and sizing queries against the oracle
// registry, polls the books for upkeep in registration order, and
// routes perform payloads back by order type. Protocol fees accrue to
// the master's own account until swept.
package master

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"trigger_go/internal/book"
	"trigger_go/internal/domain"
	"trigger_go/internal/oracle"
	"trigger_go/internal/token"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/common"
)

// Master is the hub the books and the keeper hang off.
type Master struct {
	addr   common.Address
	admin  common.Address
	ledger *token.Ledger
	reg    *oracle.Registry

	nextID atomic.Uint64

	mu           sync.RWMutex
	maxPending   int
	minOrderSize *big.Int
	books        []book.OrderBook
	byType       map[domain.OrderType]book.OrderBook
}

// Config wires a master.
type Config struct {
	Address          common.Address
	Admin            common.Address
	Ledger           *token.Ledger
	Registry         *oracle.Registry
	MaxPendingOrders int
	MinOrderSize     *big.Int
}

// New creates a master with no books registered.
func New(cfg Config) *Master {
	return &Master{
		addr:         cfg.Address,
		admin:        cfg.Admin,
		ledger:       cfg.Ledger,
		reg:          cfg.Registry,
		maxPending:   cfg.MaxPendingOrders,
		minOrderSize: new(big.Int).Set(cfg.MinOrderSize),
		byType:       make(map[domain.OrderType]book.OrderBook),
	}
}

func (m *Master) Address() common.Address { return m.addr }

// RegisterSubKeepers adds order books to the upkeep poll, in the order
// given. A book registered twice for the same type replaces the first.
func (m *Master) RegisterSubKeepers(books ...book.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range books {
		if _, dup := m.byType[b.Type()]; dup {
			for i, prev := range m.books {
				if prev.Type() == b.Type() {
					m.books[i] = b
				}
			}
		} else {
			m.books = append(m.books, b)
		}
		m.byType[b.Type()] = b
	}
}

// RegisterOracle binds price sources to tokens.
func (m *Master) RegisterOracle(tokens []common.Address, sources []oracle.PriceSource) error {
	return m.reg.Register(tokens, sources)
}

// GenerateOrderID issues the next id in the global sequence. Ids are
// shared across books so a stop-limit fill can hand its id to the
// bracket order it spawns.
func (m *Master) GenerateOrderID() uint64 { return m.nextID.Add(1) }

// ExchangeRate returns tokenIn priced in tokenOut at 1e8.
func (m *Master) ExchangeRate(tokenIn, tokenOut common.Address) (*big.Int, error) {
	return m.reg.ExchangeRate(tokenIn, tokenOut)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func minAmountReceived(amountIn, rate *big.Int, decIn, decOut uint8, bips uint64) *big.Int {
	out := new(big.Int).Mul(amountIn, rate)
	out.Quo(out, big.NewInt(domain.PriceScale))
	if decOut >= decIn {
		out.Mul(out, pow10(decOut-decIn))
	} else {
		out.Quo(out, pow10(decIn-decOut))
	}
	out.Mul(out, big.NewInt(int64(domain.MaxBips-bips)))
	out.Quo(out, big.NewInt(domain.MaxBips))
	return out
}

// MinAmountReceived converts amountIn to tokenOut at the oracle rate,
// adjusts for the pair's decimals, and shaves the slippage bips. Runs
// inside a ledger transaction.
func (m *Master) MinAmountReceived(tx *token.Tx, amountIn *big.Int, tokenIn, tokenOut common.Address, bips uint64) (*big.Int, error) {
	rate, err := m.reg.ExchangeRate(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	decIn, err := tx.Decimals(tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := tx.Decimals(tokenOut)
	if err != nil {
		return nil, err
	}
	return minAmountReceived(amountIn, rate, decIn, decOut, bips), nil
}

// GetMinAmountReceived is the query form of MinAmountReceived for
// callers outside a ledger transaction, the keeper chiefly.
func (m *Master) GetMinAmountReceived(amountIn *big.Int, tokenIn, tokenOut common.Address, bips uint64) (*big.Int, error) {
	rate, err := m.reg.ExchangeRate(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	decIn, err := m.ledger.Decimals(tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := m.ledger.Decimals(tokenOut)
	if err != nil {
		return nil, err
	}
	return minAmountReceived(amountIn, rate, decIn, decOut, bips), nil
}

// CheckMinOrderSize rejects orders below the USD floor.
func (m *Master) CheckMinOrderSize(tx *token.Tx, tok common.Address, amountIn *big.Int) error {
	price, err := m.reg.Price(tok)
	if err != nil {
		return err
	}
	dec, err := tx.Decimals(tok)
	if err != nil {
		return err
	}
	usdValue := new(big.Int).Mul(amountIn, price)
	usdValue.Quo(usdValue, pow10(dec))

	m.mu.RLock()
	defer m.mu.RUnlock()
	if usdValue.Cmp(m.minOrderSize) < 0 {
		return domain.ErrOrderTooSmall
	}
	return nil
}

func (m *Master) MaxPendingOrders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxPending
}

// FeeAccount is where the books pay protocol fees.
func (m *Master) FeeAccount() common.Address { return m.addr }

// CheckUpkeep polls the registered books in order and returns the
// first fillable order's payload.
func (m *Master) CheckUpkeep() (bool, []byte, error) {
	m.mu.RLock()
	books := make([]book.OrderBook, len(m.books))
	copy(books, m.books)
	m.mu.RUnlock()

	for _, b := range books {
		ok, data, err := b.CheckUpkeep()
		if err != nil {
			return false, nil, fmt.Errorf("check %s: %w", b.Name(), err)
		}
		if ok {
			return true, data, nil
		}
	}
	return false, nil, nil
}

// PerformUpkeep decodes a payload and routes it to the book that owns
// the order type.
func (m *Master) PerformUpkeep(data []byte) error {
	d, err := wire.DecodeUpkeepData(data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidUpkeepData, err)
	}

	m.mu.RLock()
	b, ok := m.byType[d.OrderType]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no book for order type %s", domain.ErrInvalidUpkeepData, d.OrderType)
	}
	return b.PerformUpkeep(d)
}

// SetMaxPendingOrders caps every book's pending set. Admin only.
func (m *Master) SetMaxPendingOrders(caller common.Address, n int) error {
	if caller != m.admin {
		return domain.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPending = n
	return nil
}

// SetMinOrderSize floors new orders in 1e8 USD terms. Admin only.
func (m *Master) SetMinOrderSize(caller common.Address, size *big.Int) error {
	if caller != m.admin {
		return domain.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minOrderSize = new(big.Int).Set(size)
	return nil
}

// Sweep pays the accrued fees in tok out to the admin and returns the
// amount moved. Admin only.
func (m *Master) Sweep(caller common.Address, tok common.Address) (*big.Int, error) {
	if caller != m.admin {
		return nil, domain.ErrUnauthorized
	}
	var swept *big.Int
	err := m.ledger.WithTx(func(tx *token.Tx) error {
		swept = tx.Balance(tok, m.addr)
		if swept.Sign() == 0 {
			return nil
		}
		return tx.Transfer(tok, m.addr, m.admin, swept)
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}
