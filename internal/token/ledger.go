// Package token provides the in-memory ERC20-style ledger the order
// books custody funds on. Every state-changing entry point runs inside
// a single ledger transaction: either all balance movements apply, or
// none do. That transaction is the engine's concurrency primitive;
// callers are serialized by the ledger lock, so there is no
// partial-application state to reconcile.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"trigger_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken is returned when a token was never registered.
var ErrUnknownToken = errors.New("unknown token")

// Info describes a registered token.
type Info struct {
	Symbol   string
	Decimals uint8
}

// Ledger tracks balances and allowances for a set of registered tokens.
type Ledger struct {
	mu         sync.Mutex
	tokens     map[common.Address]Info
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tokens:     make(map[common.Address]Info),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
	}
}

// Register adds a token to the ledger. Registering twice overwrites the
// metadata but keeps balances.
func (l *Ledger) Register(token common.Address, symbol string, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens[token] = Info{Symbol: symbol, Decimals: decimals}
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[allowanceKey]*big.Int)
	}
}

// Token returns a registered token's metadata.
func (l *Ledger) Token(token common.Address) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.tokens[token]
	return info, ok
}

// Decimals returns a token's decimals, failing for unknown tokens.
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	info, ok := l.Token(token)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info.Decimals, nil
}

// Balance is a read outside any transaction.
func (l *Ledger) Balance(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return new(big.Int).Set(l.balance(token, account))
}

func (l *Ledger) balance(token, account common.Address) *big.Int {
	accounts := l.balances[token]
	if accounts == nil {
		return big.NewInt(0)
	}
	bal, ok := accounts[account]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

// WithTx runs fn holding the ledger lock. If fn returns an error, every
// mutation made through the Tx is rolled back before the error is
// returned to the caller.
func (l *Ledger) WithTx(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Tx is a unit of work over the ledger. It must not outlive the WithTx
// call that created it.
type Tx struct {
	l    *Ledger
	undo []func()
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *Tx) setBalance(token, account common.Address, amount *big.Int) {
	accounts := tx.l.balances[token]
	if accounts == nil {
		accounts = make(map[common.Address]*big.Int)
		tx.l.balances[token] = accounts
	}
	prev, had := accounts[account]
	tx.undo = append(tx.undo, func() {
		if had {
			accounts[account] = prev
		} else {
			delete(accounts, account)
		}
	})
	accounts[account] = amount
}

func (tx *Tx) setAllowance(token common.Address, key allowanceKey, amount *big.Int) {
	allowances := tx.l.allowances[token]
	if allowances == nil {
		allowances = make(map[allowanceKey]*big.Int)
		tx.l.allowances[token] = allowances
	}
	prev, had := allowances[key]
	tx.undo = append(tx.undo, func() {
		if had {
			allowances[key] = prev
		} else {
			delete(allowances, key)
		}
	})
	allowances[key] = amount
}

// Balance reads an account's balance inside the transaction.
func (tx *Tx) Balance(token, account common.Address) *big.Int {
	return new(big.Int).Set(tx.l.balance(token, account))
}

// Decimals reads a token's decimals inside the transaction.
func (tx *Tx) Decimals(token common.Address) (uint8, error) {
	info, ok := tx.l.tokens[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info.Decimals, nil
}

// Mint credits an account out of thin air. Test fixtures and faucets
// only.
func (tx *Tx) Mint(token, account common.Address, amount *big.Int) error {
	if _, ok := tx.l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	bal := tx.l.balance(token, account)
	tx.setBalance(token, account, new(big.Int).Add(bal, amount))
	return nil
}

// Transfer moves amount from one account to another.
func (tx *Tx) Transfer(token, from, to common.Address, amount *big.Int) error {
	if _, ok := tx.l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	fromBal := tx.l.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s",
			domain.ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	toBal := tx.l.balance(token, to)
	tx.setBalance(token, from, new(big.Int).Sub(fromBal, amount))
	tx.setBalance(token, to, new(big.Int).Add(toBal, amount))
	return nil
}

// Approve sets spender's allowance over owner's funds.
func (tx *Tx) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if _, ok := tx.l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	tx.setAllowance(token, allowanceKey{owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

// Allowance reads spender's remaining allowance over owner's funds.
func (tx *Tx) Allowance(token, owner, spender common.Address) *big.Int {
	allowances := tx.l.allowances[token]
	if allowances == nil {
		return big.NewInt(0)
	}
	a, ok := allowances[allowanceKey{owner: owner, spender: spender}]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a)
}

// TransferFrom moves amount from owner to recipient on spender's
// allowance, deducting it.
func (tx *Tx) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	allowance := tx.Allowance(token, owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: spender %s allowed %s, needs %s",
			domain.ErrInsufficientAllowance, spender.Hex(), allowance, amount)
	}
	if err := tx.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	key := allowanceKey{owner: owner, spender: spender}
	tx.setAllowance(token, key, allowance.Sub(allowance, amount))
	return nil
}
