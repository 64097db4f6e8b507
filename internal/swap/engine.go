// Package swap holds the execution engine shared by every fill path:
// it forwards caller-supplied opaque calldata to a registered venue and
// settles by balance delta, never by decoding the payload.
package swap

import (
	"fmt"
	"math/big"

	"trigger_go/internal/domain"
	"trigger_go/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

// Venue is an external swap target. It spends the caller's approved
// input and credits output per its own calldata format.
type Venue interface {
	Execute(tx *token.Tx, caller common.Address, txData []byte) error
}

// Result reports a settled swap.
type Result struct {
	Spent    *big.Int
	Received *big.Int
}

// Engine validates swap outcomes by post-condition. Any venue error
// propagates as a fill failure; the surrounding ledger transaction
// rolls every movement back.
type Engine struct {
	venues map[common.Address]Venue
}

// NewEngine creates an engine with no venues registered.
func NewEngine() *Engine {
	return &Engine{venues: make(map[common.Address]Venue)}
}

// RegisterVenue wires a swap target address to its implementation.
func (e *Engine) RegisterVenue(addr common.Address, v Venue) {
	e.venues[addr] = v
}

// Execute approves target for at most amountIn of caller's tokenIn,
// runs the opaque calldata, and measures what actually moved:
//   - spending more than amountIn fails with over spend
//   - receiving less than minReceived fails with Too Little Received
func (e *Engine) Execute(
	tx *token.Tx,
	caller common.Address,
	target common.Address,
	txData []byte,
	tokenIn, tokenOut common.Address,
	amountIn, minReceived *big.Int,
) (*Result, error) {
	venue, ok := e.venues[target]
	if !ok {
		return nil, fmt.Errorf("unknown swap target %s", target.Hex())
	}

	beforeIn := tx.Balance(tokenIn, caller)
	beforeOut := tx.Balance(tokenOut, caller)

	if err := tx.Approve(tokenIn, caller, target, amountIn); err != nil {
		return nil, err
	}
	if err := venue.Execute(tx, caller, txData); err != nil {
		return nil, domain.NewFillError("swap", err)
	}
	// Drop any unspent approval.
	if err := tx.Approve(tokenIn, caller, target, big.NewInt(0)); err != nil {
		return nil, err
	}

	spent := new(big.Int).Sub(beforeIn, tx.Balance(tokenIn, caller))
	received := new(big.Int).Sub(tx.Balance(tokenOut, caller), beforeOut)

	if spent.Cmp(amountIn) > 0 {
		return nil, domain.NewFillError("settle",
			fmt.Errorf("%w: spent %s, allowed %s", domain.ErrOverspend, spent, amountIn))
	}
	if received.Cmp(minReceived) < 0 {
		return nil, domain.NewFillError("settle",
			fmt.Errorf("%w: got %s, need %s", domain.ErrTooLittleReceived, received, minReceived))
	}

	return &Result{Spent: spent, Received: received}, nil
}
