package swap

import (
	"fmt"
	"math/big"
	"sync"

	"trigger_go/internal/domain"
	"trigger_go/internal/token"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/common"
)

type pairKey struct {
	in  common.Address
	out common.Address
}

// SimRouter is an exactInputSingle-style venue backed by the ledger.
// It fills at a configured per-pair execution rate (1e8) out of its own
// inventory, so tests and the local daemon can make fills land above or
// below an order's slippage bound.
type SimRouter struct {
	addr common.Address

	mu    sync.RWMutex
	rates map[pairKey]*big.Int
}

// NewSimRouter creates a router reachable at addr.
func NewSimRouter(addr common.Address) *SimRouter {
	return &SimRouter{addr: addr, rates: make(map[pairKey]*big.Int)}
}

// Address returns where the router is registered.
func (r *SimRouter) Address() common.Address { return r.addr }

// SetRate fixes the execution rate for a pair: tokenOut value per
// tokenIn value at 1e8.
func (r *SimRouter) SetRate(tokenIn, tokenOut common.Address, rate *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rates[pairKey{in: tokenIn, out: tokenOut}] = new(big.Int).Set(rate)
}

func (r *SimRouter) rate(tokenIn, tokenOut common.Address) (*big.Int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rate, ok := r.rates[pairKey{in: tokenIn, out: tokenOut}]
	return rate, ok
}

// Quote converts amountIn at the configured rate, adjusting for the
// pair's decimals.
func (r *SimRouter) Quote(tx *token.Tx, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	rate, ok := r.rate(tokenIn, tokenOut)
	if !ok {
		return nil, fmt.Errorf("no rate for pair %s -> %s", tokenIn.Hex(), tokenOut.Hex())
	}
	decIn, err := tx.Decimals(tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := tx.Decimals(tokenOut)
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Mul(amountIn, rate)
	out.Quo(out, big.NewInt(domain.PriceScale))
	if decOut >= decIn {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decOut-decIn)), nil)
		out.Mul(out, scale)
	} else {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decIn-decOut)), nil)
		out.Quo(out, scale)
	}
	return out, nil
}

// Execute decodes exactInputSingle calldata, pulls the input on the
// caller's approval, and pays the recipient from router inventory.
func (r *SimRouter) Execute(tx *token.Tx, caller common.Address, txData []byte) error {
	params, err := wire.DecodeExactInputSingle(txData)
	if err != nil {
		return err
	}

	out, err := r.Quote(tx, params.TokenIn, params.TokenOut, params.AmountIn)
	if err != nil {
		return err
	}
	if out.Cmp(params.AmountOutMinimum) < 0 {
		return fmt.Errorf("%w: quote %s below minimum %s",
			domain.ErrTooLittleReceived, out, params.AmountOutMinimum)
	}

	if err := tx.TransferFrom(params.TokenIn, r.addr, caller, r.addr, params.AmountIn); err != nil {
		return err
	}
	return tx.Transfer(params.TokenOut, r.addr, params.Recipient, out)
}
