// Package oracle maps tokens to price sources and computes pairwise
// exchange rates at the engine's 1e8 fixed-point scale.
package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"trigger_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource exposes a token's latest USD price at 1e8.
type PriceSource interface {
	LatestPrice() (*big.Int, error)
}

// Registry associates each token with a price source. Registration is
// administrative and single-writer; rate reads are concurrent.
type Registry struct {
	mu      sync.RWMutex
	sources map[common.Address]PriceSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[common.Address]PriceSource)}
}

// Register associates each token with its price source. The two slices
// are parallel and must have equal length.
func (r *Registry) Register(tokens []common.Address, sources []PriceSource) error {
	if len(tokens) != len(sources) {
		return fmt.Errorf("token/oracle length mismatch: %d != %d", len(tokens), len(sources))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, token := range tokens {
		r.sources[token] = sources[i]
	}
	return nil
}

// Source returns the registered price source for a token.
func (r *Registry) Source(token common.Address) (PriceSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[token]
	return src, ok
}

// Price returns a token's latest price, failing when no source is
// registered.
func (r *Registry) Price(token common.Address) (*big.Int, error) {
	src, ok := r.Source(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOracleNotRegistered, token.Hex())
	}
	return src.LatestPrice()
}

// ExchangeRate returns priceIn/priceOut normalized to 1e8: the amount
// of tokenOut value one unit of tokenIn value buys.
func (r *Registry) ExchangeRate(tokenIn, tokenOut common.Address) (*big.Int, error) {
	priceIn, err := r.Price(tokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := r.Price(tokenOut)
	if err != nil {
		return nil, err
	}
	if priceOut.Sign() == 0 {
		return nil, fmt.Errorf("zero price for %s", tokenOut.Hex())
	}

	rate := new(big.Int).Mul(priceIn, big.NewInt(domain.PriceScale))
	return rate.Quo(rate, priceOut), nil
}
