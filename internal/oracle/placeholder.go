package oracle

import (
	"errors"
	"math/big"
	"sync"
)

// Placeholder is a settable price source. The websocket feed worker
// writes into it; tests and manual operation set it directly.
type Placeholder struct {
	mu    sync.RWMutex
	price *big.Int
}

// NewPlaceholder creates a placeholder with an initial 1e8-scaled
// price. A nil price stays unset until SetPrice.
func NewPlaceholder(price *big.Int) *Placeholder {
	p := &Placeholder{}
	if price != nil {
		p.price = new(big.Int).Set(price)
	}
	return p
}

// SetPrice replaces the current price.
func (p *Placeholder) SetPrice(price *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.price = new(big.Int).Set(price)
}

// LatestPrice returns the current price.
func (p *Placeholder) LatestPrice() (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.price == nil || p.price.Sign() <= 0 {
		return nil, errors.New("no price set")
	}
	return new(big.Int).Set(p.price), nil
}
