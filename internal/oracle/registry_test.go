package oracle

import (
	"errors"
	"math/big"
	"testing"

	"trigger_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	usdc = common.HexToAddress("0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")
	arb  = common.HexToAddress("0x912CE59144191C1204E64559FE8253a0e49E6548")
)

func units(s string) *big.Int {
	// parse a decimal string at 1e8, e.g. "3391.95" -> 339195000000
	v, ok := new(big.Float).SetString(s)
	if !ok {
		panic("bad number: " + s)
	}
	v.Mul(v, big.NewFloat(domain.PriceScale))
	out, _ := v.Int(nil)
	return out
}

func TestRegistry_ExchangeRate(t *testing.T) {
	r := NewRegistry()
	err := r.Register(
		[]common.Address{weth, usdc},
		[]PriceSource{NewPlaceholder(units("3391.95")), NewPlaceholder(units("0.9998"))},
	)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	t.Run("weth to usdc", func(t *testing.T) {
		rate, err := r.ExchangeRate(weth, usdc)
		if err != nil {
			t.Fatalf("ExchangeRate failed: %v", err)
		}
		// 3391.95 / 0.9998 = 3392.628... at 1e8
		want := new(big.Int).Mul(units("3391.95"), big.NewInt(domain.PriceScale))
		want.Quo(want, units("0.9998"))
		if rate.Cmp(want) != 0 {
			t.Errorf("rate = %s, want %s", rate, want)
		}
	})

	t.Run("reciprocal pair inverts", func(t *testing.T) {
		fwd, _ := r.ExchangeRate(weth, usdc)
		rev, err := r.ExchangeRate(usdc, weth)
		if err != nil {
			t.Fatalf("ExchangeRate failed: %v", err)
		}
		// fwd * rev ~= 1e16 modulo integer truncation
		prod := new(big.Int).Mul(fwd, rev)
		lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
		lo.Sub(lo, new(big.Int).Mul(fwd, big.NewInt(2)))
		if prod.Cmp(lo) < 0 {
			t.Errorf("reciprocal rates drifted: %s * %s = %s", fwd, rev, prod)
		}
	})

	t.Run("unregistered token", func(t *testing.T) {
		_, err := r.ExchangeRate(weth, arb)
		if !errors.Is(err, domain.ErrOracleNotRegistered) {
			t.Errorf("expected OracleNotRegistered, got %v", err)
		}
	})

	t.Run("length mismatch rejected", func(t *testing.T) {
		if err := r.Register([]common.Address{weth}, nil); err == nil {
			t.Error("expected mismatch error")
		}
	})
}

func TestPlaceholder(t *testing.T) {
	p := &Placeholder{}
	if _, err := p.LatestPrice(); err == nil {
		t.Error("unset placeholder should error")
	}

	p.SetPrice(units("7.53"))
	got, err := p.LatestPrice()
	if err != nil {
		t.Fatalf("LatestPrice failed: %v", err)
	}
	if got.Cmp(units("7.53")) != 0 {
		t.Errorf("price = %s, want %s", got, units("7.53"))
	}
}
