package book

import (
	"errors"
	"math/big"
	"testing"

	"trigger_go/internal/domain"
)

func oracleLessCreate() OracleLessCreate {
	return OracleLessCreate{
		TokenIn:      testWETH,
		TokenOut:     testUSDC,
		AmountIn:     eth(1),
		MinAmountOut: usd(2950),
		Recipient:    oscar,
		FeeBips:      25,
	}
}

func TestOracleLessFillOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.less.CreateOrder(oscar, oracleLessCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	requireBig(t, "custody", f.balance(testWETH, lessAddr), eth(1))

	data := routerCall(t, testWETH, testUSDC, lessAddr, eth(1), big.NewInt(0))
	if err := f.less.FillOrder(filler, 0, id, routerAddr, data); err != nil {
		t.Fatalf("fill: %v", err)
	}

	// 3000 USDC received, less 25 bips fee.
	requireBig(t, "owner payout", f.balance(testUSDC, oscar), new(big.Int).Add(usd(100_000), big.NewInt(2_992_500_000)))
	requireBig(t, "protocol fee", f.balance(testUSDC, feeAddr), big.NewInt(7_500_000))
	requireBig(t, "book weth", f.balance(testWETH, lessAddr), big.NewInt(0))
	if _, still := f.less.Order(id); still {
		t.Error("order still present after fill")
	}

	ev, ok := lastEvent(t, f).(*domain.OrderProcessed)
	if !ok || ev.Book != "OracleLess" || ev.OrderID != id {
		t.Fatalf("unexpected event %#v", lastEvent(t, f))
	}
}

func TestOracleLessFillBelowMinimum(t *testing.T) {
	f := newFixture(t)

	p := oracleLessCreate()
	p.MinAmountOut = usd(3050)
	id, err := f.less.CreateOrder(oscar, p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	data := routerCall(t, testWETH, testUSDC, lessAddr, eth(1), big.NewInt(0))
	err = f.less.FillOrder(filler, 0, id, routerAddr, data)
	if !errors.Is(err, domain.ErrTooLittleReceived) {
		t.Fatalf("err = %v, want %v", err, domain.ErrTooLittleReceived)
	}

	// Rolled back whole: custody intact, order still pending.
	requireBig(t, "custody", f.balance(testWETH, lessAddr), eth(1))
	if _, still := f.less.Order(id); !still {
		t.Fatal("order dropped by failed fill")
	}
}

func TestOracleLessFillMismatch(t *testing.T) {
	f := newFixture(t)

	id, err := f.less.CreateOrder(oscar, oracleLessCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	data := routerCall(t, testWETH, testUSDC, lessAddr, eth(1), big.NewInt(0))
	if err := f.less.FillOrder(filler, 5, id, routerAddr, data); !errors.Is(err, domain.ErrInvalidUpkeepData) {
		t.Fatalf("index out of bounds err = %v, want %v", err, domain.ErrInvalidUpkeepData)
	}
	if err := f.less.FillOrder(filler, 0, id+1, routerAddr, data); !errors.Is(err, domain.ErrInvalidUpkeepData) {
		t.Fatalf("id mismatch err = %v, want %v", err, domain.ErrInvalidUpkeepData)
	}
}

func TestOracleLessModifyOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.less.CreateOrder(oscar, oracleLessCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = f.less.ModifyOrder(oscar, id, OracleLessModify{
		TokenOut:     testUSDC,
		AmountDelta:  eth(1),
		Increase:     true,
		MinAmountOut: usd(5900),
		Recipient:    oscar,
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	ord, _ := f.less.Order(id)
	requireBig(t, "amount", ord.AmountIn, eth(2))
	requireBig(t, "min out", ord.MinAmountOut, usd(5900))
	requireBig(t, "custody", f.balance(testWETH, lessAddr), eth(2))

	err = f.less.ModifyOrder(filler, id, OracleLessModify{
		TokenOut: testUSDC, MinAmountOut: usd(1), Recipient: filler,
	})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
}

func TestOracleLessCancelOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.less.CreateOrder(oscar, oracleLessCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.less.CancelOrder(filler, id); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
	if err := f.less.CancelOrder(oscar, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireBig(t, "refund", f.balance(testWETH, oscar), eth(10))
}
