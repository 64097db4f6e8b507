package book

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"trigger_go/internal/domain"
	"trigger_go/internal/permit"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/crypto"
)

func bracketCreate() BracketCreate {
	return BracketCreate{
		TakeProfit:         price(3100),
		StopPrice:          price(2800),
		AmountIn:           eth(1),
		TokenIn:            testWETH,
		TokenOut:           testUSDC,
		Recipient:          oscar,
		FeeBips:            25,
		TakeProfitSlippage: 100,
		StopSlippage:       500,
	}
}

func TestBracketCreateOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ord, ok := f.bracket.Order(id)
	if !ok {
		t.Fatal("order not recorded")
	}
	if ord.Direction {
		t.Error("direction should be false with rate below take profit")
	}
	requireBig(t, "custody", f.balance(testWETH, bracketAddr), eth(1))
	requireBig(t, "owner balance", f.balance(testWETH, oscar), eth(9))

	if got := f.bracket.PendingOrders(); len(got) != 1 || got[0] != id {
		t.Fatalf("pending = %v, want [%d]", got, id)
	}

	ev, ok := lastEvent(t, f).(*domain.OrderCreated)
	if !ok || ev.OrderID != id || ev.Book != "Bracket" {
		t.Fatalf("unexpected event %#v", lastEvent(t, f))
	}

	// Price between the legs: nothing to do.
	ok, _, err = f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	if ok {
		t.Error("order in range before either leg crossed")
	}
}

func TestBracketCreateOrderRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("invalid bips", func(t *testing.T) {
		p := bracketCreate()
		p.TakeProfitSlippage = domain.MaxBips + 1
		if _, err := f.bracket.CreateOrder(oscar, p); !errors.Is(err, domain.ErrInvalidBips) {
			t.Fatalf("err = %v, want %v", err, domain.ErrInvalidBips)
		}
	})

	t.Run("order too small", func(t *testing.T) {
		p := bracketCreate()
		p.AmountIn = big.NewInt(1e12) // well under $10 of WETH
		if _, err := f.bracket.CreateOrder(oscar, p); !errors.Is(err, domain.ErrOrderTooSmall) {
			t.Fatalf("err = %v, want %v", err, domain.ErrOrderTooSmall)
		}
		requireBig(t, "custody after reject", f.balance(testWETH, bracketAddr), big.NewInt(0))
	})

	t.Run("max pending orders", func(t *testing.T) {
		f.ctrl.max = 1
		defer func() { f.ctrl.max = 20 }()
		if _, err := f.bracket.CreateOrder(oscar, bracketCreate()); err != nil {
			t.Fatalf("first create: %v", err)
		}
		if _, err := f.bracket.CreateOrder(oscar, bracketCreate()); !errors.Is(err, domain.ErrMaxPendingOrders) {
			t.Fatalf("err = %v, want %v", err, domain.ErrMaxPendingOrders)
		}
	})
}

func TestBracketTakeProfitFill(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.ethFeed.SetPrice(price(3200))
	f.syncRouter()

	ok, payload, err := f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	if !ok {
		t.Fatal("take profit leg not detected")
	}
	d := decodeUpkeep(t, payload)
	if d.OrderType != domain.StopLossLimitType || d.OrderID != id {
		t.Fatalf("payload order %d type %v", d.OrderID, d.OrderType)
	}
	if d.Bips != 100 {
		t.Fatalf("payload bips = %d, want take profit slippage 100", d.Bips)
	}

	d.Target = routerAddr
	d.TxData = routerCall(t, testWETH, testUSDC, bracketAddr, d.AmountIn, big.NewInt(0))
	if err := f.bracket.PerformUpkeep(d); err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// 1 WETH at $3200 is 3200 USDC; 25 bips of that is the fee.
	requireBig(t, "owner payout", f.balance(testUSDC, oscar), usd(100_000+3192))
	requireBig(t, "protocol fee", f.balance(testUSDC, feeAddr), usd(8))
	requireBig(t, "book weth", f.balance(testWETH, bracketAddr), big.NewInt(0))
	requireBig(t, "book usdc", f.balance(testUSDC, bracketAddr), big.NewInt(0))

	if _, still := f.bracket.Order(id); still {
		t.Error("order still present after fill")
	}
	if got := f.bracket.PendingOrders(); len(got) != 0 {
		t.Errorf("pending = %v after fill", got)
	}
	ev, ok := lastEvent(t, f).(*domain.OrderProcessed)
	if !ok || ev.OrderID != id || !ev.TakeProfitLeg {
		t.Fatalf("unexpected event %#v", lastEvent(t, f))
	}
}

func TestBracketStopLossFill(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.ethFeed.SetPrice(price(2700))
	f.syncRouter()

	ok, payload, err := f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	if !ok {
		t.Fatal("stop leg not detected")
	}
	d := decodeUpkeep(t, payload)
	if d.Bips != 500 {
		t.Fatalf("payload bips = %d, want stop slippage 500", d.Bips)
	}

	d.Target = routerAddr
	d.TxData = routerCall(t, testWETH, testUSDC, bracketAddr, d.AmountIn, big.NewInt(0))
	if err := f.bracket.PerformUpkeep(d); err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	ev, evOK := lastEvent(t, f).(*domain.OrderProcessed)
	if !evOK || ev.OrderID != id || ev.TakeProfitLeg {
		t.Fatalf("unexpected event %#v", lastEvent(t, f))
	}
	// 2700 USDC less 25 bips fee.
	requireBig(t, "owner payout", f.balance(testUSDC, oscar), new(big.Int).Add(usd(100_000), big.NewInt(2_693_250_000)))
}

func TestBracketFillTooLittleReceived(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.ethFeed.SetPrice(price(3200))
	// Router lags the oracle past the 100 bips bound.
	f.router.SetRate(testWETH, testUSDC, price(3100))

	_, payload, err := f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	d := decodeUpkeep(t, payload)
	d.Target = routerAddr
	d.TxData = routerCall(t, testWETH, testUSDC, bracketAddr, d.AmountIn, big.NewInt(0))

	err = f.bracket.PerformUpkeep(d)
	if !errors.Is(err, domain.ErrTooLittleReceived) {
		t.Fatalf("err = %v, want %v", err, domain.ErrTooLittleReceived)
	}
	if !domain.IsRetriable(err) {
		t.Error("slippage failure should be retriable")
	}

	// Everything rolled back: order pending, custody intact.
	if _, still := f.bracket.Order(id); !still {
		t.Fatal("order dropped by failed fill")
	}
	requireBig(t, "custody", f.balance(testWETH, bracketAddr), eth(1))
	requireBig(t, "owner usdc", f.balance(testUSDC, oscar), usd(100_000))
}

func TestBracketFillOverspend(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bracket.CreateOrder(oscar, bracketCreate()); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ethFeed.SetPrice(price(3200))
	f.syncRouter()

	_, payload, err := f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	d := decodeUpkeep(t, payload)
	d.AmountIn = new(big.Int).Add(d.AmountIn, big.NewInt(1))
	d.Target = routerAddr
	d.TxData = routerCall(t, testWETH, testUSDC, bracketAddr, d.AmountIn, big.NewInt(0))

	if err := f.bracket.PerformUpkeep(d); !errors.Is(err, domain.ErrOverspend) {
		t.Fatalf("err = %v, want %v", err, domain.ErrOverspend)
	}
}

func TestBracketPartialFillRefund(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bracket.CreateOrder(oscar, bracketCreate()); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ethFeed.SetPrice(price(3200))
	f.syncRouter()

	_, payload, err := f.bracket.CheckUpkeep()
	if err != nil {
		t.Fatalf("check upkeep: %v", err)
	}
	d := decodeUpkeep(t, payload)

	// Fill half the committed amount; settlement is proportional and
	// stays inside the slippage bound on what was actually spent.
	half := new(big.Int).Quo(d.AmountIn, big.NewInt(2))
	d.AmountIn = half
	d.Target = routerAddr
	d.TxData = routerCall(t, testWETH, testUSDC, bracketAddr, half, big.NewInt(0))
	if err := f.bracket.PerformUpkeep(d); err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// Unspent half of the WETH goes back to the owner.
	requireBig(t, "owner weth", f.balance(testWETH, oscar), new(big.Int).Add(eth(9), half))
	// 1600 USDC received, less 25 bips fee.
	requireBig(t, "owner usdc", f.balance(testUSDC, oscar), usd(100_000+1596))
	requireBig(t, "book weth", f.balance(testWETH, bracketAddr), big.NewInt(0))
}

func TestBracketModifyOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("only owner", func(t *testing.T) {
		err := f.bracket.ModifyOrder(filler, id, BracketModify{
			TakeProfit: price(3100), StopPrice: price(2800),
			TokenOut: testUSDC, Recipient: filler,
			TakeProfitSlippage: 100, StopSlippage: 500,
		})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
		}
	})

	t.Run("increase", func(t *testing.T) {
		err := f.bracket.ModifyOrder(oscar, id, BracketModify{
			TakeProfit: price(3100), StopPrice: price(2800),
			AmountDelta: eth(1), Increase: true,
			TokenOut: testUSDC, Recipient: oscar,
			TakeProfitSlippage: 100, StopSlippage: 500,
		})
		if err != nil {
			t.Fatalf("modify: %v", err)
		}
		requireBig(t, "custody", f.balance(testWETH, bracketAddr), eth(2))
		ord, _ := f.bracket.Order(id)
		requireBig(t, "amount", ord.AmountIn, eth(2))
	})

	t.Run("decrease", func(t *testing.T) {
		err := f.bracket.ModifyOrder(oscar, id, BracketModify{
			TakeProfit: price(3100), StopPrice: price(2800),
			AmountDelta: eth(1), Increase: false,
			TokenOut: testUSDC, Recipient: oscar,
			TakeProfitSlippage: 100, StopSlippage: 500,
		})
		if err != nil {
			t.Fatalf("modify: %v", err)
		}
		requireBig(t, "custody", f.balance(testWETH, bracketAddr), eth(1))
		requireBig(t, "owner", f.balance(testWETH, oscar), eth(9))
	})

	t.Run("inverted legs flip direction", func(t *testing.T) {
		// Take profit above the rate means direction false; moving it
		// below flips it rather than failing.
		err := f.bracket.ModifyOrder(oscar, id, BracketModify{
			TakeProfit: price(2500), StopPrice: price(3500),
			TokenOut: testUSDC, Recipient: oscar,
			TakeProfitSlippage: 100, StopSlippage: 500,
		})
		if err != nil {
			t.Fatalf("modify: %v", err)
		}
		ord, _ := f.bracket.Order(id)
		if !ord.Direction {
			t.Error("direction should flip with take profit below rate")
		}
	})
}

func TestBracketCancelOrder(t *testing.T) {
	f := newFixture(t)

	id, err := f.bracket.CreateOrder(oscar, bracketCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.bracket.CancelOrder(filler, id); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnauthorized)
	}
	if err := f.bracket.CancelOrder(oscar, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireBig(t, "refund", f.balance(testWETH, oscar), eth(10))
	requireBig(t, "custody", f.balance(testWETH, bracketAddr), big.NewInt(0))

	if err := f.bracket.CancelOrder(oscar, id); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("second cancel err = %v, want %v", err, domain.ErrOrderNotFound)
	}
}

func TestBracketSwapOnCreate(t *testing.T) {
	f := newFixture(t)

	swapData, err := wire.EncodeSwapParams(&wire.SwapParams{
		TokenIn:  testUSDC,
		AmountIn: usd(3000),
		Target:   routerAddr,
		Bips:     100,
		TxData:   routerCall(t, testUSDC, testWETH, bracketAddr, usd(3000), big.NewInt(0)),
	})
	if err != nil {
		t.Fatalf("encode swap params: %v", err)
	}

	p := bracketCreate()
	p.SwapPayload = swapData
	p.AmountIn = big.NewInt(0)
	id, err := f.bracket.CreateOrder(oscar, p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The 1e8-scaled USDC->WETH rate truncates to 33333, so 3000 USDC
	// buys just under one WETH.
	want := new(big.Int).Mul(big.NewInt(999_990), big.NewInt(1e12))
	ord, ok := f.bracket.Order(id)
	if !ok {
		t.Fatal("order not recorded")
	}
	requireBig(t, "working amount", ord.AmountIn, want)
	requireBig(t, "custody", f.balance(testWETH, bracketAddr), want)
	requireBig(t, "owner usdc", f.balance(testUSDC, oscar), usd(97_000))
}

func TestBracketSwapOnCreatePartialSpend(t *testing.T) {
	f := newFixture(t)

	// The venue only consumes half of the committed input; the rest
	// must flow back to the recipient, not strand in the book.
	swapData, err := wire.EncodeSwapParams(&wire.SwapParams{
		TokenIn:  testUSDC,
		AmountIn: usd(3000),
		Target:   routerAddr,
		Bips:     5000,
		TxData:   routerCall(t, testUSDC, testWETH, bracketAddr, usd(1500), big.NewInt(0)),
	})
	if err != nil {
		t.Fatalf("encode swap params: %v", err)
	}

	p := bracketCreate()
	p.SwapPayload = swapData
	p.AmountIn = big.NewInt(0)
	id, err := f.bracket.CreateOrder(oscar, p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	want := new(big.Int).Mul(big.NewInt(499_995), big.NewInt(1e12))
	ord, ok := f.bracket.Order(id)
	if !ok {
		t.Fatal("order not recorded")
	}
	requireBig(t, "working amount", ord.AmountIn, want)
	requireBig(t, "custody weth", f.balance(testWETH, bracketAddr), want)
	// 3000 pulled, 1500 spent, 1500 refunded.
	requireBig(t, "owner usdc", f.balance(testUSDC, oscar), usd(98_500))
	requireBig(t, "custody usdc", f.balance(testUSDC, bracketAddr), big.NewInt(0))
	f.assertConservation(t)
}

func TestBracketCreateWithPermit(t *testing.T) {
	f := newFixture(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	f.mint(testWETH, owner, eth(1))

	deadline := uint64(time.Now().Add(time.Hour).Unix())
	single := &permit.Single{
		Details: permit.Details{
			Token:      testWETH,
			Amount:     eth(1),
			Expiration: deadline,
			Nonce:      0,
		},
		Spender:     bracketAddr,
		SigDeadline: deadline,
	}
	sig, err := permit.Sign(single, 42161, permit2Addr, key)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}

	p := bracketCreate()
	p.Recipient = owner
	p.Permit = single
	p.PermitSig = sig
	if _, err := f.bracket.CreateOrder(owner, p); err != nil {
		t.Fatalf("create with permit: %v", err)
	}
	requireBig(t, "custody", f.balance(testWETH, bracketAddr), eth(1))
	requireBig(t, "owner", f.balance(testWETH, owner), big.NewInt(0))
}
