package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderType identifies which book an upkeep payload targets.
// OracleLess orders are filled directly and never appear in upkeep data.
type OrderType uint8

const (
	StopLimitType OrderType = iota
	StopLossLimitType
)

func (t OrderType) String() string {
	switch t {
	case StopLimitType:
		return "STOP_LIMIT"
	case StopLossLimitType:
		return "STOP_LOSS_LIMIT"
	default:
		return "UNKNOWN"
	}
}

const (
	// MaxBips is the basis-point denominator. Slippage and fee values
	// are bounded by it.
	MaxBips = 10000

	// PriceScale is the fixed-point base for all oracle prices and
	// exchange rates (1e8, Chainlink convention).
	PriceScale = 1e8
)

// Order holds the fields common to every book's order record.
// AmountIn is custodied by the owning book until fill, cancel, or a
// decreasing modification.
type Order struct {
	ID        uint64
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	Recipient common.Address
	FeeBips   uint16
}

// StopLimitOrder triggers creation of a Bracket order once the
// stop-limit price is crossed. The take-profit/stop fields are carried
// through to the spawned Bracket order.
type StopLimitOrder struct {
	Order
	StopLimitPrice     *big.Int
	TakeProfit         *big.Int
	StopPrice          *big.Int
	TakeProfitSlippage uint16
	StopSlippage       uint16
	SwapSlippage       uint16
	SwapOnFill         bool
	// Direction is true when the exchange rate was above the
	// stop-limit price at creation.
	Direction bool
}

// BracketOrder holds a take-profit and a stop-loss price and pays out
// when either is crossed, each leg with its own slippage.
type BracketOrder struct {
	Order
	TakeProfit         *big.Int
	StopPrice          *big.Int
	TakeProfitSlippage uint16
	StopSlippage       uint16
	// Direction is true when the exchange rate was above the
	// take-profit price at creation or last modification.
	Direction bool
}

// OracleLessOrder is a pure slippage-bound swap order: no oracle
// trigger, just a fixed minimum output.
type OracleLessOrder struct {
	Order
	MinAmountOut *big.Int
}

// NewDirection determines an order's direction from the exchange rate
// at creation time: true means the rate sits above the trigger and the
// order fires on a downward cross.
func NewDirection(exchangeRate, trigger *big.Int) bool {
	return exchangeRate.Cmp(trigger) > 0
}

// InRange reports whether a stop-limit order may fill at the given
// exchange rate.
func (o *StopLimitOrder) InRange(exchangeRate *big.Int) bool {
	if o.Direction {
		return exchangeRate.Cmp(o.StopLimitPrice) <= 0
	}
	return exchangeRate.Cmp(o.StopLimitPrice) >= 0
}

// InRange reports whether a bracket order may fill at the given
// exchange rate, and if so which leg triggered. The slippage bips of
// the triggered leg bound the fill.
func (o *BracketOrder) InRange(exchangeRate *big.Int) (inRange bool, takeProfit bool) {
	if o.Direction {
		if exchangeRate.Cmp(o.TakeProfit) <= 0 {
			return true, true
		}
		if exchangeRate.Cmp(o.StopPrice) >= 0 {
			return true, false
		}
		return false, false
	}
	if exchangeRate.Cmp(o.TakeProfit) >= 0 {
		return true, true
	}
	if exchangeRate.Cmp(o.StopPrice) <= 0 {
		return true, false
	}
	return false, false
}

// SlippageBips returns the slippage bound for the triggered leg.
func (o *BracketOrder) SlippageBips(takeProfit bool) uint16 {
	if takeProfit {
		return o.TakeProfitSlippage
	}
	return o.StopSlippage
}

// ValidBips checks every basis-point value is within [0, MaxBips].
func ValidBips(bips ...uint16) bool {
	for _, b := range bips {
		if b > MaxBips {
			return false
		}
	}
	return true
}
