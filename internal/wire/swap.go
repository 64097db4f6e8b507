package wire

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SwapParams is the swap-on-fill payload attached to order creation:
// (address swapTokenIn, uint256 swapAmountIn, address swapTarget,
//  uint32 swapBips, bytes txData). The engine validates it only by
// post-condition (balance delta), never by decoding txData.
type SwapParams struct {
	TokenIn  common.Address
	AmountIn *big.Int
	Target   common.Address
	Bips     uint32
	TxData   []byte
}

type swapTuple struct {
	SwapTokenIn  common.Address
	SwapAmountIn *big.Int
	SwapTarget   common.Address
	SwapBips     uint32
	TxData       []byte
}

var swapArgs abi.Arguments

func init() {
	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "swapTokenIn", Type: "address"},
		{Name: "swapAmountIn", Type: "uint256"},
		{Name: "swapTarget", Type: "address"},
		{Name: "swapBips", Type: "uint32"},
		{Name: "txData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	swapArgs = abi.Arguments{{Type: tupleType}}
}

// EncodeSwapParams packs a swap-on-fill payload.
func EncodeSwapParams(p *SwapParams) ([]byte, error) {
	txData := p.TxData
	if txData == nil {
		txData = []byte{}
	}
	return swapArgs.Pack(swapTuple{
		SwapTokenIn:  p.TokenIn,
		SwapAmountIn: p.AmountIn,
		SwapTarget:   p.Target,
		SwapBips:     p.Bips,
		TxData:       txData,
	})
}

// DecodeSwapParams unpacks a swap-on-fill payload.
func DecodeSwapParams(data []byte) (*SwapParams, error) {
	vals, err := swapArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("decode swap params: %w", err)
	}
	tuple := *abi.ConvertType(vals[0], new(swapTuple)).(*swapTuple)
	return &SwapParams{
		TokenIn:  tuple.SwapTokenIn,
		AmountIn: tuple.SwapAmountIn,
		Target:   tuple.SwapTarget,
		Bips:     tuple.SwapBips,
		TxData:   tuple.TxData,
	}, nil
}

// ExactInputSingleParams is the router call every fill forwards:
// callers construct it off the upkeep payload and pass it through
// untouched.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int // uint24 pool fee tier
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

var (
	exactInputArgs     abi.Arguments
	exactInputSelector []byte
)

func init() {
	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "recipient", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	})
	if err != nil {
		panic(err)
	}
	exactInputArgs = abi.Arguments{{Type: tupleType}}

	sig := "exactInputSingle((address,address,uint24,address,uint256,uint256,uint160))"
	exactInputSelector = crypto.Keccak256([]byte(sig))[:4]
}

type exactInputTuple struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodeExactInputSingle builds selector-prefixed router calldata.
func EncodeExactInputSingle(p *ExactInputSingleParams) ([]byte, error) {
	fee := p.Fee
	if fee == nil {
		fee = big.NewInt(0)
	}
	limit := p.SqrtPriceLimitX96
	if limit == nil {
		limit = big.NewInt(0)
	}
	packed, err := exactInputArgs.Pack(exactInputTuple{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               fee,
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMinimum,
		SqrtPriceLimitX96: limit,
	})
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, exactInputSelector...), packed...), nil
}

// DecodeExactInputSingle parses selector-prefixed router calldata.
func DecodeExactInputSingle(data []byte) (*ExactInputSingleParams, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	for i := 0; i < 4; i++ {
		if data[i] != exactInputSelector[i] {
			return nil, fmt.Errorf("unknown selector %x", data[:4])
		}
	}
	vals, err := exactInputArgs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("decode exactInputSingle: %w", err)
	}
	tuple := *abi.ConvertType(vals[0], new(exactInputTuple)).(*exactInputTuple)
	return &ExactInputSingleParams{
		TokenIn:           tuple.TokenIn,
		TokenOut:          tuple.TokenOut,
		Fee:               tuple.Fee,
		Recipient:         tuple.Recipient,
		AmountIn:          tuple.AmountIn,
		AmountOutMinimum:  tuple.AmountOutMinimum,
		SqrtPriceLimitX96: tuple.SqrtPriceLimitX96,
	}, nil
}
