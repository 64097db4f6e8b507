// Package wire holds the fixed ABI codecs shared between the read path
// (checkUpkeep) and the write path (performUpkeep). These are the only
// structured interchange formats in the system and must round-trip
// exactly; nothing here is a general-purpose ABI layer.
package wire

import (
	"fmt"
	"math/big"

	"trigger_go/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MasterUpkeepData is the opaque execution payload handed from
// checkUpkeep to performUpkeep. Layout:
// (uint8 orderType, address target, address tokenIn, address tokenOut,
//  uint96 orderId, uint16 pendingOrderIdx, uint88 bips,
//  uint256 amountIn, uint256 exchangeRate, bytes txData)
type MasterUpkeepData struct {
	OrderType       domain.OrderType
	Target          common.Address
	TokenIn         common.Address
	TokenOut        common.Address
	OrderID         uint64
	PendingOrderIdx uint16
	Bips            uint64
	AmountIn        *big.Int
	ExchangeRate    *big.Int
	TxData          []byte
}

// upkeepTuple mirrors the ABI tuple with the Go types the abi package
// expects for each width.
type upkeepTuple struct {
	OrderType       uint8
	Target          common.Address
	TokenIn         common.Address
	TokenOut        common.Address
	OrderId         *big.Int // uint96
	PendingOrderIdx uint16
	Bips            *big.Int // uint88
	AmountIn        *big.Int
	ExchangeRate    *big.Int
	TxData          []byte
}

var upkeepArgs abi.Arguments

func init() {
	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "orderType", Type: "uint8"},
		{Name: "target", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "orderId", Type: "uint96"},
		{Name: "pendingOrderIdx", Type: "uint16"},
		{Name: "bips", Type: "uint88"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "exchangeRate", Type: "uint256"},
		{Name: "txData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	upkeepArgs = abi.Arguments{{Type: tupleType}}
}

// EncodeUpkeepData packs the payload into its ABI form.
func EncodeUpkeepData(d *MasterUpkeepData) ([]byte, error) {
	txData := d.TxData
	if txData == nil {
		txData = []byte{}
	}
	return upkeepArgs.Pack(upkeepTuple{
		OrderType:       uint8(d.OrderType),
		Target:          d.Target,
		TokenIn:         d.TokenIn,
		TokenOut:        d.TokenOut,
		OrderId:         new(big.Int).SetUint64(d.OrderID),
		PendingOrderIdx: d.PendingOrderIdx,
		Bips:            new(big.Int).SetUint64(d.Bips),
		AmountIn:        d.AmountIn,
		ExchangeRate:    d.ExchangeRate,
		TxData:          txData,
	})
}

// DecodeUpkeepData unpacks an ABI-encoded payload.
func DecodeUpkeepData(data []byte) (*MasterUpkeepData, error) {
	vals, err := upkeepArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("decode upkeep data: %w", err)
	}
	tuple := *abi.ConvertType(vals[0], new(upkeepTuple)).(*upkeepTuple)
	return &MasterUpkeepData{
		OrderType:       domain.OrderType(tuple.OrderType),
		Target:          tuple.Target,
		TokenIn:         tuple.TokenIn,
		TokenOut:        tuple.TokenOut,
		OrderID:         tuple.OrderId.Uint64(),
		PendingOrderIdx: tuple.PendingOrderIdx,
		Bips:            tuple.Bips.Uint64(),
		AmountIn:        tuple.AmountIn,
		ExchangeRate:    tuple.ExchangeRate,
		TxData:          tuple.TxData,
	}, nil
}
