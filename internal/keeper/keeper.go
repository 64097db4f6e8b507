// Package keeper runs the automation loop: poll the master for a
// fillable order, dress the payload with router calldata bounded by the
// oracle, and perform the fill. It is the only component that decides
// WHERE a fill executes; the books only check the outcome.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"trigger_go/internal/domain"
	"trigger_go/internal/infra"
	"trigger_go/internal/master"
	"trigger_go/internal/wire"

	"github.com/ethereum/go-ethereum/common"
)

// Keeper polls and fills on a fixed interval.
type Keeper struct {
	master   *master.Master
	router   common.Address
	bracket  common.Address
	interval time.Duration
	poolFee  *big.Int
}

// Config wires a keeper.
type Config struct {
	Master   *master.Master
	Router   common.Address
	Bracket  common.Address
	Interval time.Duration
	// PoolFee is the uniswap fee tier stamped into router calldata.
	PoolFee int64
}

// New creates a keeper. Interval defaults to a second, PoolFee to the
// 5 bps tier.
func New(cfg Config) *Keeper {
	k := &Keeper{
		master:   cfg.Master,
		router:   cfg.Router,
		bracket:  cfg.Bracket,
		interval: cfg.Interval,
		poolFee:  big.NewInt(cfg.PoolFee),
	}
	if k.interval <= 0 {
		k.interval = time.Second
	}
	if cfg.PoolFee == 0 {
		k.poolFee = big.NewInt(500)
	}
	return k
}

// Run drives the poll loop until the context is cancelled. Retriable
// fill failures (slippage, overspend) are logged and retried on the
// next tick. A payload that went stale between check and perform is
// wasted work, not a fault: the next poll sees the fresh state. Only
// genuinely fatal errors stop the keeper.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper started", slog.Duration("interval", k.interval))

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopping")
			return ctx.Err()
		case <-ticker.C:
			performed, err := k.RunOnce()
			if err != nil {
				if domain.IsRetriable(err) {
					infra.GlobalMetrics.RecordFillRetry()
					slog.Warn("fill failed, retrying next tick", slog.Any("error", err))
					continue
				}
				if errors.Is(err, domain.ErrInvalidUpkeepData) {
					slog.Warn("payload went stale before perform", slog.Any("error", err))
					continue
				}
				infra.GlobalMetrics.RecordError()
				slog.Error("keeper halted", slog.Any("error", err))
				return err
			}
			if performed {
				slog.Info("order filled")
			}
		}
	}
}

// RunOnce does one poll-and-perform pass. It reports whether a fill
// was performed.
func (k *Keeper) RunOnce() (bool, error) {
	infra.GlobalMetrics.RecordCheck()

	ok, payload, err := k.master.CheckUpkeep()
	if err != nil {
		return false, fmt.Errorf("check upkeep: %w", err)
	}
	if !ok {
		return false, nil
	}

	d, err := wire.DecodeUpkeepData(payload)
	if err != nil {
		return false, fmt.Errorf("decode upkeep payload: %w", err)
	}
	performData, err := k.BuildPerformData(d)
	if err != nil {
		return false, fmt.Errorf("build perform payload: %w", err)
	}

	slog.Debug("performing upkeep",
		slog.Uint64("order_id", d.OrderID),
		slog.String("type", d.OrderType.String()),
		slog.String("rate", d.ExchangeRate.String()))

	start := time.Now()
	if err := k.master.PerformUpkeep(performData); err != nil {
		return false, err
	}
	infra.GlobalMetrics.RecordOrderFilled(time.Since(start).Nanoseconds())
	return true, nil
}

// BuildPerformData turns a check payload into a perform payload:
// router calldata with the oracle-derived minimum output baked in.
// Every payload gets calldata, even a stop-limit fill that will not
// swap — the book ignores it there, and the payload alone cannot say
// whether a zero-slippage order swaps on fill.
func (k *Keeper) BuildPerformData(d *wire.MasterUpkeepData) ([]byte, error) {
	// The swap output lands on the book doing the fill: a bracket fill
	// pays its own book, a stop-limit swap-on-fill funds the spawned
	// bracket order.
	recipient := d.Target
	if d.OrderType == domain.StopLimitType {
		recipient = k.bracket
	}
	minOut, err := k.master.GetMinAmountReceived(d.AmountIn, d.TokenIn, d.TokenOut, d.Bips)
	if err != nil {
		return nil, err
	}
	txData, err := wire.EncodeExactInputSingle(&wire.ExactInputSingleParams{
		TokenIn:          d.TokenIn,
		TokenOut:         d.TokenOut,
		Fee:              k.poolFee,
		Recipient:        recipient,
		AmountIn:         d.AmountIn,
		AmountOutMinimum: minOut,
	})
	if err != nil {
		return nil, err
	}

	out := *d
	out.Target = k.router
	out.TxData = txData
	return wire.EncodeUpkeepData(&out)
}
