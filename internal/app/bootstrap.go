// Package app assembles the daemon: configuration, logging, the token
// ledger, oracles, order books, and the keeper loop.
package app

import (
	"context"
	"log/slog"
	"time"

	"trigger_go/internal/book"
	"trigger_go/internal/domain"
	"trigger_go/internal/infra"
	"trigger_go/internal/infra/storage"
	"trigger_go/internal/keeper"
	"trigger_go/internal/master"
	"trigger_go/internal/oracle"
	"trigger_go/internal/swap"
	"trigger_go/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Ledger   *token.Ledger
	Registry *oracle.Registry
	Feed     *oracle.FeedWorker
	Router   *swap.SimRouter
	Master   *master.Master
	Stop     *book.StopLimit
	Bracket  *book.Bracket
	Less     *book.OracleLess
	Keeper   *keeper.Keeper
}

// NewBootstrap creates an empty Bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires the whole system from the config file.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("bootstrapping",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version))

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("event journal ready", slog.String("path", cfg.Storage.Path))

	b.Ledger = token.NewLedger()
	feedSymbols := make(map[string]common.Address, len(cfg.Tokens))
	tokens := make([]common.Address, 0, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		addr := common.HexToAddress(tc.Address)
		b.Ledger.Register(addr, tc.Symbol, tc.Decimals)
		tokens = append(tokens, addr)
		if tc.FeedCode != "" {
			feedSymbols[tc.FeedCode] = addr
		}
	}

	b.Registry = oracle.NewRegistry()
	b.Feed = oracle.NewFeedWorker(cfg.Feed.WSURL, feedSymbols)
	sources := make([]oracle.PriceSource, 0, len(tokens))
	for _, addr := range tokens {
		src, ok := b.Feed.Target(addr)
		if !ok {
			// No feed channel: price stays settable out of band.
			src = oracle.NewPlaceholder(nil)
		}
		sources = append(sources, src)
	}

	routerAddr := common.HexToAddress(cfg.Chain.Router)
	b.Router = swap.NewSimRouter(routerAddr)
	engine := swap.NewEngine()
	engine.RegisterVenue(routerAddr, b.Router)

	minSize, _ := cfg.MinOrderSize()
	b.Master = master.New(master.Config{
		Address:          common.HexToAddress(cfg.Chain.Master),
		Admin:            common.HexToAddress(cfg.Chain.Admin),
		Ledger:           b.Ledger,
		Registry:         b.Registry,
		MaxPendingOrders: cfg.Limits.MaxPendingOrders,
		MinOrderSize:     minSize,
	})
	if err := b.Master.RegisterOracle(tokens, sources); err != nil {
		return err
	}

	journal := store.Sink()
	sink := func(ev domain.Event) {
		if _, ok := ev.(*domain.OrderCreated); ok {
			infra.GlobalMetrics.RecordOrderCreated()
		}
		journal(ev)
	}
	bookCfg := func(addr string) book.Config {
		return book.Config{
			Address: common.HexToAddress(addr),
			ChainID: cfg.Chain.ID,
			Permit2: common.HexToAddress(cfg.Chain.Permit2),
			Ledger:  b.Ledger,
			Engine:  engine,
			Ctrl:    b.Master,
			Sink:    sink,
		}
	}
	b.Bracket = book.NewBracket(bookCfg(cfg.Chain.Bracket))
	b.Stop = book.NewStopLimit(bookCfg(cfg.Chain.Stop), b.Bracket)
	b.Less = book.NewOracleLess(bookCfg(cfg.Chain.Less))
	b.Master.RegisterSubKeepers(b.Stop, b.Bracket)

	b.Keeper = keeper.New(keeper.Config{
		Master:   b.Master,
		Router:   routerAddr,
		Bracket:  common.HexToAddress(cfg.Chain.Bracket),
		Interval: time.Duration(cfg.Keeper.PollIntervalMS) * time.Millisecond,
		PoolFee:  cfg.Keeper.PoolFee,
	})

	slog.Info("system wired",
		slog.Int("tokens", len(tokens)),
		slog.Int("max_pending_orders", cfg.Limits.MaxPendingOrders))
	return nil
}

// Run connects the price feed and drives the keeper until the context
// is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.Config.Feed.WSURL != "" {
		if err := b.Feed.Connect(ctx); err != nil {
			slog.Error("failed to connect price feed", slog.Any("error", err))
		} else {
			infra.GlobalMetrics.SetFeedConnected(true)
			defer b.Feed.Disconnect()
		}
	}
	return b.Keeper.Run(ctx)
}
