// Tradecore daemon — hosts user strategies on the trading runtime.
//
// Architecture:
//
//	main.go                — entry point: config, wiring, SIGINT/SIGTERM shutdown
//	runtime/context.go     — per-strategy event demultiplexer and transaction owner
//	sched/                 — per-context scheduler + the global worker
//	exchange/mediator.go   — subscription multiplexing and order routing per venue
//	storage/               — transactional LevelDB persistence (vars, orders, fills)
//	order/                 — order setups, lifecycle state machine, persistence envelope
//	sim/                   — built-in back-test venue driving the same adapter interface
//	strategy/              — strategy interface, registry, and the reference sampler
//
// The daemon binds every configured strategy to the selected venue adapter
// (the built-in simulator by default), restores open orders from storage,
// and runs them all on a single worker goroutine. With the simulator the
// market is a seeded random walk, making runs repeatable.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/runtime"
	"tradecore/internal/sched"
	"tradecore/internal/sim"
	"tradecore/internal/storage"
	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

const tickInterval = 500 * time.Millisecond

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if cfg.Exchange.Adapter != "sim" {
		logger.Error("unknown exchange adapter", "adapter", cfg.Exchange.Adapter)
		os.Exit(1)
	}

	db, err := leveldb.OpenFile(cfg.Storage.Path, nil)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "path", cfg.Storage.Path)
		os.Exit(1)
	}
	defer db.Close()

	adapter := sim.New(logger)
	med := exchange.NewMediator(adapter, cfg.Exchange.Label, logger)
	adapter.Bind(med)
	adapter.SetFees(cfg.Exchange.Fees)

	balance := cfg.Exchange.InitialBalance
	if balance == 0 {
		balance = 100_000
	}
	account := adapter.AddAccount("sim-main", "main", balance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := sched.NewContextScheduler()
	go worker.Run(ctx)

	var contexts []*runtime.Context
	var instruments []*types.Instrument
	seen := make(map[string]bool)
	for _, sc := range cfg.Strategies {
		strat, err := strategy.New(sc.Strategy)
		if err != nil {
			logger.Error("failed to create strategy", "error", err, "id", sc.ID)
			os.Exit(1)
		}

		var insts []*types.Instrument
		for _, ic := range sc.Instruments {
			inst := adapter.Instrument(ic.ID, ic.Label, ic.ToInstrumentConfig())
			insts = append(insts, inst)
			if !seen[ic.ID] {
				seen[ic.ID] = true
				instruments = append(instruments, inst)
			}
		}

		sctx := runtime.New(sc.ID, strat, strategy.Config{
			Accounts:    []*types.Account{account},
			Instruments: insts,
			Params:      sc.Params,
		}, worker, storage.NewLevelDBWith(db, sc.ID), med, logger)

		if err := sctx.Init(); err != nil {
			logger.Error("strategy init failed", "error", err, "id", sc.ID)
			os.Exit(1)
		}
		contexts = append(contexts, sctx)
		logger.Info("strategy started", "id", sc.ID, "strategy", sc.Strategy)
	}

	go feedMarket(ctx, adapter, instruments)

	logger.Info("tradecore started",
		"strategies", len(contexts),
		"venue", med.Name(),
		"storage", cfg.Storage.Path,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	for _, c := range contexts {
		c.Close()
	}
	logger.Info("shutdown complete")
}

// feedMarket drives the simulator with a seeded random walk per instrument
// so back-test runs are repeatable.
func feedMarket(ctx context.Context, adapter *sim.Exchange, instruments []*types.Instrument) {
	rng := rand.New(rand.NewSource(1))
	prices := make(map[*types.Instrument]float64, len(instruments))
	for _, i := range instruments {
		prices[i] = 100
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, i := range instruments {
				step := i.Config().TickSize
				if step == 0 {
					step = 0.01
				}
				prices[i] += float64(rng.Intn(21)-10) * step
				if prices[i] < step {
					prices[i] = step
				}
				last := prices[i]
				adapter.Tick(i, types.Ticker{
					Time:   now,
					Bid:    last - step,
					BidVol: 10,
					Ask:    last + step,
					AskVol: 10,
					Last:   last,
					Volume: float64(rng.Intn(100)),
				})
			}
			adapter.Drain()
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
