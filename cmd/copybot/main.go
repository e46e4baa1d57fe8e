package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/copybot/config"
	"github.com/alejandrodnm/copybot/internal/adapters/notify"
	"github.com/alejandrodnm/copybot/internal/adapters/polymarket"
	"github.com/alejandrodnm/copybot/internal/adapters/storage"
	"github.com/alejandrodnm/copybot/internal/aggregator"
	"github.com/alejandrodnm/copybot/internal/copytrade"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/monitor"
	"github.com/alejandrodnm/copybot/internal/orders"
	"github.com/alejandrodnm/copybot/internal/paper"
	"github.com/alejandrodnm/copybot/internal/ports"
	"github.com/alejandrodnm/copybot/internal/risk"
	"github.com/alejandrodnm/copybot/internal/sched"
	"github.com/alejandrodnm/copybot/internal/tracker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	live := flag.Bool("live", false, "trade with real money (default: paper)")
	once := flag.Bool("once", false, "run one poll cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	compact := flag.Bool("compact", false, "compact one-line status output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	paperMode := !*live
	slog.Info("copybot starting",
		"config", *configPath,
		"venue", cfg.Venue(),
		"paper", paperMode,
		"traders", len(cfg.Traders),
		"once", *once,
	)

	if !paperMode && cfg.API.APIKey == "" {
		slog.Error("live mode needs POLYMARKET_API_KEY")
		os.Exit(1)
	}

	// --- infraestructura compartida ---
	bus := events.NewBus()
	clock := sched.NewReal()

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.DataBase, cfg.API.APIKey)
	venues := map[domain.Venue]ports.VenueClient{domain.VenuePolymarket: client}

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	// --- pipeline ---
	trk := tracker.New(bus)

	mon := monitor.New(monitor.Config{
		PollInterval:     cfg.PollInterval(),
		InterTraderDelay: time.Duration(cfg.Monitor.InterTraderDelayMs) * time.Millisecond,
		MaxTradeAge:      time.Duration(cfg.Monitor.MaxTradeAgeSeconds) * time.Second,
	}, client, bus)

	agg := aggregator.New(aggregator.Config{
		Window:      time.Duration(cfg.Batch.WindowSeconds) * time.Second,
		MinTrades:   cfg.Batch.MinTrades,
		MinTotalUSD: cfg.Batch.MinTotalUSD,
	}, bus, clock)

	// --- risk gates ---
	checkInterval := time.Duration(cfg.Risk.CheckIntervalSeconds) * time.Second

	limits := risk.NewPositionLimitsManager(risk.LimitsConfig{
		MaxPositionPerMarketUSD: cfg.Risk.MaxPositionPerMarketUSD,
		MaxTotalExposureUSD:     cfg.Risk.MaxTotalExposureUSD,
		MaxPositionsPerMarket:   cfg.Risk.MaxPositionsPerMarket,
		MaxTotalPositions:       cfg.Risk.MaxTotalPositions,
	}, trk)

	exposure := risk.NewExposureTracker(risk.ExposureConfig{
		MaxTotalUSD:      cfg.Risk.MaxTotalExposureUSD,
		MaxPerVenueUSD:   map[domain.Venue]float64{cfg.Venue(): cfg.Risk.MaxVenueExposureUSD},
		AlertUtilization: cfg.Risk.AlertUtilization,
	}, trk, bus)

	ks := risk.NewKillSwitch(risk.KillSwitchConfig{
		MaxDailyLossUSD:    cfg.Risk.MaxDailyLossUSD,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		MaxAPIErrorsPerMin: cfg.Risk.MaxAPIErrorsPerMin,
		MaxTotalExposure:   cfg.Risk.MaxTotalExposureUSD,
		CheckInterval:      checkInterval,
	}, bus, clock)

	drawdown := risk.NewDrawdownMonitor(risk.DrawdownConfig{
		MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
		CheckInterval:  checkInterval,
	}, bus, clock, ks)

	// --- ejecución ---
	paperEngine := paper.New(paper.Config{
		InitialBalanceUSD:  cfg.Paper.InitialBalanceUSD,
		FillRate:           cfg.Paper.FillRate,
		PartialFillRate:    cfg.Paper.PartialFillRate,
		MinPartialFraction: cfg.Paper.MinPartialFraction,
		LatencyMin:         time.Duration(cfg.Paper.LatencyMinMs) * time.Millisecond,
		LatencyMax:         time.Duration(cfg.Paper.LatencyMaxMs) * time.Millisecond,
		SlippageBase:       cfg.Paper.SlippageBase,
		SlippageSizeImpact: cfg.Paper.SlippageSizeImpact,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	om := orders.NewManager(orders.Config{PaperMode: paperMode}, ks, limits, exposure, paperEngine, venues)
	ks.AddCanceller(om)

	svc := copytrade.New(copytrade.Config{
		DefaultVenue:    cfg.Venue(),
		MetricsInterval: cfg.MetricsInterval(),
		MarkInterval:    cfg.MarkInterval(),
		MaxMarkBooks:    cfg.Copy.MaxMarkBooks,
	}, bus, mon, agg, trk, om, ks, drawdown, clock)

	for _, tc := range cfg.Traders {
		trader, err := svc.AddTrader(tc.Trader())
		if err != nil {
			slog.Error("failed to add trader", "address", tc.Address, "err", err)
			os.Exit(1)
		}
		slog.Info("tracking trader",
			"label", trader.Label, "address", trader.Address,
			"strategy", trader.Strategy, "active", trader.Active)
	}

	// --- subscribers de salida: journal + consola ---
	notifier := notify.NewConsole(*compact)
	wireOutputs(bus, journal, notifier)

	// --- listener WS para marks en tiempo real ---
	listener := polymarket.NewListener(cfg.API.WSURL, func(u polymarket.PriceUpdate) {
		svc.MarkPrices(map[string]float64{u.AssetID: u.Price})
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		mon.PollOnce(ctx)
		agg.FlushAll()
		printStatus(ctx, svc, notifier)
		return
	}

	svc.Start(ctx)
	listener.Start(ctx)

	cancelWS := clock.Every(cfg.MarkInterval(), func() {
		listener.SetAssetIDs(openAssetIDs(svc))
	})
	cancelStatus := clock.Every(cfg.StatusInterval(), func() {
		printStatus(ctx, svc, notifier)
	})

	<-ctx.Done()

	cancelStatus()
	cancelWS()
	listener.Stop()
	svc.Stop()

	printStatus(context.Background(), svc, notifier)
	slog.Info("copybot stopped cleanly")
}

// wireOutputs conecta los eventos del pipeline con el journal y la consola.
// Ninguno de los dos puede frenar el pipeline: los errores solo se loguean.
func wireOutputs(bus *events.Bus, journal ports.TradeJournal, notifier ports.Notifier) {
	bus.TradeCopied.Subscribe(func(r domain.CopyResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.RecordCopy(ctx, r); err != nil {
			slog.Warn("journal: record copy failed", "err", err)
		}
		if err := notifier.NotifyCopy(ctx, r); err != nil {
			slog.Warn("notifier: copy failed", "err", err)
		}
	})

	bus.TradeSkipped.Subscribe(func(s domain.SkippedTrade) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.RecordSkip(ctx, s); err != nil {
			slog.Warn("journal: record skip failed", "err", err)
		}
		if err := notifier.NotifySkip(ctx, s); err != nil {
			slog.Warn("notifier: skip failed", "err", err)
		}
	})

	bus.TradeFailed.Subscribe(func(f events.TradeFailure) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.RecordFailure(ctx, f.Trade, f.TraderID, f.Err.Error()); err != nil {
			slog.Warn("journal: record failure failed", "err", err)
		}
	})

	alert := func(a domain.RiskAlert) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifier.NotifyAlert(ctx, a); err != nil {
			slog.Warn("notifier: alert failed", "err", err)
		}
	}
	bus.ExposureAlert.Subscribe(alert)
	bus.ExposureLimitExceeded.Subscribe(alert)
	bus.DrawdownAlert.Subscribe(alert)
	bus.DrawdownLimitExceeded.Subscribe(alert)
	bus.KillSwitchActivated.Subscribe(alert)
	bus.KillSwitchDeactivated.Subscribe(alert)
}

// openAssetIDs devuelve los outcome IDs con posición abierta, para el WS.
func openAssetIDs(svc *copytrade.Service) []string {
	positions := svc.Positions()
	seen := make(map[string]struct{}, len(positions))
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.OutcomeID]; ok {
			continue
		}
		seen[p.OutcomeID] = struct{}{}
		ids = append(ids, p.OutcomeID)
	}
	return ids
}

func printStatus(ctx context.Context, svc *copytrade.Service, notifier ports.Notifier) {
	if err := notifier.PrintStatus(ctx, svc.Stats(), svc.Positions()); err != nil {
		slog.Warn("notifier: status failed", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
