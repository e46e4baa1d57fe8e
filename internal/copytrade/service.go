// Package copytrade es el orquestador del pipeline: monitor → sizing →
// (agregación si el importe no llega al mínimo) → delay opcional → order
// manager → ledger. Los fallos nunca salen del orquestador: se convierten en
// eventos tipados y en last-error para el health report.
package copytrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/aggregator"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/monitor"
	"github.com/alejandrodnm/copybot/internal/orders"
	"github.com/alejandrodnm/copybot/internal/risk"
	"github.com/alejandrodnm/copybot/internal/sched"
	"github.com/alejandrodnm/copybot/internal/sizing"
	"github.com/alejandrodnm/copybot/internal/tracker"
)

// Config del orquestador.
type Config struct {
	DefaultVenue    domain.Venue
	MetricsInterval time.Duration // refresco de métricas de riesgo (default 5s)
	MarkInterval    time.Duration // refresco de marks de posiciones (default 30s)
	MaxMarkBooks    int           // libros a consultar por refresco (default 20)
}

// Service wires every pipeline component together and owns the tracked-trader
// table. Construct with New, register no further subscribers afterwards.
type Service struct {
	cfg Config
	bus *events.Bus

	monitor    *monitor.Monitor
	aggregator *aggregator.Aggregator
	tracker    *tracker.Tracker
	orders     *orders.Manager
	ks         *risk.KillSwitch
	drawdown   *risk.DrawdownMonitor
	clock      sched.Scheduler

	mu          sync.Mutex
	traders     map[string]*domain.TrackedTrader // address → config
	delays      map[string]sched.CancelFunc      // tradeID → delay pendiente
	counts      counters
	lastError   string
	lastErrorAt *time.Time
	startedAt   time.Time
	running     bool

	cancelMetrics sched.CancelFunc
	cancelMarks   sched.CancelFunc

	dayStart      time.Time
	realizedAtDay float64 // P&L realizado al empezar el día (baseline)
}

type counters struct {
	detected int
	copied   int
	skipped  int
	failed   int
	byTrader map[string]*traderCounters
}

type traderCounters struct {
	copied  int
	skipped int
	failed  int
}

// New construye el servicio y registra todos los subscribers del pipeline.
func New(
	cfg Config,
	bus *events.Bus,
	mon *monitor.Monitor,
	agg *aggregator.Aggregator,
	trk *tracker.Tracker,
	om *orders.Manager,
	ks *risk.KillSwitch,
	dd *risk.DrawdownMonitor,
	clock sched.Scheduler,
) *Service {
	if cfg.DefaultVenue == "" {
		cfg.DefaultVenue = domain.VenuePolymarket
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 5 * time.Second
	}
	if cfg.MarkInterval <= 0 {
		cfg.MarkInterval = 30 * time.Second
	}
	if cfg.MaxMarkBooks <= 0 {
		cfg.MaxMarkBooks = 20
	}

	s := &Service{
		cfg:        cfg,
		bus:        bus,
		monitor:    mon,
		aggregator: agg,
		tracker:    trk,
		orders:     om,
		ks:         ks,
		drawdown:   dd,
		clock:      clock,
		traders:    make(map[string]*domain.TrackedTrader),
		delays:     make(map[string]sched.CancelFunc),
		counts:     counters{byTrader: make(map[string]*traderCounters)},
	}

	bus.TradeDetected.Subscribe(s.onTradeDetected)
	bus.AggregationReady.Subscribe(s.onAggregationReady)
	bus.AggregationExpired.Subscribe(s.onAggregationExpired)
	bus.FeedErrors.Subscribe(s.onFeedError)

	return s
}

// Start arranca el monitor, los timers de riesgo y los refrescos periódicos.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.startedAt = time.Now().UTC()
	s.dayStart = startOfDay(s.startedAt)
	s.mu.Unlock()

	s.ks.Start()
	s.drawdown.Start()
	s.monitor.Start(ctx)

	s.mu.Lock()
	// Un Stop concurrente pudo ganar mientras arrancaban los componentes: en
	// ese caso no dejamos timers huérfanos.
	if s.running {
		s.cancelMetrics = s.clock.Every(s.cfg.MetricsInterval, func() { s.refreshRiskMetrics(ctx) })
		s.cancelMarks = s.clock.Every(s.cfg.MarkInterval, func() { s.refreshMarks(ctx) })
	}
	s.mu.Unlock()

	slog.Info("copytrade: service started",
		"venue", s.cfg.DefaultVenue, "traders", len(s.ListTraders()))
}

// Stop para el pipeline en orden: monitor, delays pendientes, flush de
// agregaciones, timers de riesgo.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	pending := s.delays
	s.delays = make(map[string]sched.CancelFunc)
	cancelMetrics, cancelMarks := s.cancelMetrics, s.cancelMarks
	s.cancelMetrics, s.cancelMarks = nil, nil
	s.mu.Unlock()

	s.monitor.Stop()

	for id, cancel := range pending {
		cancel()
		slog.Debug("copytrade: cancelled pending copy delay", "trade", id)
	}

	s.aggregator.FlushAll()

	if cancelMetrics != nil {
		cancelMetrics()
	}
	if cancelMarks != nil {
		cancelMarks()
	}
	s.drawdown.Stop()
	s.ks.Stop()

	slog.Info("copytrade: service stopped")
}

// onTradeDetected es la entrada del pipeline para cada trade nuevo.
func (s *Service) onTradeDetected(trade domain.DetectedTrade) {
	s.mu.Lock()
	s.counts.detected++
	cfg, ok := s.traders[trade.TraderAddress]
	var traderCopy domain.TrackedTrader
	if ok {
		traderCopy = *cfg
	}
	s.mu.Unlock()

	if !ok || !traderCopy.Active {
		s.skip(trade, traderCopy.ID, "trader not active")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := s.orders.AvailableBalance(ctx, s.cfg.DefaultVenue)
	if err != nil {
		s.fail(trade, traderCopy.ID, fmt.Errorf("copytrade: balance lookup: %w", err))
		return
	}

	calc := sizing.Calculate(sizing.Input{
		Trader:          traderCopy,
		TradeUSD:        trade.SizeUSD,
		AvailableUSD:    balance,
		CurrentExposure: s.tracker.ExposureForTrader(traderCopy.ID),
	})

	slog.Debug("copytrade: sizing",
		"trader", traderCopy.Label, "trade_usd", trade.SizeUSD,
		"final", calc.FinalAmountUSD, "below_min", calc.BelowMinimum,
		"reasoning", calc.Reasoning)

	if calc.BelowMinimum {
		if calc.SizedAmountUSD <= 0 {
			s.skip(trade, traderCopy.ID, "sized to zero: "+lastReason(calc))
			return
		}
		// Reescalamos el trade al importe de la copia y lo mandamos al
		// aggregator: varios de estos pueden juntar un lote ejecutable.
		s.aggregator.AddTrade(scaleTrade(trade, calc.SizedAmountUSD))
		return
	}

	s.scheduleCopy(trade, traderCopy, calc.FinalAmountUSD)
}

// scheduleCopy ejecuta la copia ya, o tras el delay configurado del trader.
func (s *Service) scheduleCopy(trade domain.DetectedTrade, cfg domain.TrackedTrader, amountUSD float64) {
	if cfg.CopyDelay <= 0 {
		s.executeCopy(trade, cfg.ID, amountUSD)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		// Sin servicio corriendo no hay quien dispare el delay: el trade no
		// puede desaparecer en silencio.
		s.skip(trade, cfg.ID, "service not running, delayed copy dropped")
		return
	}
	var cancel sched.CancelFunc
	cancel = s.clock.After(cfg.CopyDelay, func() {
		s.mu.Lock()
		delete(s.delays, trade.ID)
		s.mu.Unlock()
		s.executeCopy(trade, cfg.ID, amountUSD)
	})
	s.delays[trade.ID] = cancel
	s.mu.Unlock()

	slog.Debug("copytrade: copy delayed", "trade", trade.ID, "delay", cfg.CopyDelay)
}

// executeCopy pasa la orden por el OrderManager y registra el fill.
func (s *Service) executeCopy(trade domain.DetectedTrade, traderID string, amountUSD float64) {
	if trade.Price <= 0 {
		s.skip(trade, traderID, "trade has no usable price")
		return
	}
	shares := amountUSD / trade.Price

	if trade.Side == domain.SideSell {
		shares = s.clampSellToPosition(trade, traderID, shares)
		if shares <= 0 {
			s.skip(trade, traderID, "no open position to sell")
			return
		}
	}

	req := domain.OrderRequest{
		Venue:     s.cfg.DefaultVenue,
		MarketID:  trade.MarketID,
		OutcomeID: trade.OutcomeID,
		Side:      trade.Side,
		Price:     trade.Price,
		Size:      shares,
		TraderID:  traderID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	order, err := s.orders.PlaceOrder(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrKillSwitchActive):
			s.skip(trade, traderID, "kill switch active")
		default:
			if reason, isRejection := orders.IsRejection(err); isRejection {
				s.skip(trade, traderID, reason)
				return
			}
			s.fail(trade, traderID, err)
		}
		return
	}

	s.recordFill(trade, traderID, order)

	result := domain.CopyResult{
		Trade:       trade,
		TraderID:    traderID,
		OrderID:     order.ID,
		Venue:       order.Venue,
		Side:        order.Side,
		Price:       order.FilledPrice,
		Size:        order.FilledSize,
		SizeUSD:     order.FilledSize * order.FilledPrice,
		FeeUSD:      order.FeeUSD,
		Paper:       order.Paper,
		PartialFill: order.Status == domain.OrderStatusPartial,
		ExecutedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.counts.copied++
	s.traderCounters(traderID).copied++
	s.mu.Unlock()

	slog.Info("copytrade: trade copied",
		"trader", traderID, "market", trade.MarketTitle, "side", trade.Side,
		"usd", result.SizeUSD, "price", result.Price, "paper", result.Paper)
	s.bus.TradeCopied.Publish(result)
}

// recordFill lleva la ejecución al ledger principal.
func (s *Service) recordFill(trade domain.DetectedTrade, traderID string, order domain.Order) {
	fill := tracker.Fill{
		TraderID:      traderID,
		TraderAddress: trade.TraderAddress,
		MarketID:      trade.MarketID,
		OutcomeID:     trade.OutcomeID,
		Outcome:       trade.Outcome,
		MarketTitle:   trade.MarketTitle,
		Price:         order.FilledPrice,
		Size:          order.FilledSize,
	}
	if order.Side == domain.SideBuy {
		s.tracker.RecordBuy(fill)
		return
	}
	s.tracker.RecordSell(fill)
}

// clampSellToPosition limita la venta al tamaño de la posición abierta.
func (s *Service) clampSellToPosition(trade domain.DetectedTrade, traderID string, shares float64) float64 {
	for _, pos := range s.tracker.PositionsForTrader(traderID) {
		if pos.MarketID == trade.MarketID && pos.OutcomeID == trade.OutcomeID {
			if shares > pos.Size {
				return pos.Size
			}
			return shares
		}
	}
	return 0
}

// onAggregationReady ejecuta el trade sintético. Ya viene dimensionado: los
// miembros son importes de copia, no se vuelve a pasar por sizing.
func (s *Service) onAggregationReady(group domain.AggregatedTrade) {
	s.mu.Lock()
	cfg, ok := s.traders[group.TraderAddress]
	var traderID string
	if ok {
		traderID = cfg.ID
	}
	s.mu.Unlock()

	synthetic := group.Synthetic()
	if !ok {
		s.skip(synthetic, "", "trader removed while aggregating")
		return
	}

	slog.Info("copytrade: executing aggregated batch",
		"group", group.GroupID, "trades", len(group.Trades),
		"total_usd", group.TotalUSD, "avg_price", group.AvgPrice)
	s.executeCopy(synthetic, traderID, group.TotalUSD)
}

// onAggregationExpired reporta cada miembro como skipped. Terminal.
func (s *Service) onAggregationExpired(group domain.AggregatedTrade) {
	s.mu.Lock()
	var traderID string
	if cfg, ok := s.traders[group.TraderAddress]; ok {
		traderID = cfg.ID
	}
	s.mu.Unlock()

	reason := fmt.Sprintf("aggregation window expired below minimum ($%.2f)", group.TotalUSD)
	for _, member := range group.Trades {
		s.skip(member, traderID, reason)
	}
}

func (s *Service) onFeedError(fe events.FeedError) {
	s.noteError(fmt.Sprintf("feed %s: %v", fe.TraderAddress, fe.Err))
	s.ks.RecordAPIError()
}

// skip marca un trade como descartado con su razón.
func (s *Service) skip(trade domain.DetectedTrade, traderID, reason string) {
	s.mu.Lock()
	s.counts.skipped++
	if traderID != "" {
		s.traderCounters(traderID).skipped++
	}
	s.mu.Unlock()

	slog.Info("copytrade: trade skipped",
		"trade", trade.ID, "market", trade.MarketTitle, "reason", reason)
	s.bus.TradeSkipped.Publish(domain.SkippedTrade{
		Trade:     trade,
		TraderID:  traderID,
		Reason:    reason,
		SkippedAt: time.Now().UTC(),
	})
}

// fail marca un trade como fallido y lo registra como last-error.
func (s *Service) fail(trade domain.DetectedTrade, traderID string, err error) {
	s.mu.Lock()
	s.counts.failed++
	if traderID != "" {
		s.traderCounters(traderID).failed++
	}
	s.mu.Unlock()
	s.noteError(err.Error())

	slog.Warn("copytrade: trade failed",
		"trade", trade.ID, "market", trade.MarketTitle, "err", err)
	s.bus.TradeFailed.Publish(events.TradeFailure{
		Trade:    trade,
		TraderID: traderID,
		Err:      err,
		At:       time.Now().UTC(),
	})
}

func (s *Service) noteError(msg string) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastError = msg
	s.lastErrorAt = &now
	s.mu.Unlock()
}

// traderCounters devuelve (creando si hace falta) los contadores del trader.
// Llamar con s.mu tomado.
func (s *Service) traderCounters(traderID string) *traderCounters {
	tc, ok := s.counts.byTrader[traderID]
	if !ok {
		tc = &traderCounters{}
		s.counts.byTrader[traderID] = tc
	}
	return tc
}

// scaleTrade reescala un trade detectado al importe de copia calculado,
// manteniendo el precio original.
func scaleTrade(trade domain.DetectedTrade, amountUSD float64) domain.DetectedTrade {
	scaled := trade
	scaled.SizeUSD = amountUSD
	if trade.Price > 0 {
		scaled.Size = amountUSD / trade.Price
	}
	return scaled
}

func lastReason(calc domain.SizingCalculation) string {
	if len(calc.Reasoning) == 0 {
		return "no reasoning recorded"
	}
	return calc.Reasoning[len(calc.Reasoning)-1]
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
