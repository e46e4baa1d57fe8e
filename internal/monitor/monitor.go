// Package monitor sondea la actividad de los traders seguidos y emite los
// trades nuevos. El primer poll de cada trader solo marca lo existente como
// visto — nunca copiamos histórico. Los traders se sondean en secuencia con
// un pequeño delay entre ellos para respetar los rate limits del feed.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/ports"
)

// Config controla la cadencia del monitor.
type Config struct {
	PollInterval     time.Duration // espera entre ciclos (la cadencia real es interval + duración del ciclo)
	InterTraderDelay time.Duration // pausa entre traders dentro de un ciclo
	MaxTradeAge      time.Duration // actividad más vieja que esto se descarta
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		InterTraderDelay: 500 * time.Millisecond,
		MaxTradeAge:      5 * time.Minute,
	}
}

// traderState es el estado de dedupe por trader.
type traderState struct {
	seen          map[string]struct{}
	firstPollDone bool
}

// Monitor polls each tracked trader's activity feed and publishes newly
// detected trades on the bus. Per-trader errors never abort the cycle for
// the rest.
type Monitor struct {
	cfg  Config
	feed ports.ActivityFeed
	bus  *events.Bus

	mu      sync.Mutex
	traders map[string]*traderState // address → dedupe state
	stopped chan struct{}
	done    chan struct{}
	running bool
}

// New crea un monitor con sus dependencias inyectadas.
func New(cfg Config, feed ports.ActivityFeed, bus *events.Bus) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxTradeAge <= 0 {
		cfg.MaxTradeAge = DefaultConfig().MaxTradeAge
	}
	return &Monitor{
		cfg:     cfg,
		feed:    feed,
		bus:     bus,
		traders: make(map[string]*traderState),
	}
}

// Track empieza a seguir una wallet. Idempotente.
func (m *Monitor) Track(address string) {
	addr := normalize(address)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traders[addr]; !ok {
		m.traders[addr] = &traderState{seen: make(map[string]struct{})}
	}
}

// Untrack deja de seguir una wallet y olvida su estado de dedupe.
func (m *Monitor) Untrack(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.traders, normalize(address))
}

// Tracked devuelve las direcciones actualmente seguidas.
func (m *Monitor) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.traders))
	for addr := range m.traders {
		out = append(out, addr)
	}
	return out
}

// Start arranca el loop de polling. Un ciclo nuevo no empieza hasta que el
// anterior — con sus delays — termina, así que la cadencia es
// "intervalo + duración del ciclo", no un periodo fijo de reloj.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopped = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop para el loop y espera a que el ciclo en curso termine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopped)
	done := m.done
	m.mu.Unlock()

	<-done
	slog.Info("monitor: stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.PollOnce(ctx)

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		case <-timer.C:
			m.PollOnce(ctx)
			timer.Reset(m.cfg.PollInterval)
		}
	}
}

// PollOnce ejecuta un ciclo completo: todos los traders, en secuencia.
func (m *Monitor) PollOnce(ctx context.Context) {
	addresses := m.Tracked()

	for i, addr := range addresses {
		if ctx.Err() != nil {
			return
		}
		if err := m.pollTrader(ctx, addr); err != nil {
			slog.Warn("monitor: poll failed", "trader", addr, "err", err)
			m.bus.FeedErrors.Publish(events.FeedError{
				TraderAddress: addr,
				Err:           err,
				At:            time.Now().UTC(),
			})
		}
		if i < len(addresses)-1 && m.cfg.InterTraderDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.InterTraderDelay):
			}
		}
	}
}

// pollTrader sondea un trader: primer poll marca todo como visto sin emitir;
// polls siguientes emiten lo no visto, no viejo y de tipo TRADE.
func (m *Monitor) pollTrader(ctx context.Context, addr string) error {
	activity, err := m.feed.FetchActivity(ctx, addr)
	if err != nil {
		return err
	}
	// Las posiciones se consultan junto con la actividad para que el feed
	// mantenga calientes ambas cachés; hoy solo la actividad genera señales.
	if _, err := m.feed.FetchPositions(ctx, addr); err != nil {
		slog.Debug("monitor: positions fetch failed", "trader", addr, "err", err)
	}

	m.mu.Lock()
	state, ok := m.traders[addr]
	if !ok {
		// Untrack ganó la carrera durante el fetch.
		m.mu.Unlock()
		return nil
	}

	if !state.firstPollDone {
		for _, act := range activity {
			state.seen[act.TransactionHash] = struct{}{}
		}
		state.firstPollDone = true
		m.mu.Unlock()
		slog.Info("monitor: baseline established", "trader", addr, "existing", len(activity))
		return nil
	}

	cutoff := time.Now().UTC().Add(-m.cfg.MaxTradeAge)
	var fresh []domain.FeedActivity
	for _, act := range activity {
		if _, dup := state.seen[act.TransactionHash]; dup {
			continue
		}
		state.seen[act.TransactionHash] = struct{}{}
		if !strings.EqualFold(act.Type, "TRADE") {
			continue
		}
		if act.Timestamp.Before(cutoff) {
			continue
		}
		fresh = append(fresh, act)
	}
	m.mu.Unlock()

	// El feed devuelve lo más nuevo primero; emitimos en orden de actividad.
	for i := len(fresh) - 1; i >= 0; i-- {
		trade := toDetectedTrade(addr, fresh[i])
		slog.Info("monitor: trade detected",
			"trader", addr, "market", trade.MarketTitle,
			"side", trade.Side, "usd", trade.SizeUSD)
		m.bus.TradeDetected.Publish(trade)
	}
	return nil
}

func toDetectedTrade(addr string, act domain.FeedActivity) domain.DetectedTrade {
	side := domain.SideBuy
	if strings.EqualFold(act.Side, "SELL") {
		side = domain.SideSell
	}
	return domain.DetectedTrade{
		ID:            act.TransactionHash,
		TraderAddress: addr,
		MarketID:      act.ConditionID,
		OutcomeID:     act.Asset,
		Outcome:       act.Outcome,
		MarketTitle:   act.Title,
		Side:          side,
		Price:         act.Price,
		Size:          act.Size,
		SizeUSD:       act.USDCSize,
		Timestamp:     act.Timestamp,
	}
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
