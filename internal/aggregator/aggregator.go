// Package aggregator agrupa trades por debajo del mínimo ejecutable en lotes
// por (trader, market, outcome, side). Un grupo dispara temprano cuando junta
// suficientes trades y valor, o al expirar su ventana si alcanzó el mínimo;
// si expira por debajo del mínimo es terminal: sus trades se reportan como
// skipped y no se reintenta.
package aggregator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/sched"
)

// Config controla la ventana y los umbrales de disparo.
type Config struct {
	Window      time.Duration // ventana de agregación desde el primer trade
	MinTrades   int           // trades necesarios para disparo temprano
	MinTotalUSD float64       // valor necesario para ejecutar
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Window:      30 * time.Second,
		MinTrades:   2,
		MinTotalUSD: 1.0,
	}
}

type pendingGroup struct {
	group  *domain.AggregatedTrade
	cancel sched.CancelFunc
}

// Aggregator owns the pending-group table. At most one open group exists per
// aggregation key; the expiry timer set on the first member is never reset.
type Aggregator struct {
	cfg   Config
	bus   *events.Bus
	clock sched.Scheduler

	mu     sync.Mutex
	groups map[string]*pendingGroup
}

// New crea un aggregator con sus dependencias inyectadas.
func New(cfg Config, bus *events.Bus, clock sched.Scheduler) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = DefaultConfig().MinTrades
	}
	if cfg.MinTotalUSD <= 0 {
		cfg.MinTotalUSD = DefaultConfig().MinTotalUSD
	}
	return &Aggregator{
		cfg:    cfg,
		bus:    bus,
		clock:  clock,
		groups: make(map[string]*pendingGroup),
	}
}

// AddTrade añade un trade a su grupo (creándolo si no existe) y comprueba el
// disparo temprano: count ≥ MinTrades y total ≥ MinTotalUSD.
func (a *Aggregator) AddTrade(trade domain.DetectedTrade) {
	key := trade.AggregationKey()

	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		now := a.clock.Now()
		group := &domain.AggregatedTrade{
			GroupID:       uuid.New().String(),
			TraderAddress: trade.TraderAddress,
			MarketID:      trade.MarketID,
			OutcomeID:     trade.OutcomeID,
			Outcome:       trade.Outcome,
			MarketTitle:   trade.MarketTitle,
			Side:          trade.Side,
			CreatedAt:     now,
			ExpiresAt:     now.Add(a.cfg.Window),
		}
		pg = &pendingGroup{group: group}
		pg.cancel = a.clock.After(a.cfg.Window, func() { a.expire(key, group.GroupID) })
		a.groups[key] = pg
		slog.Debug("aggregator: new group",
			"group", group.GroupID, "key", key, "expires_at", group.ExpiresAt)
	}

	pg.group.Add(trade)

	ready := len(pg.group.Trades) >= a.cfg.MinTrades && pg.group.TotalUSD >= a.cfg.MinTotalUSD
	var fired domain.AggregatedTrade
	if ready {
		fired = *pg.group
		pg.cancel()
		delete(a.groups, key)
	}
	a.mu.Unlock()

	if ready {
		slog.Info("aggregator: early execution",
			"group", fired.GroupID, "trades", len(fired.Trades),
			"total_usd", fired.TotalUSD, "avg_price", fired.AvgPrice)
		a.bus.AggregationReady.Publish(fired)
	}
}

// expire corre al vencer la ventana del grupo. Si el grupo juntó el valor
// mínimo dispara como ready; si no, lo descarta como expired (terminal).
func (a *Aggregator) expire(key, groupID string) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok || pg.group.GroupID != groupID {
		// El grupo ya disparó temprano (o un grupo nuevo ocupa la clave).
		a.mu.Unlock()
		return
	}
	group := *pg.group
	delete(a.groups, key)
	a.mu.Unlock()

	a.resolve(group)
}

// resolve aplica la misma bifurcación ready/expired que usa el expiry y el
// flush de shutdown.
func (a *Aggregator) resolve(group domain.AggregatedTrade) {
	if group.TotalUSD >= a.cfg.MinTotalUSD {
		slog.Info("aggregator: window closed with executable total",
			"group", group.GroupID, "trades", len(group.Trades), "total_usd", group.TotalUSD)
		a.bus.AggregationReady.Publish(group)
		return
	}
	slog.Info("aggregator: group expired below minimum",
		"group", group.GroupID, "trades", len(group.Trades),
		"total_usd", group.TotalUSD, "min_usd", a.cfg.MinTotalUSD)
	a.bus.AggregationExpired.Publish(group)
}

// FlushAll fuerza todos los grupos pendientes por la bifurcación
// ready/expired. Se usa en shutdown para no dejar timers colgando.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	pending := make([]domain.AggregatedTrade, 0, len(a.groups))
	for key, pg := range a.groups {
		pg.cancel()
		pending = append(pending, *pg.group)
		delete(a.groups, key)
	}
	a.mu.Unlock()

	for _, group := range pending {
		a.resolve(group)
	}
}

// PendingGroups devuelve cuántos grupos siguen abiertos.
func (a *Aggregator) PendingGroups() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}
