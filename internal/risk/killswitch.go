package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/sched"
)

// apiErrorWindow es la ventana móvil sobre la que se mide el error rate.
const apiErrorWindow = time.Minute

// KillSwitchConfig son los umbrales catastróficos.
type KillSwitchConfig struct {
	MaxDailyLossUSD    float64       // pérdida diaria que detiene todo
	MaxDrawdownPct     float64       // drawdown que detiene todo
	MaxAPIErrorsPerMin float64       // errores de API por minuto
	MaxTotalExposure   float64       // exposición total que detiene todo
	CheckInterval      time.Duration // default 1s
}

// OrderCanceller cancela las órdenes abiertas cuando el switch dispara.
type OrderCanceller interface {
	CancelAllOrders(ctx context.Context, marketID string) error
}

// KillSwitch es el halt global: una vez activo rechaza toda orden nueva,
// dispare quien dispare, hasta un Deactivate manual. Reevalúa sus métricas
// cacheadas en un timer propio, independiente del camino de órdenes.
type KillSwitch struct {
	cfg        KillSwitchConfig
	bus        *events.Bus
	clock      sched.Scheduler
	cancellers []OrderCanceller

	mu        sync.Mutex
	state     domain.RiskState
	metrics   domain.RiskMetrics
	apiErrors []time.Time // timestamps dentro de la ventana móvil
	cancel    sched.CancelFunc
}

// NewKillSwitch crea el switch inactivo.
func NewKillSwitch(cfg KillSwitchConfig, bus *events.Bus, clock sched.Scheduler, cancellers ...OrderCanceller) *KillSwitch {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	return &KillSwitch{cfg: cfg, bus: bus, clock: clock, cancellers: cancellers}
}

// AddCanceller registra un canceller después de la construcción. Rompe el
// ciclo switch ↔ order manager: el manager necesita el switch para validar y
// el switch necesita el manager para cancelar.
func (k *KillSwitch) AddCanceller(c OrderCanceller) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancellers = append(k.cancellers, c)
}

// Start arranca la reevaluación periódica. Idempotente.
func (k *KillSwitch) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	k.cancel = k.clock.Every(k.cfg.CheckInterval, k.evaluate)
}

// Stop cancela el timer sin tocar el estado del switch.
func (k *KillSwitch) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Active indica si el switch está disparado.
func (k *KillSwitch) Active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Active
}

// State devuelve una copia del estado actual.
func (k *KillSwitch) State() domain.RiskState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// UpdateMetrics refresca las métricas cacheadas que evalúa el timer.
func (k *KillSwitch) UpdateMetrics(m domain.RiskMetrics) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.metrics = m
	k.metrics.UpdatedAt = k.clock.Now()
}

// RecordAPIError añade un error a la ventana móvil de 1 minuto.
func (k *KillSwitch) RecordAPIError() {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.clock.Now()
	k.apiErrors = append(k.apiErrors, now)
	k.pruneErrorsLocked(now)
}

// APIErrorRate devuelve los errores por minuto de la ventana actual.
func (k *KillSwitch) APIErrorRate() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pruneErrorsLocked(k.clock.Now())
	return float64(len(k.apiErrors))
}

func (k *KillSwitch) pruneErrorsLocked(now time.Time) {
	cutoff := now.Add(-apiErrorWindow)
	trim := 0
	for trim < len(k.apiErrors) && k.apiErrors[trim].Before(cutoff) {
		trim++
	}
	if trim > 0 {
		k.apiErrors = k.apiErrors[trim:]
	}
}

// Activate dispara el switch: cancela las órdenes abiertas de todos los
// venues, fija el estado y emite activated. Idempotente mientras está activo.
func (k *KillSwitch) Activate(reason string) {
	k.mu.Lock()
	if k.state.Active {
		k.mu.Unlock()
		return
	}
	now := k.clock.Now()
	k.state = domain.RiskState{Active: true, Reason: reason, ActivatedAt: &now}
	cancellers := k.cancellers
	k.mu.Unlock()

	slog.Error("killswitch: ACTIVATED — all trading halted", "reason", reason)

	// Best effort: el halt no depende de que las cancelaciones lleguen.
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()
	for _, c := range cancellers {
		if err := c.CancelAllOrders(ctx, ""); err != nil {
			slog.Warn("killswitch: cancel all orders failed", "err", err)
		}
	}

	k.bus.KillSwitchActivated.Publish(domain.RiskAlert{
		Source:    "killswitch",
		Message:   reason,
		Timestamp: now,
	})
}

// Deactivate limpia el estado. Es la única manera de rearmar el pipeline:
// que la métrica que disparó vuelva a estar sana no lo rearma solo.
func (k *KillSwitch) Deactivate() {
	k.mu.Lock()
	wasActive := k.state.Active
	k.state = domain.RiskState{}
	k.mu.Unlock()

	if !wasActive {
		return
	}
	slog.Info("killswitch: deactivated manually — trading resumed")
	k.bus.KillSwitchDeactivated.Publish(domain.RiskAlert{
		Source:    "killswitch",
		Message:   "manual deactivation",
		Timestamp: k.clock.Now(),
	})
}

// evaluate corre en el timer y revisa cada umbral contra las métricas
// cacheadas. Corre entre dos pasos cualesquiera del camino de órdenes: ver
// la nota sobre check-then-act en orders.Manager.
func (k *KillSwitch) evaluate() {
	k.mu.Lock()
	if k.state.Active {
		k.mu.Unlock()
		return
	}
	m := k.metrics
	k.pruneErrorsLocked(k.clock.Now())
	errRate := float64(len(k.apiErrors))
	cfg := k.cfg
	k.mu.Unlock()

	switch {
	case cfg.MaxDailyLossUSD > 0 && m.DailyPnL <= -cfg.MaxDailyLossUSD:
		k.Activate("daily loss limit exceeded")
	case cfg.MaxDrawdownPct > 0 && m.DrawdownPct >= cfg.MaxDrawdownPct:
		k.Activate("drawdown limit exceeded")
	case cfg.MaxAPIErrorsPerMin > 0 && errRate >= cfg.MaxAPIErrorsPerMin:
		k.Activate("api error rate exceeded")
	case cfg.MaxTotalExposure > 0 && m.TotalExposure > cfg.MaxTotalExposure:
		k.Activate("total exposure exceeded")
	}
}
