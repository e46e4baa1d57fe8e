package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/sched"
)

const (
	// equityHistorySpan acota el buffer de equity a ~24h de muestras.
	equityHistorySpan = 24 * time.Hour

	// drawdownAlertFraction: avisar al llegar al 80% del límite.
	drawdownAlertFraction = 0.8
)

// DrawdownConfig controla el monitor de drawdown.
type DrawdownConfig struct {
	MaxDrawdownPct float64       // límite de caída desde el pico, en %
	CheckInterval  time.Duration // default 1s
}

type equitySample struct {
	value float64
	at    time.Time
}

// DrawdownMonitor recomputa periódicamente el drawdown desde el pico del
// buffer acotado de muestras de equity: un pico que sale de la ventana de 24h
// deja de contar. Al 80% del límite emite una alerta; al 100% dispara el kill
// switch.
type DrawdownMonitor struct {
	cfg   DrawdownConfig
	bus   *events.Bus
	clock sched.Scheduler
	ks    *KillSwitch

	mu      sync.Mutex
	history []equitySample
	peak    float64
	current float64
	alerted bool
	cancel  sched.CancelFunc
}

// NewDrawdownMonitor crea el monitor; Start lo pone a correr en su timer.
func NewDrawdownMonitor(cfg DrawdownConfig, bus *events.Bus, clock sched.Scheduler, ks *KillSwitch) *DrawdownMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	return &DrawdownMonitor{cfg: cfg, bus: bus, clock: clock, ks: ks}
}

// Start arranca el check periódico. Idempotente.
func (d *DrawdownMonitor) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	d.cancel = d.clock.Every(d.cfg.CheckInterval, d.check)
}

// Stop cancela el timer. Seguro de llamar varias veces.
func (d *DrawdownMonitor) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RecordEquity añade una muestra de equity. El pico no es histórico: se
// deriva del buffer, así que una muestra que cae de la ventana se lleva su
// pico con ella.
func (d *DrawdownMonitor) RecordEquity(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, equitySample{value: value, at: d.clock.Now()})
	d.current = value
	d.refreshLocked()
}

// refreshLocked recorta el buffer a la ventana y recalcula el pico sobre lo
// que queda.
func (d *DrawdownMonitor) refreshLocked() {
	cutoff := d.clock.Now().Add(-equityHistorySpan)
	trim := 0
	for trim < len(d.history) && d.history[trim].at.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		d.history = d.history[trim:]
	}
	d.peak = 0
	for _, s := range d.history {
		if s.value > d.peak {
			d.peak = s.value
		}
	}
}

// Drawdown devuelve la caída actual desde el pico de la ventana, en %.
func (d *DrawdownMonitor) Drawdown() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drawdownLocked()
}

func (d *DrawdownMonitor) drawdownLocked() float64 {
	d.refreshLocked()
	if d.peak <= 0 {
		return 0
	}
	return (d.peak - d.current) / d.peak * 100
}

// check corre en el timer. Independiente del camino síncrono de órdenes:
// puede disparar el kill switch entre dos pasos de un placeOrder en vuelo.
func (d *DrawdownMonitor) check() {
	d.mu.Lock()
	dd := d.drawdownLocked()
	limit := d.cfg.MaxDrawdownPct
	peak, current := d.peak, d.current
	alertAt := limit * drawdownAlertFraction
	shouldAlert := limit > 0 && dd >= alertAt && dd < limit && !d.alerted
	if shouldAlert {
		d.alerted = true
	}
	if dd < alertAt {
		d.alerted = false
	}
	tripped := limit > 0 && dd >= limit
	d.mu.Unlock()

	if shouldAlert {
		slog.Warn("drawdown: approaching limit",
			"drawdown_pct", dd, "limit_pct", limit, "peak", peak, "current", current)
		d.bus.DrawdownAlert.Publish(domain.RiskAlert{
			Source:    "drawdown",
			Message:   "drawdown above 80% of limit",
			Metric:    dd,
			Limit:     limit,
			Timestamp: d.clock.Now(),
		})
	}

	if tripped {
		d.bus.DrawdownLimitExceeded.Publish(domain.RiskAlert{
			Source:    "drawdown",
			Message:   "drawdown limit exceeded",
			Metric:    dd,
			Limit:     limit,
			Timestamp: d.clock.Now(),
		})
		d.ks.Activate("drawdown limit exceeded")
	}
}
