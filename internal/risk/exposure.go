package risk

import (
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
)

// ExposureConfig son los topes del ExposureTracker.
type ExposureConfig struct {
	MaxTotalUSD      float64
	MaxPerVenueUSD   map[domain.Venue]float64
	AlertUtilization float64 // fracción del límite a la que avisar (0.8 = 80%)
}

// ExposureTracker vigila la exposición total y por venue. Veta órdenes que
// proyectan por encima del tope y emite alertas al cruzar el umbral de
// utilización.
type ExposureTracker struct {
	mu  sync.Mutex
	cfg ExposureConfig

	source   ExposureSource
	bus      *events.Bus
	perVenue map[domain.Venue]float64 // exposición acumulada por venue
	alerted  bool                     // para no repetir la alerta en cada orden
}

// NewExposureTracker crea el gate de exposición.
func NewExposureTracker(cfg ExposureConfig, source ExposureSource, bus *events.Bus) *ExposureTracker {
	if cfg.AlertUtilization <= 0 || cfg.AlertUtilization >= 1 {
		cfg.AlertUtilization = 0.8
	}
	return &ExposureTracker{
		cfg:      cfg,
		source:   source,
		bus:      bus,
		perVenue: make(map[domain.Venue]float64),
	}
}

// CheckExposure proyecta la orden contra los topes total y por venue.
// Límite inclusivo: proyectar exactamente al tope pasa.
func (e *ExposureTracker) CheckExposure(venue domain.Venue, notionalUSD float64) Check {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MaxTotalUSD > 0 {
		projected := e.source.TotalExposure() + notionalUSD
		if projected > e.cfg.MaxTotalUSD {
			alert := domain.RiskAlert{
				Source:    "exposure",
				Message:   "total exposure limit exceeded",
				Metric:    projected,
				Limit:     e.cfg.MaxTotalUSD,
				Timestamp: time.Now().UTC(),
			}
			e.bus.ExposureLimitExceeded.Publish(alert)
			return deny("exposure limit: $%.2f projected > $%.2f max", projected, e.cfg.MaxTotalUSD)
		}
		e.maybeAlert(projected)
	}

	if limit, ok := e.cfg.MaxPerVenueUSD[venue]; ok && limit > 0 {
		projected := e.perVenue[venue] + notionalUSD
		if projected > limit {
			return deny("venue exposure limit: $%.2f projected > $%.2f max on %s",
				projected, limit, venue)
		}
	}

	return allow()
}

// RecordFill acumula la exposición por venue tras una ejecución.
func (e *ExposureTracker) RecordFill(venue domain.Venue, notionalUSD float64, side domain.TradeSide) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if side == domain.SideSell {
		e.perVenue[venue] -= notionalUSD
		if e.perVenue[venue] < 0 {
			e.perVenue[venue] = 0
		}
		return
	}
	e.perVenue[venue] += notionalUSD
}

// Utilization devuelve la exposición actual como fracción del tope total
// (0 si no hay tope configurado).
func (e *ExposureTracker) Utilization() float64 {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	if cfg.MaxTotalUSD <= 0 {
		return 0
	}
	return e.source.TotalExposure() / cfg.MaxTotalUSD
}

// maybeAlert emite exposureAlert una sola vez al cruzar el umbral; se rearma
// cuando la utilización vuelve por debajo.
func (e *ExposureTracker) maybeAlert(projected float64) {
	threshold := e.cfg.MaxTotalUSD * e.cfg.AlertUtilization
	if projected >= threshold && !e.alerted {
		e.alerted = true
		e.bus.ExposureAlert.Publish(domain.RiskAlert{
			Source:    "exposure",
			Message:   "exposure utilization above alert threshold",
			Metric:    projected,
			Limit:     e.cfg.MaxTotalUSD,
			Timestamp: time.Now().UTC(),
		})
		return
	}
	if projected < threshold {
		e.alerted = false
	}
}
