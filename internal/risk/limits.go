// Package risk implementa los cuatro gates independientes por los que pasa
// toda orden: límites de posición, exposición, drawdown y kill switch.
// Cualquiera puede vetar una orden; el kill switch además detiene todo.
package risk

import (
	"fmt"
	"sync"
)

// ExposureSource expone las proyecciones que los gates necesitan del ledger.
type ExposureSource interface {
	TotalExposure() float64
	ExposureForMarket(marketID string) float64
	PositionCounts(marketID string) (inMarket, total int)
}

// Check es el veredicto de un gate sobre una orden propuesta.
type Check struct {
	Allowed bool
	Reason  string
}

func allow() Check { return Check{Allowed: true} }

func deny(format string, args ...any) Check {
	return Check{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// LimitsConfig son los límites del PositionLimitsManager.
type LimitsConfig struct {
	MaxPositionPerMarketUSD float64
	MaxTotalExposureUSD     float64
	MaxPositionsPerMarket   int // 0 = sin límite
	MaxTotalPositions       int // 0 = sin límite
}

// PositionLimitsManager comprueba límites por mercado y globales antes de
// cada orden. No muta estado: solo proyecta la orden sobre el ledger actual.
type PositionLimitsManager struct {
	mu     sync.RWMutex
	cfg    LimitsConfig
	source ExposureSource
}

// NewPositionLimitsManager crea el gate de límites.
func NewPositionLimitsManager(cfg LimitsConfig, source ExposureSource) *PositionLimitsManager {
	return &PositionLimitsManager{cfg: cfg, source: source}
}

// UpdateLimits reemplaza los límites en caliente.
func (p *PositionLimitsManager) UpdateLimits(cfg LimitsConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// CheckOrder proyecta la orden (shares × precio → USD) contra los límites.
// La comparación es inclusiva: una orden que deja la exposición exactamente
// en el límite pasa; un céntimo más, no.
func (p *PositionLimitsManager) CheckOrder(marketID string, notionalUSD float64) Check {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	if cfg.MaxPositionPerMarketUSD > 0 {
		projected := p.source.ExposureForMarket(marketID) + notionalUSD
		if projected > cfg.MaxPositionPerMarketUSD {
			return deny("market position limit: $%.2f projected > $%.2f max for market %s",
				projected, cfg.MaxPositionPerMarketUSD, marketID)
		}
	}

	if cfg.MaxTotalExposureUSD > 0 {
		projected := p.source.TotalExposure() + notionalUSD
		if projected > cfg.MaxTotalExposureUSD {
			return deny("total exposure limit: $%.2f projected > $%.2f max",
				projected, cfg.MaxTotalExposureUSD)
		}
	}

	inMarket, total := p.source.PositionCounts(marketID)
	if cfg.MaxPositionsPerMarket > 0 && inMarket >= cfg.MaxPositionsPerMarket {
		return deny("max positions per market reached: %d in %s", inMarket, marketID)
	}
	if cfg.MaxTotalPositions > 0 && total >= cfg.MaxTotalPositions {
		return deny("max total positions reached: %d", total)
	}

	return allow()
}
