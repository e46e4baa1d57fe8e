package domain

import "time"

// SizingStrategy determina cómo se calcula el tamaño de cada copia.
type SizingStrategy string

const (
	// SizingPercentage copia un porcentaje fijo del trade original.
	SizingPercentage SizingStrategy = "PERCENTAGE"
	// SizingFixed copia siempre la misma cantidad en USD.
	SizingFixed SizingStrategy = "FIXED"
	// SizingAdaptive ajusta el porcentaje según el tamaño del trade original:
	// trades pequeños reciben un porcentaje mayor, trades grandes uno menor.
	SizingAdaptive SizingStrategy = "ADAPTIVE"
)

// SizingTier asigna un multiplicador a un rango de tamaño del trade original.
// Los tiers se evalúan en orden y gana el primero cuyo rango contiene el trade.
type SizingTier struct {
	MinUSD     float64
	MaxUSD     float64 // 0 = sin límite superior
	Multiplier float64
}

// Contains reports whether the trader's trade size falls inside this tier.
func (t SizingTier) Contains(usd float64) bool {
	if usd < t.MinUSD {
		return false
	}
	return t.MaxUSD <= 0 || usd <= t.MaxUSD
}

// TrackedTrader es la configuración de una wallet que estamos copiando.
type TrackedTrader struct {
	ID      string // UUID local
	Address string // wallet 0x...
	Label   string // nombre legible para logs y tablas
	Active  bool

	Strategy SizingStrategy

	// Parámetros por estrategia. Solo aplican los de la estrategia elegida.
	CopyPercent      float64      // PERCENTAGE: % del trade original
	FixedAmountUSD   float64      // FIXED: cantidad fija por copia
	AdaptiveMinPct   float64      // ADAPTIVE: % mínimo (trades grandes)
	AdaptiveMaxPct   float64      // ADAPTIVE: % máximo (trades pequeños)
	AdaptivePivotUSD float64      // ADAPTIVE: tamaño de referencia para interpolar
	Multiplier       float64      // multiplicador plano (1.0 = sin efecto)
	Tiers            []SizingTier // multiplicadores por tramo; tiene prioridad sobre Multiplier

	// Límites duros por trader.
	MinTradeUSD    float64 // por debajo de esto la copia se agrega o se descarta
	MaxPositionUSD float64 // tope por orden
	MaxExposureUSD float64 // tope de exposición total para este trader

	CopyDelay time.Duration // espera opcional antes de ejecutar la copia

	AddedAt   time.Time
	UpdatedAt time.Time
}

// EffectiveMultiplier devuelve el multiplicador aplicable a un trade del
// tamaño dado: el tier que lo contiene, o el multiplicador plano, o 1.0.
func (t TrackedTrader) EffectiveMultiplier(tradeUSD float64) (mult float64, tiered bool) {
	for _, tier := range t.Tiers {
		if tier.Contains(tradeUSD) {
			return tier.Multiplier, true
		}
	}
	if t.Multiplier > 0 {
		return t.Multiplier, false
	}
	return 1.0, false
}
