// Package sizing calcula cuánto copiar de cada trade detectado. Calculate es
// una función pura: mismo input, mismo output, sin efectos — el objetivo es
// que sea trivial de testear con secuencias aleatorias.
package sizing

import (
	"fmt"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// balanceBuffer deja un 2% del balance sin usar para cubrir fees y slippage.
const balanceBuffer = 0.98

// Input agrupa todo lo que la estrategia necesita para decidir.
type Input struct {
	Trader          domain.TrackedTrader
	TradeUSD        float64 // tamaño del trade original del trader seguido
	AvailableUSD    float64 // balance disponible en el venue
	CurrentExposure float64 // exposición actual para este trader
}

// Calculate aplica la estrategia configurada y todos los caps, en este orden:
// base por estrategia → multiplicador (tiered o plano) → MaxPositionUSD →
// MaxExposureUSD (reduce, no rechaza) → 98% del balance → MinTradeUSD.
func Calculate(in Input) domain.SizingCalculation {
	calc := domain.SizingCalculation{Multiplier: 1.0}

	base, pct := baseAmount(in.Trader, in.TradeUSD, &calc)
	calc.BaseAmountUSD = base
	calc.PercentUsed = pct

	amount := base

	mult, tiered := in.Trader.EffectiveMultiplier(in.TradeUSD)
	calc.Multiplier = mult
	calc.TieredMult = tiered
	if mult != 1.0 {
		amount *= mult
		if tiered {
			reason(&calc, "tiered multiplier %.2fx for $%.2f trade → $%.2f", mult, in.TradeUSD, amount)
		} else {
			reason(&calc, "flat multiplier %.2fx → $%.2f", mult, amount)
		}
	}

	if in.Trader.MaxPositionUSD > 0 && amount > in.Trader.MaxPositionUSD {
		amount = in.Trader.MaxPositionUSD
		calc.Capped = true
		reason(&calc, "capped at max position size $%.2f", amount)
	}

	if in.Trader.MaxExposureUSD > 0 {
		room := in.Trader.MaxExposureUSD - in.CurrentExposure
		if room <= 0 {
			amount = 0
			calc.ReducedByExposure = true
			reason(&calc, "max exposure $%.2f already reached (current $%.2f)",
				in.Trader.MaxExposureUSD, in.CurrentExposure)
		} else if amount > room {
			amount = room
			calc.ReducedByExposure = true
			reason(&calc, "reduced to $%.2f to respect max exposure $%.2f (current $%.2f)",
				amount, in.Trader.MaxExposureUSD, in.CurrentExposure)
		}
	}

	if maxBalance := in.AvailableUSD * balanceBuffer; amount > maxBalance {
		amount = maxBalance
		calc.ReducedByBalance = true
		reason(&calc, "reduced to $%.2f (98%% of $%.2f available)", amount, in.AvailableUSD)
	}

	calc.SizedAmountUSD = amount

	if amount < in.Trader.MinTradeUSD {
		reason(&calc, "final $%.2f below minimum $%.2f → not executable directly",
			amount, in.Trader.MinTradeUSD)
		calc.BelowMinimum = true
		calc.FinalAmountUSD = 0
		return calc
	}

	calc.FinalAmountUSD = amount
	reason(&calc, "final copy amount $%.2f", amount)
	return calc
}

// baseAmount calcula el importe base según la estrategia.
func baseAmount(t domain.TrackedTrader, tradeUSD float64, calc *domain.SizingCalculation) (amount, pct float64) {
	switch t.Strategy {
	case domain.SizingFixed:
		amount = t.FixedAmountUSD
		if amount <= 0 {
			amount = t.MaxPositionUSD
		}
		reason(calc, "fixed amount $%.2f", amount)
		return amount, 0

	case domain.SizingAdaptive:
		pct = adaptivePercent(t, tradeUSD)
		amount = tradeUSD * pct / 100
		reason(calc, "adaptive %.2f%% of $%.2f → $%.2f", pct, tradeUSD, amount)
		return amount, pct

	default: // PERCENTAGE
		pct = t.CopyPercent
		amount = tradeUSD * pct / 100
		reason(calc, "percentage %.2f%% of $%.2f → $%.2f", pct, tradeUSD, amount)
		return amount, pct
	}
}

// adaptivePercent interpola linealmente el porcentaje alrededor del pivote:
// en 0 USD aplica AdaptiveMaxPct, en 2×pivote (o más) aplica AdaptiveMinPct,
// y exactamente en el pivote aplica el punto medio.
func adaptivePercent(t domain.TrackedTrader, tradeUSD float64) float64 {
	minP, maxP, pivot := t.AdaptiveMinPct, t.AdaptiveMaxPct, t.AdaptivePivotUSD
	if pivot <= 0 || maxP <= minP {
		return maxP
	}
	span := 2 * pivot
	if tradeUSD >= span {
		return minP
	}
	frac := tradeUSD / span // 0..1
	return maxP - (maxP-minP)*frac
}

func reason(calc *domain.SizingCalculation, format string, args ...any) {
	calc.Reasoning = append(calc.Reasoning, fmt.Sprintf(format, args...))
}
