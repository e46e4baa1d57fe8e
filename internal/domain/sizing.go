package domain

// SizingCalculation is the outcome of running the position sizing strategy
// for one detected trade. It is computed per trade and discarded after use;
// the Reasoning trail exists so the operator can audit every cap that fired.
type SizingCalculation struct {
	BaseAmountUSD  float64 // antes de multiplicadores y caps
	SizedAmountUSD float64 // después de todos los caps, antes del check de mínimo
	FinalAmountUSD float64 // lo que realmente se envía a ejecutar (0 si belowMinimum)
	PercentUsed    float64 // % efectivo aplicado sobre el trade original
	Multiplier     float64
	TieredMult     bool

	Capped            bool // recortado por MaxPositionUSD
	ReducedByExposure bool // recortado para respetar MaxExposureUSD
	ReducedByBalance  bool // recortado al 98% del balance disponible
	BelowMinimum      bool // resultado final < MinTradeUSD → no ejecutar directo

	Reasoning []string
}
