package domain

import "time"

// RiskState es el estado del kill switch global. Una vez activo bloquea toda
// colocación de órdenes, da igual qué gate lo disparó, hasta un Deactivate
// manual.
type RiskState struct {
	Active      bool
	Reason      string
	ActivatedAt *time.Time
}

// RiskMetrics son las métricas que los monitores periódicos reevalúan.
type RiskMetrics struct {
	DailyPnL      float64
	CurrentEquity float64
	PeakEquity    float64
	DrawdownPct   float64
	TotalExposure float64
	APIErrorRate  float64 // errores por minuto, ventana móvil
	UpdatedAt     time.Time
}

// RiskLimits agrupa los límites configurados de los cuatro gates.
type RiskLimits struct {
	// PositionLimitsManager
	MaxPositionPerMarketUSD float64
	MaxTotalExposureUSD     float64
	MaxPositionsPerMarket   int // 0 = sin límite
	MaxTotalPositions       int // 0 = sin límite

	// ExposureTracker
	MaxVenueExposureUSD map[Venue]float64
	AlertUtilization    float64 // fracción (0.8 = avisar al 80%)

	// DrawdownMonitor
	MaxDrawdownPct float64

	// KillSwitch
	MaxDailyLossUSD    float64
	MaxAPIErrorsPerMin float64
}

// RiskAlert es una alerta emitida por cualquiera de los gates.
type RiskAlert struct {
	Source    string // "exposure" | "drawdown" | "killswitch" | "limits"
	Message   string
	Metric    float64
	Limit     float64
	Timestamp time.Time
}
