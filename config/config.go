package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Copy    CopyConfig     `yaml:"copy"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Batch   BatchConfig    `yaml:"batch"`
	Risk    RiskConfig     `yaml:"risk"`
	Paper   PaperConfig    `yaml:"paper"`
	API     APIConfig      `yaml:"api"`
	Storage StorageConfig  `yaml:"storage"`
	Log     LogConfig      `yaml:"log"`
	Traders []TraderConfig `yaml:"traders"`
}

// CopyConfig controla el orquestador.
type CopyConfig struct {
	Venue                  string `yaml:"venue"`                    // polymarket | kalshi
	MetricsIntervalSeconds int    `yaml:"metrics_interval_seconds"` // refresco de métricas de riesgo
	MarkIntervalSeconds    int    `yaml:"mark_interval_seconds"`    // refresco de marks
	MaxMarkBooks           int    `yaml:"max_mark_books"`           // libros por refresco
	StatusIntervalSeconds  int    `yaml:"status_interval_seconds"`  // resumen por consola
}

// MonitorConfig controla la cadencia del polling de actividad.
type MonitorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	InterTraderDelayMs  int `yaml:"inter_trader_delay_ms"`
	MaxTradeAgeSeconds  int `yaml:"max_trade_age_seconds"`
}

// BatchConfig controla la agregación de trades pequeños.
type BatchConfig struct {
	WindowSeconds int     `yaml:"window_seconds"`
	MinTrades     int     `yaml:"min_trades"`
	MinTotalUSD   float64 `yaml:"min_total_usd"`
}

// RiskConfig agrupa los límites de los cuatro gates.
type RiskConfig struct {
	MaxPositionPerMarketUSD float64 `yaml:"max_position_per_market_usd"`
	MaxTotalExposureUSD     float64 `yaml:"max_total_exposure_usd"`
	MaxPositionsPerMarket   int     `yaml:"max_positions_per_market"` // 0 = sin límite
	MaxTotalPositions       int     `yaml:"max_total_positions"`      // 0 = sin límite

	MaxVenueExposureUSD float64 `yaml:"max_venue_exposure_usd"`
	AlertUtilization    float64 `yaml:"alert_utilization"` // fracción (0.8 = 80%)

	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`

	MaxDailyLossUSD      float64 `yaml:"max_daily_loss_usd"`
	MaxAPIErrorsPerMin   float64 `yaml:"max_api_errors_per_min"`
	CheckIntervalSeconds int     `yaml:"check_interval_seconds"`
}

// PaperConfig controla el simulador de ejecución.
type PaperConfig struct {
	InitialBalanceUSD  float64 `yaml:"initial_balance_usd"`
	FillRate           float64 `yaml:"fill_rate"`
	PartialFillRate    float64 `yaml:"partial_fill_rate"`
	MinPartialFraction float64 `yaml:"min_partial_fraction"`
	LatencyMinMs       int     `yaml:"latency_min_ms"`
	LatencyMaxMs       int     `yaml:"latency_max_ms"`
	SlippageBase       float64 `yaml:"slippage_base"`
	SlippageSizeImpact float64 `yaml:"slippage_size_impact"`
}

// APIConfig contiene los base URLs y credenciales de las APIs.
type APIConfig struct {
	CLOBBase string `yaml:"clob_base"`
	DataBase string `yaml:"data_base"`
	WSURL    string `yaml:"ws_url"`
	APIKey   string `yaml:"api_key"` // normalmente via POLYMARKET_API_KEY
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TraderConfig es la configuración declarativa de una wallet a copiar.
type TraderConfig struct {
	Address  string `yaml:"address"`
	Label    string `yaml:"label"`
	Active   *bool  `yaml:"active"` // nil = activo
	Strategy string `yaml:"strategy"`

	CopyPercent      float64 `yaml:"copy_percent"`
	FixedAmountUSD   float64 `yaml:"fixed_amount_usd"`
	AdaptiveMinPct   float64 `yaml:"adaptive_min_pct"`
	AdaptiveMaxPct   float64 `yaml:"adaptive_max_pct"`
	AdaptivePivotUSD float64 `yaml:"adaptive_pivot_usd"`
	Multiplier       float64 `yaml:"multiplier"`

	Tiers []TierConfig `yaml:"tiers"`

	MinTradeUSD    float64 `yaml:"min_trade_usd"`
	MaxPositionUSD float64 `yaml:"max_position_usd"`
	MaxExposureUSD float64 `yaml:"max_exposure_usd"`

	CopyDelaySeconds int `yaml:"copy_delay_seconds"`
}

// TierConfig es un tramo de multiplicador por tamaño de trade.
type TierConfig struct {
	MinUSD     float64 `yaml:"min_usd"`
	MaxUSD     float64 `yaml:"max_usd"` // 0 = sin límite superior
	Multiplier float64 `yaml:"multiplier"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Venue devuelve el venue por defecto ya tipado.
func (c *Config) Venue() domain.Venue {
	switch c.Copy.Venue {
	case "kalshi":
		return domain.VenueKalshi
	default:
		return domain.VenuePolymarket
	}
}

// MetricsInterval devuelve el intervalo de refresco de métricas.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Copy.MetricsIntervalSeconds) * time.Second
}

// MarkInterval devuelve el intervalo de refresco de marks.
func (c *Config) MarkInterval() time.Duration {
	return time.Duration(c.Copy.MarkIntervalSeconds) * time.Second
}

// StatusInterval devuelve la cadencia del resumen por consola.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Copy.StatusIntervalSeconds) * time.Second
}

// PollInterval devuelve el intervalo de polling del monitor.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// Trader convierte la entrada declarativa a la configuración de dominio.
func (t TraderConfig) Trader() domain.TrackedTrader {
	active := true
	if t.Active != nil {
		active = *t.Active
	}
	strategy := domain.SizingStrategy(t.Strategy)
	if t.Strategy == "" {
		strategy = domain.SizingPercentage
	}

	tiers := make([]domain.SizingTier, 0, len(t.Tiers))
	for _, tier := range t.Tiers {
		tiers = append(tiers, domain.SizingTier{
			MinUSD:     tier.MinUSD,
			MaxUSD:     tier.MaxUSD,
			Multiplier: tier.Multiplier,
		})
	}

	return domain.TrackedTrader{
		Address:          t.Address,
		Label:            t.Label,
		Active:           active,
		Strategy:         strategy,
		CopyPercent:      t.CopyPercent,
		FixedAmountUSD:   t.FixedAmountUSD,
		AdaptiveMinPct:   t.AdaptiveMinPct,
		AdaptiveMaxPct:   t.AdaptiveMaxPct,
		AdaptivePivotUSD: t.AdaptivePivotUSD,
		Multiplier:       t.Multiplier,
		Tiers:            tiers,
		MinTradeUSD:      t.MinTradeUSD,
		MaxPositionUSD:   t.MaxPositionUSD,
		MaxExposureUSD:   t.MaxExposureUSD,
		CopyDelay:        time.Duration(t.CopyDelaySeconds) * time.Second,
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLYMARKET_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("COPYBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Es el único sitio donde se aplican defaults: los constructores reciben la
// configuración ya completa.
func setDefaults(cfg *Config) {
	if cfg.Copy.Venue == "" {
		cfg.Copy.Venue = "polymarket"
	}
	if cfg.Copy.MetricsIntervalSeconds <= 0 {
		cfg.Copy.MetricsIntervalSeconds = 5
	}
	if cfg.Copy.MarkIntervalSeconds <= 0 {
		cfg.Copy.MarkIntervalSeconds = 30
	}
	if cfg.Copy.MaxMarkBooks <= 0 {
		cfg.Copy.MaxMarkBooks = 20
	}
	if cfg.Copy.StatusIntervalSeconds <= 0 {
		cfg.Copy.StatusIntervalSeconds = 60
	}

	if cfg.Monitor.PollIntervalSeconds <= 0 {
		cfg.Monitor.PollIntervalSeconds = 10
	}
	if cfg.Monitor.InterTraderDelayMs <= 0 {
		cfg.Monitor.InterTraderDelayMs = 500
	}
	if cfg.Monitor.MaxTradeAgeSeconds <= 0 {
		cfg.Monitor.MaxTradeAgeSeconds = 300
	}

	if cfg.Batch.WindowSeconds <= 0 {
		cfg.Batch.WindowSeconds = 30
	}
	if cfg.Batch.MinTrades <= 0 {
		cfg.Batch.MinTrades = 2
	}
	if cfg.Batch.MinTotalUSD <= 0 {
		cfg.Batch.MinTotalUSD = 1.0
	}

	if cfg.Risk.AlertUtilization <= 0 {
		cfg.Risk.AlertUtilization = 0.8
	}
	if cfg.Risk.CheckIntervalSeconds <= 0 {
		cfg.Risk.CheckIntervalSeconds = 1
	}

	if cfg.Paper.InitialBalanceUSD <= 0 {
		cfg.Paper.InitialBalanceUSD = 1000
	}
	if cfg.Paper.FillRate <= 0 {
		cfg.Paper.FillRate = 0.95
	}
	if cfg.Paper.PartialFillRate <= 0 {
		cfg.Paper.PartialFillRate = 0.10
	}
	if cfg.Paper.MinPartialFraction <= 0 {
		cfg.Paper.MinPartialFraction = 0.3
	}
	if cfg.Paper.LatencyMinMs <= 0 {
		cfg.Paper.LatencyMinMs = 50
	}
	if cfg.Paper.LatencyMaxMs <= 0 {
		cfg.Paper.LatencyMaxMs = 350
	}
	if cfg.Paper.SlippageBase <= 0 {
		cfg.Paper.SlippageBase = 0.001
	}
	if cfg.Paper.SlippageSizeImpact <= 0 {
		cfg.Paper.SlippageSizeImpact = 0.002
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "copybot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
