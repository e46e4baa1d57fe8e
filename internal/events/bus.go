// Package events implementa un pub/sub tipado mínimo. Cada topic conoce el
// tipo de su payload; los subscribers se registran en construcción y se
// invocan de forma síncrona en orden de registro.
package events

import (
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Topic is a typed fan-out point: one producer, many subscribers.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []func(T)
}

// Subscribe registers fn to run on every future Publish. Subscribers run
// synchronously on the publisher's goroutine: handlers must not block.
func (t *Topic[T]) Subscribe(fn func(T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Publish entrega el valor a todos los subscribers en orden de registro.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := t.subs
	t.mu.RUnlock()
	for _, fn := range subs {
		fn(v)
	}
}

// TradeFailure acompaña a un trade que no pudo ejecutarse.
type TradeFailure struct {
	Trade    domain.DetectedTrade
	TraderID string
	Err      error
	At       time.Time
}

// PositionClosed acompaña al cierre de una posición con su P&L realizado.
type PositionClosed struct {
	Position    domain.CopyPosition
	RealizedPnL float64
}

// FeedError es un error transitorio de polling con contexto del trader.
type FeedError struct {
	TraderAddress string
	Err           error
	At            time.Time
}

// Bus agrupa todos los topics del pipeline. Se construye una vez en el
// orquestador y se inyecta hacia abajo; no hay emitter global.
type Bus struct {
	TradeDetected Topic[domain.DetectedTrade]
	TradeCopied   Topic[domain.CopyResult]
	TradeSkipped  Topic[domain.SkippedTrade]
	TradeFailed   Topic[TradeFailure]
	FeedErrors    Topic[FeedError]

	PositionOpened  Topic[domain.CopyPosition]
	PositionUpdated Topic[domain.CopyPosition]
	PositionClosed  Topic[PositionClosed]

	AggregationReady   Topic[domain.AggregatedTrade]
	AggregationExpired Topic[domain.AggregatedTrade]

	ExposureAlert         Topic[domain.RiskAlert]
	ExposureLimitExceeded Topic[domain.RiskAlert]
	DrawdownAlert         Topic[domain.RiskAlert]
	DrawdownLimitExceeded Topic[domain.RiskAlert]
	KillSwitchActivated   Topic[domain.RiskAlert]
	KillSwitchDeactivated Topic[domain.RiskAlert]
}

// NewBus crea un bus con todos los topics vacíos.
func NewBus() *Bus {
	return &Bus{}
}
