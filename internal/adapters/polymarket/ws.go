package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsInitialBackoff = 1 * time.Second
	wsMaxBackoff     = 60 * time.Second
	wsBackoffFactor  = 2.0
	wsJitterPercent  = 0.2

	wsHeartbeatTimeout = 60 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// PriceUpdate es un cambio de last-trade-price para un asset suscrito.
type PriceUpdate struct {
	AssetID string
	Price   float64
	At      time.Time
}

// Listener mantiene la conexión WebSocket al canal de mercado con reconexión
// automática y heartbeat, y entrega los cambios de precio por callback. Se
// usa para refrescar marks de posiciones abiertas sin hacer polling de books.
type Listener struct {
	url     string
	onPrice func(PriceUpdate)

	conn      *websocket.Conn
	connMu    sync.Mutex
	backoff   time.Duration
	lastMsg   time.Time
	lastMsgMu sync.RWMutex

	assetIDs   []string
	assetIDsMu sync.RWMutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewListener crea un listener; url vacío usa el endpoint de producción.
func NewListener(url string, onPrice func(PriceUpdate)) *Listener {
	if url == "" {
		url = defaultWSURL
	}
	return &Listener{
		url:      url,
		onPrice:  onPrice,
		backoff:  wsInitialBackoff,
		stopChan: make(chan struct{}),
	}
}

// SetAssetIDs fija los assets a suscribir; aplica en la próxima (re)conexión.
func (l *Listener) SetAssetIDs(ids []string) {
	l.assetIDsMu.Lock()
	defer l.assetIDsMu.Unlock()
	l.assetIDs = ids
}

// Start arranca el loop de conexión y el monitor de heartbeat.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(2)
	go l.runLoop(ctx)
	go l.heartbeatMonitor(ctx)
}

// Stop cierra la conexión y espera a los goroutines.
func (l *Listener) Stop() {
	close(l.stopChan)
	l.closeConnection()
	l.wg.Wait()
}

func (l *Listener) runLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		default:
		}

		if err := l.connect(ctx); err != nil {
			slog.Error("polymarket: ws connect failed", "err", err, "backoff", l.backoff)
			l.waitBackoff(ctx)
			continue
		}

		if err := l.readLoop(ctx); err != nil {
			slog.Warn("polymarket: ws read error", "err", err)
		}
		l.closeConnection()
		l.waitBackoff(ctx)
	}
}

func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.touch()

	l.assetIDsMu.RLock()
	assets := l.assetIDs
	l.assetIDsMu.RUnlock()

	sub := map[string]any{"type": "market", "assets_ids": assets}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	l.backoff = wsInitialBackoff
	slog.Info("polymarket: ws connected", "assets", len(assets))
	return nil
}

type wsMessage struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Price     json.Number `json:"price"`
}

func (l *Listener) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stopChan:
			return nil
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.touch()

		// El canal envía tanto objetos sueltos como arrays de eventos.
		var batch []wsMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			var single wsMessage
			if err := json.Unmarshal(data, &single); err != nil {
				continue
			}
			batch = []wsMessage{single}
		}

		for _, msg := range batch {
			if msg.EventType != "last_trade_price" || msg.AssetID == "" {
				continue
			}
			price := num(msg.Price)
			if price <= 0 || l.onPrice == nil {
				continue
			}
			l.onPrice(PriceUpdate{AssetID: msg.AssetID, Price: price, At: time.Now().UTC()})
		}
	}
}

// heartbeatMonitor fuerza la reconexión si no llega nada en el timeout.
func (l *Listener) heartbeatMonitor(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.lastMsgMu.RLock()
			stale := time.Since(l.lastMsg) > wsHeartbeatTimeout
			l.lastMsgMu.RUnlock()
			if stale {
				slog.Warn("polymarket: ws heartbeat timeout, forcing reconnect")
				l.closeConnection()
			}
		}
	}
}

func (l *Listener) touch() {
	l.lastMsgMu.Lock()
	l.lastMsg = time.Now()
	l.lastMsgMu.Unlock()
}

func (l *Listener) closeConnection() {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// waitBackoff espera con backoff exponencial y jitter antes de reintentar.
func (l *Listener) waitBackoff(ctx context.Context) {
	jitter := time.Duration(float64(l.backoff) * wsJitterPercent * (rand.Float64()*2 - 1))
	wait := l.backoff + jitter

	select {
	case <-ctx.Done():
	case <-l.stopChan:
	case <-time.After(wait):
	}

	l.backoff = time.Duration(float64(l.backoff) * wsBackoffFactor)
	if l.backoff > wsMaxBackoff {
		l.backoff = wsMaxBackoff
	}
}
