package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase = "https://clob.polymarket.com"
	defaultDataBase = "https://data-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// Data API (activity/positions): 100/10s → 6/s
	dataRatePerSec = 6
	// CLOB /book: 500/10s → 30/s
	booksRatePerSec = 30
	// CLOB general (órdenes, balance): 9000/10s → 540/s
	clobRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el cliente HTTP de Polymarket con rate limiting y retries.
// Implementa ports.VenueClient y ports.ActivityFeed.
type Client struct {
	http         *http.Client
	clobBase     string
	dataBase     string
	apiKey       string
	clobLimiter  *rate.Limiter
	dataLimiter  *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient crea un Client. URLs vacíos usan los de producción; apiKey puede
// ser vacío para operar solo con los endpoints públicos (feed + books).
func NewClient(clobBase, dataBase, apiKey string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if dataBase == "" {
		dataBase = defaultDataBase
	}
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		clobBase:     clobBase,
		dataBase:     dataBase,
		apiKey:       apiKey,
		clobLimiter:  rate.NewLimiter(clobRatePerSec, 50),
		dataLimiter:  rate.NewLimiter(dataRatePerSec, 5),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// IsConnected indica si el cliente puede servir peticiones. El HTTP client
// no mantiene conexión persistente, así que solo valida la construcción.
func (c *Client) IsConnected() bool {
	return c.http != nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.authHeaders(req)
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		c.authHeaders(req)
		return c.http.Do(req)
	}, out)
}

// del hace un DELETE con rate limiting y retries.
func (c *Client) del(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.authHeaders(req)
		return c.http.Do(req)
	}, out)
}

func (c *Client) authHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("POLY-API-KEY", c.apiKey)
	}
}

// doWithRetry ejecuta la función con backoff exponencial y jitter.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("polymarket: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial y jitter, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	wait += time.Duration(rand.Int63n(int64(baseRetryWait)))
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
