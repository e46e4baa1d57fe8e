package copytrade

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// AddTrader empieza a seguir una wallet con la configuración dada.
func (s *Service) AddTrader(cfg domain.TrackedTrader) (domain.TrackedTrader, error) {
	addr := strings.ToLower(strings.TrimSpace(cfg.Address))
	if addr == "" {
		return domain.TrackedTrader{}, fmt.Errorf("copytrade.AddTrader: empty address")
	}
	if err := validateSizing(cfg); err != nil {
		return domain.TrackedTrader{}, fmt.Errorf("copytrade.AddTrader: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.traders[addr]; exists {
		s.mu.Unlock()
		return domain.TrackedTrader{}, fmt.Errorf("copytrade.AddTrader: %s already tracked", addr)
	}

	now := time.Now().UTC()
	cfg.ID = uuid.New().String()
	cfg.Address = addr
	cfg.AddedAt = now
	cfg.UpdatedAt = now
	s.traders[addr] = &cfg
	snapshot := cfg
	s.mu.Unlock()

	s.monitor.Track(addr)
	return snapshot, nil
}

// UpdateTrader muta la configuración de una wallet seguida. Los campos de
// identidad (ID, Address, AddedAt) no cambian.
func (s *Service) UpdateTrader(address string, mutate func(*domain.TrackedTrader)) (domain.TrackedTrader, error) {
	addr := strings.ToLower(strings.TrimSpace(address))

	s.mu.Lock()
	existing, ok := s.traders[addr]
	if !ok {
		s.mu.Unlock()
		return domain.TrackedTrader{}, fmt.Errorf("copytrade.UpdateTrader: %s not tracked", addr)
	}

	id, added := existing.ID, existing.AddedAt
	mutate(existing)
	existing.ID = id
	existing.Address = addr
	existing.AddedAt = added
	existing.UpdatedAt = time.Now().UTC()

	if err := validateSizing(*existing); err != nil {
		s.mu.Unlock()
		return domain.TrackedTrader{}, fmt.Errorf("copytrade.UpdateTrader: %w", err)
	}
	snapshot := *existing
	s.mu.Unlock()

	return snapshot, nil
}

// RemoveTrader deja de seguir una wallet. Sus posiciones abiertas siguen en
// el ledger hasta que se cierren manualmente.
func (s *Service) RemoveTrader(address string) error {
	addr := strings.ToLower(strings.TrimSpace(address))

	s.mu.Lock()
	if _, ok := s.traders[addr]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("copytrade.RemoveTrader: %s not tracked", addr)
	}
	delete(s.traders, addr)
	s.mu.Unlock()

	s.monitor.Untrack(addr)
	return nil
}

// GetTrader devuelve la configuración de una wallet seguida.
func (s *Service) GetTrader(address string) (domain.TrackedTrader, bool) {
	addr := strings.ToLower(strings.TrimSpace(address))
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.traders[addr]
	if !ok {
		return domain.TrackedTrader{}, false
	}
	return *cfg, true
}

// ListTraders devuelve una copia de todas las configuraciones.
func (s *Service) ListTraders() []domain.TrackedTrader {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedTrader, 0, len(s.traders))
	for _, cfg := range s.traders {
		out = append(out, *cfg)
	}
	return out
}

// validateSizing comprueba que la configuración de sizing sea coherente.
// Errores aquí son de programador/operador: fallan en startup o en la API,
// nunca a mitad del pipeline.
func validateSizing(cfg domain.TrackedTrader) error {
	switch cfg.Strategy {
	case domain.SizingPercentage:
		if cfg.CopyPercent <= 0 || cfg.CopyPercent > 100 {
			return fmt.Errorf("percentage strategy needs CopyPercent in (0, 100], got %.2f", cfg.CopyPercent)
		}
	case domain.SizingFixed:
		if cfg.FixedAmountUSD <= 0 && cfg.MaxPositionUSD <= 0 {
			return fmt.Errorf("fixed strategy needs FixedAmountUSD or MaxPositionUSD")
		}
	case domain.SizingAdaptive:
		if cfg.AdaptiveMaxPct <= 0 {
			return fmt.Errorf("adaptive strategy needs AdaptiveMaxPct > 0")
		}
		if cfg.AdaptiveMinPct < 0 || cfg.AdaptiveMinPct > cfg.AdaptiveMaxPct {
			return fmt.Errorf("adaptive strategy needs 0 ≤ AdaptiveMinPct ≤ AdaptiveMaxPct")
		}
	default:
		return fmt.Errorf("unknown sizing strategy %q", cfg.Strategy)
	}

	for i, tier := range cfg.Tiers {
		if tier.Multiplier <= 0 {
			return fmt.Errorf("tier %d has non-positive multiplier", i)
		}
		if tier.MaxUSD > 0 && tier.MaxUSD < tier.MinUSD {
			return fmt.Errorf("tier %d has MaxUSD < MinUSD", i)
		}
	}
	return nil
}
