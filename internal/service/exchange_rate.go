package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrRateUnavailable = fmt.Errorf("no exchange rate for currency: %w", models.ErrVerificationFailed)

// RateSource fetches the published rate board.
type RateSource interface {
	ExchangeRates(ctx context.Context) ([]models.ExchangeRate, error)
}

// RateCache holds the last fetched board between refreshes.
type RateCache interface {
	GetRates(ctx context.Context) ([]models.ExchangeRate, bool)
	SetRates(ctx context.Context, rates []models.ExchangeRate, ttl time.Duration)
}

// ExchangeRateService serves rates from cache, falling back to the backend and
// then to the last board it saw when the backend is down.
type ExchangeRateService struct {
	source RateSource
	cache  RateCache
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.RWMutex
	last []models.ExchangeRate
}

func NewExchangeRateService(source RateSource, cache RateCache, ttl time.Duration, logger *zap.Logger) *ExchangeRateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ExchangeRateService{source: source, cache: cache, ttl: ttl, logger: logger}
}

func (s *ExchangeRateService) Rates(ctx context.Context) ([]models.ExchangeRate, error) {
	if s.cache != nil {
		if rates, ok := s.cache.GetRates(ctx); ok {
			return rates, nil
		}
	}
	rates, err := s.Refresh(ctx)
	if err == nil {
		return rates, nil
	}

	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if len(last) > 0 {
		s.logger.Warn("serving stale exchange rates", zap.Error(err))
		return last, nil
	}
	return nil, err
}

// Refresh fetches the board and repopulates the cache.
func (s *ExchangeRateService) Refresh(ctx context.Context) ([]models.ExchangeRate, error) {
	rates, err := s.source.ExchangeRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rates: %w", err)
	}
	s.mu.Lock()
	s.last = rates
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.SetRates(ctx, rates, s.ttl)
	}
	return rates, nil
}

// Rate returns the ETB buying rate for currency as applied to transaction type t.
func (s *ExchangeRateService) Rate(ctx context.Context, currency string, t domain.TransactionType) (decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == domain.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	rates, err := s.Rates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, r := range rates {
		if strings.EqualFold(r.CurrencyCode, currency) {
			rate := r.BuyingRate(t)
			if !rate.IsPositive() {
				break
			}
			return rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s: %w", currency, ErrRateUnavailable)
}
