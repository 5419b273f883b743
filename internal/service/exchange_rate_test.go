package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/cache"
	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRateService_Rate(t *testing.T) {
	ctx := context.Background()
	backend := gateway.NewMockBackend()
	svc := NewExchangeRateService(backend, cache.New(nil, nil), time.Minute, nil)

	rate, err := svc.Rate(ctx, "usd", domain.TxFundTransfer)
	require.NoError(t, err)
	assert.Equal(t, "57.25", rate.StringFixed(2))

	rate, err = svc.Rate(ctx, "USD", domain.TxWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, "56.80", rate.StringFixed(2), "withdrawals use the cash board")

	rate, err = svc.Rate(ctx, "ETB", domain.TxWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, "1", rate.String())

	_, err = svc.Rate(ctx, "JPY", domain.TxFundTransfer)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestExchangeRateService_FallsBackToLastBoard(t *testing.T) {
	ctx := context.Background()
	backend := gateway.NewMockBackend()
	svc := NewExchangeRateService(backend, nil, time.Minute, nil)

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	backend.FailureRate = 1
	rates, err := svc.Rates(ctx)
	require.NoError(t, err)
	assert.Len(t, rates, 3)

	cold := NewExchangeRateService(backend, nil, time.Minute, nil)
	_, err = cold.Rates(ctx)
	assert.ErrorIs(t, err, models.ErrNetwork)
}
