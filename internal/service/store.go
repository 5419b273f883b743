package service

import (
	"context"

	"github.com/ayo6706/branch-transactions/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// EventPublisher fans out workflow events. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) {}
