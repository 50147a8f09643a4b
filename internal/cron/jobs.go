package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

const (
	DealExpiryJobName      = "deal-expiry"
	StaleOrderJobName      = "stale-pending-orders"
	OutboxRetentionJobName = "outbox-retention"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type dealExpirer interface {
	ExpireEnded(ctx context.Context) (int, error)
}

type staleOrderExpirer interface {
	ExpireStalePending(ctx context.Context) (int, error)
}

// sweepJob runs a domain sweep that reports how many rows it touched.
type sweepJob struct {
	name  string
	logg  *logger.Logger
	sweep func(ctx context.Context) (int, error)
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	n, err := j.sweep(ctx)
	if n > 0 {
		j.logg.Info(j.logg.WithField(ctx, "rows", n), "sweep applied")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}

// NewDealExpiryJob deactivates flash deals whose window has closed.
func NewDealExpiryJob(logg *logger.Logger, deals dealExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deals == nil {
		return nil, fmt.Errorf("deal service required")
	}
	return &sweepJob{name: DealExpiryJobName, logg: logg, sweep: deals.ExpireEnded}, nil
}

// NewStaleOrderJob cancels orders left pending past the configured TTL, refunding escrow and
// returning stock.
func NewStaleOrderJob(logg *logger.Logger, orders staleOrderExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	return &sweepJob{name: StaleOrderJobName, logg: logg, sweep: orders.ExpireStalePending}, nil
}
