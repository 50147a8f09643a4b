package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 14 * 24 * time.Hour
	defaultPruneChunk      = 1000
	// maxPruneChunks caps one sweep; whatever is left waits for the next tick.
	maxPruneChunks = 50
)

// OutboxRetentionJobParams configure pruning of relayed outbox rows. MinAttempts must equal the
// publisher's max attempts so rows still being retried are never removed.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxRetentionRepo
	Retention   time.Duration
	MinAttempts int
	ChunkSize   int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.MinAttempts <= 0:
		return nil, fmt.Errorf("min attempts must be positive")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		minAttempts: params.MinAttempts,
		chunk:       params.ChunkSize,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.chunk <= 0 {
		job.chunk = defaultPruneChunk
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	retention   time.Duration
	minAttempts int
	chunk       int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run deletes in chunks, one short transaction each, so the relay's row locks are never held up
// behind a single large delete.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	chunks := 0
	for ; chunks < maxPruneChunks; chunks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts, j.chunk)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += deleted
		if deleted < int64(j.chunk) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"min_attempts": j.minAttempts,
		"rows_deleted": total,
		"chunks":       chunks + 1,
		"capped":       chunks == maxPruneChunks,
	}), "outbox retention sweep complete")
	return nil
}
