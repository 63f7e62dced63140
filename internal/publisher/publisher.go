package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/quantpulse/reconciler/internal/config"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/quantpulse/reconciler/internal/models"
)

// ErrKVConnection marks an unreachable key-value store.
var ErrKVConnection = errors.New("key-value store connection error")

// Aggregate is the per-referrer summary cached in Redis. The cache is
// recomputed wholesale each run; the ledger stays the source of truth.
type Aggregate struct {
	TotalCommissionsPaidOut float64 `json:"total_commissions_paid_out"`
	PendingCommissions      float64 `json:"pending_commissions"`
	TotalCommissions        float64 `json:"total_commissions"`
}

// keySetter is the single Redis operation Publish depends on.
type keySetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Publisher writes per-referrer aggregates to Redis.
type Publisher struct {
	rdb *redis.Client
	kv  keySetter
	log *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKVConnection, err)
	}
	return &Publisher{rdb: rdb, kv: rdb, log: log}, nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Aggregates groups ledger rows by referrer and sums commission amounts.
// Rows without a referrer have no addressable key and are skipped.
// For every referrer: total == pending + paid out.
func Aggregates(rows []models.CommissionTransaction) map[uuid.UUID]Aggregate {
	aggs := make(map[uuid.UUID]Aggregate)
	for _, row := range rows {
		if row.Referee == nil {
			continue
		}

		amount := 0.0
		if row.CommissionAmount != nil {
			amount = *row.CommissionAmount
		}

		agg := aggs[*row.Referee]
		agg.TotalCommissions += amount
		if !row.CommissionPaid {
			agg.PendingCommissions += amount
		}
		agg.TotalCommissionsPaidOut = agg.TotalCommissions - agg.PendingCommissions
		aggs[*row.Referee] = agg
	}
	return aggs
}

// Publish writes one JSON blob per referrer, keyed by the referrer UUID,
// with plain SET overwrite semantics and no TTL. A failed SET is logged
// and counted but remaining keys are still written; the call reports the
// failures after attempting every key. Returns the number of keys
// written.
func (p *Publisher) Publish(ctx context.Context, rows []models.CommissionTransaction) (int, error) {
	aggs := Aggregates(rows)
	p.log.Infow("publishing referrer aggregates", "referrers", len(aggs))

	written, failed := 0, 0
	for referrer, agg := range aggs {
		payload, err := json.Marshal(agg)
		if err != nil {
			p.log.Errorw("marshaling aggregate failed", "referrer", referrer, "error", err)
			failed++
			continue
		}

		if err := p.kv.Set(ctx, referrer.String(), payload, 0).Err(); err != nil {
			p.log.Errorw("storing aggregate failed", "referrer", referrer, "error", err)
			failed++
			continue
		}
		written++
	}

	if failed > 0 {
		return written, fmt.Errorf("failed to write %d of %d referrer aggregates", failed, written+failed)
	}
	return written, nil
}
