package jobs

import (
	"context"

	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/logger"
	"gorm.io/gorm"
)

// SubscriptionProber checks whether a billing customer currently has an
// active subscription.
type SubscriptionProber interface {
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
}

// ActiveStatusJob refreshes users.isactive from the billing provider's
// subscription state.
type ActiveStatusJob struct {
	db     *gorm.DB
	prober SubscriptionProber
	log    *logger.Logger
}

// NewActiveStatusJob creates the status refresh job.
func NewActiveStatusJob(db *gorm.DB, prober SubscriptionProber, log *logger.Logger) *ActiveStatusJob {
	return &ActiveStatusJob{db: db, prober: prober, log: log}
}

// Run probes every referred user with a billing customer id and writes
// the isactive flag. A provider error for one customer marks that user
// inactive and continues; it never aborts the refresh.
func (j *ActiveStatusJob) Run(ctx context.Context) error {
	users, err := database.FetchReferredUsers(j.db)
	if err != nil {
		return err
	}

	statuses := make([]database.ActiveStatus, 0, len(users))
	for _, user := range users {
		if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
			continue
		}

		active, err := j.prober.HasActiveSubscription(ctx, *user.StripeCustomerID)
		if err != nil {
			j.log.Errorw("subscription check failed, marking inactive",
				"user_id", user.UserID,
				"customer_id", *user.StripeCustomerID,
				"error", err)
			active = false
		}

		statuses = append(statuses, database.ActiveStatus{
			UserID: user.UserID.String(),
			Active: active,
		})
	}

	summary, err := database.UpdateActiveFlags(j.db, statuses, j.log)
	if err != nil {
		return err
	}

	j.log.Infow("active status refresh complete",
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors)
	return nil
}
