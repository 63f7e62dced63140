package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/reconciler/internal/billing"
	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/ledger"
	"github.com/quantpulse/reconciler/internal/logger"
)

// MaturityWindow is the fixed delay after a charge before its commission
// becomes payable.
const MaturityWindow = 90 * 24 * time.Hour

// succeededStatus is the only charge status that earns commission.
const succeededStatus = "succeeded"

// ChargeFetcher retrieves all charge records for one billing customer.
type ChargeFetcher interface {
	ChargesForCustomer(ctx context.Context, customerID string) ([]billing.ChargeRecord, error)
}

// Engine joins referred users, their charges and the commission-rate
// table into candidate ledger rows.
type Engine struct {
	fetcher ChargeFetcher
	log     *logger.Logger
}

// NewEngine creates an Engine over the given fetcher.
func NewEngine(fetcher ChargeFetcher, log *logger.Logger) *Engine {
	return &Engine{fetcher: fetcher, log: log}
}

type taggedCharge struct {
	rec      billing.ChargeRecord
	userID   uuid.UUID
	referrer uuid.UUID
}

// Reconcile produces the candidate ledger rows for one batch run.
//
// A fetch failure for one user is logged and excludes that user's rows
// without aborting the run. Sentinel no-charge records and charges whose
// referrer has no commission rate are dropped; everything else gets a
// definite commission amount: amount x rate when the charge succeeded
// with no dispute and no refund, 0.0 otherwise.
func (e *Engine) Reconcile(ctx context.Context, users []database.ReferredUser, rates map[uuid.UUID]float64) ([]ledger.Row, error) {
	var tagged []taggedCharge
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
			continue
		}

		records, err := e.fetcher.ChargesForCustomer(ctx, *user.StripeCustomerID)
		if err != nil {
			e.log.Errorw("fetching charges failed, excluding user from this run",
				"user_id", user.UserID,
				"customer_id", *user.StripeCustomerID,
				"error", err)
			continue
		}

		for _, rec := range records {
			tagged = append(tagged, taggedCharge{rec: rec, userID: user.UserID, referrer: user.Referrer})
		}
		e.log.Debugw("fetched charges", "user_id", user.UserID, "count", len(records))
	}

	rows := make([]ledger.Row, 0, len(tagged))
	for _, tc := range tagged {
		if tc.rec.Sentinel {
			// No charge ever existed; must not reach the ledger.
			continue
		}
		rate, ok := rates[tc.referrer]
		if !ok {
			// Rate unknown for this referrer: commission cannot be
			// computed, so the row is excluded from persistence.
			e.log.Debugw("no commission rate for referrer, dropping row",
				"referrer", tc.referrer, "charge_id", tc.rec.ChargeID)
			continue
		}

		commission := 0.0
		if eligible(tc.rec) {
			commission = tc.rec.Amount * rate
		}
		rows = append(rows, candidateRow(tc, commission))
	}

	return rows, nil
}

// eligible reports whether a charge earns commission: succeeded, no
// dispute of any kind, not refunded.
func eligible(rec billing.ChargeRecord) bool {
	return rec.Status == succeededStatus &&
		!rec.Disputed &&
		rec.Dispute == "" &&
		!rec.Refunded
}

func candidateRow(tc taggedCharge, commission float64) ledger.Row {
	return ledger.Row{
		"charge_id":         tc.rec.ChargeID,
		"user_id":           tc.userID,
		"referee":           tc.referrer,
		"customer_id":       tc.rec.CustomerID,
		"email":             tc.rec.Email,
		"amount":            tc.rec.Amount,
		"currency":          tc.rec.Currency,
		"status":            tc.rec.Status,
		"disputed":          tc.rec.Disputed,
		"dispute":           nullableString(tc.rec.Dispute),
		"refunded":          tc.rec.Refunded,
		"created":           tc.rec.Created,
		"description":       nullableString(tc.rec.Description),
		"payment_method":    nullableString(tc.rec.PaymentMethod),
		"last4":             nullableString(tc.rec.Last4),
		"matures_on":        tc.rec.Created.Add(MaturityWindow),
		"commission_amount": commission,
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
