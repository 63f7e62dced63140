package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/reconciler/internal/billing"
	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/ledger"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	records map[string][]billing.ChargeRecord
	errs    map[string]error
}

func (f *fakeFetcher) ChargesForCustomer(_ context.Context, customerID string) ([]billing.ChargeRecord, error) {
	if err, ok := f.errs[customerID]; ok {
		return nil, err
	}
	return f.records[customerID], nil
}

func strptr(s string) *string { return &s }

func charge(customerID, chargeID string, amount float64, status string) billing.ChargeRecord {
	return billing.ChargeRecord{
		CustomerID: customerID,
		Email:      "referee@example.com",
		ChargeID:   chargeID,
		Amount:     amount,
		Currency:   "USD",
		Status:     status,
		Created:    time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func referredUser(customerID string, referrer uuid.UUID) database.ReferredUser {
	return database.ReferredUser{
		UserID:           uuid.New(),
		StripeCustomerID: strptr(customerID),
		Referrer:         referrer,
	}
}

func rowByCharge(t *testing.T, rows []ledger.Row, chargeID string) ledger.Row {
	t.Helper()
	for _, row := range rows {
		if row["charge_id"] == chargeID {
			return row
		}
	}
	t.Fatalf("no row for charge %s", chargeID)
	return nil
}

func TestReconcileComputesCommissionPerEligibility(t *testing.T) {
	referrer := uuid.New()
	refunded := charge("cus_1", "ch_2", 50.0, "succeeded")
	refunded.Refunded = true

	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{
		"cus_1": {charge("cus_1", "ch_1", 100.0, "succeeded"), refunded},
	}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", referrer)},
		map[uuid.UUID]float64{referrer: 0.30})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 30.0, rowByCharge(t, rows, "ch_1")["commission_amount"])
	assert.Equal(t, 0.0, rowByCharge(t, rows, "ch_2")["commission_amount"])
}

func TestReconcileZeroesDisputedAndFailedCharges(t *testing.T) {
	referrer := uuid.New()
	disputed := charge("cus_1", "ch_1", 100.0, "succeeded")
	disputed.Disputed = true
	withDispute := charge("cus_1", "ch_2", 100.0, "succeeded")
	withDispute.Dispute = "dp_1"
	failed := charge("cus_1", "ch_3", 100.0, "failed")

	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{
		"cus_1": {disputed, withDispute, failed},
	}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", referrer)},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, row := range rows {
		assert.Equal(t, 0.0, row["commission_amount"], "charge %v", row["charge_id"])
	}
	assert.Equal(t, "dp_1", rowByCharge(t, rows, "ch_2")["dispute"])
}

func TestReconcileDerivesMaturity(t *testing.T) {
	referrer := uuid.New()
	rec := charge("cus_1", "ch_1", 10.0, "succeeded")

	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{"cus_1": {rec}}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", referrer)},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, rec.Created.Add(90*24*time.Hour), rows[0]["matures_on"])
}

func TestReconcileDropsSentinelRows(t *testing.T) {
	referrer := uuid.New()
	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{
		"cus_1": {{CustomerID: "cus_1", Email: "referee@example.com", Sentinel: true}},
	}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", referrer)},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReconcileDropsRowsWithoutRate(t *testing.T) {
	known := uuid.New()
	unknown := uuid.New()
	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{
		"cus_1": {charge("cus_1", "ch_1", 100.0, "succeeded")},
		"cus_2": {charge("cus_2", "ch_2", 100.0, "succeeded")},
	}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", known), referredUser("cus_2", unknown)},
		map[uuid.UUID]float64{known: 0.25})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ch_1", rows[0]["charge_id"])
}

func TestReconcileIsolatesPerUserFetchFailures(t *testing.T) {
	referrer := uuid.New()
	fetcher := &fakeFetcher{
		records: map[string][]billing.ChargeRecord{
			"cus_ok": {charge("cus_ok", "ch_1", 100.0, "succeeded")},
		},
		errs: map[string]error{
			"cus_bad": errors.New("provider unreachable"),
		},
	}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_bad", referrer), referredUser("cus_ok", referrer)},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ch_1", rows[0]["charge_id"])
}

func TestReconcileSkipsUsersWithoutCustomerID(t *testing.T) {
	referrer := uuid.New()
	fetcher := &fakeFetcher{}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{{UserID: uuid.New(), Referrer: referrer}},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReconcileNormalizesBooleans(t *testing.T) {
	referrer := uuid.New()
	fetcher := &fakeFetcher{records: map[string][]billing.ChargeRecord{
		"cus_1": {charge("cus_1", "ch_1", 100.0, "succeeded")},
	}}
	engine := NewEngine(fetcher, logger.NewNop())

	rows, err := engine.Reconcile(context.Background(),
		[]database.ReferredUser{referredUser("cus_1", referrer)},
		map[uuid.UUID]float64{referrer: 0.25})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, false, rows[0]["disputed"])
	assert.Equal(t, false, rows[0]["refunded"])
	assert.Nil(t, rows[0]["dispute"])
}
