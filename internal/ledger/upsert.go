package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/models"
	"gorm.io/gorm"
)

// ErrSchemaViolation marks a candidate set referencing a column that does
// not exist in the commission_transactions schema.
var ErrSchemaViolation = errors.New("schema violation")

// SchemaViolationError carries the offending column names.
type SchemaViolationError struct {
	Columns []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("candidate rows contain unknown columns: %s", strings.Join(e.Columns, ", "))
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// Result summarizes one upsert batch.
type Result struct {
	Inserted int
	Updated  int
	Errors   int
}

// Upsert merges candidate rows into commission_transactions, keyed by
// charge_id. New ids are inserted with exactly the supplied columns;
// existing ids are updated only on the columns whose value differs, and
// charge_id itself is never updated. The whole batch runs in a single
// transaction: any row failure rolls everything back. Candidates naming
// an unknown column fail the call before any write.
func Upsert(db *gorm.DB, candidates []Row) (Result, error) {
	var result Result
	if len(candidates) == 0 {
		return result, nil
	}

	if err := validateColumns(candidates); err != nil {
		return result, err
	}

	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		id, ok := candidate["charge_id"].(string)
		if !ok || id == "" {
			return result, fmt.Errorf("%w: candidate row has no charge_id", database.ErrValidation)
		}
		ids = append(ids, id)
	}

	var stored []models.CommissionTransaction
	if err := db.Where("charge_id IN ?", ids).Find(&stored).Error; err != nil {
		result.Errors++
		return result, fmt.Errorf("%w: loading existing ledger rows: %v", database.ErrDatabase, err)
	}

	existing := make(map[string]Row, len(stored))
	for i := range stored {
		existing[stored[i].ChargeID] = rowFromModel(&stored[i])
	}

	plan := PlanMerge(existing, candidates)

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, row := range plan.Inserts {
			if err := tx.Model(&models.CommissionTransaction{}).Create(map[string]interface{}(row)).Error; err != nil {
				return err
			}
		}
		for _, up := range plan.Updates {
			err := tx.Model(&models.CommissionTransaction{}).
				Where("charge_id = ?", up.ChargeID).
				Updates(map[string]interface{}(up.Changes)).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		result.Errors++
		return result, fmt.Errorf("%w: writing ledger batch: %v", database.ErrDatabase, err)
	}

	result.Inserted = len(plan.Inserts)
	result.Updated = len(plan.Updates)
	return result, nil
}

func validateColumns(candidates []Row) error {
	unknown := make(map[string]struct{})
	for _, candidate := range candidates {
		for col := range candidate {
			if _, ok := models.CommissionTransactionColumns[col]; !ok {
				unknown[col] = struct{}{}
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	cols := make([]string, 0, len(unknown))
	for col := range unknown {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return &SchemaViolationError{Columns: cols}
}

// rowFromModel expands a stored ledger row into the full column map used
// for diffing against candidates.
func rowFromModel(m *models.CommissionTransaction) Row {
	return Row{
		"charge_id":             m.ChargeID,
		"user_id":               m.UserID,
		"referee":               m.Referee,
		"customer_id":           m.CustomerID,
		"email":                 m.Email,
		"amount":                m.Amount,
		"currency":              m.Currency,
		"status":                m.Status,
		"notes":                 m.Notes,
		"disputed":              m.Disputed,
		"dispute":               m.Dispute,
		"refunded":              m.Refunded,
		"created":               m.Created,
		"description":           m.Description,
		"payment_method":        m.PaymentMethod,
		"last4":                 m.Last4,
		"matures_on":            m.MaturesOn,
		"commission_amount":     m.CommissionAmount,
		"commission_paid":       m.CommissionPaid,
		"commission_paid_tx_id": m.CommissionPaidTxID,
	}
}
