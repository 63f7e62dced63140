package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Row is one ledger row as a column-name -> value map. The keys present
// in a candidate row define exactly which columns the upsert is allowed
// to touch; absent columns keep their stored value or schema default.
type Row map[string]interface{}

// Update is one planned update: the changed columns for an existing row.
type Update struct {
	ChargeID string
	Changes  Row
}

// Plan is the outcome of merging candidate rows against the stored
// ledger: rows to insert, rows to update with their changed-column sets,
// and the count of rows needing no write.
type Plan struct {
	Inserts []Row
	Updates []Update
	Noops   int
}

// PlanMerge splits candidates into insert/update/no-op sets against the
// existing rows, both keyed by charge_id. It is a pure function: no
// store access, fully deterministic given its inputs. Duplicate charge
// ids in the incoming set resolve last-write-wins. charge_id itself is
// never part of an update's change set; it is immutable.
func PlanMerge(existing map[string]Row, incoming []Row) Plan {
	order := make([]string, 0, len(incoming))
	byID := make(map[string]Row, len(incoming))
	for _, row := range incoming {
		id, _ := row["charge_id"].(string)
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = row
	}

	var plan Plan
	for _, id := range order {
		candidate := byID[id]
		current, ok := existing[id]
		if !ok {
			plan.Inserts = append(plan.Inserts, candidate)
			continue
		}

		changes := Row{}
		for col, value := range candidate {
			if col == "charge_id" {
				continue
			}
			if !valuesEqual(current[col], value) {
				changes[col] = value
			}
		}

		if len(changes) == 0 {
			plan.Noops++
		} else {
			plan.Updates = append(plan.Updates, Update{ChargeID: id, Changes: changes})
		}
	}

	return plan
}

// normalize collapses typed nil pointers to nil and dereferences the
// pointer types that appear in ledger rows, so stored and candidate
// values compare by content.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}

func valuesEqual(a, b interface{}) bool {
	a = normalize(a)
	b = normalize(b)

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if _, ok := b.(time.Time); ok {
		return false
	}

	return a == b
}
