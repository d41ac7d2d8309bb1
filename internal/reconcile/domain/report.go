package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/spendledger/internal/aggregation"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
)

// Entry is the outcome for one entity: cached value before, recomputed value
// after, whether it was rewritten and whether the drift exceeded tolerance.
type Entry struct {
	Entity    inventorydomain.EntityRef `json:"entity"`
	Old       aggregation.Counters      `json:"old"`
	New       aggregation.Counters      `json:"new"`
	Corrected bool                      `json:"corrected"`
	Violation bool                      `json:"violation"`
}

type RowFailure struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Code       string `json:"code"`
	Error      string `json:"error"`
}

func (f RowFailure) err() error {
	return fmt.Errorf("%s:%s: %s", f.EntityType, f.EntityID, f.Error)
}

// Report summarizes a reconcile run. Entries hold only corrected entities.
type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Scanned    int          `json:"scanned"`
	Corrected  int          `json:"corrected"`
	Violations int          `json:"violations"`
	Entries    []Entry      `json:"entries"`
	Failures   []RowFailure `json:"failures"`
	Canceled   bool         `json:"canceled"`
}

// Err joins every row failure under ErrPartialReconcile, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	joined := make([]error, 0, len(r.Failures)+1)
	joined = append(joined, ErrPartialReconcile)
	for _, f := range r.Failures {
		joined = append(joined, f.err())
	}
	return errors.Join(joined...)
}
