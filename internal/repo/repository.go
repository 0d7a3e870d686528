package repo

import (
	"context"

	"github.com/convomesh/sentinel/internal/domain"
)

// ResultStore is the narrow port the core writes through. Appends are
// best-effort: a missed write shows up as "no data", never as a crash.
type ResultStore interface {
	Append(ctx context.Context, r *domain.ResultRecord) error
	// LastByCheck returns the most recent record per check key.
	LastByCheck(ctx context.Context) (map[string]*domain.ResultRecord, error)
}
