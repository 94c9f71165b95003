package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scoring/internal/model"
)

// ErrNotFound is returned when no scored record exists for a lead.
var ErrNotFound = eris.New("store: record not found")

// Store defines the persistence interface for scored records. At most one
// record exists per lead; UpsertScore replaces any prior record wholesale.
type Store interface {
	UpsertScore(ctx context.Context, record *model.ScoredRecord) error
	GetScore(ctx context.Context, leadID string) (*model.ScoredRecord, error)
	ListRecent(ctx context.Context, limit int) ([]model.ScoredRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
