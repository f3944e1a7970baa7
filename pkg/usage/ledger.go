// Package usage tracks per-org consumption counters by billing period.
// Rows are created lazily: the first read or increment of a period
// materializes its counter row, protected by the (org_id, period)
// uniqueness constraint against concurrent creation.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// Kind names a metered counter.
type Kind string

const (
	KindAIQueries Kind = "ai_queries"
	KindDocuments Kind = "documents"
	KindSeats     Kind = "seats"
)

// column maps a counter kind to its ledger column. Kinds are a closed
// set; anything else is a programming error.
func (k Kind) column() (string, error) {
	switch k {
	case KindAIQueries:
		return "ai_queries", nil
	case KindDocuments:
		return "documents_uploaded", nil
	case KindSeats:
		return "seats_used", nil
	default:
		return "", fmt.Errorf("unknown usage kind: %q", k)
	}
}

// Counter is one org's consumption for one period.
type Counter struct {
	ID        uuid.UUID `json:"-"`
	OrgID     uuid.UUID `json:"org_id"`
	Period    string    `json:"period"`
	AIQueries int       `json:"ai_queries"`
	Documents int       `json:"documents_uploaded"`
	Seats     int       `json:"seats_used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Get returns the counter value for a kind.
func (c *Counter) Get(k Kind) int {
	switch k {
	case KindAIQueries:
		return c.AIQueries
	case KindDocuments:
		return c.Documents
	case KindSeats:
		return c.Seats
	}
	return 0
}

// Period formats a timestamp as its usage period ("2006-01", UTC).
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentPeriod returns the period containing now.
func CurrentPeriod() string {
	return Period(time.Now())
}

// Ledger reads and advances usage counters.
type Ledger struct {
	db     *postgres.DB
	logger *observability.Logger
}

// NewLedger creates a usage ledger.
func NewLedger(db *postgres.DB, logger *observability.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.WithComponent("usage"),
	}
}

const counterColumns = `id, org_id, period, ai_queries, documents_uploaded, seats_used, updated_at`

func scanCounter(row interface{ Scan(...interface{}) error }) (*Counter, error) {
	c := &Counter{}
	err := row.Scan(&c.ID, &c.OrgID, &c.Period, &c.AIQueries, &c.Documents, &c.Seats, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreate returns the tenant's counter for a period, materializing
// the row on first access. A concurrent create loses the insert race
// on the uniqueness constraint and fetches the winner's row instead.
func (l *Ledger) GetOrCreate(ctx context.Context, period string) (*Counter, error) {
	var counter *Counter
	err := l.db.InOrg(ctx, func(tx *sql.Tx) error {
		var err error
		counter, err = getOrCreateTx(ctx, tx, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	return counter, nil
}

func getOrCreateTx(ctx context.Context, tx *sql.Tx, period string) (*Counter, error) {
	selectQuery := "SELECT " + counterColumns + ` FROM usage_counters
		WHERE org_id = current_setting('app.current_org_id')::uuid AND period = $1`

	counter, err := scanCounter(tx.QueryRowContext(ctx, selectQuery, period))
	if err == nil {
		return counter, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get usage counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_counters (id, org_id, period)
		VALUES ($1, current_setting('app.current_org_id')::uuid, $2)
		ON CONFLICT (org_id, period) DO NOTHING`,
		uuid.New(), period); err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	counter, err = scanCounter(tx.QueryRowContext(ctx, selectQuery, period))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage counter after create: %w", err)
	}
	return counter, nil
}

// Increment advances a counter by n for the tenant's current period.
// When the period row does not exist yet it is created first and the
// increment retried once.
func (l *Ledger) Increment(ctx context.Context, period string, kind Kind, n int) error {
	col, err := kind.column()
	if err != nil {
		return err
	}

	return l.db.InOrg(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			UPDATE usage_counters
			SET %s = %s + $1, updated_at = NOW()
			WHERE org_id = current_setting('app.current_org_id')::uuid AND period = $2`,
			col, col)

		result, err := tx.ExecContext(ctx, query, n, period)
		if err != nil {
			return fmt.Errorf("failed to increment %s: %w", kind, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows > 0 {
			return nil
		}

		// Period row missing: materialize it and retry once.
		if _, err := getOrCreateTx(ctx, tx, period); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, n, period); err != nil {
			return fmt.Errorf("failed to increment %s after create: %w", kind, err)
		}
		return nil
	})
}
