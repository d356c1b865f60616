// Package archive records completed brainstorms in a relational store so their
// outcomes remain queryable after the working session state is deleted.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/db"
	"github.com/ideate/ideate/internal/db/dialect"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// DefaultHistoryLimit caps history queries when the caller passes no limit.
const DefaultHistoryLimit = 20

const createBrainstormsTable = `
	CREATE TABLE IF NOT EXISTS brainstorms (
		id TEXT PRIMARY KEY,
		request TEXT NOT NULL,
		branch_count INTEGER NOT NULL,
		findings TEXT NOT NULL,
		approved INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_brainstorms_completed_at ON brainstorms(completed_at);
`

// Store persists completed brainstorm records.
type Store struct {
	pool   *db.Pool
	logger *logger.Logger
}

// NewStore creates an archive store and initializes the schema on the writer.
func NewStore(pool *db.Pool, log *logger.Logger) (*Store, error) {
	s := &Store{pool: pool, logger: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("archive schema init: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.pool.Writer().Exec(createBrainstormsTable)
	return err
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// brainstormRow mirrors the brainstorms table for sqlx scanning.
type brainstormRow struct {
	ID          string    `db:"id"`
	Request     string    `db:"request"`
	BranchCount int       `db:"branch_count"`
	Findings    string    `db:"findings"`
	Approved    int       `db:"approved"`
	CreatedAt   time.Time `db:"created_at"`
	CompletedAt time.Time `db:"completed_at"`
}

func (r brainstormRow) record() apiv1.BrainstormRecord {
	return apiv1.BrainstormRecord{
		ID:          r.ID,
		Request:     r.Request,
		BranchCount: r.BranchCount,
		Findings:    r.Findings,
		Approved:    r.Approved == 1,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Record stores a completed brainstorm. Recording the same ID again replaces
// the earlier row, which keeps retried teardowns idempotent.
func (s *Store) Record(ctx context.Context, rec apiv1.BrainstormRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("archive record requires an id")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	w := s.pool.Writer()
	query := dialect.Upsert(w.DriverName(), "brainstorms", "id",
		"request", "branch_count", "findings", "approved", "created_at", "completed_at")
	_, err := w.ExecContext(ctx, w.Rebind(query),
		rec.ID, rec.Request, rec.BranchCount, rec.Findings,
		dialect.BoolToInt(rec.Approved), rec.CreatedAt.UTC(), rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("archive brainstorm %s: %w", rec.ID, err)
	}

	s.logger.Debug("Archived brainstorm",
		zap.String("brainstorm_id", rec.ID),
		zap.Bool("approved", rec.Approved))
	return nil
}

// History returns the most recently completed brainstorms, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]apiv1.BrainstormRecord, error) {
	return s.query(ctx, "", limit)
}

// Search returns completed brainstorms whose request text matches the given
// fragment, newest first.
func (s *Store) Search(ctx context.Context, match string, limit int) ([]apiv1.BrainstormRecord, error) {
	return s.query(ctx, match, limit)
}

func (s *Store) query(ctx context.Context, match string, limit int) ([]apiv1.BrainstormRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	ro := s.pool.Reader()
	q := `SELECT id, request, branch_count, findings, approved, created_at, completed_at FROM brainstorms`
	args := []any{}
	if match != "" {
		q += fmt.Sprintf(" WHERE request %s ?", dialect.Like(ro.DriverName()))
		args = append(args, "%"+match+"%")
	}
	q += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []brainstormRow
	if err := ro.SelectContext(ctx, &rows, ro.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}

	records := make([]apiv1.BrainstormRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Stats summarizes the archive contents.
type Stats struct {
	Total         int     `db:"total"`
	Approved      int     `db:"approved"`
	AvgDurationMs float64 `db:"avg_duration_ms"`
}

// Stats returns aggregate counts and the average brainstorm duration.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	ro := s.pool.Reader()
	q := fmt.Sprintf(`SELECT COUNT(*) AS total,
		COALESCE(SUM(approved), 0) AS approved,
		COALESCE(AVG(%s), 0) AS avg_duration_ms
		FROM brainstorms`,
		dialect.DurationMs(ro.DriverName(), "completed_at", "created_at"))

	var st Stats
	if err := ro.GetContext(ctx, &st, q); err != nil {
		return nil, fmt.Errorf("archive stats: %w", err)
	}
	return &st, nil
}
