package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tupyy/docjobs/internal/models"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// JobStore keeps the history of terminal jobs.
type JobStore struct {
	db QueryInterceptor
}

func NewJobStore(db QueryInterceptor) *JobStore {
	return &JobStore{db: db}
}

// Record stores r, replacing an earlier record of the same job. A load job
// retried with a password keeps its id, so only its last run is kept.
func (s *JobStore) Record(ctx context.Context, r models.JobRecord) error {
	_, err := s.db.ExecContext(ctx, queryUpsertJob,
		r.ID,
		r.Kind,
		string(r.State),
		nullString(r.Error),
		nullString(r.DocumentURI),
		r.Priority,
		nullTime(r.StartedAt),
		nullTime(r.FinishedAt),
	)
	return err
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	query, args, err := sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	r, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *JobStore) List(ctx context.Context, opts ...ListOption) ([]models.JobRecord, error) {
	builder := sq.Select(jobColumns...).From("jobs")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.JobRecord
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}

	return records, rows.Err()
}

func (s *JobStore) Count(ctx context.Context, opts ...ListOption) (int, error) {
	builder := sq.Select("COUNT(*)").From("jobs")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Prune deletes the records created before t and returns how many were removed.
func (s *JobStore) Prune(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, queryDeleteJobsBefore, t)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.JobRecord, error) {
	var (
		r                 models.JobRecord
		state             string
		errMsg, uri       sql.NullString
		started, finished sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.Kind,
		&state,
		&errMsg,
		&uri,
		&r.Priority,
		&started,
		&finished,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = models.JobState(state)
	r.Error = errMsg.String
	r.DocumentURI = uri.String
	r.StartedAt = started.Time
	r.FinishedAt = finished.Time
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func ByKind(kinds ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(kinds) == 0 {
			return b
		}
		return b.Where(sq.Eq{"kind": kinds})
	}
}

func ByState(states ...models.JobState) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(states) == 0 {
			return b
		}
		values := make([]string, 0, len(states))
		for _, s := range states {
			values = append(values, string(s))
		}
		return b.Where(sq.Eq{"state": values})
	}
}

func ByDocument(uri string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if uri == "" {
			return b
		}
		return b.Where(sq.Eq{"document_uri": uri})
	}
}

// FinishedBetween keeps jobs finished in [from, to).
func FinishedBetween(from, to time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.And{
			sq.GtOrEq{"finished_at": from},
			sq.Lt{"finished_at": to},
		})
	}
}

func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

func WithOffset(offset uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Offset(offset)
	}
}

type SortParam struct {
	Field string
	Desc  bool
}

var fieldToColumn = map[string]string{
	"kind":       "kind",
	"state":      "state",
	"priority":   "priority",
	"startedAt":  "started_at",
	"finishedAt": "finished_at",
	"createdAt":  "created_at",
}

// WithDefaultSort orders by creation time, newest first.
func WithDefaultSort() ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.OrderBy("created_at DESC", "id")
	}
}

func WithSort(sorts []SortParam) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		var orderClauses []string
		for _, s := range sorts {
			col, ok := fieldToColumn[s.Field]
			if !ok {
				continue
			}
			if s.Desc {
				orderClauses = append(orderClauses, col+" DESC")
			} else {
				orderClauses = append(orderClauses, col+" ASC")
			}
		}
		orderClauses = append(orderClauses, "id")
		return b.OrderBy(orderClauses...)
	}
}
