package services

import (
	"context"
	"time"

	"github.com/tupyy/docjobs/internal/models"
	"github.com/tupyy/docjobs/internal/store"
)

type HistoryService struct {
	store *store.Store
}

func NewHistoryService(st *store.Store) *HistoryService {
	return &HistoryService{store: st}
}

type HistoryListParams struct {
	Kinds    []string
	States   []models.JobState
	Document string
	// Since keeps jobs finished at or after it. Zero means no bound.
	Since  time.Time
	Sort   []store.SortParam
	Limit  uint64
	Offset uint64
}

type HistoryListResult struct {
	Jobs  []models.JobRecord
	Total int
}

// Record implements Recorder.
func (s *HistoryService) Record(ctx context.Context, r models.JobRecord) error {
	return s.store.Jobs().Record(ctx, r)
}

func (s *HistoryService) List(ctx context.Context, params HistoryListParams) (*HistoryListResult, error) {
	opts := s.buildFilterOptions(params)
	if len(params.Sort) > 0 {
		opts = append(opts, store.WithSort(params.Sort))
	} else {
		opts = append(opts, store.WithDefaultSort())
	}
	if params.Limit > 0 {
		opts = append(opts, store.WithLimit(params.Limit))
	}
	if params.Offset > 0 {
		opts = append(opts, store.WithOffset(params.Offset))
	}

	records, err := s.store.Jobs().List(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// total count without pagination
	total, err := s.store.Jobs().Count(ctx, s.buildFilterOptions(params)...)
	if err != nil {
		return nil, err
	}

	return &HistoryListResult{
		Jobs:  records,
		Total: total,
	}, nil
}

// Prune removes records older than age.
func (s *HistoryService) Prune(ctx context.Context, age time.Duration) (int64, error) {
	return s.store.Jobs().Prune(ctx, time.Now().Add(-age))
}

func (s *HistoryService) buildFilterOptions(params HistoryListParams) []store.ListOption {
	var opts []store.ListOption

	if len(params.Kinds) > 0 {
		opts = append(opts, store.ByKind(params.Kinds...))
	}
	if len(params.States) > 0 {
		opts = append(opts, store.ByState(params.States...))
	}
	if params.Document != "" {
		opts = append(opts, store.ByDocument(params.Document))
	}
	if !params.Since.IsZero() {
		opts = append(opts, store.FinishedBetween(params.Since, time.Now().Add(24*time.Hour)))
	}

	return opts
}
