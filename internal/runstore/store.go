package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/internal/database"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	saveRetries      = 3
)

// Store persists run logs through a database pool.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// New creates a store on pool.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.With(zap.String("component", "runstore"))}
}

// AutoMigrate creates or updates the run tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&RunRecord{}, &EntryRecord{}); err != nil {
		return fmt.Errorf("auto-migrate run tables: %w", err)
	}
	return nil
}

// Save writes a completed run log. Saving the same run twice replaces it.
func (s *Store) Save(ctx context.Context, log *workflow.RunLog) error {
	if log == nil || log.RunID == "" {
		return types.NewError(types.ErrInvalidInput, "run log has no run id")
	}
	rec := recordFromLog(log)
	entries := rec.Entries
	rec.Entries = nil

	err := s.pool.WithTransactionRetry(ctx, "save_run", saveRetries, func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", rec.RunID).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 100).Error
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", rec.RunID),
		zap.String("graph", rec.Graph),
		zap.Int("entries", len(entries)),
	)
	return nil
}

// Get loads one run with its entries in record order.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.pool.DB().WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&rec, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("run %q not found", runID))
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &rec, nil
}

// Filter narrows List.
type Filter struct {
	Graph  string
	Status workflow.RunStatus
	Since  time.Time
	Limit  int
	Offset int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// List returns run summaries, newest first, without entries.
func (s *Store) List(ctx context.Context, f Filter) ([]RunRecord, error) {
	q := s.pool.DB().WithContext(ctx).Model(&RunRecord{})
	if f.Graph != "" {
		q = q.Where("graph = ?", f.Graph)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.Since.IsZero() {
		q = q.Where("started_at >= ?", f.Since.UTC())
	}

	var out []RunRecord
	if err := q.Order("started_at DESC").Limit(f.limit()).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes runs that started before cutoff and returns how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var deleted int64
	err := s.pool.WithTransaction(ctx, "prune_runs", func(tx *gorm.DB) error {
		old := tx.Model(&RunRecord{}).Select("run_id").Where("started_at < ?", cutoff)
		if err := tx.Where("run_id IN (?)", old).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("started_at < ?", cutoff).Delete(&RunRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned runs", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// Ping checks the underlying database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
