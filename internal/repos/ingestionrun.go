package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

// IngestionRunRepo owns all reads and writes of the durable job row.
type IngestionRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *domain.IngestionRun) (*domain.IngestionRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.IngestionRun, error)
	List(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.IngestionRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.IngestionRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	CancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type ingestionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionRunRepo(db *gorm.DB, baseLog *logger.Logger) IngestionRunRepo {
	return &ingestionRunRepo{
		db:  db,
		log: baseLog.With("repo", "IngestionRunRepo"),
	}
}

func (r *ingestionRunRepo) Create(ctx context.Context, tx *gorm.DB, run *domain.IngestionRun) (*domain.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil, nil
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = string(domain.JobQueued)
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *ingestionRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run domain.IngestionRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ingestionRunRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.IngestionRun
	err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable picks the oldest runnable row and marks it claimed
// in one transaction. SKIP LOCKED keeps concurrent workers from
// double-claiming; a run is runnable when queued, failed with attempts
// left past its retry delay, or active with a stale heartbeat (its
// worker died mid-flight). A stale active row is claimable even with a
// pending cancel request so the claimer can finalize it as canceled.
func (r *ingestionRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.IngestionRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.IngestionRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (status = ? AND cancel_requested = false)
        OR (
          status = ?
          AND cancel_requested = false
          AND attempts < ?
          AND (last_error_at IS NULL OR last_error_at < ?)
        )
        OR (
          status IN ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      `, string(domain.JobQueued),
				string(domain.JobFailed), maxAttempts, retryCutoff,
				activeStatuses(), staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.IngestionRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       string(domain.JobExtracting),
				"stage":        "extract",
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		run.Status = string(domain.JobExtracting)
		run.Stage = "extract"
		run.Attempts++
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ingestionRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&domain.IngestionRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Heartbeat refreshes liveness. It only touches rows still in an active
// status so a finished or canceled run never looks alive again.
func (r *ingestionRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&domain.IngestionRun{}).
		Where("id = ? AND status IN ?", id, activeStatuses()).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// RequestCancel flags a non-terminal run for cancellation. A queued run
// flips straight to canceled; an active run keeps its status and the
// worker observes the flag at its next stage boundary. Returns false
// when the run is already terminal.
func (r *ingestionRunRepo) RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()

	accepted := false
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.IngestionRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		if domain.JobStatus(run.Status).Terminal() {
			return nil
		}
		updates := map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       now,
		}
		if run.Status == string(domain.JobQueued) {
			updates["status"] = string(domain.JobCanceled)
		}
		if err := txx.Model(&domain.IngestionRun{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		accepted = true
		return nil
	})
	return accepted, err
}

func (r *ingestionRunRepo) CancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run domain.IngestionRun
	err := transaction.WithContext(ctx).
		Select("cancel_requested").
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

func activeStatuses() []string {
	return []string{
		string(domain.JobExtracting),
		string(domain.JobChunking),
		string(domain.JobEmbeddingLinking),
		string(domain.JobPersisting),
	}
}
