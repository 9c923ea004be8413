package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// lockDuration is how long a dequeued job stays locked without a heartbeat.
const lockDuration = 5 * time.Minute

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

var _ core.Storage = (*GormStorage)(nil)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// IsSQLite reports whether the connection uses the SQLite dialect, which has
// no row-level locking.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// skipLocked adds FOR UPDATE SKIP LOCKED where the dialect supports it.
func (s *GormStorage) skipLocked(tx *gorm.DB) *gorm.DB {
	if s.IsSQLite() {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.JobDataset{})
}

// Enqueue stores a new job together with its datasets. A job bound to a
// concrete handler should arrive in StateQueued; a job bound to a tag stays
// in StateNew until a handler claims it.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = core.StateNew
	}
	for i := range job.Datasets {
		job.Datasets[i].JobID = job.ID
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// Dequeue locks the oldest runnable job queued for handlerID and marks it
// running. It returns nil when nothing is runnable.
func (s *GormStorage) Dequeue(ctx context.Context, handlerID string, workerID string) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := s.skipLocked(tx).
			Where("handler = ?", handlerID).
			Where("state = ?", core.StateQueued).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			First(&job)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		update := tx.Model(&core.Job{}).
			Where("id = ? AND state = ?", job.ID, core.StateQueued).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Updates(map[string]any{
				"state":        core.StateRunning,
				"locked_by":    workerID,
				"locked_until": lockUntil,
				"started_at":   now,
				"attempt":      gorm.Expr("attempt + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			// Lost the race to another worker.
			job = core.Job{}
			return nil
		}

		job.State = core.StateRunning
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		job.StartedAt = &now
		job.Attempt++
		return tx.Where("job_id = ?", job.ID).Order("id ASC").Find(&job.Datasets).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// Complete records the exit code of a running job owned by workerID. A zero
// exit code ends in StateOK, anything else in StateError.
func (s *GormStorage) Complete(ctx context.Context, jobID string, workerID string, exitCode int) error {
	now := time.Now()
	updates := map[string]any{
		"state":        core.StateOK,
		"exit_code":    exitCode,
		"completed_at": now,
		"locked_by":    "",
		"locked_until": nil,
	}
	if exitCode != 0 {
		updates["state"] = core.StateError
		updates["last_error"] = fmt.Sprintf("tool exited with code %d", exitCode)
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND state = ?", jobID, workerID, core.StateRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Fail marks a running job as failed, or requeues it on the same handler when
// retryAt is set. Error messages are sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error":   security.SanitizeErrorMessage(errMsg),
		"locked_by":    "",
		"locked_until": nil,
	}
	if retryAt != nil {
		updates["state"] = core.StateQueued
		updates["run_at"] = retryAt
	} else {
		updates["state"] = core.StateError
		updates["completed_at"] = time.Now()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND state = ?", jobID, workerID, core.StateRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ClaimJobs binds up to limit unclaimed jobs whose handler is one of tags to
// handlerID. A job already claimed by another handler is never taken, so two
// handlers polling the same tag never share a job.
func (s *GormStorage) ClaimJobs(ctx context.Context, handlerID string, tags []string, limit int) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = 1
	}

	var claimed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := s.skipLocked(tx.Model(&core.Job{})).
			Where("state = ?", core.StateNew).
			Where("handler IN ?", tags).
			Order("created_at ASC").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}

		result := tx.Model(&core.Job{}).
			Where("id IN ? AND state = ?", ids, core.StateNew).
			Where("handler IN ?", tags).
			Updates(map[string]any{
				"handler": handlerID,
				"state":   core.StateQueued,
			})
		claimed = result.RowsAffected
		return result.Error
	})
	return claimed, err
}

// AssignHandler binds a job that has not started yet to handlerID.
func (s *GormStorage) AssignHandler(ctx context.Context, jobID string, handlerID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("state IN ?", []core.JobState{core.StateNew, core.StateQueued}).
		Updates(map[string]any{
			"handler": handlerID,
			"state":   core.StateQueued,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOr(ctx, jobID, core.ErrJobNotOwned)
	}
	return nil
}

// SetExternalID records the id the remote execution host gave the job.
func (s *GormStorage) SetExternalID(ctx context.Context, jobID string, workerID string, externalID string) error {
	return s.updateOwned(ctx, jobID, workerID, "external_id", externalID)
}

// SetWorkingDirectory records where the job runs: the job directory for local
// destinations, the remote working directory otherwise.
func (s *GormStorage) SetWorkingDirectory(ctx context.Context, jobID string, workerID string, dir string) error {
	return s.updateOwned(ctx, jobID, workerID, "working_directory", dir)
}

func (s *GormStorage) updateOwned(ctx context.Context, jobID, workerID, column string, value any) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Cancel moves a job that has not finished to StateDeleted. The worker running
// it notices on its next heartbeat. Cancelling a finished job is a no-op.
func (s *GormStorage) Cancel(ctx context.Context, jobID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("state IN ?", []core.JobState{core.StateNew, core.StateQueued, core.StateRunning}).
		Updates(map[string]any{
			"state":        core.StateDeleted,
			"completed_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOr(ctx, jobID, nil)
	}
	return nil
}

// missingOr returns ErrJobNotFound when jobID does not exist and fallback otherwise.
func (s *GormStorage) missingOr(ctx context.Context, jobID string, fallback error) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&core.Job{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return fallback
}

// Heartbeat extends the lock on a running job. It returns ErrJobNotOwned once
// the job was cancelled or its lock was released.
func (s *GormStorage) Heartbeat(ctx context.Context, jobID string, workerID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND state = ?", jobID, workerID, core.StateRunning).
		Update("locked_until", time.Now().Add(lockDuration))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ReleaseStaleLocks requeues running jobs whose lock expired more than
// staleDuration ago. They stay bound to the same handler.
func (s *GormStorage) ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("state = ?", core.StateRunning).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"state":        core.StateQueued,
			"locked_by":    "",
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// GetJob retrieves a job and its datasets.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Preload("Datasets", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByState retrieves jobs in the given state, oldest first.
func (s *GormStorage) GetJobsByState(ctx context.Context, state core.JobState, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC").
		Limit(queryLimit(limit)).
		Find(&jobList).Error
	return jobList, err
}

// GetJobsByHandler retrieves jobs bound to a handler id or tag, oldest first.
func (s *GormStorage) GetJobsByHandler(ctx context.Context, handlerID string, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("handler = ?", handlerID).
		Order("created_at ASC").
		Limit(queryLimit(limit)).
		Find(&jobList).Error
	return jobList, err
}

// queryLimit maps a non-positive limit to "no limit".
func queryLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
