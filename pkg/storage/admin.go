package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// JobFilter selects jobs for SearchJobs. Zero fields match everything.
type JobFilter struct {
	State   core.JobState
	Handler string
	ToolID  string
	Search  string // substring of the job id or command line
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// HandlerStats counts jobs bound to one handler id or tag by state.
type HandlerStats struct {
	Handler string
	New     int64
	Queued  int64
	Running int64
	OK      int64
	Error   int64
	Deleted int64
}

// GetHandlerStats returns per-handler job counts, sorted by handler.
func (s *GormStorage) GetHandlerStats(ctx context.Context) ([]HandlerStats, error) {
	type row struct {
		Handler string
		State   string
		Count   int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("handler, state, count(*) as count").
		Group("handler, state").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byHandler := make(map[string]*HandlerStats)
	for _, r := range rows {
		hs, ok := byHandler[r.Handler]
		if !ok {
			hs = &HandlerStats{Handler: r.Handler}
			byHandler[r.Handler] = hs
		}
		switch core.JobState(r.State) {
		case core.StateNew:
			hs.New += r.Count
		case core.StateQueued:
			hs.Queued += r.Count
		case core.StateRunning:
			hs.Running += r.Count
		case core.StateOK:
			hs.OK += r.Count
		case core.StateError:
			hs.Error += r.Count
		case core.StateDeleted:
			hs.Deleted += r.Count
		}
	}

	result := make([]HandlerStats, 0, len(byHandler))
	for _, hs := range byHandler {
		result = append(result, *hs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Handler < result[j].Handler })
	return result, nil
}

// SearchJobs returns jobs matching the filter, newest first, with the total
// match count.
func (s *GormStorage) SearchJobs(ctx context.Context, filter JobFilter) ([]*core.Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})

	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Handler != "" {
		q = q.Where("handler = ?", filter.Handler)
	}
	if filter.ToolID != "" {
		q = q.Where("tool_id = ?", filter.ToolID)
	}
	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		q = q.Where("id LIKE ? OR command_line LIKE ?", search, search)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var jobs []*core.Job
	err := q.Order("created_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// RetryJob requeues a job that ended in StateError or StateDeleted on the
// handler it was bound to.
func (s *GormStorage) RetryJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	if job.State != core.StateError && job.State != core.StateDeleted {
		return nil, fmt.Errorf("jobs: cannot retry job in state %q", job.State)
	}

	updates := map[string]any{
		"state":        core.StateQueued,
		"attempt":      0,
		"last_error":   "",
		"exit_code":    nil,
		"external_id":  "",
		"run_at":       nil,
		"locked_by":    "",
		"locked_until": nil,
		"started_at":   nil,
		"completed_at": nil,
	}
	if job.Handler == "" {
		updates["state"] = core.StateNew
	}
	if err := s.db.WithContext(ctx).Model(&job).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

// DeleteJob permanently removes a job and its datasets.
func (s *GormStorage) DeleteJob(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&core.JobDataset{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", jobID).Delete(&core.Job{}).Error
	})
}

// PurgeJobs deletes finished jobs in the given state that completed before
// olderThan. An empty handler matches every handler.
func (s *GormStorage) PurgeJobs(ctx context.Context, handler string, state core.JobState, olderThan time.Time) (int64, error) {
	if !state.Terminal() {
		return 0, fmt.Errorf("jobs: refusing to purge jobs in non-terminal state %q", state)
	}
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&core.Job{}).Select("id").
			Where("state = ?", state).
			Where("completed_at < ?", olderThan)
		if handler != "" {
			ids = ids.Where("handler = ?", handler)
		}
		if err := tx.Where("job_id IN (?)", ids).Delete(&core.JobDataset{}).Error; err != nil {
			return err
		}
		q := tx.Where("state = ?", state).Where("completed_at < ?", olderThan)
		if handler != "" {
			q = q.Where("handler = ?", handler)
		}
		result := q.Delete(&core.Job{})
		purged = result.RowsAffected
		return result.Error
	})
	return purged, err
}
