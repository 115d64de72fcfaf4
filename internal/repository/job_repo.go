package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jchen/finsight/internal/analysis"
	"github.com/jchen/finsight/internal/domain"
)

// JobRepository persists analysis jobs. Implements analysis.JobStore.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.AnalysisJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.AnalysisJob: job record if found.
//   - error: analysis.ErrJobNotFound if no such job, otherwise the query error.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, analysis.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List retrieves recent jobs ordered by creation time, newest first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*domain.AnalysisJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []*domain.AnalysisJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// UpdateStatus transitions a job's status. Terminal statuses are never
// overwritten: the guard in the WHERE clause makes a late transition a no-op
// instead of a regression.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    now,
	}
	switch status {
	case domain.JobStatusRunning:
		updates["started_at"] = &now
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		updates["completed_at"] = &now
	}

	res := r.db.WithContext(ctx).
		Model(&domain.AnalysisJob{}).
		Where("id = ? AND status NOT IN ?", id, []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the job does not exist or it is already terminal.
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return analysis.ErrJobNotFound
		}
	}
	return nil
}

// SaveStageResult records one stage outcome under its stage name. The job row
// holds the full result map; read-modify-write is safe because the scheduler
// goroutine is the only writer for a given job.
func (r *JobRepository) SaveStageResult(ctx context.Context, id string, outcome domain.StageOutcome) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.StageResults == nil {
		job.StageResults = domain.StageResultMap{}
	}
	job.StageResults[outcome.StageName] = outcome

	return r.db.WithContext(ctx).
		Model(&domain.AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stage_results": job.StageResults,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SaveReport attaches the assembled report to a job.
func (r *JobRepository) SaveReport(ctx context.Context, id string, report *domain.Report) error {
	if report == nil {
		return fmt.Errorf("nil report for job %s", id)
	}
	return r.db.WithContext(ctx).
		Model(&domain.AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"report":     report,
			"updated_at": time.Now().UTC(),
		}).Error
}
