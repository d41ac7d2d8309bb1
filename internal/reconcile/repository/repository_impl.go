package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/spendledger/internal/reconcile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.JobRepository {
	return &repo{}
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.ReconcileJob, error) {
	var jobs []domain.ReconcileJob
	err := db.WithContext(ctx).
		Model(&domain.ReconcileJob{}).
		Where("job_key = ?", key).
		Limit(1).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.ReconcileJob) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, job *domain.ReconcileJob, staleBefore time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE reconcile_jobs SET status = ?, params = ?, started_at = ?, completed_at = NULL, error = ''
		 WHERE id = ? AND (status = ? OR (status = ? AND started_at < ?))`,
		domain.JobStatusRunning,
		job.Params,
		job.StartedAt,
		job.ID,
		domain.JobStatusFailed,
		domain.JobStatusRunning,
		staleBefore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, job *domain.ReconcileJob) error {
	return db.WithContext(ctx).Exec(
		`UPDATE reconcile_jobs SET status = ?, report = ?, error = ?, completed_at = ? WHERE id = ?`,
		job.Status,
		job.Report,
		job.Error,
		job.CompletedAt,
		job.ID,
	).Error
}
