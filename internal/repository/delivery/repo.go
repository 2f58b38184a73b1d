package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/advisorly/courier/internal/model"
)

var (
	ErrJobNotFound    = errors.New("delivery job not found")
	ErrResultNotFound = errors.New("delivery result not found")
)

// Repository provides access to the delivery_jobs and delivery_results
// tables.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new delivery repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a new delivery job. The jobs table is unique on
// (advisor_id, content_id, scheduled_date); re-submitting the same identity
// returns the existing job id with created=false so a re-run scheduling
// pass never double-publishes.
func (r *Repository) CreateJob(ctx context.Context, job model.DeliveryJob) (uuid.UUID, bool, error) {
	query := `
		INSERT INTO delivery_jobs (
		    advisor_id, content_id, phone, language, priority, tier, scheduled_for, scheduled_date, max_retries, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		ON CONFLICT (advisor_id, content_id, scheduled_date) DO NOTHING
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		job.AdvisorID, job.ContentID, job.Phone, job.Language, job.Priority, job.Tier,
		job.ScheduledFor, job.ScheduledDate.Format("2006-01-02"), job.MaxRetries,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("failed to create delivery job: %w", err)
	}

	// Conflict: the job already exists for this identity.
	existing := `
		SELECT id FROM delivery_jobs
		WHERE advisor_id = $1 AND content_id = $2 AND scheduled_date = $3;
    `
	err = r.db.QueryRowContext(ctx, existing, job.AdvisorID, job.ContentID, job.ScheduledDate.Format("2006-01-02")).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to get existing delivery job: %w", err)
	}

	return id, false, nil
}

// UpdateJobStatus updates the status of a job by its ID.
func (r *Repository) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE delivery_jobs
		SET status = $1, updated_at = now()
		WHERE id = $2;
    `

	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update delivery job: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrJobNotFound
	}

	return nil
}

// GetJobStatus retrieves the status of a job by its ID.
func (r *Repository) GetJobStatus(ctx context.Context, id uuid.UUID) (string, error) {
	query := `
		SELECT status
		FROM delivery_jobs
		WHERE id = $1;
    `

	var status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrJobNotFound
		}

		return "", fmt.Errorf("failed to get delivery job status: %w", err)
	}

	return status, nil
}

// IncrementRetryCount bumps the retry counter of a job and returns the new
// value.
func (r *Repository) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE delivery_jobs
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count;
    `

	var count int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrJobNotFound
		}

		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	return count, nil
}

// RecordResult appends one attempt outcome. Results are never mutated; the
// latest row per job is authoritative.
func (r *Repository) RecordResult(ctx context.Context, result model.DeliveryResult) (uuid.UUID, error) {
	query := `
		INSERT INTO delivery_results (
		    job_id, advisor_id, content_id, template_name, status, message_id, error, attempts, completed_at, processing_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		result.JobID, result.AdvisorID, result.ContentID, result.TemplateName, result.Status,
		result.MessageID, result.Error, result.Attempts, result.CompletedAt, result.ProcessingTime.Milliseconds(),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record delivery result: %w", err)
	}

	return id, nil
}

// LatestResult returns the most recent result for a job.
func (r *Repository) LatestResult(ctx context.Context, jobID uuid.UUID) (model.DeliveryResult, error) {
	query := `
		SELECT id, job_id, advisor_id, content_id, template_name, status, message_id, error, attempts, completed_at
		FROM delivery_results
		WHERE job_id = $1
		ORDER BY completed_at DESC
		LIMIT 1;
    `

	var res model.DeliveryResult
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&res.ID, &res.JobID, &res.AdvisorID, &res.ContentID, &res.TemplateName,
		&res.Status, &res.MessageID, &res.Error, &res.Attempts, &res.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeliveryResult{}, ErrResultNotFound
		}

		return model.DeliveryResult{}, fmt.Errorf("failed to get delivery result: %w", err)
	}

	return res, nil
}

// UpdateStatusByMessageID applies an asynchronous provider status callback
// (delivered/read/failed) to the result carrying that message id.
func (r *Repository) UpdateStatusByMessageID(ctx context.Context, messageID, status string) (string, error) {
	query := `
		UPDATE delivery_results
		SET status = $1
		WHERE message_id = $2
		RETURNING template_name;
    `

	var templateName string
	err := r.db.QueryRowContext(ctx, query, status, messageID).Scan(&templateName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrResultNotFound
		}

		return "", fmt.Errorf("failed to update delivery result: %w", err)
	}

	return templateName, nil
}

// TemplateStats aggregates the trailing window of results for one template:
// delivery/open/block rates in percent, last use and use count.
func (r *Repository) TemplateStats(ctx context.Context, templateName string, window int) (model.TemplateStats, error) {
	query := `
		SELECT status, error, completed_at
		FROM delivery_results
		WHERE template_name = $1
		ORDER BY completed_at DESC
		LIMIT $2;
    `

	rows, err := r.db.QueryContext(ctx, query, templateName, window)
	if err != nil {
		return model.TemplateStats{}, fmt.Errorf("failed to get template stats: %w", err)
	}
	defer rows.Close()

	var stats model.TemplateStats
	var total, delivered, opened, blocked int

	for rows.Next() {
		var status, errDetail string
		var completedAt sql.NullTime
		if err := rows.Scan(&status, &errDetail, &completedAt); err != nil {
			return model.TemplateStats{}, err
		}

		total++
		switch status {
		case model.StatusDelivered:
			delivered++
		case model.StatusRead:
			delivered++
			opened++
		}
		if status == model.StatusFailed && strings.Contains(errDetail, "blocked") {
			blocked++
		}
		if completedAt.Valid && completedAt.Time.After(stats.LastUsed) {
			stats.LastUsed = completedAt.Time
		}
	}
	if err := rows.Err(); err != nil {
		return model.TemplateStats{}, err
	}

	stats.UseCount = total
	if total > 0 {
		stats.DeliveryRate = float64(delivered) / float64(total) * 100
		stats.OpenRate = float64(opened) / float64(total) * 100
		stats.BlockRate = float64(blocked) / float64(total) * 100
	}

	return stats, nil
}
