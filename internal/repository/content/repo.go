package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/advisorly/courier/internal/model"
)

var (
	ErrContentNotFound = errors.New("content not found")
)

// Repository provides access to the content and advisors tables.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new content repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ApprovedForDate returns every approved content item for the target date
// joined with its advisor. The scheduler assumes this set is complete; the
// fallback assigner guarantees that before the pass runs.
func (r *Repository) ApprovedForDate(ctx context.Context, date time.Time) ([]model.ScheduledItem, error) {
	query := `
		SELECT c.id, c.advisor_id, c.content_english, c.content_hindi, c.media_url, c.category, c.scheduled_date,
		       a.id, a.phone, a.business_name, a.subscription_tier, a.language_preference, a.sebi_registration
		FROM content c
		JOIN advisors a ON a.id = c.advisor_id
		WHERE c.status = 'approved' AND c.scheduled_date = $1 AND a.is_active = TRUE;
    `

	rows, err := r.db.QueryContext(ctx, query, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get approved content: %w", err)
	}
	defer rows.Close()

	var items []model.ScheduledItem
	for rows.Next() {
		var it model.ScheduledItem
		if err := rows.Scan(
			&it.Content.ID, &it.Content.AdvisorID, &it.Content.BodyEnglish, &it.Content.BodyHindi,
			&it.Content.MediaURL, &it.Content.Category, &it.Content.ScheduledDate,
			&it.Advisor.ID, &it.Advisor.Phone, &it.Advisor.BusinessName, &it.Advisor.Tier,
			&it.Advisor.Language, &it.Advisor.SEBIRegistration,
		); err != nil {
			return nil, err
		}
		it.Advisor.IsActive = true
		items = append(items, it)
	}

	return items, rows.Err()
}

// GetScheduledItem returns one approved content item with its advisor.
func (r *Repository) GetScheduledItem(ctx context.Context, contentID uuid.UUID) (model.ScheduledItem, error) {
	query := `
		SELECT c.id, c.advisor_id, c.content_english, c.content_hindi, c.media_url, c.category, c.scheduled_date,
		       a.id, a.phone, a.business_name, a.subscription_tier, a.language_preference, a.sebi_registration
		FROM content c
		JOIN advisors a ON a.id = c.advisor_id
		WHERE c.id = $1 AND c.status = 'approved';
    `

	var it model.ScheduledItem
	err := r.db.QueryRowContext(ctx, query, contentID).Scan(
		&it.Content.ID, &it.Content.AdvisorID, &it.Content.BodyEnglish, &it.Content.BodyHindi,
		&it.Content.MediaURL, &it.Content.Category, &it.Content.ScheduledDate,
		&it.Advisor.ID, &it.Advisor.Phone, &it.Advisor.BusinessName, &it.Advisor.Tier,
		&it.Advisor.Language, &it.Advisor.SEBIRegistration,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScheduledItem{}, ErrContentNotFound
		}

		return model.ScheduledItem{}, fmt.Errorf("failed to get content: %w", err)
	}
	it.Advisor.IsActive = true

	return it, nil
}

// AdvisorsWithoutContent returns every active advisor that has no approved
// content for the target date. This is the coverage gap the fallback
// assigner must close.
func (r *Repository) AdvisorsWithoutContent(ctx context.Context, date time.Time) ([]model.Advisor, error) {
	query := `
		SELECT a.id, a.phone, a.business_name, a.subscription_tier, a.language_preference, a.sebi_registration
		FROM advisors a
		WHERE a.is_active = TRUE
		  AND NOT EXISTS (
		      SELECT 1 FROM content c
		      WHERE c.advisor_id = a.id AND c.scheduled_date = $1 AND c.status = 'approved'
		  );
    `

	rows, err := r.db.QueryContext(ctx, query, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get advisors without content: %w", err)
	}
	defer rows.Close()

	var advisors []model.Advisor
	for rows.Next() {
		var a model.Advisor
		if err := rows.Scan(&a.ID, &a.Phone, &a.BusinessName, &a.Tier, &a.Language, &a.SEBIRegistration); err != nil {
			return nil, err
		}
		a.IsActive = true
		advisors = append(advisors, a)
	}

	return advisors, rows.Err()
}

// CreateFallbackContent inserts a pre-approved content record built from a
// fallback library entry and returns its ID.
func (r *Repository) CreateFallbackContent(ctx context.Context, advisorID uuid.UUID, fb model.FallbackContent, date time.Time) (uuid.UUID, error) {
	query := `
		INSERT INTO content (advisor_id, content_english, content_hindi, category, status, scheduled_date)
		VALUES ($1, $2, $3, 'fallback', 'approved', $4)
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query, advisorID, fb.BodyEnglish, fb.BodyHindi, date.Format("2006-01-02")).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create fallback content: %w", err)
	}

	return id, nil
}
