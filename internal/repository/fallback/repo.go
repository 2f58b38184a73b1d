package fallback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/advisorly/courier/internal/model"
)

var (
	ErrNoFallbackContent = errors.New("no fallback content available")
)

// Repository provides access to the fallback content library, the market
// holiday calendar and the assignment audit log.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new fallback repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// HolidayOn returns the market holiday on the given date, if any.
func (r *Repository) HolidayOn(ctx context.Context, date time.Time) (*model.MarketHoliday, error) {
	query := `
		SELECT date, name, type
		FROM market_holidays
		WHERE date = $1;
    `

	var h model.MarketHoliday
	err := r.db.QueryRowContext(ctx, query, date.Format("2006-01-02")).Scan(&h.Date, &h.Name, &h.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get market holiday: %w", err)
	}

	return &h, nil
}

// ByTag returns the least-used valid fallback entry carrying the tag.
func (r *Repository) ByTag(ctx context.Context, tag string, now time.Time) (model.FallbackContent, error) {
	query := `
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE $1 = ANY(tags) AND valid_from <= $2 AND valid_until >= $2
		ORDER BY use_count ASC, last_used ASC NULLS FIRST
		LIMIT 1;
    `

	return r.scanOne(r.db.QueryRowContext(ctx, query, tag, now))
}

// LeastUsedEducational returns the least-used, least-recently-used valid
// educational entry excluding the given ids (the advisor's recent history).
func (r *Repository) LeastUsedEducational(ctx context.Context, now time.Time, exclude []uuid.UUID) (model.FallbackContent, error) {
	excluded := make([]string, 0, len(exclude))
	for _, id := range exclude {
		excluded = append(excluded, id.String())
	}

	query := `
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE category = 'educational'
		  AND valid_from <= $1 AND valid_until >= $1
		  AND NOT (id = ANY($2::uuid[]))
		ORDER BY use_count ASC, last_used ASC NULLS FIRST
		LIMIT 1;
    `

	return r.scanOne(r.db.QueryRowContext(ctx, query, now, pq.Array(excluded)))
}

// GlobalLRU returns the least-recently-used educational entry regardless of
// advisor history. Coverage must never fail even at the cost of repetition.
func (r *Repository) GlobalLRU(ctx context.Context) (model.FallbackContent, error) {
	query := `
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE category = 'educational'
		ORDER BY last_used ASC NULLS FIRST, use_count ASC
		LIMIT 1;
    `

	return r.scanOne(r.db.QueryRowContext(ctx, query))
}

func (r *Repository) scanOne(row *sql.Row) (model.FallbackContent, error) {
	var fb model.FallbackContent
	var lastUsed sql.NullTime
	err := row.Scan(
		&fb.ID, &fb.Title, &fb.BodyEnglish, &fb.BodyHindi, &fb.Category,
		pq.Array(&fb.Tags), &fb.ValidFrom, &fb.ValidUntil, &fb.UseCount, &lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FallbackContent{}, ErrNoFallbackContent
		}

		return model.FallbackContent{}, fmt.Errorf("failed to get fallback content: %w", err)
	}
	if lastUsed.Valid {
		fb.LastUsed = &lastUsed.Time
	}

	return fb, nil
}

// RecentAssignments returns the fallback ids assigned to an advisor within
// its recent delivery history window.
func (r *Repository) RecentAssignments(ctx context.Context, advisorID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT fallback_id
		FROM fallback_assignments
		WHERE advisor_id = $1
		ORDER BY assigned_at DESC
		LIMIT $2;
    `

	rows, err := r.db.QueryContext(ctx, query, advisorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent assignments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// IncrementUsage bumps the use counter and last-used timestamp of an entry.
func (r *Repository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE fallback_content
		SET use_count = use_count + 1, last_used = now()
		WHERE id = $1;
    `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment fallback usage: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrNoFallbackContent
	}

	return nil
}

// LogAssignment appends one audit record.
func (r *Repository) LogAssignment(ctx context.Context, a model.FallbackAssignment) error {
	query := `
		INSERT INTO fallback_assignments (advisor_id, content_id, fallback_id, reason, scheduled_for, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6);
    `

	_, err := r.db.ExecContext(ctx, query, a.AdvisorID, a.ContentID, a.FallbackID, a.Reason, a.ScheduledFor.Format("2006-01-02"), a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to log fallback assignment: %w", err)
	}

	return nil
}

// StatsByReason counts assignments per reason over a time range.
func (r *Repository) StatsByReason(ctx context.Context, from, to time.Time) (map[string]int, error) {
	query := `
		SELECT reason, COUNT(*)
		FROM fallback_assignments
		WHERE assigned_at >= $1 AND assigned_at <= $2
		GROUP BY reason;
    `

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get fallback stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		stats[reason] = count
	}

	return stats, rows.Err()
}
