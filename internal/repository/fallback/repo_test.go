package fallback

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/advisorly/courier/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func fallbackColumns() []string {
	return []string{"id", "title", "content_english", "content_hindi", "category", "tags", "valid_from", "valid_until", "use_count", "last_used"}
}

func TestHolidayOn(t *testing.T) {
	repo, mock := setupMockDB(t)

	date := time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT date, name, type
		FROM market_holidays
		WHERE date = $1;
    `)).
		WithArgs("2025-10-21").
		WillReturnRows(sqlmock.NewRows([]string{"date", "name", "type"}).
			AddRow(date, "Diwali", "festival"))

	h, err := repo.HolidayOn(context.Background(), date)
	assert.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, "Diwali", h.Name)
	assert.Equal(t, "festival", h.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHolidayOn_NoHoliday(t *testing.T) {
	repo, mock := setupMockDB(t)

	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT date, name, type
		FROM market_holidays
		WHERE date = $1;
    `)).
		WithArgs("2025-06-10").
		WillReturnRows(sqlmock.NewRows([]string{"date", "name", "type"}))

	h, err := repo.HolidayOn(context.Background(), date)
	assert.NoError(t, err)
	assert.Nil(t, h)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByTag(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE $1 = ANY(tags) AND valid_from <= $2 AND valid_until >= $2
		ORDER BY use_count ASC, last_used ASC NULLS FIRST
		LIMIT 1;
    `)).
		WithArgs("festival", now).
		WillReturnRows(sqlmock.NewRows(fallbackColumns()).
			AddRow(id, "Festive greetings", "Wishing you...", "", "seasonal", "{festival,greeting}",
				now.AddDate(0, -1, 0), now.AddDate(0, 1, 0), 4, nil))

	fb, err := repo.ByTag(context.Background(), "festival", now)
	assert.NoError(t, err)
	assert.Equal(t, id, fb.ID)
	assert.Equal(t, []string{"festival", "greeting"}, fb.Tags)
	assert.Nil(t, fb.LastUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByTag_NoContent(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE $1 = ANY(tags) AND valid_from <= $2 AND valid_until >= $2
		ORDER BY use_count ASC, last_used ASC NULLS FIRST
		LIMIT 1;
    `)).
		WithArgs("budget-day", now).
		WillReturnRows(sqlmock.NewRows(fallbackColumns()))

	_, err := repo.ByTag(context.Background(), "budget-day", now)
	assert.ErrorIs(t, err, ErrNoFallbackContent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeastUsedEducational_ExcludesHistory(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	excluded := uuid.New()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	lastUsed := now.AddDate(0, 0, -40)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id, title, content_english, content_hindi, category, tags, valid_from, valid_until, use_count, last_used
		FROM fallback_content
		WHERE category = 'educational'
		  AND valid_from <= $1 AND valid_until >= $1
		  AND NOT (id = ANY($2::uuid[]))
		ORDER BY use_count ASC, last_used ASC NULLS FIRST
		LIMIT 1;
    `)).
		WithArgs(now, pq.Array([]string{excluded.String()})).
		WillReturnRows(sqlmock.NewRows(fallbackColumns()).
			AddRow(id, "What is SIP?", "A systematic investment plan...", "", "educational", "{education}",
				now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0), 2, lastUsed))

	fb, err := repo.LeastUsedEducational(context.Background(), now, []uuid.UUID{excluded})
	assert.NoError(t, err)
	assert.Equal(t, id, fb.ID)
	assert.NotNil(t, fb.LastUsed)
	assert.Equal(t, lastUsed, *fb.LastUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsage_NotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE fallback_content
		SET use_count = use_count + 1, last_used = now()
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.IncrementUsage(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoFallbackContent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogAssignment(t *testing.T) {
	repo, mock := setupMockDB(t)

	a := model.FallbackAssignment{
		AdvisorID:    uuid.New(),
		ContentID:    uuid.New(),
		FallbackID:   uuid.New(),
		Reason:       model.ReasonHoliday,
		ScheduledFor: time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC),
		AssignedAt:   time.Date(2025, 10, 20, 21, 30, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta(`
		INSERT INTO fallback_assignments (advisor_id, content_id, fallback_id, reason, scheduled_for, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6);
    `)).
		WithArgs(a.AdvisorID, a.ContentID, a.FallbackID, a.Reason, "2025-10-21", a.AssignedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.LogAssignment(context.Background(), a)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsByReason(t *testing.T) {
	repo, mock := setupMockDB(t)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT reason, COUNT(*)
		FROM fallback_assignments
		WHERE assigned_at >= $1 AND assigned_at <= $2
		GROUP BY reason;
    `)).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"reason", "count"}).
			AddRow(model.ReasonNoCustomContent, 12).
			AddRow(model.ReasonHoliday, 3))

	stats, err := repo.StatsByReason(context.Background(), from, to)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{
		model.ReasonNoCustomContent: 12,
		model.ReasonHoliday:         3,
	}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
