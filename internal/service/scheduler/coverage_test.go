package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	fallbackrepo "github.com/advisorly/courier/internal/repository/fallback"
	fallbacksvc "github.com/advisorly/courier/internal/service/fallback"
)

// coverageStore is a shared in-memory content table: the fallback assigner
// fills gaps in it and the scheduler reads the full set back.
type coverageStore struct {
	items []model.ScheduledItem
	gaps  []model.Advisor
}

func (s *coverageStore) ApprovedForDate(_ context.Context, _ time.Time) ([]model.ScheduledItem, error) {
	return s.items, nil
}

func (s *coverageStore) GetScheduledItem(_ context.Context, contentID uuid.UUID) (model.ScheduledItem, error) {
	for _, it := range s.items {
		if it.Content.ID == contentID {
			return it, nil
		}
	}
	return model.ScheduledItem{}, fallbackrepo.ErrNoFallbackContent
}

func (s *coverageStore) AdvisorsWithoutContent(_ context.Context, _ time.Time) ([]model.Advisor, error) {
	return s.gaps, nil
}

func (s *coverageStore) CreateFallbackContent(_ context.Context, advisorID uuid.UUID, fb model.FallbackContent, date time.Time) (uuid.UUID, error) {
	id := uuid.New()
	for i, a := range s.gaps {
		if a.ID == advisorID {
			s.items = append(s.items, model.ScheduledItem{
				Content: model.ContentItem{
					ID:            id,
					AdvisorID:     advisorID,
					BodyEnglish:   fb.BodyEnglish,
					BodyHindi:     fb.BodyHindi,
					Category:      "fallback",
					ScheduledDate: date,
				},
				Advisor: a,
			})
			s.gaps = append(s.gaps[:i], s.gaps[i+1:]...)
			return id, nil
		}
	}
	return uuid.Nil, fallbackrepo.ErrNoFallbackContent
}

type coverageLibrary struct {
	entry model.FallbackContent
}

func (l *coverageLibrary) HolidayOn(_ context.Context, _ time.Time) (*model.MarketHoliday, error) {
	return nil, nil
}

func (l *coverageLibrary) ByTag(_ context.Context, _ string, _ time.Time) (model.FallbackContent, error) {
	return model.FallbackContent{}, fallbackrepo.ErrNoFallbackContent
}

func (l *coverageLibrary) LeastUsedEducational(_ context.Context, _ time.Time, _ []uuid.UUID) (model.FallbackContent, error) {
	return l.entry, nil
}

func (l *coverageLibrary) GlobalLRU(_ context.Context) (model.FallbackContent, error) {
	return l.entry, nil
}

func (l *coverageLibrary) RecentAssignments(_ context.Context, _ uuid.UUID, _ int) ([]uuid.UUID, error) {
	return nil, nil
}

func (l *coverageLibrary) IncrementUsage(_ context.Context, _ uuid.UUID) error { return nil }

func (l *coverageLibrary) LogAssignment(_ context.Context, _ model.FallbackAssignment) error {
	return nil
}

func (l *coverageLibrary) StatsByReason(_ context.Context, _, _ time.Time) (map[string]int, error) {
	return map[string]int{}, nil
}

// A sweep followed by a scheduling pass covers every active advisor with
// exactly one job, whether their content is custom or assigned from the
// library.
func TestAssignThenSchedule_CoversEveryAdvisor(t *testing.T) {
	withContent := []model.ScheduledItem{item(model.TierPro), item(model.TierStandard)}
	gap := model.Advisor{
		ID:               uuid.New(),
		Phone:            "919812345678",
		BusinessName:     "Gap Advisory",
		Tier:             model.TierFree,
		Language:         "en",
		SEBIRegistration: "INA000000002",
		IsActive:         true,
	}

	store := &coverageStore{items: withContent, gaps: []model.Advisor{gap}}
	library := &coverageLibrary{entry: model.FallbackContent{
		ID:          uuid.New(),
		Title:       "What is SIP?",
		BodyEnglish: "A systematic investment plan...",
		Category:    "educational",
	}}

	clk := clock.Fixed{T: time.Date(2025, 6, 9, 22, 0, 0, 0, time.UTC)}
	targetDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	assigner := fallbacksvc.NewService(store, library, config.Fallback{}, clk)
	fbReport, err := assigner.AssignFallbacks(context.Background(), targetDate)
	require.NoError(t, err)
	assert.Equal(t, 1, fbReport.Assigned)
	assert.Equal(t, 0, fbReport.Failed)

	delivery := &fakeDelivery{}
	pub := &fakePublisher{}
	svc := newTestService(t, &fakeContent{items: store.items}, delivery, pub)

	report, err := svc.ScheduleWindow(context.Background(), retry.Strategy{Attempts: 1}, targetDate)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scheduled)
	assert.Equal(t, 0, report.Failed)

	advisors := make(map[uuid.UUID]int)
	for _, p := range pub.jobs {
		advisors[p.job.AdvisorID]++
	}
	require.Len(t, advisors, 3)
	for id, count := range advisors {
		assert.Equalf(t, 1, count, "advisor %s scheduled more than once", id)
	}
	assert.Equal(t, 1, advisors[gap.ID])
}
