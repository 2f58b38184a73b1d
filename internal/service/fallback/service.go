// Package fallback closes the content coverage gap: every active advisor
// without approved content for a delivery date gets a pre-approved library
// entry assigned before the scheduling pass runs.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	fallbackrepo "github.com/advisorly/courier/internal/repository/fallback"
)

type contentRepo interface {
	AdvisorsWithoutContent(ctx context.Context, date time.Time) ([]model.Advisor, error)
	CreateFallbackContent(ctx context.Context, advisorID uuid.UUID, fb model.FallbackContent, date time.Time) (uuid.UUID, error)
}

type libraryRepo interface {
	HolidayOn(ctx context.Context, date time.Time) (*model.MarketHoliday, error)
	ByTag(ctx context.Context, tag string, now time.Time) (model.FallbackContent, error)
	LeastUsedEducational(ctx context.Context, now time.Time, exclude []uuid.UUID) (model.FallbackContent, error)
	GlobalLRU(ctx context.Context) (model.FallbackContent, error)
	RecentAssignments(ctx context.Context, advisorID uuid.UUID, limit int) ([]uuid.UUID, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	LogAssignment(ctx context.Context, a model.FallbackAssignment) error
	StatsByReason(ctx context.Context, from, to time.Time) (map[string]int, error)
}

// Service is the fallback content assigner.
type Service struct {
	content contentRepo
	library libraryRepo
	cfg     config.Fallback
	clock   clock.Clock
}

// NewService creates a new fallback assigner.
func NewService(content contentRepo, library libraryRepo, cfg config.Fallback, clk clock.Clock) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30
	}
	if cfg.FestivalTag == "" {
		cfg.FestivalTag = "festival"
	}
	if cfg.TaxSeasonTag == "" {
		cfg.TaxSeasonTag = "tax-season"
	}
	if cfg.BudgetDayTag == "" {
		cfg.BudgetDayTag = "budget-day"
	}

	return &Service{content: content, library: library, cfg: cfg, clock: clk}
}

// AssignFallbacks covers every advisor missing approved content for the
// target date. A failure for one advisor is recorded in the report and the
// sweep moves on.
func (s *Service) AssignFallbacks(ctx context.Context, targetDate time.Time) (model.FallbackReport, error) {
	advisors, err := s.content.AdvisorsWithoutContent(ctx, targetDate)
	if err != nil {
		return model.FallbackReport{}, fmt.Errorf("get advisors without content: %w", err)
	}

	var report model.FallbackReport
	for _, advisor := range advisors {
		if err := s.assignOne(ctx, advisor, targetDate); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("advisor %s: %v", advisor.ID, err))

			zlog.Logger.Error().Err(err).
				Str("advisor_id", advisor.ID.String()).
				Msg("failed to assign fallback content")
			continue
		}
		report.Assigned++
	}

	zlog.Logger.Info().
		Int("assigned", report.Assigned).
		Int("failed", report.Failed).
		Str("date", targetDate.Format("2006-01-02")).
		Msg("fallback sweep completed")

	return report, nil
}

func (s *Service) assignOne(ctx context.Context, advisor model.Advisor, targetDate time.Time) error {
	fb, reason, err := s.SelectContent(ctx, advisor.ID, targetDate)
	if err != nil {
		return err
	}

	contentID, err := s.content.CreateFallbackContent(ctx, advisor.ID, fb, targetDate)
	if err != nil {
		return fmt.Errorf("create fallback content: %w", err)
	}

	if err := s.library.IncrementUsage(ctx, fb.ID); err != nil {
		return fmt.Errorf("increment fallback usage: %w", err)
	}

	assignment := model.FallbackAssignment{
		AdvisorID:    advisor.ID,
		ContentID:    contentID,
		FallbackID:   fb.ID,
		Reason:       reason,
		ScheduledFor: targetDate,
		AssignedAt:   s.clock.Now(),
	}
	if err := s.library.LogAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("log fallback assignment: %w", err)
	}

	return nil
}

// SelectContent picks the best library entry for an advisor on a date.
// Selection order: holiday calendar, seasonal windows, then the least-used
// educational entry the advisor has not seen recently. The global LRU entry
// is the last resort so coverage never fails outright.
func (s *Service) SelectContent(ctx context.Context, advisorID uuid.UUID, targetDate time.Time) (model.FallbackContent, string, error) {
	now := s.clock.Now()

	if tag, reason, ok := s.specialTag(ctx, targetDate); ok {
		fb, err := s.library.ByTag(ctx, tag, now)
		if err == nil {
			return fb, reason, nil
		}
		if !errors.Is(err, fallbackrepo.ErrNoFallbackContent) {
			return model.FallbackContent{}, "", err
		}
		// No tagged entry in the library; fall through to educational.
	}

	exclude, err := s.library.RecentAssignments(ctx, advisorID, s.cfg.HistoryWindow)
	if err != nil {
		return model.FallbackContent{}, "", fmt.Errorf("get recent assignments: %w", err)
	}

	fb, err := s.library.LeastUsedEducational(ctx, now, exclude)
	if err == nil {
		return fb, model.ReasonNoCustomContent, nil
	}
	if !errors.Is(err, fallbackrepo.ErrNoFallbackContent) {
		return model.FallbackContent{}, "", err
	}

	fb, err = s.library.GlobalLRU(ctx)
	if err != nil {
		return model.FallbackContent{}, "", fmt.Errorf("fallback library exhausted: %w", err)
	}

	return fb, model.ReasonNoCustomContent, nil
}

// specialTag resolves the calendar context of a date: an exchange holiday
// entry wins, then the festival window, budget day and tax season.
func (s *Service) specialTag(ctx context.Context, targetDate time.Time) (string, string, bool) {
	holiday, err := s.library.HolidayOn(ctx, targetDate)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to check holiday calendar")
	} else if holiday != nil {
		return holiday.Type, model.ReasonHoliday, true
	}

	month, day := targetDate.Month(), targetDate.Day()

	switch {
	case (month == time.October && day >= 20) || (month == time.November && day <= 10):
		return s.cfg.FestivalTag, model.ReasonNoCustomContent, true
	case month == time.February && day == 1:
		return s.cfg.BudgetDayTag, model.ReasonNoCustomContent, true
	case month >= time.January && month <= time.March:
		return s.cfg.TaxSeasonTag, model.ReasonNoCustomContent, true
	}

	return "", "", false
}

// Stats returns assignment counts per reason over a time range.
func (s *Service) Stats(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return s.library.StatsByReason(ctx, from, to)
}
