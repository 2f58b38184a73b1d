// Package rotation picks the outbound template for each use case based on
// template health, keeping the choice sticky within a rotation interval.
package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
)

type healthMonitor interface {
	Health(ctx context.Context, name, language string) (model.TemplateHealth, error)
}

type selection struct {
	template   string
	selectedAt time.Time
}

// Service selects templates per (use case, language) strategy. A selection
// sticks for the strategy's rotation interval unless the template degrades
// below its quality threshold or gets disabled.
type Service struct {
	health     healthMonitor
	strategies map[string]config.Rotation
	clock      clock.Clock

	mu     sync.Mutex
	active map[string]selection
}

// NewService creates a new rotation manager from the configured strategies.
func NewService(health healthMonitor, strategies []config.Rotation, clk clock.Clock) *Service {
	byKey := make(map[string]config.Rotation, len(strategies))
	for _, s := range strategies {
		byKey[key(s.UseCase, s.Language)] = s
	}

	return &Service{
		health:     health,
		strategies: byKey,
		clock:      clk,
		active:     make(map[string]selection),
	}
}

func key(useCase, language string) string {
	return useCase + "|" + language
}

// GetBestTemplate returns the template to use for a use case right now,
// together with its health.
func (s *Service) GetBestTemplate(ctx context.Context, useCase, language string) (model.TemplateHealth, error) {
	strategy, ok := s.strategies[key(useCase, language)]
	if !ok {
		return model.TemplateHealth{}, fmt.Errorf("no rotation strategy for use case %q language %q", useCase, language)
	}

	now := s.clock.Now()

	s.mu.Lock()
	cur, held := s.active[key(useCase, language)]
	s.mu.Unlock()

	if held && now.Sub(cur.selectedAt) < strategy.RotationInterval {
		h, err := s.health.Health(ctx, cur.template, language)
		if err != nil {
			return model.TemplateHealth{}, fmt.Errorf("get template health: %w", err)
		}
		if h.Recommendation != model.RecommendDisable && h.HealthScore >= strategy.QualityThreshold {
			return h, nil
		}

		zlog.Logger.Warn().
			Str("use_case", useCase).
			Str("template", cur.template).
			Float64("score", h.HealthScore).
			Msg("active template degraded, rotating early")
	}

	best, err := s.pick(ctx, strategy, language)
	if err != nil {
		return model.TemplateHealth{}, err
	}

	s.mu.Lock()
	s.active[key(useCase, language)] = selection{template: best.TemplateName, selectedAt: now}
	s.mu.Unlock()

	return best, nil
}

// pick evaluates every candidate and keeps the approved ones scoring at or
// above the strategy's quality threshold; the highest-scoring of those
// wins. If none qualify the primary is returned anyway, because sending
// something beats sending nothing.
func (s *Service) pick(ctx context.Context, strategy config.Rotation, language string) (model.TemplateHealth, error) {
	candidates := append([]string{strategy.Primary}, strategy.Backups...)

	var best model.TemplateHealth
	var found bool

	for _, name := range candidates {
		h, err := s.health.Health(ctx, name, language)
		if err != nil {
			return model.TemplateHealth{}, fmt.Errorf("get template health: %w", err)
		}

		if h.Status != model.TemplateApproved || h.HealthScore < strategy.QualityThreshold {
			continue
		}
		if !found || h.HealthScore > best.HealthScore {
			best = h
			found = true
		}
	}

	if found {
		return best, nil
	}

	zlog.Logger.Warn().
		Str("use_case", strategy.UseCase).
		Str("template", strategy.Primary).
		Msg("no template meets the quality threshold, falling back to primary")

	h, err := s.health.Health(ctx, strategy.Primary, language)
	if err != nil {
		return model.TemplateHealth{}, fmt.Errorf("get template health: %w", err)
	}

	return h, nil
}
