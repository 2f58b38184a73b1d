// Package health scores outbound message templates on provider status,
// quality rating and observed delivery metrics, and classifies each into
// the USE/MONITOR/ROTATE/DISABLE recommendation consumed by rotation.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	"github.com/advisorly/courier/pkg/whatsapp"
)

type templateFetcher interface {
	GetTemplate(ctx context.Context, name, language string) (*whatsapp.Template, error)
}

type statsRepo interface {
	TemplateStats(ctx context.Context, templateName string, window int) (model.TemplateStats, error)
}

type cached struct {
	health    model.TemplateHealth
	fetchedAt time.Time
}

// Service is the template health monitor. Health values are cached for a
// bounded interval and invalidated by provider callbacks.
type Service struct {
	api   templateFetcher
	repo  statsRepo
	cfg   config.Health
	clock clock.Clock

	mu    sync.RWMutex
	cache map[string]cached
}

// NewService creates a new health monitor.
func NewService(api templateFetcher, repo statsRepo, cfg config.Health, clk clock.Clock) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.TrailingWindow <= 0 {
		cfg.TrailingWindow = 100
	}
	if cfg.UseThreshold == 0 && cfg.MonitorThreshold == 0 && cfg.RotateThreshold == 0 {
		cfg.UseThreshold, cfg.MonitorThreshold, cfg.RotateThreshold = 80, 60, 40
	}
	if cfg.Weights == (config.HealthWeights{}) {
		cfg.Weights = config.DefaultHealthWeights()
	}

	return &Service{
		api:   api,
		repo:  repo,
		cfg:   cfg,
		clock: clk,
		cache: make(map[string]cached),
	}
}

func cacheKey(name, language string) string {
	return name + "|" + language
}

// Health returns the current health of a (template, language) pair, served
// from cache while fresh.
func (s *Service) Health(ctx context.Context, name, language string) (model.TemplateHealth, error) {
	key := cacheKey(name, language)
	now := s.clock.Now()

	s.mu.RLock()
	c, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && now.Sub(c.fetchedAt) < s.cfg.CacheTTL {
		return c.health, nil
	}

	health, err := s.evaluate(ctx, name, language)
	if err != nil {
		return model.TemplateHealth{}, err
	}

	s.mu.Lock()
	s.cache[key] = cached{health: health, fetchedAt: now}
	s.mu.Unlock()

	return health, nil
}

// Invalidate drops the cached health of a template so the next read
// re-evaluates it. Called on delivery-status and quality-change callbacks.
func (s *Service) Invalidate(name, language string) {
	s.mu.Lock()
	delete(s.cache, cacheKey(name, language))
	s.mu.Unlock()
}

func (s *Service) evaluate(ctx context.Context, name, language string) (model.TemplateHealth, error) {
	tmpl, err := s.api.GetTemplate(ctx, name, language)
	if err != nil {
		return model.TemplateHealth{}, fmt.Errorf("get template: %w", err)
	}

	if tmpl == nil {
		// Unknown to the provider: unusable until registered.
		return model.TemplateHealth{
			TemplateName:   name,
			Language:       language,
			Status:         model.TemplateRejected,
			Quality:        model.QualityUnknown,
			Recommendation: model.RecommendDisable,
		}, nil
	}

	stats, err := s.repo.TemplateStats(ctx, name, s.cfg.TrailingWindow)
	if err != nil {
		return model.TemplateHealth{}, fmt.Errorf("get template stats: %w", err)
	}

	status := model.TemplateStatus(tmpl.Status)
	quality := model.QualityRating(tmpl.Quality)
	score := s.Score(status, quality, stats)

	return model.TemplateHealth{
		TemplateName:   name,
		Language:       language,
		Status:         status,
		Quality:        quality,
		DeliveryRate:   stats.DeliveryRate,
		OpenRate:       stats.OpenRate,
		BlockRate:      stats.BlockRate,
		LastUsed:       stats.LastUsed,
		UseCount:       stats.UseCount,
		HealthScore:    score,
		Recommendation: s.Recommend(score, status),
	}, nil
}

// Score computes the weighted 0-100 health score. Rates are percentages.
func (s *Service) Score(status model.TemplateStatus, quality model.QualityRating, stats model.TemplateStats) float64 {
	w := s.cfg.Weights
	var score float64

	switch status {
	case model.TemplateApproved:
		score += w.StatusApproved
	case model.TemplatePending:
		score += w.StatusPending
	}

	switch quality {
	case model.QualityGreen:
		score += w.QualityGreen
	case model.QualityYellow:
		score += w.QualityYellow
	case model.QualityRed:
		score += w.QualityRed
	}

	score += min(w.DeliveryMax, stats.DeliveryRate*w.DeliveryMax/100)
	score += min(w.OpenMax, stats.OpenRate*w.OpenMax/100)
	score -= min(w.BlockMax, stats.BlockRate*w.BlockMax)

	if !stats.LastUsed.IsZero() {
		sinceUse := s.clock.Now().Sub(stats.LastUsed)
		switch {
		case sinceUse < 24*time.Hour:
			score += w.RecencyDay
		case sinceUse < 7*24*time.Hour:
			score += w.RecencyWeek
		}
	}

	return max(0, min(100, score))
}

// Recommend classifies a score. Anything not approved by the provider is
// disabled outright.
func (s *Service) Recommend(score float64, status model.TemplateStatus) model.Recommendation {
	if status != model.TemplateApproved {
		return model.RecommendDisable
	}
	switch {
	case score >= s.cfg.UseThreshold:
		return model.RecommendUse
	case score >= s.cfg.MonitorThreshold:
		return model.RecommendMonitor
	case score >= s.cfg.RotateThreshold:
		return model.RecommendRotate
	default:
		return model.RecommendDisable
	}
}
