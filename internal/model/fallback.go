package model

import (
	"time"

	"github.com/google/uuid"
)

// Fallback content categories.
const (
	CategoryMarketHoliday = "market_holiday"
	CategoryEducational   = "educational"
	CategorySeasonal      = "seasonal"
	CategoryEmergency     = "emergency"
)

// Fallback assignment reasons.
const (
	ReasonNoCustomContent  = "no_custom_content"
	ReasonGenerationFailed = "generation_failed"
	ReasonComplianceFailed = "compliance_failed"
	ReasonHoliday          = "holiday"
	ReasonEmergency        = "emergency"
)

// FallbackContent is a pre-approved library entry substituted when an
// advisor has no custom content for a delivery date. Entries are only ever
// selected, never authored, by the assigner.
type FallbackContent struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	BodyEnglish string     `json:"content_english"`
	BodyHindi   string     `json:"content_hindi"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidUntil  time.Time  `json:"valid_until"`
	UseCount    int        `json:"use_count"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// FallbackAssignment is the append-only audit record linking an advisor to
// the fallback content chosen for a date.
type FallbackAssignment struct {
	ID           uuid.UUID `json:"id"`
	AdvisorID    uuid.UUID `json:"advisor_id"`
	ContentID    uuid.UUID `json:"content_id"`
	FallbackID   uuid.UUID `json:"fallback_id"`
	Reason       string    `json:"reason"`
	ScheduledFor time.Time `json:"scheduled_for"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// MarketHoliday is one entry of the exchange holiday calendar.
type MarketHoliday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
	Type string    `json:"type"` // tag matched against fallback content tags
}

// FallbackReport summarizes one nightly sweep. Per-advisor failures are
// collected here and never abort the sweep.
type FallbackReport struct {
	Assigned int      `json:"assigned"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}
