package model

import (
	"time"

	"github.com/google/uuid"
)

// ContentItem is one approved content record keyed by (advisor, date).
// The scheduler only ever reads records already marked approved; approval
// itself happens upstream.
type ContentItem struct {
	ID            uuid.UUID `json:"id"`
	AdvisorID     uuid.UUID `json:"advisor_id"`
	BodyEnglish   string    `json:"content_english"`
	BodyHindi     string    `json:"content_hindi"`
	MediaURL      string    `json:"media_url"`
	Category      string    `json:"category"` // custom | fallback
	Status        string    `json:"status"`
	ScheduledDate time.Time `json:"scheduled_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// Body returns the content body for the given language preference.
func (c ContentItem) Body(language string) string {
	if language == "hi" && c.BodyHindi != "" {
		return c.BodyHindi
	}
	return c.BodyEnglish
}

// ScheduledItem joins an approved content item with its advisor, as read by
// the scheduling pass.
type ScheduledItem struct {
	Content ContentItem
	Advisor Advisor
}
