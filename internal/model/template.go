package model

import "time"

// TemplateStatus is the provider-assigned approval status of a message
// template.
type TemplateStatus string

const (
	TemplateApproved TemplateStatus = "APPROVED"
	TemplatePending  TemplateStatus = "PENDING"
	TemplateRejected TemplateStatus = "REJECTED"
	TemplatePaused   TemplateStatus = "PAUSED"
)

// QualityRating is the provider-assigned quality tier of a template.
type QualityRating string

const (
	QualityGreen   QualityRating = "GREEN"
	QualityYellow  QualityRating = "YELLOW"
	QualityRed     QualityRating = "RED"
	QualityUnknown QualityRating = "UNKNOWN"
)

// Recommendation is the four-state health classification consumed by the
// rotation manager. Rotation must never bypass Disable.
type Recommendation string

const (
	RecommendUse     Recommendation = "USE"
	RecommendMonitor Recommendation = "MONITOR"
	RecommendRotate  Recommendation = "ROTATE"
	RecommendDisable Recommendation = "DISABLE"
)

// TemplateHealth scores one (template name, language) pair.
type TemplateHealth struct {
	TemplateName   string         `json:"template_name"`
	Language       string         `json:"language"`
	Status         TemplateStatus `json:"status"`
	Quality        QualityRating  `json:"quality_rating"`
	DeliveryRate   float64        `json:"delivery_rate"` // percent, trailing window
	OpenRate       float64        `json:"open_rate"`     // percent
	BlockRate      float64        `json:"block_rate"`    // percent
	LastUsed       time.Time      `json:"last_used"`
	UseCount       int            `json:"use_count"`
	HealthScore    float64        `json:"health_score"` // 0-100
	Recommendation Recommendation `json:"recommendation"`
}

// TemplateStats is the trailing-window delivery aggregate for a template,
// derived from recorded delivery results.
type TemplateStats struct {
	DeliveryRate float64
	OpenRate     float64
	BlockRate    float64
	LastUsed     time.Time
	UseCount     int
}
