package model

import (
	"time"

	"github.com/google/uuid"
)

// Delivery job statuses. A job moves pending -> retrying* -> sent/failed,
// or pending -> cancelled before a worker picks it up.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DeliveryJob is one queued send for (advisor, content, delivery date).
// Immutable once enqueued except for the retry count.
type DeliveryJob struct {
	ID            uuid.UUID         `json:"id"`
	AdvisorID     uuid.UUID         `json:"advisor_id"`
	ContentID     uuid.UUID         `json:"content_id"`
	Phone         string            `json:"phone"`
	TemplateName  string            `json:"template_name,omitempty"`
	Language      string            `json:"language"`
	Parameters    map[string]string `json:"parameters"`
	MediaURL      string            `json:"media_url,omitempty"`
	Priority      Priority          `json:"priority"`
	Tier          Tier              `json:"tier"`
	ScheduledFor  time.Time         `json:"scheduled_for"`
	ScheduledDate time.Time         `json:"scheduled_date"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
}

// DeliveryResult is the outcome of one job attempt. Results are appended,
// never mutated; the latest result for a job is authoritative.
type DeliveryResult struct {
	ID             uuid.UUID     `json:"id"`
	JobID          uuid.UUID     `json:"job_id"`
	AdvisorID      uuid.UUID     `json:"advisor_id"`
	ContentID      uuid.UUID     `json:"content_id"`
	TemplateName   string        `json:"template_name,omitempty"`
	Status         string        `json:"status"`
	MessageID      string        `json:"message_id,omitempty"`
	Error          string        `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	CompletedAt    time.Time     `json:"completed_at"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// SLAStatus is the aggregate delivery-rate verdict.
type SLAStatus string

const (
	SLAPass   SLAStatus = "PASS"
	SLAAtRisk SLAStatus = "AT_RISK"
	SLAFail   SLAStatus = "FAIL"
)

// SLAViolation is one recorded breach of a monitored threshold.
type SLAViolation struct {
	Time      time.Time `json:"time"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// SLAMetrics is a point-in-time snapshot of the rolling delivery aggregate.
type SLAMetrics struct {
	TotalScheduled  int64          `json:"total_scheduled"`
	TotalDelivered  int64          `json:"total_delivered"`
	TotalFailed     int64          `json:"total_failed"`
	DeliveryRate    float64        `json:"delivery_rate"`
	AvgDeliveryTime time.Duration  `json:"avg_delivery_time"`
	PeakConcurrency int64          `json:"peak_concurrency"`
	Status          SLAStatus      `json:"sla_status"`
	Violations      []SLAViolation `json:"violations"`
}

// SchedulingReport is the operator-facing result of a scheduling pass.
// It always carries partial results; per-advisor failures are listed,
// never thrown.
type SchedulingReport struct {
	Scheduled           int       `json:"scheduled"`
	Failed              int       `json:"failed"`
	Errors              []string  `json:"errors"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}
