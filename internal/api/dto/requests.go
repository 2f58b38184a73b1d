package dto

// ScheduleRequest triggers a scheduling pass for a delivery date.
type ScheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// SendNowRequest pushes one content item through the queue immediately.
type SendNowRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required,uuid4"`
	ContentID string `json:"content_id" validate:"required,uuid4"`
}

// AssignFallbackRequest triggers a fallback coverage sweep for a date.
type AssignFallbackRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}
