package model

import (
	"github.com/google/uuid"
)

// Tier is the subscription level of an advisor. It governs dispatch
// priority, never wall-clock delivery time.
type Tier string

const (
	TierPro      Tier = "pro"
	TierStandard Tier = "standard"
	TierFree     Tier = "free"
)

// Priority is the dispatch priority of a delivery job.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityForTier maps a subscription tier to its dispatch priority.
func PriorityForTier(t Tier) Priority {
	switch t {
	case TierPro:
		return PriorityHigh
	case TierStandard:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Rank returns the numeric ordering of a priority; lower is dispatched first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	default:
		return 4
	}
}

// TierRank orders tiers for the scheduling pass; higher ranks first.
func TierRank(t Tier) int {
	switch t {
	case TierPro:
		return 3
	case TierStandard:
		return 2
	default:
		return 1
	}
}

// Advisor is an active end recipient from the advisor directory.
type Advisor struct {
	ID               uuid.UUID `json:"id"`
	Phone            string    `json:"phone"`
	BusinessName     string    `json:"business_name"`
	Tier             Tier      `json:"subscription_tier"`
	Language         string    `json:"language_preference"`
	SEBIRegistration string    `json:"sebi_registration"`
	IsActive         bool      `json:"is_active"`
}
