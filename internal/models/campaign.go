package models

import "time"

// Campaign status values. Only the exhausted transition is owned by this
// engine; the rest are set by the campaign-management collaborator.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusExhausted = "exhausted"
	CampaignStatusCompleted = "completed"
	CampaignStatusCanceled  = "canceled"
)

// Campaign is a funder-defined, budget-capped incentive program. All monetary
// amounts are integer cents.
type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Status          string         `db:"status" json:"status"`
	BudgetCents     int64          `db:"budget_cents" json:"budget_cents"`
	SpentCents      int64          `db:"spent_cents" json:"spent_cents"`
	RewardCents     int64          `db:"reward_cents" json:"reward_cents"`
	MaxSessions     *int64         `db:"max_sessions" json:"max_sessions,omitempty"`
	SessionsGranted int64          `db:"sessions_granted" json:"sessions_granted"`
	Priority        int            `db:"priority" json:"priority"`
	StartsAt        time.Time      `db:"starts_at" json:"starts_at"`
	EndsAt          time.Time      `db:"ends_at" json:"ends_at"`
	Rules           []CampaignRule `db:"-" json:"rules"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// WindowContains reports whether t falls inside the campaign's run window.
func (c *Campaign) WindowContains(t time.Time) bool {
	if t.Before(c.StartsAt) {
		return false
	}
	if !c.EndsAt.IsZero() && t.After(c.EndsAt) {
		return false
	}
	return true
}

// BudgetRemaining returns the unspent budget in cents.
func (c *Campaign) BudgetRemaining() int64 {
	remaining := c.BudgetCents - c.SpentCents
	if remaining < 0 {
		return 0
	}
	return remaining
}
