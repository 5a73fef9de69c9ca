package models

import "time"

// Grant status values.
const (
	GrantStatusPending    = "pending"
	GrantStatusGranted    = "granted"
	GrantStatusPaidOut    = "paid_out"
	GrantStatusClawedBack = "clawed_back"
)

// IncentiveGrant links one SessionEvent to one Campaign that paid it. The
// (session_event_id, campaign_id) pair is unique: at most one grant per
// session per campaign, even when evaluation runs at both session start and
// session end.
type IncentiveGrant struct {
	ID             int64     `db:"id" json:"id"`
	SessionEventID int64     `db:"session_event_id" json:"session_event_id"`
	CampaignID     int64     `db:"campaign_id" json:"campaign_id"`
	DriverID       int64     `db:"driver_id" json:"driver_id"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Status         string    `db:"status" json:"status"`
	LedgerTxID     string    `db:"ledger_tx_id" json:"ledger_tx_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
