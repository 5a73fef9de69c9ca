package store

import (
	"context"
	"errors"
	"time"

	"voltrewards/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateGrant is returned by GrantTx.InsertGrant when a grant for the
// (session, campaign) pair already exists. A concurrent evaluation can win
// the insert between a caller's ExistingGrant lookup and its own insert;
// callers treat this as idempotent success, not a failure.
var ErrDuplicateGrant = errors.New("store: grant already exists")

// SessionStore persists SessionEvents. (source, source_session_id) is unique;
// UpsertSession keyed on that pair prevents double-import of one upstream
// session.
type SessionStore interface {
	UpsertSession(ctx context.Context, session *models.SessionEvent) error
	UpdateTelemetry(ctx context.Context, session *models.SessionEvent) error
	CloseSession(ctx context.Context, sessionID int64, endTime time.Time, durationMin float64) error
	SessionByID(ctx context.Context, sessionID int64) (*models.SessionEvent, error)
	ActiveSessionForDriver(ctx context.Context, driverID int64) (*models.SessionEvent, error)
	StaleActiveSessions(ctx context.Context, updatedBefore time.Time) ([]models.SessionEvent, error)
	SessionsByDriver(ctx context.Context, driverID int64, limit int) ([]models.SessionEvent, error)
	CountDriverSessionsBefore(ctx context.Context, driverID int64, chargerID *string, before time.Time) (int64, error)
}

// ChargerStore resolves known chargers by proximity.
type ChargerStore interface {
	NearestWithin(ctx context.Context, lat, lon, radiusMeters float64) (*models.Charger, error)
}

// CampaignStore reads active campaigns and owns the budget-safe spend update.
type CampaignStore interface {
	// ActiveCampaigns returns campaigns in active status with budget and
	// session-cap headroom, rules attached.
	ActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
	// TryDecrement atomically increases spent by amountCents only if the
	// result stays within budget (and the session cap, when set). It reports
	// false on insufficient headroom and transitions the campaign to
	// exhausted in the same step when the decrement consumes the last of
	// either limit. Never implemented as read-then-write.
	TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error)
}

// GrantStore reads grant history.
type GrantStore interface {
	GrantsBySession(ctx context.Context, sessionID int64) ([]models.IncentiveGrant, error)
	GrantsByDriver(ctx context.Context, driverID int64, limit int) ([]models.IncentiveGrant, error)
	CountDriverGrants(ctx context.Context, campaignID, driverID int64, since time.Time) (int64, error)
}

// GrantUnit opens the transactional unit covering budget decrement, grant
// insert and ledger link. Either all of it commits or none of it does.
type GrantUnit interface {
	Begin(ctx context.Context) (GrantTx, error)
}

// GrantTx is one in-flight grant transaction. Rollback after Commit is a
// no-op, so `defer tx.Rollback()` is always safe.
type GrantTx interface {
	// ExistingGrant returns the grant for (sessionID, campaignID) or nil when
	// none exists yet.
	ExistingGrant(ctx context.Context, sessionID, campaignID int64) (*models.IncentiveGrant, error)
	TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error)
	InsertGrant(ctx context.Context, grant *models.IncentiveGrant) error
	LinkLedgerTx(ctx context.Context, grantID int64, ledgerTxID, status string) error
	Commit() error
	Rollback() error
}

// Wallet is the external double-entry ledger collaborator. Credit is
// idempotent on (idempotencyKey, payloadHash): an identical pair replays the
// original transaction ID, the same key with a different hash is a conflict.
type Wallet interface {
	Credit(ctx context.Context, driverID, amountCents int64, idempotencyKey, payloadHash string) (string, error)
}

// ErrLedgerConflict is returned by Wallet.Credit when an idempotency key is
// reused with a different payload hash. It indicates a bug or a
// replayed-with-different-intent call and must surface loudly.
var ErrLedgerConflict = errors.New("store: ledger idempotency conflict")
