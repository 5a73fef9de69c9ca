package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// GrantRepository persists incentive grants and opens the transactional grant
// unit. The (session_event_id, campaign_id) pair is unique at the schema
// level; the grant transaction checks it before decrementing the budget so a
// double evaluation never double-pays.
type GrantRepository struct {
	db *sql.DB
}

// NewGrantRepository returns the repository.
func NewGrantRepository(db *sql.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

const grantColumns = `
	id, session_event_id, campaign_id, driver_id, amount_cents, status,
	COALESCE(ledger_tx_id, ''), created_at
`

// GrantsBySession returns all grants paid to one session.
func (r *GrantRepository) GrantsBySession(ctx context.Context, sessionID int64) ([]models.IncentiveGrant, error) {
	const query = `
		SELECT ` + grantColumns + `
		FROM incentive_grants
		WHERE session_event_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// GrantsByDriver returns the driver's latest grants.
func (r *GrantRepository) GrantsByDriver(ctx context.Context, driverID int64, limit int) ([]models.IncentiveGrant, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + grantColumns + `
		FROM incentive_grants
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// CountDriverGrants counts the driver's grants under one campaign since the
// given instant (zero time means all-time). Clawed-back grants do not count
// against per-driver caps.
func (r *GrantRepository) CountDriverGrants(ctx context.Context, campaignID, driverID int64, since time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM incentive_grants
		WHERE campaign_id = $1
		  AND driver_id = $2
		  AND status <> $3
		  AND created_at >= $4
	`
	var count int64
	err := r.db.QueryRowContext(ctx, query, campaignID, driverID, models.GrantStatusClawedBack, since).Scan(&count)
	return count, err
}

// Begin opens the grant transaction.
func (r *GrantRepository) Begin(ctx context.Context) (store.GrantTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &grantTx{tx: tx}, nil
}

type grantTx struct {
	tx *sql.Tx
}

// ExistingGrant locks the campaign's grant row for the pair if it exists.
func (t *grantTx) ExistingGrant(ctx context.Context, sessionID, campaignID int64) (*models.IncentiveGrant, error) {
	const query = `
		SELECT ` + grantColumns + `
		FROM incentive_grants
		WHERE session_event_id = $1 AND campaign_id = $2
		FOR UPDATE
	`
	grant, err := scanGrant(t.tx.QueryRowContext(ctx, query, sessionID, campaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (t *grantTx) TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error) {
	return tryDecrement(ctx, t.tx, campaignID, amountCents)
}

// InsertGrant inserts the grant row. ExistingGrant's SELECT ... FOR UPDATE
// locks nothing when the row does not exist yet, so two concurrent
// evaluations of the same pair can both reach this insert; ON CONFLICT DO
// NOTHING makes the loser return ErrDuplicateGrant instead of a unique
// violation, and the caller resolves it as idempotent success.
func (t *grantTx) InsertGrant(ctx context.Context, grant *models.IncentiveGrant) error {
	const query = `
		INSERT INTO incentive_grants (session_event_id, campaign_id, driver_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (session_event_id, campaign_id) DO NOTHING
		RETURNING id, created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		grant.SessionEventID,
		grant.CampaignID,
		grant.DriverID,
		grant.AmountCents,
		grant.Status,
	).Scan(&grant.ID, &grant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrDuplicateGrant
	}
	return err
}

func (t *grantTx) LinkLedgerTx(ctx context.Context, grantID int64, ledgerTxID, status string) error {
	const query = `
		UPDATE incentive_grants
		SET ledger_tx_id = $2, status = $3
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query, grantID, ledgerTxID, status)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (t *grantTx) Commit() error { return t.tx.Commit() }

// Rollback after Commit returns sql.ErrTxDone, which callers deferring it may
// ignore.
func (t *grantTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func scanGrant(row rowScanner) (*models.IncentiveGrant, error) {
	var g models.IncentiveGrant
	err := row.Scan(
		&g.ID,
		&g.SessionEventID,
		&g.CampaignID,
		&g.DriverID,
		&g.AmountCents,
		&g.Status,
		&g.LedgerTxID,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGrants(rows *sql.Rows) ([]models.IncentiveGrant, error) {
	var grants []models.IncentiveGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

var (
	_ store.GrantStore = (*GrantRepository)(nil)
	_ store.GrantUnit  = (*GrantRepository)(nil)
)
