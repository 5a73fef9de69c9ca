package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// ErrBudgetExhausted reports that a campaign could not fund the grant. It is
// an expected outcome, not a failure: the matcher proceeds to other campaigns.
var ErrBudgetExhausted = errors.New("service: campaign budget exhausted")

// GrantService is the grant and reward ledger. Award runs the budget
// decrement, the grant insert and the wallet credit as one transactional
// unit: if the wallet post fails, the decrement and the grant roll back
// together, so budget is never consumed without a corresponding reward.
type GrantService struct {
	unit   store.GrantUnit
	wallet store.Wallet
	logger *zap.Logger
}

// NewGrantService builds the service.
func NewGrantService(unit store.GrantUnit, wallet store.Wallet, logger *zap.Logger) *GrantService {
	return &GrantService{unit: unit, wallet: wallet, logger: logger}
}

// Award pays session from campaign at most once. A grant that already exists
// for the (session, campaign) pair is returned as-is without touching the
// budget, which makes the start-pass and end-pass evaluations idempotent.
func (s *GrantService) Award(ctx context.Context, session *models.SessionEvent, campaign models.Campaign) (*models.IncentiveGrant, error) {
	tx, err := s.unit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("grant: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := tx.ExistingGrant(ctx, session.ID, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("grant: lookup: %w", err)
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return existing, nil
	}

	ok, err := tx.TryDecrement(ctx, campaign.ID, campaign.RewardCents)
	if err != nil {
		return nil, fmt.Errorf("grant: budget decrement: %w", err)
	}
	if !ok {
		return nil, ErrBudgetExhausted
	}

	grant := &models.IncentiveGrant{
		SessionEventID: session.ID,
		CampaignID:     campaign.ID,
		DriverID:       session.DriverID,
		AmountCents:    campaign.RewardCents,
		Status:         models.GrantStatusPending,
	}
	if err := tx.InsertGrant(ctx, grant); err != nil {
		if errors.Is(err, store.ErrDuplicateGrant) {
			// A concurrent evaluation of the same pair won the insert after
			// our lookup. Undo the decrement and return the winner's grant.
			if rbErr := tx.Rollback(); rbErr != nil {
				return nil, fmt.Errorf("grant: rollback after duplicate: %w", rbErr)
			}
			s.logger.Info("concurrent evaluation already granted, reusing",
				zap.Int64("session_id", session.ID),
				zap.Int64("campaign_id", campaign.ID),
			)
			return s.grantFor(ctx, session.ID, campaign.ID)
		}
		return nil, fmt.Errorf("grant: insert: %w", err)
	}

	key := idempotencyKey(session.ID, campaign.ID)
	hash := payloadHash(session.DriverID, campaign.RewardCents, key)

	ledgerTxID, err := s.wallet.Credit(ctx, session.DriverID, campaign.RewardCents, key, hash)
	if err != nil {
		if errors.Is(err, store.ErrLedgerConflict) {
			s.logger.Error("ledger idempotency conflict, rolling back grant",
				zap.Int64("session_id", session.ID),
				zap.Int64("campaign_id", campaign.ID),
				zap.String("idempotency_key", key),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("grant: wallet credit: %w", err)
	}

	if err := tx.LinkLedgerTx(ctx, grant.ID, ledgerTxID, models.GrantStatusGranted); err != nil {
		return nil, fmt.Errorf("grant: link ledger tx: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("grant: commit: %w", err)
	}

	grant.LedgerTxID = ledgerTxID
	grant.Status = models.GrantStatusGranted

	s.logger.Info("incentive granted",
		zap.Int64("session_id", session.ID),
		zap.Int64("campaign_id", campaign.ID),
		zap.Int64("driver_id", session.DriverID),
		zap.Int64("amount_cents", campaign.RewardCents),
		zap.String("ledger_tx_id", ledgerTxID),
	)
	return grant, nil
}

// grantFor reloads the grant a concurrent evaluation created for the pair.
func (s *GrantService) grantFor(ctx context.Context, sessionID, campaignID int64) (*models.IncentiveGrant, error) {
	tx, err := s.unit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("grant: begin: %w", err)
	}
	defer tx.Rollback()

	grant, err := tx.ExistingGrant(ctx, sessionID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("grant: lookup: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, fmt.Errorf("grant: duplicate insert for session %d campaign %d but no grant found", sessionID, campaignID)
	}
	return grant, nil
}

func idempotencyKey(sessionID, campaignID int64) string {
	return fmt.Sprintf("grant:%d:%d", sessionID, campaignID)
}

// payloadHash binds the idempotency key to the credit's content so the wallet
// can detect a replay with different intent.
func payloadHash(driverID, amountCents int64, key string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|driver=%d|amount=%d", key, driverID, amountCents)))
	return hex.EncodeToString(sum[:])
}
