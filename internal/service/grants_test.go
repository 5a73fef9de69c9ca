package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// failingWallet rejects every credit.
type failingWallet struct{ err error }

func (w *failingWallet) Credit(ctx context.Context, driverID, amountCents int64, idempotencyKey, payloadHash string) (string, error) {
	return "", w.err
}

func testCampaign(id, budget, reward int64) *models.Campaign {
	return &models.Campaign{
		ID:          id,
		Name:        "campaign",
		Status:      models.CampaignStatusActive,
		BudgetCents: budget,
		RewardCents: reward,
		StartsAt:    time.Now().Add(-time.Hour),
		EndsAt:      time.Now().Add(time.Hour),
	}
}

func seededSession(mem *store.Memory, driverID int64) *models.SessionEvent {
	session := &models.SessionEvent{
		DriverID:        driverID,
		Status:          models.SessionStatusActive,
		StartTime:       time.Now().UTC(),
		Source:          "provider",
		SourceSessionID: "sess-1",
	}
	if err := mem.UpsertSession(context.Background(), session); err != nil {
		panic(err)
	}
	return session
}

func TestAwardCreditsWalletAndLinksLedger(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutCampaign(testCampaign(1, 1000, 300))
	wallet := store.NewMemoryWallet()
	svc := NewGrantService(mem, wallet, zap.NewNop())
	session := seededSession(mem, 10)

	grant, err := svc.Award(ctx, session, mustCampaign(mem, 1))
	require.NoError(t, err)
	require.Equal(t, models.GrantStatusGranted, grant.Status)
	require.NotEmpty(t, grant.LedgerTxID)
	require.Equal(t, int64(300), grant.AmountCents)

	require.Equal(t, int64(300), wallet.Balance(10))

	c, _ := mem.CampaignByID(1)
	require.Equal(t, int64(300), c.SpentCents)
	require.Equal(t, int64(1), c.SessionsGranted)
}

func TestAwardIsIdempotentPerSessionCampaign(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutCampaign(testCampaign(1, 1000, 300))
	wallet := store.NewMemoryWallet()
	svc := NewGrantService(mem, wallet, zap.NewNop())
	session := seededSession(mem, 10)

	first, err := svc.Award(ctx, session, mustCampaign(mem, 1))
	require.NoError(t, err)

	// Second pass over the same (session, campaign) pair is a no-op.
	second, err := svc.Award(ctx, session, mustCampaign(mem, 1))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	require.Equal(t, int64(300), wallet.Balance(10), "wallet credited once")
	c, _ := mem.CampaignByID(1)
	require.Equal(t, int64(300), c.SpentCents, "budget decremented once")
}

func TestAwardRollsBackOnWalletFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutCampaign(testCampaign(1, 1000, 300))
	boom := errors.New("wallet unavailable")
	svc := NewGrantService(mem, &failingWallet{err: boom}, zap.NewNop())
	session := seededSession(mem, 10)

	_, err := svc.Award(ctx, session, mustCampaign(mem, 1))
	require.ErrorIs(t, err, boom)

	// Budget and grant both rolled back: no spend without a reward.
	c, _ := mem.CampaignByID(1)
	require.Equal(t, int64(0), c.SpentCents)
	require.Equal(t, int64(0), c.SessionsGranted)

	grants, err := mem.GrantsBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestAwardSurfacesLedgerConflict(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutCampaign(testCampaign(1, 1000, 300))
	wallet := store.NewMemoryWallet()
	svc := NewGrantService(mem, wallet, zap.NewNop())
	session := seededSession(mem, 10)

	// A prior credit under the same idempotency key with a different payload
	// means someone altered the intent behind the key.
	key := idempotencyKey(session.ID, 1)
	_, err := wallet.Credit(ctx, 10, 999, key, "different-hash")
	require.NoError(t, err)

	_, err = svc.Award(ctx, session, mustCampaign(mem, 1))
	require.ErrorIs(t, err, store.ErrLedgerConflict)

	c, _ := mem.CampaignByID(1)
	require.Equal(t, int64(0), c.SpentCents)
}

func TestAwardReportsBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutCampaign(testCampaign(1, 200, 300))
	svc := NewGrantService(mem, store.NewMemoryWallet(), zap.NewNop())
	session := seededSession(mem, 10)

	_, err := svc.Award(ctx, session, mustCampaign(mem, 1))
	require.ErrorIs(t, err, ErrBudgetExhausted)
}

// scriptedGrantTx plays one grant transaction with fixed outcomes.
type scriptedGrantTx struct {
	existing  *models.IncentiveGrant
	insertErr error
}

func (t *scriptedGrantTx) ExistingGrant(ctx context.Context, sessionID, campaignID int64) (*models.IncentiveGrant, error) {
	return t.existing, nil
}

func (t *scriptedGrantTx) TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error) {
	return true, nil
}

func (t *scriptedGrantTx) InsertGrant(ctx context.Context, grant *models.IncentiveGrant) error {
	return t.insertErr
}

func (t *scriptedGrantTx) LinkLedgerTx(ctx context.Context, grantID int64, ledgerTxID, status string) error {
	return nil
}

func (t *scriptedGrantTx) Commit() error   { return nil }
func (t *scriptedGrantTx) Rollback() error { return nil }

// racingGrantUnit simulates losing the insert to a concurrent evaluation:
// the first transaction sees no grant but fails its insert, the second sees
// the winner's row.
type racingGrantUnit struct {
	winner *models.IncentiveGrant
	begins int
}

func (u *racingGrantUnit) Begin(ctx context.Context) (store.GrantTx, error) {
	u.begins++
	if u.begins == 1 {
		return &scriptedGrantTx{insertErr: store.ErrDuplicateGrant}, nil
	}
	return &scriptedGrantTx{existing: u.winner}, nil
}

func TestAwardTreatsConcurrentDuplicateAsSuccess(t *testing.T) {
	ctx := context.Background()
	winner := &models.IncentiveGrant{
		ID:             7,
		SessionEventID: 5,
		CampaignID:     1,
		DriverID:       10,
		AmountCents:    300,
		Status:         models.GrantStatusGranted,
		LedgerTxID:     "ltx-9",
	}
	unit := &racingGrantUnit{winner: winner}
	wallet := store.NewMemoryWallet()
	svc := NewGrantService(unit, wallet, zap.NewNop())

	session := &models.SessionEvent{ID: 5, DriverID: 10, Status: models.SessionStatusActive, StartTime: time.Now().UTC()}
	grant, err := svc.Award(ctx, session, *testCampaign(1, 1000, 300))
	require.NoError(t, err, "losing the insert race is a no-op success")
	require.Equal(t, winner.ID, grant.ID)
	require.Equal(t, "ltx-9", grant.LedgerTxID)

	require.Equal(t, 2, unit.begins)
	require.Zero(t, wallet.Balance(10), "losing evaluation must not credit the wallet")
}

func mustCampaign(mem *store.Memory, id int64) models.Campaign {
	c, ok := mem.CampaignByID(id)
	if !ok {
		panic("campaign not seeded")
	}
	return c
}
