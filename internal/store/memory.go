package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voltrewards/internal/models"
	"voltrewards/internal/rules"
)

// Memory is an in-process implementation of every store interface. It backs
// unit tests and the single-process deployment mode. All mutation goes
// through one mutex, which gives TryDecrement and the grant transaction the
// same atomicity the Postgres repositories get from conditional updates and
// row locks.
type Memory struct {
	mu sync.Mutex

	sessions     map[int64]*models.SessionEvent
	sessionByKey map[string]int64
	chargers     []models.Charger
	campaigns    map[int64]*models.Campaign
	grants       map[int64]*models.IncentiveGrant
	grantByPair  map[string]int64

	nextSessionID int64
	nextGrantID   int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		sessions:     map[int64]*models.SessionEvent{},
		sessionByKey: map[string]int64{},
		campaigns:    map[int64]*models.Campaign{},
		grants:       map[int64]*models.IncentiveGrant{},
		grantByPair:  map[string]int64{},
	}
}

func sessionKey(source, sourceSessionID string) string {
	return source + "|" + sourceSessionID
}

func pairKey(sessionID, campaignID int64) string {
	return fmt.Sprintf("%d|%d", sessionID, campaignID)
}

// AddCharger seeds a known charger.
func (m *Memory) AddCharger(c models.Charger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chargers = append(m.chargers, c)
}

// PutCampaign seeds or replaces a campaign.
func (m *Memory) PutCampaign(c *models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[cp.ID] = &cp
}

// CampaignByID returns a snapshot of one campaign.
func (m *Memory) CampaignByID(id int64) (models.Campaign, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return models.Campaign{}, false
	}
	return *c, true
}

// --- SessionStore ---

func (m *Memory) UpsertSession(ctx context.Context, session *models.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := sessionKey(session.Source, session.SourceSessionID)
	if id, ok := m.sessionByKey[key]; ok {
		existing := m.sessions[id]
		session.ID = existing.ID
		session.CreatedAt = existing.CreatedAt
		session.UpdatedAt = now
		cp := *session
		m.sessions[id] = &cp
		return nil
	}

	m.nextSessionID++
	session.ID = m.nextSessionID
	session.CreatedAt = now
	session.UpdatedAt = now
	cp := *session
	m.sessions[session.ID] = &cp
	m.sessionByKey[key] = session.ID
	return nil
}

func (m *Memory) UpdateTelemetry(ctx context.Context, session *models.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	session.CreatedAt = existing.CreatedAt
	session.UpdatedAt = time.Now().UTC()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) CloseSession(ctx context.Context, sessionID int64, endTime time.Time, durationMin float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	end := endTime.UTC()
	session.EndTime = &end
	session.DurationMin = &durationMin
	session.Status = models.SessionStatusClosed
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SessionByID(ctx context.Context, sessionID int64) (*models.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (m *Memory) ActiveSessionForDriver(ctx context.Context, driverID int64) (*models.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.sessions {
		if session.DriverID == driverID && session.Status == models.SessionStatusActive {
			cp := *session
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) StaleActiveSessions(ctx context.Context, updatedBefore time.Time) ([]models.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []models.SessionEvent
	for _, session := range m.sessions {
		if session.Status == models.SessionStatusActive && session.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, *session)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale, nil
}

func (m *Memory) SessionsByDriver(ctx context.Context, driverID int64, limit int) ([]models.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.SessionEvent
	for _, session := range m.sessions {
		if session.DriverID == driverID {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountDriverSessionsBefore(ctx context.Context, driverID int64, chargerID *string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, session := range m.sessions {
		if session.DriverID != driverID || !session.StartTime.Before(before) {
			continue
		}
		if chargerID != nil {
			if session.ChargerID == nil || *session.ChargerID != *chargerID {
				continue
			}
		}
		count++
	}
	return count, nil
}

// --- ChargerStore ---

func (m *Memory) NearestWithin(ctx context.Context, lat, lon, radiusMeters float64) (*models.Charger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.Charger
	bestDist := radiusMeters
	for i := range m.chargers {
		c := m.chargers[i]
		dist := rules.Haversine(lat, lon, c.Latitude, c.Longitude)
		if dist <= bestDist {
			cp := c
			best = &cp
			bestDist = dist
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// --- CampaignStore ---

func (m *Memory) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Campaign
	for _, c := range m.campaigns {
		if c.Status != models.CampaignStatusActive {
			continue
		}
		if c.SpentCents >= c.BudgetCents {
			continue
		}
		if c.MaxSessions != nil && c.SessionsGranted >= *c.MaxSessions {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryDecrementLocked(campaignID, amountCents)
}

// tryDecrementLocked is the single conditional spend update: the decrement
// applies only while spent+amount stays within budget and the session cap has
// headroom, and the campaign flips to exhausted in the same step when either
// limit is consumed. Callers must hold m.mu.
func (m *Memory) tryDecrementLocked(campaignID, amountCents int64) (bool, error) {
	c, ok := m.campaigns[campaignID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != models.CampaignStatusActive {
		return false, nil
	}
	if c.SpentCents+amountCents > c.BudgetCents {
		return false, nil
	}
	if c.MaxSessions != nil && c.SessionsGranted >= *c.MaxSessions {
		return false, nil
	}

	c.SpentCents += amountCents
	c.SessionsGranted++
	if c.SpentCents+amountCents > c.BudgetCents ||
		(c.MaxSessions != nil && c.SessionsGranted >= *c.MaxSessions) {
		c.Status = models.CampaignStatusExhausted
	}
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

// --- GrantStore ---

func (m *Memory) GrantsBySession(ctx context.Context, sessionID int64) ([]models.IncentiveGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.IncentiveGrant
	for _, g := range m.grants {
		if g.SessionEventID == sessionID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GrantsByDriver(ctx context.Context, driverID int64, limit int) ([]models.IncentiveGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.IncentiveGrant
	for _, g := range m.grants {
		if g.DriverID == driverID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountDriverGrants(ctx context.Context, campaignID, driverID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, g := range m.grants {
		if g.CampaignID != campaignID || g.DriverID != driverID {
			continue
		}
		if g.Status == models.GrantStatusClawedBack {
			continue
		}
		if !since.IsZero() && g.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// --- GrantUnit ---

// Begin locks the store for the duration of the grant transaction; mutations
// are journaled and undone on Rollback.
func (m *Memory) Begin(ctx context.Context) (GrantTx, error) {
	m.mu.Lock()
	return &memoryGrantTx{store: m}, nil
}

type memoryGrantTx struct {
	store *Memory
	undo  []func()
	done  bool
}

func (tx *memoryGrantTx) ExistingGrant(ctx context.Context, sessionID, campaignID int64) (*models.IncentiveGrant, error) {
	if id, ok := tx.store.grantByPair[pairKey(sessionID, campaignID)]; ok {
		cp := *tx.store.grants[id]
		return &cp, nil
	}
	return nil, nil
}

func (tx *memoryGrantTx) TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error) {
	c, ok := tx.store.campaigns[campaignID]
	if !ok {
		return false, ErrNotFound
	}
	before := *c
	ok, err := tx.store.tryDecrementLocked(campaignID, amountCents)
	if err != nil || !ok {
		return ok, err
	}
	tx.undo = append(tx.undo, func() { *tx.store.campaigns[campaignID] = before })
	return true, nil
}

func (tx *memoryGrantTx) InsertGrant(ctx context.Context, grant *models.IncentiveGrant) error {
	key := pairKey(grant.SessionEventID, grant.CampaignID)
	if _, exists := tx.store.grantByPair[key]; exists {
		// Unique (session, campaign) pair.
		return fmt.Errorf("%w: %s", ErrDuplicateGrant, key)
	}

	tx.store.nextGrantID++
	grant.ID = tx.store.nextGrantID
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	cp := *grant
	tx.store.grants[grant.ID] = &cp
	tx.store.grantByPair[key] = grant.ID

	id := grant.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.store.grants, id)
		delete(tx.store.grantByPair, key)
	})
	return nil
}

func (tx *memoryGrantTx) LinkLedgerTx(ctx context.Context, grantID int64, ledgerTxID, status string) error {
	g, ok := tx.store.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	prevTxID, prevStatus := g.LedgerTxID, g.Status
	g.LedgerTxID = ledgerTxID
	g.Status = status
	tx.undo = append(tx.undo, func() {
		g.LedgerTxID = prevTxID
		g.Status = prevStatus
	})
	return nil
}

func (tx *memoryGrantTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.undo = nil
	tx.store.mu.Unlock()
	return nil
}

func (tx *memoryGrantTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.store.mu.Unlock()
	return nil
}
