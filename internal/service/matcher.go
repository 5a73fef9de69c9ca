package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"voltrewards/internal/models"
	"voltrewards/internal/rules"
	"voltrewards/internal/store"
)

// GrantPolicy names the strategy applied when several campaigns match one
// session.
type GrantPolicy string

const (
	// PolicyAllowMultipleGrants pays the session from every matching campaign
	// with budget headroom.
	PolicyAllowMultipleGrants GrantPolicy = "allow_multiple"
	// PolicyHighestPriorityOnly pays at most one campaign per session, the
	// highest-priority match whose budget decrement succeeds.
	PolicyHighestPriorityOnly GrantPolicy = "highest_priority_only"
)

// ParseGrantPolicy validates a configured policy name, defaulting to
// PolicyAllowMultipleGrants for an empty value.
func ParseGrantPolicy(name string) (GrantPolicy, error) {
	switch GrantPolicy(name) {
	case "":
		return PolicyAllowMultipleGrants, nil
	case PolicyAllowMultipleGrants, PolicyHighestPriorityOnly:
		return GrantPolicy(name), nil
	default:
		return "", errors.New("service: unknown grant policy " + name)
	}
}

// CampaignSource supplies the active, budget-remaining campaign set. In
// production it is the staleness-bounded campaign cache.
type CampaignSource interface {
	ActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// Granter attempts one grant. Implemented by GrantService.
type Granter interface {
	Award(ctx context.Context, session *models.SessionEvent, campaign models.Campaign) (*models.IncentiveGrant, error)
}

// MatcherService evaluates a session against every active campaign's rule set
// and triggers grants per the configured policy. It runs once on session
// start and once on session end; campaigns with rules that are undecidable at
// start (duration bounds) are deferred to the end pass, and the grant ledger's
// (session, campaign) uniqueness makes the double invocation safe.
type MatcherService struct {
	campaigns CampaignSource
	sessions  store.SessionStore
	grants    store.GrantStore
	granter   Granter
	policy    GrantPolicy
	logger    *zap.Logger
	clock     func() time.Time
}

// NewMatcherService builds the matcher.
func NewMatcherService(
	campaigns CampaignSource,
	sessions store.SessionStore,
	grants store.GrantStore,
	granter Granter,
	policy GrantPolicy,
	logger *zap.Logger,
) *MatcherService {
	return &MatcherService{
		campaigns: campaigns,
		sessions:  sessions,
		grants:    grants,
		granter:   granter,
		policy:    policy,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateSession runs one matching pass and returns the grants it produced.
// Rejected and deferred campaigns leave no persistent artifact.
func (m *MatcherService) EvaluateSession(ctx context.Context, session *models.SessionEvent) ([]models.IncentiveGrant, error) {
	campaigns, err := m.campaigns.ActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	var matched []models.Campaign
	for i := range campaigns {
		campaign := campaigns[i]
		if !campaign.WindowContains(session.StartTime) {
			continue
		}

		verdict, err := m.evaluateCampaign(ctx, session, campaign)
		if err != nil {
			return nil, err
		}
		switch verdict {
		case rules.VerdictMatch:
			matched = append(matched, campaign)
		case rules.VerdictUndecidable:
			m.logger.Debug("campaign deferred to session-end pass",
				zap.Int64("campaign_id", campaign.ID),
				zap.Int64("session_id", session.ID),
			)
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}

	if m.policy == PolicyHighestPriorityOnly {
		return m.awardHighestPriority(ctx, session, matched)
	}
	return m.awardAll(ctx, session, matched)
}

// evaluateCampaign folds the conjunctive rule set into one verdict: any
// no-match rejects, otherwise any undecidable defers, otherwise the campaign
// matches. Zero rules match every session.
func (m *MatcherService) evaluateCampaign(ctx context.Context, session *models.SessionEvent, campaign models.Campaign) (rules.Verdict, error) {
	facts, err := m.factsFor(ctx, session, campaign)
	if err != nil {
		return rules.VerdictNoMatch, err
	}

	verdict := rules.VerdictMatch
	for _, rule := range campaign.Rules {
		switch rules.Evaluate(rule, session, facts) {
		case rules.VerdictNoMatch:
			return rules.VerdictNoMatch, nil
		case rules.VerdictUndecidable:
			verdict = rules.VerdictUndecidable
		}
	}
	return verdict, nil
}

// factsFor fetches only the driver history the campaign's rules reference.
func (m *MatcherService) factsFor(ctx context.Context, session *models.SessionEvent, campaign models.Campaign) (rules.Facts, error) {
	var facts rules.Facts

	if rules.NeedsSessionFacts(campaign.Rules) {
		total, err := m.sessions.CountDriverSessionsBefore(ctx, session.DriverID, nil, session.StartTime)
		if err != nil {
			return facts, err
		}
		facts.PriorSessions = total

		if session.ChargerID != nil {
			atCharger, err := m.sessions.CountDriverSessionsBefore(ctx, session.DriverID, session.ChargerID, session.StartTime)
			if err != nil {
				return facts, err
			}
			facts.PriorSessionsAtCharger = atCharger
		}
	}

	if rules.NeedsGrantFacts(campaign.Rules) {
		now := m.clock()
		day, err := m.grants.CountDriverGrants(ctx, campaign.ID, session.DriverID, now.Add(-24*time.Hour))
		if err != nil {
			return facts, err
		}
		week, err := m.grants.CountDriverGrants(ctx, campaign.ID, session.DriverID, now.Add(-7*24*time.Hour))
		if err != nil {
			return facts, err
		}
		total, err := m.grants.CountDriverGrants(ctx, campaign.ID, session.DriverID, time.Time{})
		if err != nil {
			return facts, err
		}
		facts.GrantsDay, facts.GrantsWeek, facts.GrantsTotal = day, week, total
	}

	return facts, nil
}

// awardAll attempts a grant for every matching campaign. A failed budget
// decrement skips that campaign without blocking the others.
func (m *MatcherService) awardAll(ctx context.Context, session *models.SessionEvent, matched []models.Campaign) ([]models.IncentiveGrant, error) {
	var granted []models.IncentiveGrant
	for _, campaign := range matched {
		grant, err := m.granter.Award(ctx, session, campaign)
		if err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				m.logger.Info("campaign budget exhausted, skipping",
					zap.Int64("campaign_id", campaign.ID),
					zap.Int64("session_id", session.ID),
				)
				continue
			}
			return granted, err
		}
		granted = append(granted, *grant)
	}
	return granted, nil
}

// awardHighestPriority pays at most one campaign: the highest-priority match
// whose decrement succeeds. A session already paid in an earlier pass is not
// paid again.
func (m *MatcherService) awardHighestPriority(ctx context.Context, session *models.SessionEvent, matched []models.Campaign) ([]models.IncentiveGrant, error) {
	prior, err := m.grants.GrantsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		return nil, nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	for _, campaign := range matched {
		grant, err := m.granter.Award(ctx, session, campaign)
		if err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				continue
			}
			return nil, err
		}
		return []models.IncentiveGrant{*grant}, nil
	}
	return nil, nil
}
