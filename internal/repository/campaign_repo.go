package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// CampaignRepository reads campaigns and owns the budget-safe spend update.
// Campaign/rule CRUD belongs to the campaign-management collaborator; this
// engine only reads active campaigns and writes spent/sessions_granted/status.
type CampaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository returns the repository.
func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// ActiveCampaigns returns active campaigns with budget and session-cap
// headroom, rules attached.
func (r *CampaignRepository) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	const query = `
		SELECT id, name, status, budget_cents, spent_cents, reward_cents,
		       max_sessions, sessions_granted, priority, starts_at, ends_at,
		       created_at, updated_at
		FROM campaigns
		WHERE status = $1
		  AND spent_cents < budget_cents
		  AND (max_sessions IS NULL OR sessions_granted < max_sessions)
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Status,
			&c.BudgetCents,
			&c.SpentCents,
			&c.RewardCents,
			&c.MaxSessions,
			&c.SessionsGranted,
			&c.Priority,
			&c.StartsAt,
			&c.EndsAt,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range campaigns {
		rules, err := r.rulesForCampaign(ctx, campaigns[i].ID)
		if err != nil {
			return nil, err
		}
		campaigns[i].Rules = rules
	}
	return campaigns, nil
}

func (r *CampaignRepository) rulesForCampaign(ctx context.Context, campaignID int64) ([]models.CampaignRule, error) {
	const query = `
		SELECT id, campaign_id, rule_type, rule_value
		FROM campaign_rules
		WHERE campaign_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.CampaignRule
	for rows.Next() {
		var (
			rule models.CampaignRule
			raw  json.RawMessage
		)
		if err := rows.Scan(&rule.ID, &rule.CampaignID, &rule.Type, &raw); err != nil {
			return nil, err
		}
		value, err := models.DecodeRuleValue(rule.Type, raw)
		if err != nil {
			return nil, err
		}
		rule.Value = value
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// TryDecrement is the single conditional spend update: the row changes only
// while spent + amount stays within budget and the session cap has headroom,
// and the campaign flips to exhausted in the same statement when the
// decrement consumes the last affordable session. The affected-row count
// reveals success; there is no read-then-write window to race through.
func (r *CampaignRepository) TryDecrement(ctx context.Context, campaignID, amountCents int64) (bool, error) {
	return tryDecrement(ctx, r.db, campaignID, amountCents)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func tryDecrement(ctx context.Context, db execer, campaignID, amountCents int64) (bool, error) {
	const query = `
		UPDATE campaigns
		SET spent_cents = spent_cents + $2,
		    sessions_granted = sessions_granted + 1,
		    status = CASE
		        WHEN spent_cents + $2 + $2 > budget_cents
		          OR (max_sessions IS NOT NULL AND sessions_granted + 1 >= max_sessions)
		        THEN $3
		        ELSE status
		    END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $4
		  AND spent_cents + $2 <= budget_cents
		  AND (max_sessions IS NULL OR sessions_granted < max_sessions)
	`
	result, err := db.ExecContext(ctx, query,
		campaignID,
		amountCents,
		models.CampaignStatusExhausted,
		models.CampaignStatusActive,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

var _ store.CampaignStore = (*CampaignRepository)(nil)
