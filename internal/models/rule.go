package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType identifies one qualification rule variant. The set is closed: every
// type maps to exactly one value struct below and one evaluator in the rules
// package.
type RuleType string

const (
	RuleTypeChargerSet   RuleType = "charger_set"
	RuleTypeNetworkSet   RuleType = "network_set"
	RuleTypeGeoRadius    RuleType = "geo_radius"
	RuleTypeTimeWindow   RuleType = "time_window"
	RuleTypeDayOfWeek    RuleType = "day_of_week"
	RuleTypeDuration     RuleType = "duration"
	RuleTypeMinPower     RuleType = "min_power"
	RuleTypeConnectorSet RuleType = "connector_set"
	RuleTypeSessionCount RuleType = "session_count"
	RuleTypeAllowlist    RuleType = "driver_allowlist"
	RuleTypePerDriverCap RuleType = "per_driver_cap"
)

// RuleValue is the tagged-union payload of a CampaignRule. Exactly one
// concrete type exists per RuleType.
type RuleValue interface {
	ruleValue()
}

// ChargerSetValue matches sessions at any of the listed chargers.
type ChargerSetValue struct {
	ChargerIDs []string `json:"charger_ids"`
}

// NetworkSetValue matches sessions on any of the listed charging networks.
type NetworkSetValue struct {
	Networks []string `json:"networks"`
}

// GeoRadiusValue matches sessions within RadiusMeters of the center point
// (great-circle distance, inclusive boundary).
type GeoRadiusValue struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// TimeWindowValue matches sessions starting inside the [Start, End) clock
// window, read on the wall clock of Timezone (an IANA zone name); an empty
// Timezone means UTC. End earlier than Start denotes an overnight span that
// wraps across midnight. Times are "HH:MM".
type TimeWindowValue struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// DayOfWeekValue matches sessions starting on any of the listed weekdays
// (0 = Sunday, per time.Weekday).
type DayOfWeekValue struct {
	Days []time.Weekday `json:"days"`
}

// DurationValue bounds the session's total duration in minutes. Either bound
// may be omitted. Undecidable until the session has closed.
type DurationValue struct {
	MinMinutes *float64 `json:"min_minutes,omitempty"`
	MaxMinutes *float64 `json:"max_minutes,omitempty"`
}

// MinPowerValue requires the session's peak charging power to reach MinKW.
type MinPowerValue struct {
	MinKW float64 `json:"min_kw"`
}

// ConnectorSetValue matches sessions using any of the listed connector types.
type ConnectorSetValue struct {
	Connectors []string `json:"connectors"`
}

// SessionCountValue bounds the driver's number of prior sessions as of the
// session start. MaxPrior=0 expresses "first session only"; MinPrior=N
// expresses "at least N prior sessions". SameCharger scopes the count to the
// session's resolved charger.
type SessionCountValue struct {
	MinPrior    *int64 `json:"min_prior,omitempty"`
	MaxPrior    *int64 `json:"max_prior,omitempty"`
	SameCharger bool   `json:"same_charger,omitempty"`
}

// AllowlistValue restricts the campaign to the listed drivers.
type AllowlistValue struct {
	DriverIDs []int64 `json:"driver_ids"`
}

// CapWindow is the rolling window of a per-driver grant cap.
type CapWindow string

const (
	CapWindowDay   CapWindow = "day"
	CapWindowWeek  CapWindow = "week"
	CapWindowTotal CapWindow = "total"
)

// PerDriverCapValue bounds how many grants one driver may receive under the
// campaign within the rolling window.
type PerDriverCapValue struct {
	MaxGrants int64     `json:"max_grants"`
	Window    CapWindow `json:"window"`
}

func (ChargerSetValue) ruleValue()   {}
func (NetworkSetValue) ruleValue()   {}
func (GeoRadiusValue) ruleValue()    {}
func (TimeWindowValue) ruleValue()   {}
func (DayOfWeekValue) ruleValue()    {}
func (DurationValue) ruleValue()     {}
func (MinPowerValue) ruleValue()     {}
func (ConnectorSetValue) ruleValue() {}
func (SessionCountValue) ruleValue() {}
func (AllowlistValue) ruleValue()    {}
func (PerDriverCapValue) ruleValue() {}

// CampaignRule is one AND-ed qualification condition attached to a campaign.
type CampaignRule struct {
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Type       RuleType  `json:"type"`
	Value      RuleValue `json:"value"`
}

type ruleEnvelope struct {
	ID         int64           `json:"id"`
	CampaignID int64           `json:"campaign_id"`
	Type       RuleType        `json:"type"`
	Value      json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes the rule payload into the value type matching Type.
func (r *CampaignRule) UnmarshalJSON(data []byte) error {
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	value, err := DecodeRuleValue(env.Type, env.Value)
	if err != nil {
		return err
	}
	r.ID = env.ID
	r.CampaignID = env.CampaignID
	r.Type = env.Type
	r.Value = value
	return nil
}

// MarshalJSON encodes the rule with its type tag and typed payload.
func (r CampaignRule) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(r.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleEnvelope{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Type:       r.Type,
		Value:      raw,
	})
}

// DecodeRuleValue parses a raw JSON payload into the value struct for the
// given rule type.
func DecodeRuleValue(t RuleType, raw json.RawMessage) (RuleValue, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var target RuleValue
	switch t {
	case RuleTypeChargerSet:
		target = &ChargerSetValue{}
	case RuleTypeNetworkSet:
		target = &NetworkSetValue{}
	case RuleTypeGeoRadius:
		target = &GeoRadiusValue{}
	case RuleTypeTimeWindow:
		target = &TimeWindowValue{}
	case RuleTypeDayOfWeek:
		target = &DayOfWeekValue{}
	case RuleTypeDuration:
		target = &DurationValue{}
	case RuleTypeMinPower:
		target = &MinPowerValue{}
	case RuleTypeConnectorSet:
		target = &ConnectorSetValue{}
	case RuleTypeSessionCount:
		target = &SessionCountValue{}
	case RuleTypeAllowlist:
		target = &AllowlistValue{}
	case RuleTypePerDriverCap:
		target = &PerDriverCapValue{}
	default:
		return nil, fmt.Errorf("unknown rule type %q", t)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("rule value for %s: %w", t, err)
	}
	return target, nil
}
