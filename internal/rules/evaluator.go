package rules

import (
	"fmt"
	"time"

	"voltrewards/internal/models"
)

// Verdict is the tri-state outcome of evaluating one rule against one session.
type Verdict int

const (
	// VerdictMatch means the session satisfies the rule.
	VerdictMatch Verdict = iota
	// VerdictNoMatch means the session fails the rule; the campaign is
	// rejected immediately.
	VerdictNoMatch
	// VerdictUndecidable means the rule cannot be decided yet (e.g. a
	// duration bound before the session has closed); the campaign is
	// deferred to the session-end pass, not rejected.
	VerdictUndecidable
)

func (v Verdict) String() string {
	switch v {
	case VerdictMatch:
		return "match"
	case VerdictNoMatch:
		return "no_match"
	case VerdictUndecidable:
		return "undecidable"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Facts carries the precomputed driver history an evaluation may need, so
// evaluators stay pure and free of I/O. The matcher populates only the fields
// the campaign's rules actually reference.
type Facts struct {
	// PriorSessions is the driver's session count before this session's
	// start.
	PriorSessions int64
	// PriorSessionsAtCharger is the same count scoped to the session's
	// resolved charger.
	PriorSessionsAtCharger int64
	// GrantsDay, GrantsWeek and GrantsTotal count the driver's prior grants
	// under the evaluated campaign within each rolling window.
	GrantsDay   int64
	GrantsWeek  int64
	GrantsTotal int64
}

// Evaluate runs one rule against one session. It performs no I/O and holds no
// state; everything it needs arrives through its arguments.
func Evaluate(rule models.CampaignRule, session *models.SessionEvent, facts Facts) Verdict {
	switch v := rule.Value.(type) {
	case *models.ChargerSetValue:
		if session.ChargerID == nil {
			return VerdictNoMatch
		}
		return containsString(v.ChargerIDs, *session.ChargerID)

	case *models.NetworkSetValue:
		if session.Network == nil {
			return VerdictNoMatch
		}
		return containsString(v.Networks, *session.Network)

	case *models.GeoRadiusValue:
		if !session.HasCoordinates() {
			return VerdictNoMatch
		}
		dist := Haversine(v.Latitude, v.Longitude, *session.Latitude, *session.Longitude)
		if dist <= v.RadiusMeters {
			return VerdictMatch
		}
		return VerdictNoMatch

	case *models.TimeWindowValue:
		start, err := parseClock(v.Start)
		if err != nil {
			return VerdictNoMatch
		}
		end, err := parseClock(v.End)
		if err != nil {
			return VerdictNoMatch
		}
		loc := time.UTC
		if v.Timezone != "" {
			loc, err = time.LoadLocation(v.Timezone)
			if err != nil {
				return VerdictNoMatch
			}
		}
		if inClockWindow(session.StartTime.In(loc), start, end) {
			return VerdictMatch
		}
		return VerdictNoMatch

	case *models.DayOfWeekValue:
		day := session.StartTime.Weekday()
		for _, d := range v.Days {
			if d == day {
				return VerdictMatch
			}
		}
		return VerdictNoMatch

	case *models.DurationValue:
		minutes, known := sessionDuration(session)
		if !known {
			return VerdictUndecidable
		}
		if v.MinMinutes != nil && minutes < *v.MinMinutes {
			return VerdictNoMatch
		}
		if v.MaxMinutes != nil && minutes > *v.MaxMinutes {
			return VerdictNoMatch
		}
		return VerdictMatch

	case *models.MinPowerValue:
		if session.MaxPowerKW >= v.MinKW {
			return VerdictMatch
		}
		return VerdictNoMatch

	case *models.ConnectorSetValue:
		if session.ConnectorType == nil {
			return VerdictNoMatch
		}
		return containsString(v.Connectors, *session.ConnectorType)

	case *models.SessionCountValue:
		count := facts.PriorSessions
		if v.SameCharger {
			count = facts.PriorSessionsAtCharger
		}
		if v.MinPrior != nil && count < *v.MinPrior {
			return VerdictNoMatch
		}
		if v.MaxPrior != nil && count > *v.MaxPrior {
			return VerdictNoMatch
		}
		return VerdictMatch

	case *models.AllowlistValue:
		for _, id := range v.DriverIDs {
			if id == session.DriverID {
				return VerdictMatch
			}
		}
		return VerdictNoMatch

	case *models.PerDriverCapValue:
		var granted int64
		switch v.Window {
		case models.CapWindowDay:
			granted = facts.GrantsDay
		case models.CapWindowWeek:
			granted = facts.GrantsWeek
		default:
			granted = facts.GrantsTotal
		}
		if granted < v.MaxGrants {
			return VerdictMatch
		}
		return VerdictNoMatch

	default:
		// Unknown payloads reject rather than pay out of band.
		return VerdictNoMatch
	}
}

// NeedsSessionFacts reports whether any rule references driver session history.
func NeedsSessionFacts(rules []models.CampaignRule) bool {
	for _, r := range rules {
		if r.Type == models.RuleTypeSessionCount {
			return true
		}
	}
	return false
}

// NeedsGrantFacts reports whether any rule references prior grant counts.
func NeedsGrantFacts(rules []models.CampaignRule) bool {
	for _, r := range rules {
		if r.Type == models.RuleTypePerDriverCap {
			return true
		}
	}
	return false
}

func sessionDuration(session *models.SessionEvent) (float64, bool) {
	if session.DurationMin != nil {
		return *session.DurationMin, true
	}
	if session.EndTime == nil {
		return 0, false
	}
	return session.EndTime.Sub(session.StartTime).Minutes(), true
}

func containsString(set []string, s string) Verdict {
	for _, member := range set {
		if member == s {
			return VerdictMatch
		}
	}
	return VerdictNoMatch
}
