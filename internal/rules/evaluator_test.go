package rules

import (
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"voltrewards/internal/models"
)

func sessionStartingAt(t time.Time) *models.SessionEvent {
	return &models.SessionEvent{
		ID:        1,
		DriverID:  10,
		Status:    models.SessionStatusActive,
		StartTime: t,
	}
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }
func i64Ptr(i int64) *int64     { return &i }

func TestTimeWindowOvernightWrap(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeTimeWindow,
		Value: &models.TimeWindowValue{Start: "22:00", End: "06:00"},
	}

	cases := []struct {
		hour, minute int
		want         Verdict
	}{
		{23, 30, VerdictMatch},
		{2, 0, VerdictMatch},
		{22, 0, VerdictMatch},
		{5, 59, VerdictMatch},
		{6, 0, VerdictNoMatch},
		{12, 0, VerdictNoMatch},
		{21, 59, VerdictNoMatch},
	}
	for _, tc := range cases {
		start := time.Date(2024, 3, 15, tc.hour, tc.minute, 0, 0, time.UTC)
		got := Evaluate(rule, sessionStartingAt(start), Facts{})
		require.Equal(t, tc.want, got, "start %02d:%02d", tc.hour, tc.minute)
	}
}

func TestTimeWindowSameDay(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeTimeWindow,
		Value: &models.TimeWindowValue{Start: "09:00", End: "17:00"},
	}

	in := sessionStartingAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictMatch, Evaluate(rule, in, Facts{}))

	// End boundary is exclusive.
	edge := sessionStartingAt(time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictNoMatch, Evaluate(rule, edge, Facts{}))
}

func TestTimeWindowHonorsTimezone(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeTimeWindow,
		Value: &models.TimeWindowValue{Start: "21:00", End: "23:00", Timezone: "America/New_York"},
	}

	// 02:00 UTC on 2024-03-15 is 22:00 EDT the previous evening.
	in := sessionStartingAt(time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictMatch, Evaluate(rule, in, Facts{}))

	// The same instant read as UTC sits well outside the window.
	utc := models.CampaignRule{
		Type:  models.RuleTypeTimeWindow,
		Value: &models.TimeWindowValue{Start: "21:00", End: "23:00"},
	}
	require.Equal(t, VerdictNoMatch, Evaluate(utc, in, Facts{}))
}

func TestTimeWindowUnknownTimezoneRejects(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeTimeWindow,
		Value: &models.TimeWindowValue{Start: "00:00", End: "23:59", Timezone: "Mars/Olympus"},
	}
	in := sessionStartingAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictNoMatch, Evaluate(rule, in, Facts{}))
}

func TestGeoRadiusInclusiveBoundary(t *testing.T) {
	// Place points due east of the center on the equator at exact distances.
	degFor := func(meters float64) float64 { return meters / earthRadiusMeters * 180 / math.Pi }

	at := func(meters float64) *models.SessionEvent {
		s := sessionStartingAt(time.Now())
		s.Latitude = f64Ptr(0)
		s.Longitude = f64Ptr(degFor(meters))
		return s
	}
	ruleWithRadius := func(radius float64) models.CampaignRule {
		return models.CampaignRule{
			Type:  models.RuleTypeGeoRadius,
			Value: &models.GeoRadiusValue{Latitude: 0, Longitude: 0, RadiusMeters: radius},
		}
	}

	// A session at exactly the radius matches: the boundary is inclusive.
	boundary := at(500.0)
	dist := Haversine(0, 0, *boundary.Latitude, *boundary.Longitude)
	require.InDelta(t, 500.0, dist, 1e-6)
	require.Equal(t, VerdictMatch, Evaluate(ruleWithRadius(dist), boundary, Facts{}))

	require.Equal(t, VerdictNoMatch, Evaluate(ruleWithRadius(500), at(500.1), Facts{}))
	require.Equal(t, VerdictMatch, Evaluate(ruleWithRadius(500), at(10.0), Facts{}))
}

func TestGeoRadiusNoCoordinatesNeverMatches(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeGeoRadius,
		Value: &models.GeoRadiusValue{Latitude: 0, Longitude: 0, RadiusMeters: 1e6},
	}
	require.Equal(t, VerdictNoMatch, Evaluate(rule, sessionStartingAt(time.Now()), Facts{}))
}

func TestDurationRuleUndecidableUntilClosed(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeDuration,
		Value: &models.DurationValue{MinMinutes: f64Ptr(15)},
	}

	open := sessionStartingAt(time.Now())
	require.Equal(t, VerdictUndecidable, Evaluate(rule, open, Facts{}))

	closed := sessionStartingAt(time.Now().Add(-20 * time.Minute))
	end := closed.StartTime.Add(20 * time.Minute)
	closed.EndTime = &end
	closed.DurationMin = f64Ptr(20)
	require.Equal(t, VerdictMatch, Evaluate(rule, closed, Facts{}))

	short := sessionStartingAt(time.Now().Add(-10 * time.Minute))
	shortEnd := short.StartTime.Add(10 * time.Minute)
	short.EndTime = &shortEnd
	short.DurationMin = f64Ptr(10)
	require.Equal(t, VerdictNoMatch, Evaluate(rule, short, Facts{}))
}

func TestDayOfWeek(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeDayOfWeek,
		Value: &models.DayOfWeekValue{Days: []time.Weekday{time.Saturday, time.Sunday}},
	}

	saturday := sessionStartingAt(time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictMatch, Evaluate(rule, saturday, Facts{}))

	friday := sessionStartingAt(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.Equal(t, VerdictNoMatch, Evaluate(rule, friday, Facts{}))
}

func TestChargerNetworkConnectorSets(t *testing.T) {
	session := sessionStartingAt(time.Now())
	session.ChargerID = strPtr("chg-7")
	session.Network = strPtr("voltnet")
	session.ConnectorType = strPtr("CCS")

	require.Equal(t, VerdictMatch, Evaluate(models.CampaignRule{
		Type: models.RuleTypeChargerSet, Value: &models.ChargerSetValue{ChargerIDs: []string{"chg-1", "chg-7"}},
	}, session, Facts{}))
	require.Equal(t, VerdictNoMatch, Evaluate(models.CampaignRule{
		Type: models.RuleTypeChargerSet, Value: &models.ChargerSetValue{ChargerIDs: []string{"chg-1"}},
	}, session, Facts{}))

	require.Equal(t, VerdictMatch, Evaluate(models.CampaignRule{
		Type: models.RuleTypeNetworkSet, Value: &models.NetworkSetValue{Networks: []string{"voltnet"}},
	}, session, Facts{}))
	require.Equal(t, VerdictMatch, Evaluate(models.CampaignRule{
		Type: models.RuleTypeConnectorSet, Value: &models.ConnectorSetValue{Connectors: []string{"CCS", "CHAdeMO"}},
	}, session, Facts{}))

	// Unresolved charger never satisfies a membership rule.
	bare := sessionStartingAt(time.Now())
	require.Equal(t, VerdictNoMatch, Evaluate(models.CampaignRule{
		Type: models.RuleTypeChargerSet, Value: &models.ChargerSetValue{ChargerIDs: []string{"chg-7"}},
	}, bare, Facts{}))
}

func TestMinPower(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeMinPower,
		Value: &models.MinPowerValue{MinKW: 50},
	}

	fast := sessionStartingAt(time.Now())
	fast.MaxPowerKW = 150
	require.Equal(t, VerdictMatch, Evaluate(rule, fast, Facts{}))

	slow := sessionStartingAt(time.Now())
	slow.MaxPowerKW = 11
	require.Equal(t, VerdictNoMatch, Evaluate(rule, slow, Facts{}))
}

func TestSessionCountBounds(t *testing.T) {
	firstOnly := models.CampaignRule{
		Type:  models.RuleTypeSessionCount,
		Value: &models.SessionCountValue{MaxPrior: i64Ptr(0)},
	}
	session := sessionStartingAt(time.Now())

	require.Equal(t, VerdictMatch, Evaluate(firstOnly, session, Facts{PriorSessions: 0}))
	require.Equal(t, VerdictNoMatch, Evaluate(firstOnly, session, Facts{PriorSessions: 1}))

	repeat := models.CampaignRule{
		Type:  models.RuleTypeSessionCount,
		Value: &models.SessionCountValue{MinPrior: i64Ptr(3)},
	}
	require.Equal(t, VerdictNoMatch, Evaluate(repeat, session, Facts{PriorSessions: 2}))
	require.Equal(t, VerdictMatch, Evaluate(repeat, session, Facts{PriorSessions: 3}))

	sameCharger := models.CampaignRule{
		Type:  models.RuleTypeSessionCount,
		Value: &models.SessionCountValue{MaxPrior: i64Ptr(0), SameCharger: true},
	}
	require.Equal(t, VerdictMatch, Evaluate(sameCharger, session, Facts{PriorSessions: 5, PriorSessionsAtCharger: 0}))
}

func TestDriverAllowlist(t *testing.T) {
	rule := models.CampaignRule{
		Type:  models.RuleTypeAllowlist,
		Value: &models.AllowlistValue{DriverIDs: []int64{10, 20}},
	}
	session := sessionStartingAt(time.Now())
	require.Equal(t, VerdictMatch, Evaluate(rule, session, Facts{}))

	other := sessionStartingAt(time.Now())
	other.DriverID = 99
	require.Equal(t, VerdictNoMatch, Evaluate(rule, other, Facts{}))
}

func TestPerDriverCapWindows(t *testing.T) {
	session := sessionStartingAt(time.Now())

	daily := models.CampaignRule{
		Type:  models.RuleTypePerDriverCap,
		Value: &models.PerDriverCapValue{MaxGrants: 1, Window: models.CapWindowDay},
	}
	require.Equal(t, VerdictMatch, Evaluate(daily, session, Facts{GrantsDay: 0}))
	require.Equal(t, VerdictNoMatch, Evaluate(daily, session, Facts{GrantsDay: 1}))

	total := models.CampaignRule{
		Type:  models.RuleTypePerDriverCap,
		Value: &models.PerDriverCapValue{MaxGrants: 3, Window: models.CapWindowTotal},
	}
	require.Equal(t, VerdictMatch, Evaluate(total, session, Facts{GrantsTotal: 2}))
	require.Equal(t, VerdictNoMatch, Evaluate(total, session, Facts{GrantsTotal: 3}))
}

func TestHaversineKnownDistance(t *testing.T) {
	// Paris to London, roughly 344 km.
	dist := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	require.InDelta(t, 344000, dist, 2000)
}
