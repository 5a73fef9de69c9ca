package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCampaignRuleJSONRoundTrip(t *testing.T) {
	rule := CampaignRule{
		ID:         7,
		CampaignID: 3,
		Type:       RuleTypeGeoRadius,
		Value:      &GeoRadiusValue{Latitude: 59.33, Longitude: 18.07, RadiusMeters: 500},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var decoded CampaignRule
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, rule.Type, decoded.Type)

	geo, ok := decoded.Value.(*GeoRadiusValue)
	require.True(t, ok, "decoded into %T", decoded.Value)
	require.Equal(t, 500.0, geo.RadiusMeters)
	require.Equal(t, 59.33, geo.Latitude)
}

func TestDecodeRuleValueByType(t *testing.T) {
	value, err := DecodeRuleValue(RuleTypeTimeWindow, json.RawMessage(`{"start":"22:00","end":"06:00"}`))
	require.NoError(t, err)
	window, ok := value.(*TimeWindowValue)
	require.True(t, ok)
	require.Equal(t, "22:00", window.Start)
	require.Equal(t, "06:00", window.End)

	value, err = DecodeRuleValue(RuleTypeDayOfWeek, json.RawMessage(`{"days":[0,6]}`))
	require.NoError(t, err)
	days, ok := value.(*DayOfWeekValue)
	require.True(t, ok)
	require.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, days.Days)

	value, err = DecodeRuleValue(RuleTypePerDriverCap, json.RawMessage(`{"max_grants":2,"window":"week"}`))
	require.NoError(t, err)
	capValue, ok := value.(*PerDriverCapValue)
	require.True(t, ok)
	require.Equal(t, int64(2), capValue.MaxGrants)
	require.Equal(t, CapWindowWeek, capValue.Window)
}

func TestDecodeRuleValueUnknownType(t *testing.T) {
	_, err := DecodeRuleValue(RuleType("bogus"), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestDecodeRuleValueEmptyPayload(t *testing.T) {
	value, err := DecodeRuleValue(RuleTypeSessionCount, nil)
	require.NoError(t, err)
	count, ok := value.(*SessionCountValue)
	require.True(t, ok)
	require.Nil(t, count.MinPrior)
	require.Nil(t, count.MaxPrior)
}
