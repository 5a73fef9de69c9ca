package models

import "time"

// Session status values.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// SessionEvent represents one physical charging session from detected start to
// detected (or reaped) end.
type SessionEvent struct {
	ID              int64      `db:"id" json:"id"`
	DriverID        int64      `db:"driver_id" json:"driver_id"`
	ChargerID       *string    `db:"charger_id" json:"charger_id,omitempty"`
	ConnectorType   *string    `db:"connector_type" json:"connector_type,omitempty"`
	Network         *string    `db:"network" json:"network,omitempty"`
	Latitude        *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude       *float64   `db:"longitude" json:"longitude,omitempty"`
	Status          string     `db:"status" json:"status"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	DurationMin     *float64   `db:"duration_min" json:"duration_min,omitempty"`
	EnergyKWh       float64    `db:"energy_kwh" json:"energy_kwh"`
	BatteryPercent  *int       `db:"battery_percent" json:"battery_percent,omitempty"`
	MaxPowerKW      float64    `db:"max_power_kw" json:"max_power_kw"`
	Source          string     `db:"source" json:"source"`
	SourceSessionID string     `db:"source_session_id" json:"source_session_id"`
	Verified        bool       `db:"verified" json:"verified"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Closed reports whether the session has reached its terminal state.
func (s *SessionEvent) Closed() bool {
	return s.EndTime != nil
}

// HasCoordinates reports whether the session carries a resolved location.
func (s *SessionEvent) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Charger is a known charging location used for proximity resolution.
type Charger struct {
	ID            string  `db:"id" json:"id"`
	Name          string  `db:"name" json:"name"`
	Network       string  `db:"network" json:"network"`
	ConnectorType string  `db:"connector_type" json:"connector_type"`
	Latitude      float64 `db:"latitude" json:"latitude"`
	Longitude     float64 `db:"longitude" json:"longitude"`
}
