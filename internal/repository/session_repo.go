package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// SessionRepository persists charging session events in Postgres.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns the repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, driver_id, charger_id, connector_type, network, latitude, longitude,
	status, start_time, end_time, duration_min, energy_kwh, battery_percent,
	max_power_kw, source, source_session_id, verified, created_at, updated_at
`

// UpsertSession creates the session or updates the existing row for the same
// (source, source_session_id) pair, preventing double-import of one upstream
// session.
func (r *SessionRepository) UpsertSession(ctx context.Context, session *models.SessionEvent) error {
	const query = `
		INSERT INTO session_events (
			driver_id, charger_id, connector_type, network, latitude, longitude,
			status, start_time, energy_kwh, battery_percent, max_power_kw,
			source, source_session_id, verified, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (source, source_session_id) DO UPDATE SET
			charger_id = COALESCE(session_events.charger_id, EXCLUDED.charger_id),
			connector_type = COALESCE(session_events.connector_type, EXCLUDED.connector_type),
			network = COALESCE(session_events.network, EXCLUDED.network),
			latitude = COALESCE(session_events.latitude, EXCLUDED.latitude),
			longitude = COALESCE(session_events.longitude, EXCLUDED.longitude),
			energy_kwh = GREATEST(session_events.energy_kwh, EXCLUDED.energy_kwh),
			battery_percent = EXCLUDED.battery_percent,
			max_power_kw = GREATEST(session_events.max_power_kw, EXCLUDED.max_power_kw),
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		session.DriverID,
		session.ChargerID,
		session.ConnectorType,
		session.Network,
		session.Latitude,
		session.Longitude,
		session.Status,
		session.StartTime,
		session.EnergyKWh,
		session.BatteryPercent,
		session.MaxPowerKW,
		session.Source,
		session.SourceSessionID,
		session.Verified,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
}

// UpdateTelemetry writes backfilled telemetry for an active session.
func (r *SessionRepository) UpdateTelemetry(ctx context.Context, session *models.SessionEvent) error {
	const query = `
		UPDATE session_events
		SET charger_id = $2,
		    connector_type = $3,
		    network = $4,
		    latitude = $5,
		    longitude = $6,
		    energy_kwh = $7,
		    battery_percent = $8,
		    max_power_kw = $9,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.ChargerID,
		session.ConnectorType,
		session.Network,
		session.Latitude,
		session.Longitude,
		session.EnergyKWh,
		session.BatteryPercent,
		session.MaxPowerKW,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// CloseSession sets the terminal state.
func (r *SessionRepository) CloseSession(ctx context.Context, sessionID int64, endTime time.Time, durationMin float64) error {
	const query = `
		UPDATE session_events
		SET end_time = $2,
		    duration_min = $3,
		    status = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, endTime, durationMin, models.SessionStatusClosed, models.SessionStatusActive)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SessionByID loads one session.
func (r *SessionRepository) SessionByID(ctx context.Context, sessionID int64) (*models.SessionEvent, error) {
	const query = `SELECT ` + sessionColumns + ` FROM session_events WHERE id = $1`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

// ActiveSessionForDriver returns the driver's open session, if any.
func (r *SessionRepository) ActiveSessionForDriver(ctx context.Context, driverID int64) (*models.SessionEvent, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM session_events
		WHERE driver_id = $1 AND status = $2
		ORDER BY start_time DESC
		LIMIT 1
	`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, driverID, models.SessionStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

// StaleActiveSessions returns active sessions not updated since updatedBefore.
func (r *SessionRepository) StaleActiveSessions(ctx context.Context, updatedBefore time.Time) ([]models.SessionEvent, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM session_events
		WHERE status = $1 AND updated_at < $2
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, models.SessionStatusActive, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SessionsByDriver returns the driver's latest sessions.
func (r *SessionRepository) SessionsByDriver(ctx context.Context, driverID int64, limit int) ([]models.SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM session_events
		WHERE driver_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// CountDriverSessionsBefore counts the driver's sessions starting before the
// given instant, optionally scoped to one charger.
func (r *SessionRepository) CountDriverSessionsBefore(ctx context.Context, driverID int64, chargerID *string, before time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM session_events
		WHERE driver_id = $1
		  AND start_time < $2
		  AND ($3::text IS NULL OR charger_id = $3)
	`
	var count int64
	err := r.db.QueryRowContext(ctx, query, driverID, before, chargerID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.SessionEvent, error) {
	var s models.SessionEvent
	err := row.Scan(
		&s.ID,
		&s.DriverID,
		&s.ChargerID,
		&s.ConnectorType,
		&s.Network,
		&s.Latitude,
		&s.Longitude,
		&s.Status,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMin,
		&s.EnergyKWh,
		&s.BatteryPercent,
		&s.MaxPowerKW,
		&s.Source,
		&s.SourceSessionID,
		&s.Verified,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]models.SessionEvent, error) {
	var sessions []models.SessionEvent
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.SessionStore = (*SessionRepository)(nil)
