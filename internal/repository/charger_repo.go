package repository

import (
	"context"
	"database/sql"
	"errors"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
)

// ChargerRepository resolves known chargers by proximity.
type ChargerRepository struct {
	db *sql.DB
}

// NewChargerRepository returns the repository.
func NewChargerRepository(db *sql.DB) *ChargerRepository {
	return &ChargerRepository{db: db}
}

// NearestWithin returns the closest charger within radiusMeters of the point,
// using the haversine great-circle distance computed in SQL.
func (r *ChargerRepository) NearestWithin(ctx context.Context, lat, lon, radiusMeters float64) (*models.Charger, error) {
	const query = `
		SELECT id, name, network, connector_type, latitude, longitude
		FROM (
			SELECT *,
				2 * 6371000 * asin(sqrt(
					pow(sin(radians(latitude - $1) / 2), 2) +
					cos(radians($1)) * cos(radians(latitude)) *
					pow(sin(radians(longitude - $2) / 2), 2)
				)) AS distance_m
			FROM chargers
		) nearby
		WHERE distance_m <= $3
		ORDER BY distance_m
		LIMIT 1
	`
	var c models.Charger
	err := r.db.QueryRowContext(ctx, query, lat, lon, radiusMeters).Scan(
		&c.ID,
		&c.Name,
		&c.Network,
		&c.ConnectorType,
		&c.Latitude,
		&c.Longitude,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ store.ChargerStore = (*ChargerRepository)(nil)
