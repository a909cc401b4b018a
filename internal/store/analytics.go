package store

import (
	"context"

	"cardops/internal/models"
)

// CreateSnapshot appends a store-value snapshot
func (s *Store) CreateSnapshot(ctx context.Context, snap *models.AnalyticsSnapshot) error {
	return s.db.GetContext(ctx, snap,
		"INSERT INTO analytics_snapshots (value) VALUES ($1) RETURNING id, taken_at",
		snap.Value)
}

// GetSnapshots retrieves snapshots in insertion order, capped at limit
func (s *Store) GetSnapshots(ctx context.Context, limit int) ([]models.AnalyticsSnapshot, error) {
	if limit <= 0 {
		limit = 365
	}
	var snaps []models.AnalyticsSnapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT * FROM (
			SELECT * FROM analytics_snapshots ORDER BY taken_at DESC LIMIT $1
		) recent ORDER BY taken_at`, limit)
	return snaps, err
}
