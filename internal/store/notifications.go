package store

import (
	"context"
	"time"

	"cardops/internal/models"
)

// CreateNotification appends a notification record
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (title, body, length_ms, type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, n, query, n.Title, n.Body, n.LengthMS, n.Type)
}

// GetNotifications retrieves recent notifications newest first
func (s *Store) GetNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications,
		"SELECT * FROM notifications ORDER BY created_at DESC LIMIT $1", limit)
	return notifications, err
}

// PruneNotifications deletes records older than the retention window and
// returns the number removed.
func (s *Store) PruneNotifications(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE created_at < NOW() - $1::interval",
		olderThan.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
