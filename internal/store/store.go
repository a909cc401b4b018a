package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cardops/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetSession retrieves the merchant session for a shop
func (s *Store) GetSession(ctx context.Context, shop string) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session, "SELECT * FROM sessions WHERE shop = $1", shop)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found for shop: %s", shop)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpsertSession stores or refreshes the merchant session
func (s *Store) UpsertSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (shop, access_token, default_location_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (shop) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			default_location_id = EXCLUDED.default_location_id,
			updated_at = NOW()`,
		session.Shop, session.AccessToken, session.DefaultLocationID)
	return err
}

// IsBypassed checks the manual status allow-list for a product
func (s *Store) IsBypassed(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM status_bypasses WHERE product_id = $1)", productID)
	return exists, err
}

// AddBypass adds a product to the status allow-list
func (s *Store) AddBypass(ctx context.Context, productID, note string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO status_bypasses (product_id, note) VALUES ($1, $2) ON CONFLICT (product_id) DO NOTHING",
		productID, note)
	return err
}

// RemoveBypass removes a product from the status allow-list
func (s *Store) RemoveBypass(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM status_bypasses WHERE product_id = $1", productID)
	return err
}

// IsWebhookProcessed checks the persisted webhook dedupe table
func (s *Store) IsWebhookProcessed(ctx context.Context, webhookID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_webhooks WHERE webhook_id = $1)", webhookID)
	return exists, err
}

// MarkWebhookProcessed records a webhook delivery as handled
func (s *Store) MarkWebhookProcessed(ctx context.Context, webhookID, topic string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_webhooks (webhook_id, topic) VALUES ($1, $2) ON CONFLICT (webhook_id) DO NOTHING",
		webhookID, topic)
	return err
}
