package store

import (
	"context"
	"database/sql"
	"fmt"

	"cardops/internal/models"
)

// CreateWishlistEntry creates a keyword subscription
func (s *Store) CreateWishlistEntry(ctx context.Context, entry *models.WishlistEntry) error {
	query := `
		INSERT INTO wishlist_entries (customer_email, keyword)
		VALUES ($1, $2)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query, entry.CustomerEmail, entry.Keyword)
}

// GetWishlistEntries retrieves all subscriptions for a customer
func (s *Store) GetWishlistEntries(ctx context.Context, customerEmail string) ([]models.WishlistEntry, error) {
	var entries []models.WishlistEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM wishlist_entries WHERE customer_email = $1 ORDER BY created_at DESC",
		customerEmail)
	return entries, err
}

// GetAllWishlistEntries retrieves every subscription for keyword matching
func (s *Store) GetAllWishlistEntries(ctx context.Context) ([]models.WishlistEntry, error) {
	var entries []models.WishlistEntry
	err := s.db.SelectContext(ctx, &entries, "SELECT * FROM wishlist_entries ORDER BY id")
	return entries, err
}

// DeleteWishlistEntry removes a subscription owned by the given customer
func (s *Store) DeleteWishlistEntry(ctx context.Context, id int64, customerEmail string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM wishlist_entries WHERE id = $1 AND customer_email = $2",
		id, customerEmail)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateWishlistEntry changes the keyword on an existing subscription
func (s *Store) UpdateWishlistEntry(ctx context.Context, id int64, customerEmail, keyword string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE wishlist_entries SET keyword = $1 WHERE id = $2 AND customer_email = $3",
		keyword, id, customerEmail)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("wishlist entry not found: %d", id)
	}
	return nil
}
