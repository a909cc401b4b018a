package service

import (
	"context"
	"strings"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/store"
	"cardops/internal/util"

	"go.uber.org/zap"
)

// WishlistStore persists keyword subscriptions.
type WishlistStore interface {
	CreateWishlistEntry(ctx context.Context, entry *models.WishlistEntry) error
	GetWishlistEntries(ctx context.Context, customerEmail string) ([]models.WishlistEntry, error)
	DeleteWishlistEntry(ctx context.Context, id int64, customerEmail string) error
	UpdateWishlistEntry(ctx context.Context, id int64, customerEmail, keyword string) error
}

// WishlistService manages storefront keyword subscriptions.
type WishlistService struct {
	store  WishlistStore
	logger *zap.Logger
}

// NewWishlistService wires the wishlist CRUD
func NewWishlistService(st *store.Store) *WishlistService {
	return &WishlistService{store: st, logger: util.GetLogger()}
}

// Subscribe creates a keyword subscription for a customer.
func (s *WishlistService) Subscribe(ctx context.Context, customerEmail, keyword string) (*models.WishlistEntry, error) {
	const op = "service.wishlist.Subscribe"

	customerEmail = strings.ToLower(strings.TrimSpace(customerEmail))
	keyword = strings.TrimSpace(keyword)
	if customerEmail == "" || !strings.Contains(customerEmail, "@") {
		return nil, apperr.Newf(apperr.KindValidation, op, "a valid email is required")
	}
	if keyword == "" {
		return nil, apperr.Newf(apperr.KindValidation, op, "keyword is required")
	}

	entry := &models.WishlistEntry{CustomerEmail: customerEmail, Keyword: keyword}
	if err := s.store.CreateWishlistEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info("Wishlist subscription created",
		zap.String("email", customerEmail),
		zap.String("keyword", keyword))
	return entry, nil
}

// List returns a customer's subscriptions.
func (s *WishlistService) List(ctx context.Context, customerEmail string) ([]models.WishlistEntry, error) {
	customerEmail = strings.ToLower(strings.TrimSpace(customerEmail))
	if customerEmail == "" {
		return nil, apperr.Newf(apperr.KindValidation, "service.wishlist.List", "email is required")
	}
	return s.store.GetWishlistEntries(ctx, customerEmail)
}

// Update changes the keyword on one of the customer's subscriptions.
func (s *WishlistService) Update(ctx context.Context, id int64, customerEmail, keyword string) error {
	const op = "service.wishlist.Update"

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return apperr.Newf(apperr.KindValidation, op, "keyword is required")
	}
	return s.store.UpdateWishlistEntry(ctx, id, strings.ToLower(strings.TrimSpace(customerEmail)), keyword)
}

// Unsubscribe removes one of the customer's subscriptions. Entries belonging
// to other customers are invisible to the caller.
func (s *WishlistService) Unsubscribe(ctx context.Context, id int64, customerEmail string) error {
	return s.store.DeleteWishlistEntry(ctx, id, strings.ToLower(strings.TrimSpace(customerEmail)))
}
