package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cardops/internal/models"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/util"
)

// CommerceReader is the slice of the Admin API the compliance reactor uses.
type CommerceReader interface {
	GetProduct(ctx context.Context, accessToken, productID string) (*shopify.ProductSummary, error)
	GetProductByInventoryItem(ctx context.Context, accessToken, inventoryItemID string) (string, error)
	UpdateProductStatus(ctx context.Context, accessToken, productID, status string) error
	PublishToAllChannels(ctx context.Context, accessToken, productID string) error
	CollectionContainsProduct(ctx context.Context, accessToken, collectionID, productID string) (bool, error)
	AddProductToCollectionFront(ctx context.Context, accessToken, collectionID, productID string) error
}

// BypassStore checks and records the manual status allow-list.
type BypassStore interface {
	IsBypassed(ctx context.Context, productID string) (bool, error)
	GetSession(ctx context.Context, shop string) (*models.Session, error)
	GetAllWishlistEntries(ctx context.Context) ([]models.WishlistEntry, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// ComplianceService keeps product status aligned with inventory: active while
// stock exists or a bypass is set, draft otherwise. Side effects after the
// status flip are best-effort and never rolled back.
type ComplianceService struct {
	store    BypassStore
	commerce CommerceReader
	shop     string

	// newArrivalsID may be empty, which disables front insertion.
	newArrivalsID string
	logger        *zap.Logger
}

// NewComplianceService wires the inventory compliance reactor
func NewComplianceService(st *store.Store, commerce *shopify.Client, shop, newArrivalsID string) *ComplianceService {
	return &ComplianceService{
		store:         st,
		commerce:      commerce,
		shop:          shop,
		newArrivalsID: newArrivalsID,
		logger:        util.GetLogger(),
	}
}

// ReconcileInventoryItem resolves an inventory item to its owning product and
// reconciles that product.
func (s *ComplianceService) ReconcileInventoryItem(ctx context.Context, inventoryItemID string) error {
	ctx, span := util.StartSpan(ctx, "ComplianceService.ReconcileInventoryItem")
	defer span.End()

	session, err := s.store.GetSession(ctx, s.shop)
	if err != nil {
		return err
	}

	productID, err := s.commerce.GetProductByInventoryItem(ctx, session.AccessToken, inventoryItemID)
	if err != nil {
		return err
	}
	return s.reconcile(ctx, session, productID)
}

// ReconcileProduct re-evaluates one product's status against its inventory.
func (s *ComplianceService) ReconcileProduct(ctx context.Context, productID string) error {
	ctx, span := util.StartSpan(ctx, "ComplianceService.ReconcileProduct")
	defer span.End()

	session, err := s.store.GetSession(ctx, s.shop)
	if err != nil {
		return err
	}
	return s.reconcile(ctx, session, productID)
}

func (s *ComplianceService) reconcile(ctx context.Context, session *models.Session, productID string) error {
	summary, err := s.commerce.GetProduct(ctx, session.AccessToken, productID)
	if err != nil {
		return err
	}

	bypassed, err := s.store.IsBypassed(ctx, productID)
	if err != nil {
		return err
	}

	desired := "DRAFT"
	if summary.TotalInventory > 0 || bypassed {
		desired = "ACTIVE"
	}

	if summary.Status == desired {
		return nil
	}

	if err := s.commerce.UpdateProductStatus(ctx, session.AccessToken, productID, desired); err != nil {
		return err
	}
	util.ReconcileStatusChangesTotal.WithLabelValues(desired).Inc()
	s.logger.Info("Reconciled product status",
		zap.String("product_id", productID),
		zap.String("from", summary.Status),
		zap.String("to", desired),
		zap.Int("inventory", summary.TotalInventory),
		zap.Bool("bypassed", bypassed))

	// Restock path: back in the catalog, so re-publish, surface in new
	// arrivals and ping matching wishlists. Each step logs and moves on.
	if desired == "ACTIVE" && summary.TotalInventory > 0 {
		s.promoteActivated(ctx, session, summary)
	}
	return nil
}

func (s *ComplianceService) promoteActivated(ctx context.Context, session *models.Session, summary *shopify.ProductSummary) {
	if err := s.commerce.PublishToAllChannels(ctx, session.AccessToken, summary.ID); err != nil {
		s.logger.Warn("Failed to republish activated product",
			zap.String("product_id", summary.ID), zap.Error(err))
	}

	if s.newArrivalsID != "" && isStandardized(summary.OptionValues) {
		s.insertNewArrival(ctx, session, summary.ID)
	}

	s.notifyWishlists(ctx, summary.Title, summary.ID)
}

func (s *ComplianceService) insertNewArrival(ctx context.Context, session *models.Session, productID string) {
	has, err := s.commerce.CollectionContainsProduct(ctx, session.AccessToken, s.newArrivalsID, productID)
	if err != nil {
		s.logger.Warn("Failed to check new-arrivals membership",
			zap.String("product_id", productID), zap.Error(err))
		return
	}
	if has {
		return
	}
	if err := s.commerce.AddProductToCollectionFront(ctx, session.AccessToken, s.newArrivalsID, productID); err != nil {
		s.logger.Warn("Failed to insert into new arrivals",
			zap.String("product_id", productID), zap.Error(err))
	}
}

// notifyWishlists records a notification for every keyword subscription the
// activated title matches.
func (s *ComplianceService) notifyWishlists(ctx context.Context, title, productID string) {
	entries, err := s.store.GetAllWishlistEntries(ctx)
	if err != nil {
		s.logger.Warn("Failed to load wishlist entries", zap.Error(err))
		return
	}

	lowerTitle := strings.ToLower(title)
	for _, entry := range entries {
		if !strings.Contains(lowerTitle, strings.ToLower(entry.Keyword)) {
			continue
		}
		n := &models.Notification{
			Title:    "Wishlist match",
			Body:     fmt.Sprintf("%s is watching for: %s (product %s)", entry.CustomerEmail, title, shopify.GIDSuffix(productID)),
			LengthMS: 8000,
			Type:     models.NotificationInfo,
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			s.logger.Warn("Failed to record wishlist notification", zap.Error(err))
		}
	}
}

// isStandardized reports whether every variant option looks like a graded
// item. Raw and ungraded listings stay out of the new-arrivals rail.
func isStandardized(optionValues []string) bool {
	for _, v := range optionValues {
		lower := strings.ToLower(v)
		if strings.Contains(lower, "raw") || strings.Contains(lower, "ungraded") {
			return false
		}
	}
	return true
}
