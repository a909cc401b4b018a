package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardops/internal/models"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/util"
)

// cursorPageBudget caps the sequential traversal. Catalogs past this size go
// through the bulk-operation export instead of hammering paged queries.
const cursorPageBudget = 20

var errPageBudgetExceeded = errors.New("cursor page budget exceeded")

// VariantWalker traverses every variant, by pages or by bulk export.
type VariantWalker interface {
	ForEachVariantPage(ctx context.Context, accessToken string, pageSize int, fn func(rows []shopify.VariantRow) error) (int, error)
	RunBulkVariantExport(ctx context.Context, accessToken string, cfg shopify.BulkPollConfig, fn func(row shopify.VariantRow) error) error
}

// SnapshotStore persists the store-value time series.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap *models.AnalyticsSnapshot) error
	GetSnapshots(ctx context.Context, limit int) ([]models.AnalyticsSnapshot, error)
	GetSession(ctx context.Context, shop string) (*models.Session, error)
}

// AnalyticsService computes the total retail value of on-hand inventory.
type AnalyticsService struct {
	store    SnapshotStore
	commerce VariantWalker
	shop     string
	bulkCfg  shopify.BulkPollConfig
	logger   *zap.Logger
}

// NewAnalyticsService wires the store-value computation
func NewAnalyticsService(st *store.Store, commerce *shopify.Client, shop string, bulkCfg shopify.BulkPollConfig) *AnalyticsService {
	return &AnalyticsService{
		store:    st,
		commerce: commerce,
		shop:     shop,
		bulkCfg:  bulkCfg,
		logger:   util.GetLogger(),
	}
}

// ComputeStoreValue sums price times on-hand quantity over every variant and
// appends a snapshot. Small catalogs walk pages; a catalog that blows the page
// budget is recomputed from scratch via bulk export.
func (s *AnalyticsService) ComputeStoreValue(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.ComputeStoreValue")
	defer span.End()

	session, err := s.store.GetSession(ctx, s.shop)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	accumulate := func(row shopify.VariantRow) {
		if row.Quantity <= 0 {
			return
		}
		price, perr := decimal.NewFromString(row.Price)
		if perr != nil {
			s.logger.Warn("Skipping variant with unparseable price",
				zap.String("variant_id", row.VariantID),
				zap.String("price", row.Price))
			return
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(row.Quantity))))
	}

	pages := 0
	_, err = s.commerce.ForEachVariantPage(ctx, session.AccessToken, 100, func(rows []shopify.VariantRow) error {
		pages++
		if pages > cursorPageBudget {
			return errPageBudgetExceeded
		}
		for _, row := range rows {
			accumulate(row)
		}
		return nil
	})

	if errors.Is(err, errPageBudgetExceeded) {
		s.logger.Info("Catalog exceeds page budget, switching to bulk export",
			zap.Int("page_budget", cursorPageBudget))
		total = decimal.Zero
		err = s.commerce.RunBulkVariantExport(ctx, session.AccessToken, s.bulkCfg, func(row shopify.VariantRow) error {
			accumulate(row)
			return nil
		})
	}
	if err != nil {
		return decimal.Zero, err
	}

	snap := &models.AnalyticsSnapshot{Value: total}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return decimal.Zero, err
	}

	s.logger.Info("Store value computed",
		zap.String("value", total.String()),
		zap.Int("pages", pages))
	return total, nil
}

// GetSnapshots returns the recent time series, oldest first.
func (s *AnalyticsService) GetSnapshots(ctx context.Context, limit int) ([]models.AnalyticsSnapshot, error) {
	return s.store.GetSnapshots(ctx, limit)
}
