package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardops/internal/apperr"
	"cardops/internal/carrier"
	"cardops/internal/models"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/util"
)

// Tracker queries the carrier for a shipment's current status.
type Tracker interface {
	Track(ctx context.Context, trackingNumber string) (string, error)
}

// LotStore is the persistence surface the lot workflows need.
type LotStore interface {
	CreateLot(ctx context.Context, lot *models.Lot) error
	GetLotByID(ctx context.Context, id int64) (*models.Lot, error)
	GetLots(ctx context.Context) ([]models.Lot, error)
	UpdateLotEstimatedValue(ctx context.Context, lotID int64, value decimal.Decimal) error
	RecordLotPayment(ctx context.Context, lotID int64, amount decimal.Decimal) (*models.LotPayment, error)
	GetLotPayments(ctx context.Context, lotID int64) ([]models.LotPayment, error)
	UpdateLotTracking(ctx context.Context, lotID int64, status string) error
	MarkLotConverted(ctx context.Context, lotID int64) error
	CreateLotProduct(ctx context.Context, lp *models.LotProduct) error
	GetLotProductByID(ctx context.Context, id int64) (*models.LotProduct, error)
	GetLotProductsByLotID(ctx context.Context, lotID int64) ([]models.LotProduct, error)
	CreateLotProductVariant(ctx context.Context, v *models.LotProductVariant) error
	GetLotProductVariants(ctx context.Context, lotProductID int64) ([]models.LotProductVariant, error)
	MarkLotProductConverted(ctx context.Context, lotProductID int64, shopifyProductID string) (bool, error)
	SetLotProductVariantRemoteID(ctx context.Context, variantID int64, shopifyVariantID string) error
	GetSession(ctx context.Context, shop string) (*models.Session, error)
}

// LotService manages lot purchases from acquisition through conversion into
// live products.
type LotService struct {
	store    LotStore
	tracker  Tracker
	commerce CommerceWriter
	shop     string
	logger   *zap.Logger
}

// NewLotService wires the lot workflows
func NewLotService(st *store.Store, tracker *carrier.Client, commerce *shopify.Client, shop string) *LotService {
	return &LotService{
		store:    st,
		tracker:  tracker,
		commerce: commerce,
		shop:     shop,
		logger:   util.GetLogger(),
	}
}

// CreateLotInput carries the fields a new lot needs. Debt starts at the total
// cost when not supplied.
type CreateLotInput struct {
	Vendor         string          `json:"vendor"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	TrackingNumber string          `json:"tracking_number"`
}

// CreateLot validates and persists a new lot.
func (s *LotService) CreateLot(ctx context.Context, in CreateLotInput) (*models.Lot, error) {
	const op = "service.CreateLot"
	ctx, span := util.StartSpan(ctx, "LotService.CreateLot")
	defer span.End()

	if strings.TrimSpace(in.Vendor) == "" {
		return nil, apperr.Newf(apperr.KindValidation, op, "vendor is required")
	}
	if in.TotalCost.IsNegative() {
		return nil, apperr.Newf(apperr.KindValidation, op, "total cost cannot be negative")
	}
	if in.PurchaseDate.IsZero() {
		in.PurchaseDate = time.Now()
	}

	lot := &models.Lot{
		Vendor:         in.Vendor,
		PurchaseDate:   in.PurchaseDate,
		TotalCost:      in.TotalCost,
		EstimatedValue: in.EstimatedValue,
		Debt:           in.TotalCost,
		TrackingStatus: models.TrackingStatusUnknown,
	}
	if in.TrackingNumber != "" {
		lot.TrackingNumber = sql.NullString{String: in.TrackingNumber, Valid: true}
		lot.TrackingStatus = models.TrackingStatusPreTransit
	}

	if err := s.store.CreateLot(ctx, lot); err != nil {
		return nil, err
	}
	s.logger.Info("Lot created",
		zap.Int64("lot_id", lot.ID),
		zap.String("vendor", lot.Vendor))
	return lot, nil
}

// GetLots lists all lots newest first.
func (s *LotService) GetLots(ctx context.Context) ([]models.Lot, error) {
	return s.store.GetLots(ctx)
}

// GetLot fetches one lot with its payment history.
func (s *LotService) GetLot(ctx context.Context, lotID int64) (*models.Lot, []models.LotPayment, error) {
	lot, err := s.store.GetLotByID(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.store.GetLotPayments(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	return lot, payments, nil
}

// UpdateEstimatedValue revises the lot's estimate.
func (s *LotService) UpdateEstimatedValue(ctx context.Context, lotID int64, value decimal.Decimal) error {
	if value.IsNegative() {
		return apperr.Newf(apperr.KindValidation, "service.UpdateEstimatedValue", "estimate cannot be negative")
	}
	return s.store.UpdateLotEstimatedValue(ctx, lotID, value)
}

// RecordPayment applies a payment to the lot's debt. Overpayment is clamped:
// the recorded payment row carries only the amount actually applied.
func (s *LotService) RecordPayment(ctx context.Context, lotID int64, amount decimal.Decimal) (*models.LotPayment, error) {
	const op = "service.RecordPayment"
	ctx, span := util.StartSpan(ctx, "LotService.RecordPayment")
	defer span.End()

	if !amount.IsPositive() {
		return nil, apperr.Newf(apperr.KindValidation, op, "payment amount must be positive")
	}

	payment, err := s.store.RecordLotPayment(ctx, lotID, amount)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment recorded",
		zap.Int64("lot_id", lotID),
		zap.String("requested", amount.String()),
		zap.String("applied", payment.Amount.String()))
	return payment, nil
}

// RefreshTracking queries the carrier and stores the mapped status.
func (s *LotService) RefreshTracking(ctx context.Context, lotID int64) (string, error) {
	const op = "service.RefreshTracking"
	ctx, span := util.StartSpan(ctx, "LotService.RefreshTracking")
	defer span.End()

	lot, err := s.store.GetLotByID(ctx, lotID)
	if err != nil {
		return "", err
	}
	if !lot.TrackingNumber.Valid || lot.TrackingNumber.String == "" {
		return "", apperr.Newf(apperr.KindValidation, op, "lot %d has no tracking number", lotID)
	}

	status, err := s.tracker.Track(ctx, lot.TrackingNumber.String)
	if err != nil {
		return "", err
	}
	if status != lot.TrackingStatus {
		if err := s.store.UpdateLotTracking(ctx, lotID, status); err != nil {
			return "", err
		}
		s.logger.Info("Tracking status updated",
			zap.Int64("lot_id", lotID),
			zap.String("from", lot.TrackingStatus),
			zap.String("to", status))
	}
	return status, nil
}

// AddLotProduct records an intended product and its variants under a lot.
func (s *LotService) AddLotProduct(ctx context.Context, lotID int64, title string, variants []models.LotProductVariant) (*models.LotProduct, error) {
	const op = "service.AddLotProduct"

	if strings.TrimSpace(title) == "" {
		return nil, apperr.Newf(apperr.KindValidation, op, "title is required")
	}
	if _, err := s.store.GetLotByID(ctx, lotID); err != nil {
		return nil, err
	}

	lp := &models.LotProduct{LotID: lotID, Title: title}
	if err := s.store.CreateLotProduct(ctx, lp); err != nil {
		return nil, err
	}
	for i := range variants {
		variants[i].LotProductID = lp.ID
		if variants[i].Quantity <= 0 {
			variants[i].Quantity = 1
		}
		if err := s.store.CreateLotProductVariant(ctx, &variants[i]); err != nil {
			return nil, err
		}
	}
	return lp, nil
}

// ConvertLotProduct turns an intended product into a live remote product.
// Conversion is one-way; a lot product that already converted is rejected.
func (s *LotService) ConvertLotProduct(ctx context.Context, lotProductID int64) (string, error) {
	const op = "service.ConvertLotProduct"
	ctx, span := util.StartSpan(ctx, "LotService.ConvertLotProduct")
	defer span.End()

	lp, err := s.store.GetLotProductByID(ctx, lotProductID)
	if err != nil {
		return "", err
	}
	if lp.ConvertedAt.Valid {
		return "", apperr.Newf(apperr.KindValidation, op, "lot product %d already converted", lotProductID)
	}

	variants, err := s.store.GetLotProductVariants(ctx, lotProductID)
	if err != nil {
		return "", err
	}
	if len(variants) == 0 {
		return "", apperr.Newf(apperr.KindValidation, op, "lot product %d has no variants", lotProductID)
	}

	session, err := s.store.GetSession(ctx, s.shop)
	if err != nil {
		return "", apperr.New(apperr.KindPermanentAuth, op, err)
	}

	locationID := session.DefaultLocationID
	if locationID == "" {
		locationID, err = s.commerce.ResolveDefaultLocation(ctx, session.AccessToken)
		if err != nil {
			return "", err
		}
	}

	spec := shopify.ProductSpec{Title: lp.Title, ProductType: "Trading Card"}
	for _, v := range variants {
		price := v.Price
		spec.SubItems = append(spec.SubItems, shopify.SubItemSpec{
			Title:         v.Title,
			PriceOverride: &price,
			Quantity:      v.Quantity,
		})
	}

	input, variantInputs := shopify.BuildProductInput(spec, variants[0].Price, locationID)
	productID, err := s.commerce.CreateProduct(ctx, session.AccessToken, input)
	if err != nil {
		return "", err
	}

	converted, err := s.store.MarkLotProductConverted(ctx, lotProductID, productID)
	if err != nil {
		return "", err
	}
	if !converted {
		// A concurrent convert won the guard. The remote product this call
		// created is orphaned and flagged for the operator.
		s.logger.Error("Conversion guard rejected duplicate convert",
			zap.Int64("lot_product_id", lotProductID),
			zap.String("orphaned_product_id", productID))
		return "", apperr.Newf(apperr.KindValidation, op, "lot product %d already converted", lotProductID)
	}

	for i, vi := range variantInputs {
		remoteID, err := s.commerce.CreateVariant(ctx, session.AccessToken, productID, vi)
		if err != nil {
			return "", err
		}
		if err := s.store.SetLotProductVariantRemoteID(ctx, variants[i].ID, remoteID); err != nil {
			s.logger.Warn("Failed to stamp remote variant ID",
				zap.Int64("variant_id", variants[i].ID), zap.Error(err))
		}
	}

	s.markLotConvertedIfComplete(ctx, lp.LotID)

	s.logger.Info("Lot product converted",
		zap.Int64("lot_product_id", lotProductID),
		zap.String("product_id", productID))
	return productID, nil
}

func (s *LotService) markLotConvertedIfComplete(ctx context.Context, lotID int64) {
	siblings, err := s.store.GetLotProductsByLotID(ctx, lotID)
	if err != nil {
		s.logger.Warn("Failed to check lot conversion state",
			zap.Int64("lot_id", lotID), zap.Error(err))
		return
	}
	for _, sib := range siblings {
		if !sib.ConvertedAt.Valid {
			return
		}
	}
	if err := s.store.MarkLotConverted(ctx, lotID); err != nil {
		s.logger.Warn("Failed to mark lot converted",
			zap.Int64("lot_id", lotID), zap.Error(err))
	}
}
