package store

import (
	"context"
	"database/sql"
	"fmt"

	"cardops/internal/models"

	"github.com/shopspring/decimal"
)

// CreateLot creates a new lot. PurchaseDate is fixed at insert and never
// updated afterwards.
func (s *Store) CreateLot(ctx context.Context, lot *models.Lot) error {
	query := `
		INSERT INTO lots (vendor, purchase_date, total_cost, estimated_value, debt, tracking_number, tracking_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, lot, query,
		lot.Vendor, lot.PurchaseDate, lot.TotalCost, lot.EstimatedValue,
		lot.Debt, lot.TrackingNumber, lot.TrackingStatus)
}

// GetLotByID retrieves a lot by ID
func (s *Store) GetLotByID(ctx context.Context, id int64) (*models.Lot, error) {
	var lot models.Lot
	err := s.db.GetContext(ctx, &lot, "SELECT * FROM lots WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lot not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// GetLots retrieves all lots newest first
func (s *Store) GetLots(ctx context.Context) ([]models.Lot, error) {
	var lots []models.Lot
	err := s.db.SelectContext(ctx, &lots, "SELECT * FROM lots ORDER BY purchase_date DESC, id DESC")
	return lots, err
}

// UpdateLotEstimatedValue updates the estimate only; cost and purchase date
// stay as created.
func (s *Store) UpdateLotEstimatedValue(ctx context.Context, lotID int64, value decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lots SET estimated_value = $1, updated_at = NOW() WHERE id = $2",
		value, lotID)
	return err
}

// RecordLotPayment applies a payment inside a transaction. The applied amount
// is clamped to the remaining debt so debt never goes negative; the clamped
// amount is what gets recorded in the payment history.
func (s *Store) RecordLotPayment(ctx context.Context, lotID int64, amount decimal.Decimal) (*models.LotPayment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var debt decimal.Decimal
	err = tx.GetContext(ctx, &debt, "SELECT debt FROM lots WHERE id = $1 FOR UPDATE", lotID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lot not found: %d", lotID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock lot: %w", err)
	}

	applied := clampPayment(amount, debt)

	_, err = tx.ExecContext(ctx,
		"UPDATE lots SET debt = debt - $1, updated_at = NOW() WHERE id = $2",
		applied, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to update debt: %w", err)
	}

	payment := &models.LotPayment{LotID: lotID, Amount: applied}
	err = tx.GetContext(ctx, payment,
		"INSERT INTO lot_payments (lot_id, amount) VALUES ($1, $2) RETURNING id, lot_id, amount, paid_at",
		lotID, applied)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payment, nil
}

// clampPayment limits a payment to the remaining debt so the balance never
// goes negative. Overpayment records only what was applied.
func clampPayment(amount, debt decimal.Decimal) decimal.Decimal {
	if amount.GreaterThan(debt) {
		return debt
	}
	return amount
}

// GetLotPayments retrieves the payment history for a lot
func (s *Store) GetLotPayments(ctx context.Context, lotID int64) ([]models.LotPayment, error) {
	var payments []models.LotPayment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM lot_payments WHERE lot_id = $1 ORDER BY paid_at", lotID)
	return payments, err
}

// UpdateLotTracking stores the latest carrier status for a lot
func (s *Store) UpdateLotTracking(ctx context.Context, lotID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lots SET tracking_status = $1, updated_at = NOW() WHERE id = $2",
		status, lotID)
	return err
}

// MarkLotConverted sets the one-way conversion flag
func (s *Store) MarkLotConverted(ctx context.Context, lotID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lots SET converted = TRUE, updated_at = NOW() WHERE id = $1", lotID)
	return err
}

// CreateLotProduct creates an intended product under a lot
func (s *Store) CreateLotProduct(ctx context.Context, lp *models.LotProduct) error {
	return s.db.GetContext(ctx, lp,
		"INSERT INTO lot_products (lot_id, title) VALUES ($1, $2) RETURNING id, created_at",
		lp.LotID, lp.Title)
}

// GetLotProductByID retrieves a lot product by ID
func (s *Store) GetLotProductByID(ctx context.Context, id int64) (*models.LotProduct, error) {
	var lp models.LotProduct
	err := s.db.GetContext(ctx, &lp, "SELECT * FROM lot_products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lot product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

// GetLotProductsByLotID retrieves all intended products for a lot
func (s *Store) GetLotProductsByLotID(ctx context.Context, lotID int64) ([]models.LotProduct, error) {
	var lps []models.LotProduct
	err := s.db.SelectContext(ctx, &lps,
		"SELECT * FROM lot_products WHERE lot_id = $1 ORDER BY id", lotID)
	return lps, err
}

// CreateLotProductVariant creates a variant under a lot product
func (s *Store) CreateLotProductVariant(ctx context.Context, v *models.LotProductVariant) error {
	return s.db.GetContext(ctx, &v.ID, `
		INSERT INTO lot_product_variants (lot_product_id, title, price, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		v.LotProductID, v.Title, v.Price, v.Quantity)
}

// GetLotProductVariants retrieves all variants for a lot product
func (s *Store) GetLotProductVariants(ctx context.Context, lotProductID int64) ([]models.LotProductVariant, error) {
	var variants []models.LotProductVariant
	err := s.db.SelectContext(ctx, &variants,
		"SELECT * FROM lot_product_variants WHERE lot_product_id = $1 ORDER BY id", lotProductID)
	return variants, err
}

// MarkLotProductConverted stamps the created remote product onto the lot
// product, but only if it has not been converted before. Returns false when
// the guard rejects a second conversion.
func (s *Store) MarkLotProductConverted(ctx context.Context, lotProductID int64, shopifyProductID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lot_products
		SET shopify_product_id = $1, converted_at = NOW()
		WHERE id = $2 AND converted_at IS NULL`,
		shopifyProductID, lotProductID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetLotProductVariantRemoteID stamps the created remote variant
func (s *Store) SetLotProductVariantRemoteID(ctx context.Context, variantID int64, shopifyVariantID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lot_product_variants SET shopify_variant_id = $1 WHERE id = $2",
		shopifyVariantID, variantID)
	return err
}
