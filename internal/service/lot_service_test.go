package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/util"
)

type fakeLotStore struct {
	lots          map[int64]*models.Lot
	products      map[int64]*models.LotProduct
	variants      map[int64][]models.LotProductVariant
	payments      []models.LotPayment
	trackingSet   []string
	convertDenied bool
	nextID        int64
}

func newFakeLotStore() *fakeLotStore {
	return &fakeLotStore{
		lots:     map[int64]*models.Lot{},
		products: map[int64]*models.LotProduct{},
		variants: map[int64][]models.LotProductVariant{},
	}
}

func (f *fakeLotStore) CreateLot(_ context.Context, lot *models.Lot) error {
	f.nextID++
	lot.ID = f.nextID
	f.lots[lot.ID] = lot
	return nil
}

func (f *fakeLotStore) GetLotByID(_ context.Context, id int64) (*models.Lot, error) {
	lot, ok := f.lots[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "store.GetLotByID", "lot %d", id)
	}
	return lot, nil
}

func (f *fakeLotStore) GetLots(context.Context) ([]models.Lot, error) { return nil, nil }

func (f *fakeLotStore) UpdateLotEstimatedValue(_ context.Context, lotID int64, value decimal.Decimal) error {
	f.lots[lotID].EstimatedValue = value
	return nil
}

func (f *fakeLotStore) RecordLotPayment(_ context.Context, lotID int64, amount decimal.Decimal) (*models.LotPayment, error) {
	lot := f.lots[lotID]
	applied := amount
	if applied.GreaterThan(lot.Debt) {
		applied = lot.Debt
	}
	lot.Debt = lot.Debt.Sub(applied)
	p := models.LotPayment{LotID: lotID, Amount: applied, PaidAt: time.Now()}
	f.payments = append(f.payments, p)
	return &p, nil
}

func (f *fakeLotStore) GetLotPayments(context.Context, int64) ([]models.LotPayment, error) {
	return f.payments, nil
}

func (f *fakeLotStore) UpdateLotTracking(_ context.Context, lotID int64, status string) error {
	f.lots[lotID].TrackingStatus = status
	f.trackingSet = append(f.trackingSet, status)
	return nil
}

func (f *fakeLotStore) MarkLotConverted(_ context.Context, lotID int64) error {
	f.lots[lotID].Converted = true
	return nil
}

func (f *fakeLotStore) CreateLotProduct(_ context.Context, lp *models.LotProduct) error {
	f.nextID++
	lp.ID = f.nextID
	f.products[lp.ID] = lp
	return nil
}

func (f *fakeLotStore) GetLotProductByID(_ context.Context, id int64) (*models.LotProduct, error) {
	lp, ok := f.products[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "store.GetLotProductByID", "lot product %d", id)
	}
	return lp, nil
}

func (f *fakeLotStore) GetLotProductsByLotID(_ context.Context, lotID int64) ([]models.LotProduct, error) {
	var out []models.LotProduct
	for _, lp := range f.products {
		if lp.LotID == lotID {
			out = append(out, *lp)
		}
	}
	return out, nil
}

func (f *fakeLotStore) CreateLotProductVariant(_ context.Context, v *models.LotProductVariant) error {
	f.nextID++
	v.ID = f.nextID
	f.variants[v.LotProductID] = append(f.variants[v.LotProductID], *v)
	return nil
}

func (f *fakeLotStore) GetLotProductVariants(_ context.Context, lotProductID int64) ([]models.LotProductVariant, error) {
	return f.variants[lotProductID], nil
}

func (f *fakeLotStore) MarkLotProductConverted(_ context.Context, lotProductID int64, shopifyProductID string) (bool, error) {
	if f.convertDenied {
		return false, nil
	}
	lp := f.products[lotProductID]
	if lp.ConvertedAt.Valid {
		return false, nil
	}
	lp.ShopifyProductID = sql.NullString{String: shopifyProductID, Valid: true}
	lp.ConvertedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeLotStore) SetLotProductVariantRemoteID(context.Context, int64, string) error {
	return nil
}

func (f *fakeLotStore) GetSession(context.Context, string) (*models.Session, error) {
	return &models.Session{Shop: "test.myshopify.com", AccessToken: "tok", DefaultLocationID: "loc"}, nil
}

type fakeTracker struct {
	status string
}

func (f *fakeTracker) Track(context.Context, string) (string, error) {
	return f.status, nil
}

func newTestLotService(st *fakeLotStore, tracker *fakeTracker, commerce *fakeCommerce) *LotService {
	return &LotService{
		store:    st,
		tracker:  tracker,
		commerce: commerce,
		shop:     "test.myshopify.com",
		logger:   util.GetLogger(),
	}
}

func seedLot(t *testing.T, svc *LotService, cost string) *models.Lot {
	t.Helper()
	lot, err := svc.CreateLot(context.Background(), CreateLotInput{
		Vendor:    "eBay",
		TotalCost: decimal.RequireFromString(cost),
	})
	require.NoError(t, err)
	return lot
}

func TestCreateLotDebtStartsAtCost(t *testing.T) {
	svc := newTestLotService(newFakeLotStore(), &fakeTracker{}, &fakeCommerce{})

	lot := seedLot(t, svc, "250.00")
	assert.True(t, lot.Debt.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, models.TrackingStatusUnknown, lot.TrackingStatus)
	assert.False(t, lot.PurchaseDate.IsZero())
}

func TestRecordPaymentClampsOverpayment(t *testing.T) {
	st := newFakeLotStore()
	svc := newTestLotService(st, &fakeTracker{}, &fakeCommerce{})
	lot := seedLot(t, svc, "100.00")

	payment, err := svc.RecordPayment(context.Background(), lot.ID, decimal.RequireFromString("150.00"))
	require.NoError(t, err)

	// Only the remaining debt is applied and recorded.
	assert.Equal(t, "100", payment.Amount.String())
	assert.True(t, st.lots[lot.ID].Debt.IsZero())
}

func TestRecordPaymentRejectsNonPositive(t *testing.T) {
	svc := newTestLotService(newFakeLotStore(), &fakeTracker{}, &fakeCommerce{})
	lot := seedLot(t, svc, "100.00")

	_, err := svc.RecordPayment(context.Background(), lot.ID, decimal.Zero)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRefreshTrackingOnlyWritesOnChange(t *testing.T) {
	st := newFakeLotStore()
	svc := newTestLotService(st, &fakeTracker{status: models.TrackingStatusInTransit}, &fakeCommerce{})

	lot, err := svc.CreateLot(context.Background(), CreateLotInput{
		Vendor:         "eBay",
		TotalCost:      decimal.RequireFromString("10"),
		TrackingNumber: "1Z999",
	})
	require.NoError(t, err)

	status, err := svc.RefreshTracking(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusInTransit, status)
	assert.Equal(t, []string{models.TrackingStatusInTransit}, st.trackingSet)

	// Same status again: no write.
	_, err = svc.RefreshTracking(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.Len(t, st.trackingSet, 1)
}

func TestRefreshTrackingRequiresTrackingNumber(t *testing.T) {
	svc := newTestLotService(newFakeLotStore(), &fakeTracker{}, &fakeCommerce{})
	lot := seedLot(t, svc, "10")

	_, err := svc.RefreshTracking(context.Background(), lot.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestConvertLotProduct(t *testing.T) {
	st := newFakeLotStore()
	commerce := &fakeCommerce{productID: "gid://shopify/Product/42"}
	svc := newTestLotService(st, &fakeTracker{}, commerce)
	lot := seedLot(t, svc, "10")

	lp, err := svc.AddLotProduct(context.Background(), lot.ID, "Charizard Holo", []models.LotProductVariant{
		{Title: "PSA 9", Price: decimal.RequireFromString("300.00"), Quantity: 1},
	})
	require.NoError(t, err)

	productID, err := svc.ConvertLotProduct(context.Background(), lp.ID)
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Product/42", productID)
	require.Len(t, commerce.variants, 1)
	assert.Equal(t, "300", commerce.variants[0].Price.String())

	// The lone product converted, so the lot flips too.
	assert.True(t, st.lots[lot.ID].Converted)
}

func TestConvertLotProductRejectsSecondConvert(t *testing.T) {
	st := newFakeLotStore()
	svc := newTestLotService(st, &fakeTracker{}, &fakeCommerce{productID: "gid://shopify/Product/42"})
	lot := seedLot(t, svc, "10")

	lp, err := svc.AddLotProduct(context.Background(), lot.ID, "Blastoise", []models.LotProductVariant{
		{Title: "PSA 8", Price: decimal.RequireFromString("80.00"), Quantity: 1},
	})
	require.NoError(t, err)

	_, err = svc.ConvertLotProduct(context.Background(), lp.ID)
	require.NoError(t, err)

	_, err = svc.ConvertLotProduct(context.Background(), lp.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestConvertLotProductGuardCatchesRace(t *testing.T) {
	st := newFakeLotStore()
	st.convertDenied = true
	svc := newTestLotService(st, &fakeTracker{}, &fakeCommerce{productID: "gid://shopify/Product/42"})
	lot := seedLot(t, svc, "10")

	lp, err := svc.AddLotProduct(context.Background(), lot.ID, "Venusaur", []models.LotProductVariant{
		{Title: "PSA 7", Price: decimal.RequireFromString("50.00"), Quantity: 1},
	})
	require.NoError(t, err)

	_, err = svc.ConvertLotProduct(context.Background(), lp.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
