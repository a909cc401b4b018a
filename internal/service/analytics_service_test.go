package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/models"
	"cardops/internal/shopify"
	"cardops/internal/util"
)

type fakeSnapshots struct {
	snaps []*models.AnalyticsSnapshot
}

func (f *fakeSnapshots) CreateSnapshot(_ context.Context, snap *models.AnalyticsSnapshot) error {
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeSnapshots) GetSnapshots(context.Context, int) ([]models.AnalyticsSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshots) GetSession(context.Context, string) (*models.Session, error) {
	return &models.Session{Shop: "test.myshopify.com", AccessToken: "tok"}, nil
}

type fakeWalker struct {
	pages      [][]shopify.VariantRow
	bulkRows   []shopify.VariantRow
	bulkCalled bool
}

func (f *fakeWalker) ForEachVariantPage(_ context.Context, _ string, _ int, fn func(rows []shopify.VariantRow) error) (int, error) {
	for i, page := range f.pages {
		if err := fn(page); err != nil {
			return i + 1, err
		}
	}
	return len(f.pages), nil
}

func (f *fakeWalker) RunBulkVariantExport(_ context.Context, _ string, _ shopify.BulkPollConfig, fn func(row shopify.VariantRow) error) error {
	f.bulkCalled = true
	for _, row := range f.bulkRows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func newTestAnalyticsService(walker *fakeWalker, snaps *fakeSnapshots) *AnalyticsService {
	return &AnalyticsService{
		store:    snaps,
		commerce: walker,
		shop:     "test.myshopify.com",
		logger:   util.GetLogger(),
	}
}

func TestComputeStoreValueSumsPriceTimesQuantity(t *testing.T) {
	walker := &fakeWalker{pages: [][]shopify.VariantRow{
		{
			{VariantID: "1", Price: "10.00", Quantity: 2},
			{VariantID: "2", Price: "5.50", Quantity: 1},
		},
		{
			{VariantID: "3", Price: "100.00", Quantity: 0},
			{VariantID: "4", Price: "1.25", Quantity: 4},
		},
	}}
	snaps := &fakeSnapshots{}
	svc := newTestAnalyticsService(walker, snaps)

	total, err := svc.ComputeStoreValue(context.Background())
	require.NoError(t, err)

	// 10*2 + 5.50 + 1.25*4 = 30.50; zero quantity contributes nothing.
	assert.Equal(t, "30.5", total.String())
	assert.False(t, walker.bulkCalled)

	require.Len(t, snaps.snaps, 1)
	assert.True(t, snaps.snaps[0].Value.Equal(total))
}

func TestComputeStoreValueSkipsBadPrices(t *testing.T) {
	walker := &fakeWalker{pages: [][]shopify.VariantRow{
		{
			{VariantID: "1", Price: "not-a-number", Quantity: 3},
			{VariantID: "2", Price: "2.00", Quantity: 1},
		},
	}}
	svc := newTestAnalyticsService(walker, &fakeSnapshots{})

	total, err := svc.ComputeStoreValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", total.String())
}

func TestComputeStoreValueFallsBackToBulk(t *testing.T) {
	// More pages than the cursor budget allows forces the bulk path, which
	// recomputes from scratch.
	pages := make([][]shopify.VariantRow, cursorPageBudget+1)
	for i := range pages {
		pages[i] = []shopify.VariantRow{{VariantID: "x", Price: "1.00", Quantity: 1}}
	}
	walker := &fakeWalker{
		pages: pages,
		bulkRows: []shopify.VariantRow{
			{VariantID: "1", Price: "3.00", Quantity: 2},
		},
	}
	snaps := &fakeSnapshots{}
	svc := newTestAnalyticsService(walker, snaps)

	total, err := svc.ComputeStoreValue(context.Background())
	require.NoError(t, err)

	assert.True(t, walker.bulkCalled)
	assert.Equal(t, "6", total.String())
}
