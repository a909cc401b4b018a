package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"cardops/internal/util"
)

type fakeReconciler struct {
	products       []string
	inventoryItems []string
}

func (f *fakeReconciler) ReconcileProduct(_ context.Context, productID string) error {
	f.products = append(f.products, productID)
	return nil
}

func (f *fakeReconciler) ReconcileInventoryItem(_ context.Context, inventoryItemID string) error {
	f.inventoryItems = append(f.inventoryItems, inventoryItemID)
	return nil
}

type fakeDedupe struct {
	processed map[string]bool
}

func (f *fakeDedupe) IsWebhookProcessed(_ context.Context, id string) (bool, error) {
	return f.processed[id], nil
}

func (f *fakeDedupe) MarkWebhookProcessed(_ context.Context, id, _ string) error {
	if f.processed == nil {
		f.processed = map[string]bool{}
	}
	f.processed[id] = true
	return nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestWebhookRouter(reconciler *fakeReconciler, dedupe *fakeDedupe) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &WebhookHandler{
		secret:     "test-secret",
		compliance: reconciler,
		dedupe:     dedupe,
		ring:       newRecentRing(recentWebhookCapacity),
		logger:     util.GetLogger(),
	}
	router := gin.New()
	router.POST("/webhooks/:topic", h.Handle)
	return router
}

func postWebhook(router *gin.Engine, topic, webhookID string, body []byte, hmacHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+topic, bytes.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-Sha256", hmacHeader)
	if webhookID != "" {
		req.Header.Set("X-Shopify-Webhook-Id", webhookID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadHMAC(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := newTestWebhookRouter(reconciler, &fakeDedupe{})

	body := []byte(`{"admin_graphql_api_id": "gid://shopify/Product/1"}`)
	w := postWebhook(router, "products-update", "wh-1", body, signBody(body, "wrong"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, reconciler.products)
}

func TestWebhookDispatchesProductUpdate(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := newTestWebhookRouter(reconciler, &fakeDedupe{})

	body := []byte(`{"admin_graphql_api_id": "gid://shopify/Product/1"}`)
	w := postWebhook(router, "products-update", "wh-1", body, signBody(body, "test-secret"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"gid://shopify/Product/1"}, reconciler.products)
}

func TestWebhookDispatchesInventoryUpdate(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := newTestWebhookRouter(reconciler, &fakeDedupe{})

	body := []byte(`{"inventory_item_id": 987}`)
	w := postWebhook(router, "inventory-levels-update", "wh-2", body, signBody(body, "test-secret"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"gid://shopify/InventoryItem/987"}, reconciler.inventoryItems)
}

func TestWebhookDuplicateDeliverySkipped(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := newTestWebhookRouter(reconciler, &fakeDedupe{})

	body := []byte(`{"admin_graphql_api_id": "gid://shopify/Product/1"}`)
	sig := signBody(body, "test-secret")

	first := postWebhook(router, "products-update", "wh-dup", body, sig)
	second := postWebhook(router, "products-update", "wh-dup", body, sig)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Len(t, reconciler.products, 1)
}

func TestWebhookPersistedDedupeCatchesEvictedIDs(t *testing.T) {
	reconciler := &fakeReconciler{}
	dedupe := &fakeDedupe{processed: map[string]bool{"wh-old": true}}
	router := newTestWebhookRouter(reconciler, dedupe)

	body := []byte(`{"admin_graphql_api_id": "gid://shopify/Product/1"}`)
	w := postWebhook(router, "products-update", "wh-old", body, signBody(body, "test-secret"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
	assert.Empty(t, reconciler.products)
}

func TestWebhookUnknownTopicAcknowledged(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := newTestWebhookRouter(reconciler, &fakeDedupe{})

	body := []byte(`{}`)
	w := postWebhook(router, "orders-create", "wh-3", body, signBody(body, "test-secret"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, reconciler.products)
	assert.Empty(t, reconciler.inventoryItems)
}

func TestRecentRingEvictsOldest(t *testing.T) {
	ring := newRecentRing(3)

	assert.False(t, ring.Seen("a"))
	assert.False(t, ring.Seen("b"))
	assert.False(t, ring.Seen("c"))
	assert.True(t, ring.Seen("a"))

	// d evicts a, the oldest slot. Re-adding a then evicts b.
	assert.False(t, ring.Seen("d"))
	assert.False(t, ring.Seen("a"))
	assert.True(t, ring.Seen("c"))
	assert.False(t, ring.Seen("b"))
}

func TestRecentRingDistinctIDs(t *testing.T) {
	ring := newRecentRing(recentWebhookCapacity)
	for i := 0; i < recentWebhookCapacity; i++ {
		assert.False(t, ring.Seen(fmt.Sprintf("wh-%d", i)))
	}
	for i := 0; i < recentWebhookCapacity; i++ {
		assert.True(t, ring.Seen(fmt.Sprintf("wh-%d", i)))
	}
}
