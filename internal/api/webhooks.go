package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cardops/internal/service"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/util"
)

const recentWebhookCapacity = 100

// recentRing remembers the last N webhook IDs. It absorbs the common
// burst-redelivery case cheaply; the persisted table catches everything the
// ring has already evicted.
type recentRing struct {
	mu   sync.Mutex
	ids  []string
	set  map[string]struct{}
	next int
}

func newRecentRing(capacity int) *recentRing {
	return &recentRing{
		ids: make([]string, capacity),
		set: make(map[string]struct{}, capacity),
	}
}

// Seen records id and reports whether it was already present.
func (r *recentRing) Seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return true
	}
	if evicted := r.ids[r.next]; evicted != "" {
		delete(r.set, evicted)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return false
}

// WebhookDedupe is the persisted half of delivery dedupe.
type WebhookDedupe interface {
	IsWebhookProcessed(ctx context.Context, webhookID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, webhookID, topic string) error
}

// Reconciler reacts to product and inventory changes.
type Reconciler interface {
	ReconcileProduct(ctx context.Context, productID string) error
	ReconcileInventoryItem(ctx context.Context, inventoryItemID string) error
}

// WebhookHandler verifies, dedupes and dispatches platform webhooks.
type WebhookHandler struct {
	secret     string
	compliance Reconciler
	dedupe     WebhookDedupe
	ring       *recentRing
	logger     *zap.Logger
}

// NewWebhookHandler creates the webhook endpoint handler
func NewWebhookHandler(secret string, compliance *service.ComplianceService, st *store.Store) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		compliance: compliance,
		dedupe:     st,
		ring:       newRecentRing(recentWebhookCapacity),
		logger:     util.GetLogger(),
	}
}

type productWebhookPayload struct {
	AdminGraphQLAPIID string `json:"admin_graphql_api_id"`
}

type inventoryWebhookPayload struct {
	InventoryItemID int64 `json:"inventory_item_id"`
}

// Handle processes one webhook delivery. Unverifiable deliveries are rejected;
// duplicates are acknowledged without reprocessing.
func (h *WebhookHandler) Handle(c *gin.Context) {
	topic := c.Param("topic")
	util.WebhooksReceivedTotal.WithLabelValues(topic).Inc()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	provided := c.GetHeader("X-Shopify-Hmac-Sha256")
	if !shopify.VerifyWebhookHMAC(body, h.secret, provided) {
		h.logger.Warn("Rejected webhook with bad HMAC", zap.String("topic", topic))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid hmac"})
		return
	}

	webhookID := c.GetHeader("X-Shopify-Webhook-Id")
	if webhookID != "" && h.isDuplicate(c.Request.Context(), webhookID) {
		util.WebhooksDuplicateTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := h.dispatch(c.Request.Context(), topic, body); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.String("topic", topic),
			zap.String("webhook_id", webhookID),
			zap.Error(err))
		// Still 200: redelivery would hit the same failure, and the
		// compliance loop is self-correcting on the next event.
	}

	if webhookID != "" {
		if err := h.dedupe.MarkWebhookProcessed(c.Request.Context(), webhookID, topic); err != nil {
			h.logger.Warn("Failed to persist webhook dedupe record",
				zap.String("webhook_id", webhookID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *WebhookHandler) isDuplicate(ctx context.Context, webhookID string) bool {
	if h.ring.Seen(webhookID) {
		return true
	}
	processed, err := h.dedupe.IsWebhookProcessed(ctx, webhookID)
	if err != nil {
		h.logger.Warn("Dedupe lookup failed, processing anyway",
			zap.String("webhook_id", webhookID), zap.Error(err))
		return false
	}
	return processed
}

func (h *WebhookHandler) dispatch(ctx context.Context, topic string, body []byte) error {
	switch topic {
	case "products-update":
		var payload productWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("failed to parse product payload: %w", err)
		}
		if payload.AdminGraphQLAPIID == "" {
			return fmt.Errorf("product payload carries no id")
		}
		return h.compliance.ReconcileProduct(ctx, payload.AdminGraphQLAPIID)

	case "inventory-levels-update":
		var payload inventoryWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("failed to parse inventory payload: %w", err)
		}
		if payload.InventoryItemID == 0 {
			return fmt.Errorf("inventory payload carries no item id")
		}
		gid := fmt.Sprintf("gid://shopify/InventoryItem/%d", payload.InventoryItemID)
		return h.compliance.ReconcileInventoryItem(ctx, gid)

	default:
		h.logger.Info("Ignoring webhook topic", zap.String("topic", topic))
		return nil
	}
}
