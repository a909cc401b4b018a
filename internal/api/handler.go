// Package api exposes the admin and storefront HTTP surface.
package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/quota"
	"cardops/internal/service"
	"cardops/internal/store"
	"cardops/internal/util"
)

// Handler carries every service the HTTP layer fronts.
type Handler struct {
	imports    *service.ImportService
	compliance *service.ComplianceService
	lots       *service.LotService
	analytics  *service.AnalyticsService
	wishlist   *service.WishlistService
	rotator    *quota.Rotator
	store      *store.Store
	webhooks   *WebhookHandler
	logger     *zap.Logger
}

// NewHandler creates the API handler
func NewHandler(
	imports *service.ImportService,
	compliance *service.ComplianceService,
	lots *service.LotService,
	analytics *service.AnalyticsService,
	wishlist *service.WishlistService,
	rotator *quota.Rotator,
	st *store.Store,
	webhooks *WebhookHandler,
) *Handler {
	return &Handler{
		imports:    imports,
		compliance: compliance,
		lots:       lots,
		analytics:  analytics,
		wishlist:   wishlist,
		rotator:    rotator,
		store:      st,
		webhooks:   webhooks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes registers all routes on the router.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(prometheusMiddleware())

	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/:topic", h.webhooks.Handle)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", h.seedSession)

		v1.POST("/imports/psa", h.enqueueImports(models.JobKindPSACert))
		v1.POST("/imports/trolltoad", h.enqueueImports(models.JobKindTrollToad))

		v1.POST("/inventory/check/:productID", h.checkInventory)
		v1.POST("/inventory/bypass/:productID", h.addBypass)
		v1.DELETE("/inventory/bypass/:productID", h.removeBypass)

		v1.GET("/analytics/value", h.computeStoreValue)
		v1.GET("/analytics/snapshots", h.getSnapshots)

		v1.GET("/quota", h.getQuota)
		v1.GET("/notifications", h.getNotifications)

		v1.POST("/lots", h.createLot)
		v1.GET("/lots", h.getLots)
		v1.GET("/lots/:id", h.getLot)
		v1.PUT("/lots/:id/estimate", h.updateEstimate)
		v1.POST("/lots/:id/payments", h.recordPayment)
		v1.POST("/lots/:id/tracking/refresh", h.refreshTracking)
		v1.POST("/lots/:id/products", h.addLotProduct)
		v1.POST("/lot-products/:id/convert", h.convertLotProduct)
	}

	// Storefront routes are called from the shop's own domain, so they get a
	// permissive CORS policy unlike the admin surface.
	storefront := router.Group("/storefront")
	storefront.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	{
		storefront.POST("/wishlist", h.subscribeWishlist)
		storefront.GET("/wishlist", h.listWishlist)
		storefront.PUT("/wishlist/:id", h.updateWishlist)
		storefront.DELETE("/wishlist/:id", h.unsubscribeWishlist)
	}
}

func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now()})
}

func (h *Handler) ready(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps the error taxonomy onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindPermanentAuth:
		status = http.StatusUnauthorized
	case apperr.KindRateLimited, apperr.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.KindNetwork:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type seedSessionRequest struct {
	Shop        string `json:"shop" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

func (h *Handler) seedSession(c *gin.Context) {
	var req seedSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.imports.SeedSession(c.Request.Context(), req.Shop, req.AccessToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"shop":                session.Shop,
		"default_location_id": session.DefaultLocationID,
	})
}

type importBatchRequest struct {
	Items []service.ImportRequest `json:"items" binding:"required"`
}

func (h *Handler) enqueueImports(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		jobIDs, err := h.imports.EnqueueImports(c.Request.Context(), kind, req.Items)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_ids": jobIDs, "enqueued": len(jobIDs)})
	}
}

func (h *Handler) checkInventory(c *gin.Context) {
	productID := c.Param("productID")
	if err := h.compliance.ReconcileProduct(c.Request.Context(), productID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "reconciled": true})
}

type bypassRequest struct {
	Note string `json:"note"`
}

func (h *Handler) addBypass(c *gin.Context) {
	var req bypassRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.store.AddBypass(c.Request.Context(), c.Param("productID"), req.Note); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product_id": c.Param("productID")})
}

func (h *Handler) removeBypass(c *gin.Context) {
	if err := h.store.RemoveBypass(c.Request.Context(), c.Param("productID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) computeStoreValue(c *gin.Context) {
	value, err := h.analytics.ComputeStoreValue(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (h *Handler) getSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "365"))
	snaps, err := h.analytics.GetSnapshots(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (h *Handler) getQuota(c *gin.Context) {
	remaining, err := h.rotator.Remaining(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}

func (h *Handler) getNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notifications, err := h.store.GetNotifications(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *Handler) createLot(c *gin.Context) {
	var req service.CreateLotInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lot, err := h.lots.CreateLot(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *Handler) getLots(c *gin.Context) {
	lots, err := h.lots.GetLots(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": lots})
}

func (h *Handler) getLot(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot id"})
		return
	}

	lot, payments, err := h.lots.GetLot(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lot": lot, "payments": payments})
}

type estimateRequest struct {
	Value decimal.Decimal `json:"value"`
}

func (h *Handler) updateEstimate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot id"})
		return
	}

	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.lots.UpdateEstimatedValue(c.Request.Context(), id, req.Value); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) recordPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot id"})
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.lots.RecordPayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *Handler) refreshTracking(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot id"})
		return
	}

	status, err := h.lots.RefreshTracking(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking_status": status})
}

type lotProductRequest struct {
	Title    string                     `json:"title"`
	Variants []models.LotProductVariant `json:"variants"`
}

func (h *Handler) addLotProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot id"})
		return
	}

	var req lotProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lp, err := h.lots.AddLotProduct(c.Request.Context(), id, req.Title, req.Variants)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lp)
}

func (h *Handler) convertLotProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot product id"})
		return
	}

	productID, err := h.lots.ConvertLotProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shopify_product_id": productID})
}

type wishlistRequest struct {
	Email   string `json:"email"`
	Keyword string `json:"keyword"`
}

func (h *Handler) subscribeWishlist(c *gin.Context) {
	var req wishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.wishlist.Subscribe(c.Request.Context(), req.Email, req.Keyword)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) listWishlist(c *gin.Context) {
	entries, err := h.wishlist.List(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) updateWishlist(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	var req wishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.wishlist.Update(c.Request.Context(), id, req.Email, req.Keyword); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unsubscribeWishlist(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	if err := h.wishlist.Unsubscribe(c.Request.Context(), id, c.Query("email")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
