package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Session holds the merchant's stored Shopify credentials and the default
// fulfillment location used for inventory mutations.
type Session struct {
	Shop              string    `db:"shop" json:"shop"`
	AccessToken       string    `db:"access_token" json:"-"`
	DefaultLocationID string    `db:"default_location_id" json:"default_location_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Lot represents a purchase of cards tracked from acquisition to listing.
// PurchaseDate is immutable after creation and Debt never goes negative.
type Lot struct {
	ID             int64           `db:"id" json:"id"`
	Vendor         string          `db:"vendor" json:"vendor"`
	PurchaseDate   time.Time       `db:"purchase_date" json:"purchase_date"`
	TotalCost      decimal.Decimal `db:"total_cost" json:"total_cost"`
	EstimatedValue decimal.Decimal `db:"estimated_value" json:"estimated_value"`
	Debt           decimal.Decimal `db:"debt" json:"debt"`
	TrackingNumber sql.NullString  `db:"tracking_number" json:"tracking_number,omitempty"`
	TrackingStatus string          `db:"tracking_status" json:"tracking_status"`
	Converted      bool            `db:"converted" json:"converted"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Tracking statuses mapped from raw carrier codes
const (
	TrackingStatusUnknown    = "UNKNOWN"
	TrackingStatusPreTransit = "PRE_TRANSIT"
	TrackingStatusInTransit  = "IN_TRANSIT"
	TrackingStatusDelivered  = "DELIVERED"
)

// LotProduct is an intended Shopify product that does not exist remotely
// until conversion succeeds. Conversion is one-way.
type LotProduct struct {
	ID               int64          `db:"id" json:"id"`
	LotID            int64          `db:"lot_id" json:"lot_id"`
	Title            string         `db:"title" json:"title"`
	ShopifyProductID sql.NullString `db:"shopify_product_id" json:"shopify_product_id,omitempty"`
	ConvertedAt      sql.NullTime   `db:"converted_at" json:"converted_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// LotProductVariant is a child of LotProduct carrying its intended price and
// starting quantity.
type LotProductVariant struct {
	ID               int64           `db:"id" json:"id"`
	LotProductID     int64           `db:"lot_product_id" json:"lot_product_id"`
	Title            string          `db:"title" json:"title"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Quantity         int             `db:"quantity" json:"quantity"`
	ShopifyVariantID sql.NullString  `db:"shopify_variant_id" json:"shopify_variant_id,omitempty"`
}

// LotPayment records a single debt payment against a lot. Append-only.
type LotPayment struct {
	ID     int64           `db:"id" json:"id"`
	LotID  int64           `db:"lot_id" json:"lot_id"`
	Amount decimal.Decimal `db:"amount" json:"amount"`
	PaidAt time.Time       `db:"paid_at" json:"paid_at"`
}

// Notification is a short-lived event shown in the admin UI. Append-only,
// consumed by polling.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	LengthMS  int       `db:"length_ms" json:"length_ms"`
	Type      string    `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification types
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
	NotificationInfo    = "info"
)

// AnalyticsSnapshot is one point of the computed store-value time series.
type AnalyticsSnapshot struct {
	ID      int64           `db:"id" json:"id"`
	Value   decimal.Decimal `db:"value" json:"value"`
	TakenAt time.Time       `db:"taken_at" json:"taken_at"`
}

// WishlistEntry is a storefront keyword subscription.
type WishlistEntry struct {
	ID            int64     `db:"id" json:"id"`
	CustomerEmail string    `db:"customer_email" json:"customer_email"`
	Keyword       string    `db:"keyword" json:"keyword"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// StatusBypass marks a product that stays active regardless of inventory.
type StatusBypass struct {
	ProductID string    `db:"product_id" json:"product_id"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedWebhook is the persisted half of webhook dedupe.
type ProcessedWebhook struct {
	WebhookID   string    `db:"webhook_id"`
	Topic       string    `db:"topic"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Import job kinds
const (
	JobKindPSACert   = "psa-cert"
	JobKindTrollToad = "trolltoad"
)

// ImportJob is the payload carried through the queue. Terminal state is
// observed via lifecycle events, not queried later.
type ImportJob struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	ExternalID     string          `json:"external_id"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	Shop           string          `json:"shop"`
	Attempt        int             `json:"attempt"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}
