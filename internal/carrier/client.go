// Package carrier queries the shipping carrier's tracking API.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/util"
)

// Client holds an OAuth2 client-credentials session against the carrier API.
// The token source caches and refreshes tokens on its own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a tracking client. The returned client reuses its bearer
// token across calls until it nears expiry.
func NewClient(baseURL, tokenURL, clientID, clientSecret string) *Client {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	httpClient := cfg.Client(context.Background())
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  util.GetLogger(),
	}
}

type trackResponse struct {
	TrackingNumber string `json:"trackingNumber"`
	Status         struct {
		Category string `json:"category"`
	} `json:"status"`
}

// Track fetches the current status of one tracking number.
func (c *Client) Track(ctx context.Context, trackingNumber string) (string, error) {
	const op = "carrier.Track"

	if trackingNumber == "" {
		return "", apperr.Newf(apperr.KindValidation, op, "tracking number is empty")
	}

	url := fmt.Sprintf("%s/track/v1/details/%s", c.baseURL, trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.New(apperr.KindNetwork, op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.New(apperr.KindNetwork, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.Newf(apperr.KindNotFound, op, "tracking number %s not found", trackingNumber)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", apperr.Newf(apperr.KindRateLimited, op, "carrier rate limited")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperr.Newf(apperr.KindPermanentAuth, op, "carrier rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", apperr.Newf(apperr.KindNetwork, op, "carrier returned status %d", resp.StatusCode)
	}

	var tr trackResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", apperr.New(apperr.KindNetwork, op, fmt.Errorf("failed to decode tracking response: %w", err))
	}

	status := MapStatus(tr.Status.Category)
	c.logger.Debug("Fetched tracking status",
		zap.String("tracking_number", trackingNumber),
		zap.String("carrier_status", tr.Status.Category),
		zap.String("status", status))
	return status, nil
}

// MapStatus folds carrier status categories into our coarse set. Unknown
// categories stay UNKNOWN rather than guessing.
func MapStatus(category string) string {
	switch strings.ToUpper(strings.TrimSpace(category)) {
	case "DELIVERED":
		return models.TrackingStatusDelivered
	case "IN_TRANSIT", "OUT_FOR_DELIVERY", "AVAILABLE_FOR_PICKUP":
		return models.TrackingStatusInTransit
	case "PRE_TRANSIT", "LABEL_CREATED", "ACCEPTED":
		return models.TrackingStatusPreTransit
	default:
		return models.TrackingStatusUnknown
	}
}
