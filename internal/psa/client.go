// Package psa wraps the certification provider's public REST API.
package psa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"cardops/internal/apperr"
	"cardops/internal/util"

	"go.uber.org/zap"
)

// CertRecord is the certification metadata for a graded card.
type CertRecord struct {
	CertNumber  string     `json:"certNumber"`
	Subject     string     `json:"subject"`
	Brand       string     `json:"brand"`
	Year        string     `json:"year"`
	CardNumber  string     `json:"cardNumber"`
	Variety     string     `json:"variety"`
	GradeLabel  string     `json:"cardGrade"`
	TotalPop    int        `json:"totalPopulation"`
	SubGrades   []SubGrade `json:"subGrades,omitempty"`
}

// SubGrade is one graded sub-item on a multi-grade certification.
type SubGrade struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
}

// CertImage is one provider-hosted scan of the card.
type CertImage struct {
	URL     string `json:"imageURL"`
	IsFront bool   `json:"isFrontImage"`
}

// Client calls the provider with a rotated key's secret as bearer auth.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a provider client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  util.GetLogger(),
	}
}

// FetchCert retrieves the certification record for a cert number.
func (c *Client) FetchCert(ctx context.Context, certNumber, secret string) (*CertRecord, error) {
	url := fmt.Sprintf("%s/cert/GetByCertNumber/%s", c.baseURL, certNumber)

	body, err := c.get(ctx, "psa.FetchCert", url, secret)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		PSACert CertRecord `json:"PSACert"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, apperr.New(apperr.KindNetwork, "psa.FetchCert",
			fmt.Errorf("failed to decode cert response: %w", err))
	}
	if wrapper.PSACert.CertNumber == "" {
		return nil, apperr.Newf(apperr.KindNotFound, "psa.FetchCert", "cert %s not found", certNumber)
	}

	return &wrapper.PSACert, nil
}

// FetchImages retrieves the card scans for a cert number, front images first.
// Consumes one quota unit like FetchCert; the caller accounts for it.
func (c *Client) FetchImages(ctx context.Context, certNumber, secret string) ([]CertImage, error) {
	url := fmt.Sprintf("%s/cert/GetImagesByCertNumber/%s", c.baseURL, certNumber)

	body, err := c.get(ctx, "psa.FetchImages", url, secret)
	if err != nil {
		return nil, err
	}

	var images []CertImage
	if err := json.Unmarshal(body, &images); err != nil {
		return nil, apperr.New(apperr.KindNetwork, "psa.FetchImages",
			fmt.Errorf("failed to decode images response: %w", err))
	}

	return SortImages(images), nil
}

// SortImages places front-flagged images before the rest while preserving
// fetch order within each group. Position 0 becomes the featured image
// downstream.
func SortImages(images []CertImage) []CertImage {
	sorted := append([]CertImage(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IsFront && !sorted[j].IsFront
	})
	return sorted
}

func (c *Client) get(ctx context.Context, op, url, secret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.Newf(apperr.KindNotFound, op, "provider returned 404")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.Newf(apperr.KindRateLimited, op, "provider rate limit hit")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Newf(apperr.KindPermanentAuth, op, "provider rejected key: status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Warn("Unexpected provider status",
			zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil, apperr.Newf(apperr.KindNetwork, op, "provider returned status %d", resp.StatusCode)
	}

	return body, nil
}
