// Package trolltoad scrapes product listings from the Troll & Toad retail
// site. Scraping is unmetered, so no quota key is involved.
package trolltoad

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cardops/internal/apperr"
	"cardops/internal/util"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Listing is a scraped product page.
type Listing struct {
	Ref         string
	Title       string
	Description string
	ListedPrice decimal.Decimal
	ImageURLs   []string
}

// Client fetches and parses listing pages.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a scraper client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  util.GetLogger(),
	}
}

// FetchProduct scrapes the listing page for a product reference.
func (c *Client) FetchProduct(ctx context.Context, ref string) (*Listing, error) {
	const op = "trolltoad.FetchProduct"

	url := fmt.Sprintf("%s/p/%s", c.baseURL, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; cardops/1.0)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.Newf(apperr.KindNotFound, op, "listing %s not found", ref)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.Newf(apperr.KindRateLimited, op, "site rate limit hit")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, apperr.Newf(apperr.KindNetwork, op, "site returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, fmt.Errorf("failed to parse page: %w", err))
	}

	listing := &Listing{Ref: ref}

	listing.Title = strings.TrimSpace(doc.Find("h1.product-name").First().Text())
	if listing.Title == "" {
		// Page rendered but carries no product markup; treat as gone.
		return nil, apperr.Newf(apperr.KindNotFound, op, "listing %s has no product markup", ref)
	}

	listing.Description = strings.TrimSpace(doc.Find("div.product-description").First().Text())

	priceText := strings.TrimSpace(doc.Find("span.product-price").First().Text())
	if p, perr := parsePrice(priceText); perr == nil {
		listing.ListedPrice = p
	} else {
		c.logger.Warn("Could not parse listed price",
			zap.String("ref", ref), zap.String("raw", priceText))
	}

	doc.Find("div.product-images img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		listing.ImageURLs = append(listing.ImageURLs, src)
	})

	return listing, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(raw, "$"))
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	return decimal.NewFromString(cleaned)
}
