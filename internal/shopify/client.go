// Package shopify wraps the Admin GraphQL API behind typed requests.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardops/internal/apperr"
	"cardops/internal/util"

	"go.uber.org/zap"
)

// GraphQLError is one error entry from the Admin API.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions,omitempty"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// UserError is a validation failure attached to a mutation payload.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Client talks to one shop's Admin GraphQL endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates an Admin API client for a shop. shopDomain is the bare
// myshopify domain; a scheme-prefixed value is used as-is.
func NewClient(shopDomain, apiVersion string) *Client {
	base := shopDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		endpoint: fmt.Sprintf("%s/admin/api/%s/graphql.json", base, apiVersion),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   util.GetLogger(),
	}
}

// Do executes a GraphQL operation and decodes the data payload into out.
// GraphQL-level errors are classified into the shared taxonomy.
func (c *Client) Do(ctx context.Context, accessToken, operation, query string, vars map[string]interface{}, out interface{}) error {
	op := "shopify." + operation
	start := time.Now()
	defer func() {
		util.ShopifyRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return apperr.New(apperr.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperr.Newf(apperr.KindRateLimited, op, "throttled by Admin API")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Newf(apperr.KindNetwork, op, "Admin API returned status %d", resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(gqlResp.Errors) > 0 {
		return classifyGraphQLErrors(op, gqlResp.Errors)
	}

	if out != nil && gqlResp.Data != nil {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return apperr.New(apperr.KindInternal, op, fmt.Errorf("failed to decode data: %w", err))
		}
	}
	return nil
}

// classifyGraphQLErrors maps error bodies into the taxonomy. Token problems
// surface as errors in the body with a 200 transport status, so the message
// text is what gets inspected.
func classifyGraphQLErrors(op string, errs []GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
		lower := strings.ToLower(e.Message)
		if e.Extensions.Code == "UNAUTHENTICATED" ||
			strings.Contains(lower, "invalid api key or access token") ||
			strings.Contains(lower, "unrecognized login") {
			return apperr.Newf(apperr.KindPermanentAuth, op, "%s", e.Message)
		}
		if e.Extensions.Code == "THROTTLED" {
			return apperr.Newf(apperr.KindRateLimited, op, "%s", e.Message)
		}
	}
	return apperr.Newf(apperr.KindValidation, op, "graphql errors: %s", strings.Join(msgs, "; "))
}

// VerifySession probes the Admin API with the stored token. The transport
// status does not reliably signal token invalidity, so the probe trusts the
// classified response body instead.
func (c *Client) VerifySession(ctx context.Context, accessToken string) error {
	query := `query { shop { id name } }`

	var out struct {
		Shop struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := c.Do(ctx, accessToken, "VerifySession", query, nil, &out); err != nil {
		if apperr.Is(err, apperr.KindPermanentAuth) {
			return err
		}
		return err
	}
	if out.Shop.ID == "" {
		return apperr.Newf(apperr.KindPermanentAuth, "shopify.VerifySession", "probe returned empty shop")
	}
	return nil
}

// ResolveDefaultLocation returns the first active location's GID.
func (c *Client) ResolveDefaultLocation(ctx context.Context, accessToken string) (string, error) {
	query := `query { locations(first: 1) { edges { node { id } } } }`

	var out struct {
		Locations struct {
			Edges []struct {
				Node struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"locations"`
	}
	if err := c.Do(ctx, accessToken, "ResolveDefaultLocation", query, nil, &out); err != nil {
		return "", err
	}
	if len(out.Locations.Edges) == 0 {
		return "", apperr.Newf(apperr.KindValidation, "shopify.ResolveDefaultLocation", "shop has no locations")
	}
	return out.Locations.Edges[0].Node.ID, nil
}

// GIDSuffix extracts the trailing numeric segment of a Shopify GID.
func GIDSuffix(gid string) string {
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}
