package shopify

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cardops/internal/apperr"

	"go.uber.org/zap"
)

// VariantRow is one variant's pricing and stock as seen by the store-value
// traversal.
type VariantRow struct {
	VariantID string `json:"id"`
	Price     string `json:"price"`
	Quantity  int    `json:"inventoryQuantity"`
}

// ForEachVariantPage walks every product variant with sequential cursor
// pagination: fetch a page, hand rows to fn, then fetch the next page with
// the returned cursor. Stops early when fn returns an error. Returns the
// number of pages fetched.
func (c *Client) ForEachVariantPage(ctx context.Context, accessToken string, pageSize int, fn func(rows []VariantRow) error) (int, error) {
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 100
	}

	query := `
		query variants($first: Int!, $after: String) {
			productVariants(first: $first, after: $after) {
				edges {
					node { id price inventoryQuantity }
				}
				pageInfo { hasNextPage endCursor }
			}
		}`

	var cursor *string
	pages := 0

	for {
		vars := map[string]interface{}{"first": pageSize}
		if cursor != nil {
			vars["after"] = *cursor
		}

		var out struct {
			ProductVariants struct {
				Edges []struct {
					Node VariantRow `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"productVariants"`
		}
		if err := c.Do(ctx, accessToken, "VariantsPage", query, vars, &out); err != nil {
			return pages, err
		}
		pages++

		rows := make([]VariantRow, 0, len(out.ProductVariants.Edges))
		for _, edge := range out.ProductVariants.Edges {
			rows = append(rows, edge.Node)
		}
		if err := fn(rows); err != nil {
			return pages, err
		}

		if !out.ProductVariants.PageInfo.HasNextPage || out.ProductVariants.PageInfo.EndCursor == "" {
			return pages, nil
		}
		end := out.ProductVariants.PageInfo.EndCursor
		cursor = &end
	}
}

// BulkPollConfig bounds the bulk-operation poll loop.
type BulkPollConfig struct {
	Interval  time.Duration
	MaxChecks int
}

// RunBulkVariantExport delegates the full traversal to the platform's own
// bulk-operation machinery: start the export, poll its status on a fixed
// interval with a bounded attempt count, then stream the NDJSON result file
// line by line into fn.
func (c *Client) RunBulkVariantExport(ctx context.Context, accessToken string, cfg BulkPollConfig, fn func(row VariantRow) error) error {
	const op = "shopify.RunBulkVariantExport"

	startQuery := `
		mutation {
			bulkOperationRunQuery(query: """
				{ productVariants { edges { node { id price inventoryQuantity } } } }
			""") {
				bulkOperation { id status }
				userErrors { field message }
			}
		}`

	var startOut struct {
		BulkOperationRunQuery struct {
			BulkOperation struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"bulkOperation"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.Do(ctx, accessToken, "BulkOperationRunQuery", startQuery, nil, &startOut); err != nil {
		return err
	}
	if len(startOut.BulkOperationRunQuery.UserErrors) > 0 {
		return userErrorsToErr(op, startOut.BulkOperationRunQuery.UserErrors)
	}

	url, err := c.pollBulkOperation(ctx, accessToken, cfg)
	if err != nil {
		return err
	}
	if url == "" {
		// A completed export with no URL means there was nothing to export.
		return nil
	}

	return c.streamBulkResult(ctx, url, fn)
}

func (c *Client) pollBulkOperation(ctx context.Context, accessToken string, cfg BulkPollConfig) (string, error) {
	const op = "shopify.pollBulkOperation"

	statusQuery := `
		query {
			currentBulkOperation {
				id
				status
				errorCode
				url
			}
		}`

	for attempt := 0; attempt < cfg.MaxChecks; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(cfg.Interval):
		}

		var out struct {
			CurrentBulkOperation *struct {
				ID        string `json:"id"`
				Status    string `json:"status"`
				ErrorCode string `json:"errorCode"`
				URL       string `json:"url"`
			} `json:"currentBulkOperation"`
		}
		if err := c.Do(ctx, accessToken, "CurrentBulkOperation", statusQuery, nil, &out); err != nil {
			return "", err
		}
		if out.CurrentBulkOperation == nil {
			continue
		}

		switch out.CurrentBulkOperation.Status {
		case "COMPLETED":
			return out.CurrentBulkOperation.URL, nil
		case "FAILED", "CANCELED":
			return "", apperr.Newf(apperr.KindValidation, op,
				"bulk operation ended %s (%s)",
				out.CurrentBulkOperation.Status, out.CurrentBulkOperation.ErrorCode)
		}

		c.logger.Debug("Bulk operation still running",
			zap.String("status", out.CurrentBulkOperation.Status),
			zap.Int("attempt", attempt+1))
	}

	return "", apperr.Newf(apperr.KindNetwork, op, "bulk operation did not complete within %d checks", cfg.MaxChecks)
}

// streamBulkResult reads the newline-delimited result file without buffering
// the whole export in memory.
func (c *Client) streamBulkResult(ctx context.Context, url string, fn func(row VariantRow) error) error {
	const op = "shopify.streamBulkResult"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Newf(apperr.KindNetwork, op, "result download returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row VariantRow
		if err := json.Unmarshal(line, &row); err != nil {
			c.logger.Warn("Skipping unparseable bulk result line", zap.Error(err))
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	return nil
}
