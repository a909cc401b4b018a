package shopify

import (
	"context"

	"cardops/internal/apperr"

	"go.uber.org/zap"
)

// ListPublications returns the GIDs of every available sales channel.
func (c *Client) ListPublications(ctx context.Context, accessToken string) ([]string, error) {
	query := `
		query publications {
			publications(first: 20) {
				edges { node { id } }
			}
		}`

	var out struct {
		Publications struct {
			Edges []struct {
				Node struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"publications"`
	}
	if err := c.Do(ctx, accessToken, "ListPublications", query, nil, &out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.Publications.Edges))
	for _, edge := range out.Publications.Edges {
		ids = append(ids, edge.Node.ID)
	}
	return ids, nil
}

// PublishToAllChannels publishes a product to every available sales channel.
// Per-channel failures are logged and skipped; publishing is best-effort.
func (c *Client) PublishToAllChannels(ctx context.Context, accessToken, productID string) error {
	publications, err := c.ListPublications(ctx, accessToken)
	if err != nil {
		return err
	}

	query := `
		mutation publishablePublish($id: ID!, $input: [PublicationInput!]!) {
			publishablePublish(id: $id, input: $input) {
				userErrors { field message }
			}
		}`

	for _, pubID := range publications {
		vars := map[string]interface{}{
			"id":    productID,
			"input": []map[string]interface{}{{"publicationId": pubID}},
		}

		var out struct {
			PublishablePublish struct {
				UserErrors []UserError `json:"userErrors"`
			} `json:"publishablePublish"`
		}
		if err := c.Do(ctx, accessToken, "PublishToChannel", query, vars, &out); err != nil {
			c.logger.Warn("Failed to publish to channel",
				zap.String("product_id", productID),
				zap.String("publication_id", pubID),
				zap.Error(err))
			continue
		}
		if len(out.PublishablePublish.UserErrors) > 0 {
			c.logger.Warn("Channel rejected publish",
				zap.String("product_id", productID),
				zap.String("publication_id", pubID),
				zap.String("message", out.PublishablePublish.UserErrors[0].Message))
		}
	}
	return nil
}

// CollectionContainsProduct checks membership before inserting, since the
// insertion itself is not transactionally guarded.
func (c *Client) CollectionContainsProduct(ctx context.Context, accessToken, collectionID, productID string) (bool, error) {
	query := `
		query collectionHasProduct($id: ID!, $productId: ID!) {
			collection(id: $id) {
				hasProduct(id: $productId)
			}
		}`

	vars := map[string]interface{}{"id": collectionID, "productId": productID}

	var out struct {
		Collection *struct {
			HasProduct bool `json:"hasProduct"`
		} `json:"collection"`
	}
	if err := c.Do(ctx, accessToken, "CollectionContainsProduct", query, vars, &out); err != nil {
		return false, err
	}
	if out.Collection == nil {
		return false, apperr.Newf(apperr.KindNotFound, "shopify.CollectionContainsProduct",
			"collection %s not found", collectionID)
	}
	return out.Collection.HasProduct, nil
}

// AddProductToCollectionFront adds a product to a manual collection and moves
// it to position zero.
func (c *Client) AddProductToCollectionFront(ctx context.Context, accessToken, collectionID, productID string) error {
	const op = "shopify.AddProductToCollectionFront"

	addQuery := `
		mutation collectionAddProducts($id: ID!, $productIds: [ID!]!) {
			collectionAddProducts(id: $id, productIds: $productIds) {
				userErrors { field message }
			}
		}`

	var addOut struct {
		CollectionAddProducts struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"collectionAddProducts"`
	}
	vars := map[string]interface{}{"id": collectionID, "productIds": []string{productID}}
	if err := c.Do(ctx, accessToken, "CollectionAddProducts", addQuery, vars, &addOut); err != nil {
		return err
	}
	if len(addOut.CollectionAddProducts.UserErrors) > 0 {
		return userErrorsToErr(op, addOut.CollectionAddProducts.UserErrors)
	}

	moveQuery := `
		mutation collectionReorderProducts($id: ID!, $moves: [MoveInput!]!) {
			collectionReorderProducts(id: $id, moves: $moves) {
				userErrors { field message }
			}
		}`

	var moveOut struct {
		CollectionReorderProducts struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"collectionReorderProducts"`
	}
	moveVars := map[string]interface{}{
		"id": collectionID,
		"moves": []map[string]interface{}{
			{"id": productID, "newPosition": "0"},
		},
	}
	if err := c.Do(ctx, accessToken, "CollectionReorderProducts", moveQuery, moveVars, &moveOut); err != nil {
		return err
	}
	if len(moveOut.CollectionReorderProducts.UserErrors) > 0 {
		return userErrorsToErr(op, moveOut.CollectionReorderProducts.UserErrors)
	}
	return nil
}
