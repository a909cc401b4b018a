package shopify

import (
	"context"

	"cardops/internal/apperr"

	"github.com/shopspring/decimal"
)

// ProductSpec is the provider-neutral description of a product to create.
// Sub-items become one variant each; a spec with no sub-items yields exactly
// one variant.
type ProductSpec struct {
	Title           string
	DescriptionHTML string
	Vendor          string
	ProductType     string
	Tags            []string
	SubItems        []SubItemSpec
}

// SubItemSpec is one enumerable sub-item (e.g. a sub-grade) on a record.
type SubItemSpec struct {
	Title         string
	PriceOverride *decimal.Decimal
	Quantity      int
}

// ProductInput is the typed productCreate payload. Optional fields stay
// explicit instead of riding in loose maps.
type ProductInput struct {
	Title           string   `json:"title"`
	DescriptionHTML string   `json:"descriptionHtml,omitempty"`
	Vendor          string   `json:"vendor,omitempty"`
	ProductType     string   `json:"productType,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Status          string   `json:"status,omitempty"`
}

// VariantInput is the typed variant payload, inventory tracking always on.
type VariantInput struct {
	Title             string          `json:"optionValue"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	LocationID        string          `json:"locationId"`
	InventoryManaged  bool            `json:"inventoryManaged"`
}

// BuildProductInput assembles the create payloads from a provider record and
// the caller-supplied price. The provider never dictates price; a sub-item
// may carry its own override.
func BuildProductInput(spec ProductSpec, price decimal.Decimal, locationID string) (ProductInput, []VariantInput) {
	product := ProductInput{
		Title:           spec.Title,
		DescriptionHTML: spec.DescriptionHTML,
		Vendor:          spec.Vendor,
		ProductType:     spec.ProductType,
		Tags:            spec.Tags,
		Status:          "ACTIVE",
	}

	if len(spec.SubItems) == 0 {
		return product, []VariantInput{{
			Title:            "Default Title",
			Price:            price,
			Quantity:         1,
			LocationID:       locationID,
			InventoryManaged: true,
		}}
	}

	variants := make([]VariantInput, 0, len(spec.SubItems))
	for _, item := range spec.SubItems {
		v := VariantInput{
			Title:            item.Title,
			Price:            price,
			Quantity:         item.Quantity,
			LocationID:       locationID,
			InventoryManaged: true,
		}
		if item.PriceOverride != nil {
			v.Price = *item.PriceOverride
		}
		if v.Quantity <= 0 {
			v.Quantity = 1
		}
		variants = append(variants, v)
	}
	return product, variants
}

// CreateProduct submits productCreate and returns the new product GID.
// Remote userErrors are validation failures, never retried.
func (c *Client) CreateProduct(ctx context.Context, accessToken string, input ProductInput) (string, error) {
	const op = "shopify.CreateProduct"

	query := `
		mutation productCreate($input: ProductInput!) {
			productCreate(input: $input) {
				product { id }
				userErrors { field message }
			}
		}`

	var out struct {
		ProductCreate struct {
			Product struct {
				ID string `json:"id"`
			} `json:"product"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"productCreate"`
	}
	if err := c.Do(ctx, accessToken, "CreateProduct", query, map[string]interface{}{"input": input}, &out); err != nil {
		return "", err
	}
	if len(out.ProductCreate.UserErrors) > 0 {
		return "", userErrorsToErr(op, out.ProductCreate.UserErrors)
	}
	if out.ProductCreate.Product.ID == "" {
		return "", apperr.Newf(apperr.KindValidation, op, "productCreate returned no product")
	}
	return out.ProductCreate.Product.ID, nil
}

// AttachMedia submits one createMediaInput per URL. Individual failures are
// reported back so the caller can log and move on.
func (c *Client) AttachMedia(ctx context.Context, accessToken, productID string, imageURL string) error {
	const op = "shopify.AttachMedia"

	query := `
		mutation productCreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
			productCreateMedia(productId: $productId, media: $media) {
				media { alt }
				mediaUserErrors { field message }
			}
		}`

	vars := map[string]interface{}{
		"productId": productID,
		"media": []map[string]interface{}{
			{"originalSource": imageURL, "mediaContentType": "IMAGE"},
		},
	}

	var out struct {
		ProductCreateMedia struct {
			MediaUserErrors []UserError `json:"mediaUserErrors"`
		} `json:"productCreateMedia"`
	}
	if err := c.Do(ctx, accessToken, "AttachMedia", query, vars, &out); err != nil {
		return err
	}
	if len(out.ProductCreateMedia.MediaUserErrors) > 0 {
		return userErrorsToErr(op, out.ProductCreateMedia.MediaUserErrors)
	}
	return nil
}

// CreateVariant submits variantCreate with tracked inventory at the given
// location and returns the variant GID.
func (c *Client) CreateVariant(ctx context.Context, accessToken, productID string, input VariantInput) (string, error) {
	const op = "shopify.CreateVariant"

	query := `
		mutation productVariantCreate($input: ProductVariantInput!) {
			productVariantCreate(input: $input) {
				productVariant { id }
				userErrors { field message }
			}
		}`

	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"productId": productID,
			"options":   []string{input.Title},
			"price":     input.Price.StringFixed(2),
			"inventoryItem": map[string]interface{}{
				"tracked": input.InventoryManaged,
			},
			"inventoryQuantities": []map[string]interface{}{
				{
					"availableQuantity": input.Quantity,
					"locationId":        input.LocationID,
				},
			},
		},
	}

	var out struct {
		ProductVariantCreate struct {
			ProductVariant struct {
				ID string `json:"id"`
			} `json:"productVariant"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"productVariantCreate"`
	}
	if err := c.Do(ctx, accessToken, "CreateVariant", query, vars, &out); err != nil {
		return "", err
	}
	if len(out.ProductVariantCreate.UserErrors) > 0 {
		return "", userErrorsToErr(op, out.ProductVariantCreate.UserErrors)
	}
	return out.ProductVariantCreate.ProductVariant.ID, nil
}

func userErrorsToErr(op string, errs []UserError) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Message
	}
	return apperr.Newf(apperr.KindValidation, op, "userErrors: %s", msg)
}

// ProductSummary is the slice of product state the compliance reactor needs.
type ProductSummary struct {
	ID             string
	Title          string
	Status         string
	TotalInventory int
	OptionValues   []string
}

// GetProduct fetches status, total inventory and variant option values.
func (c *Client) GetProduct(ctx context.Context, accessToken, productID string) (*ProductSummary, error) {
	query := `
		query product($id: ID!) {
			product(id: $id) {
				id
				title
				status
				totalInventory
				options { values }
			}
		}`

	var out struct {
		Product *struct {
			ID             string `json:"id"`
			Title          string `json:"title"`
			Status         string `json:"status"`
			TotalInventory int    `json:"totalInventory"`
			Options        []struct {
				Values []string `json:"values"`
			} `json:"options"`
		} `json:"product"`
	}
	if err := c.Do(ctx, accessToken, "GetProduct", query, map[string]interface{}{"id": productID}, &out); err != nil {
		return nil, err
	}
	if out.Product == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "shopify.GetProduct", "product %s not found", productID)
	}

	summary := &ProductSummary{
		ID:             out.Product.ID,
		Title:          out.Product.Title,
		Status:         out.Product.Status,
		TotalInventory: out.Product.TotalInventory,
	}
	for _, opt := range out.Product.Options {
		summary.OptionValues = append(summary.OptionValues, opt.Values...)
	}
	return summary, nil
}

// GetProductByInventoryItem resolves the owning product of an inventory item.
func (c *Client) GetProductByInventoryItem(ctx context.Context, accessToken, inventoryItemID string) (string, error) {
	query := `
		query inventoryItem($id: ID!) {
			inventoryItem(id: $id) {
				variant { product { id } }
			}
		}`

	var out struct {
		InventoryItem *struct {
			Variant struct {
				Product struct {
					ID string `json:"id"`
				} `json:"product"`
			} `json:"variant"`
		} `json:"inventoryItem"`
	}
	if err := c.Do(ctx, accessToken, "GetProductByInventoryItem", query, map[string]interface{}{"id": inventoryItemID}, &out); err != nil {
		return "", err
	}
	if out.InventoryItem == nil || out.InventoryItem.Variant.Product.ID == "" {
		return "", apperr.Newf(apperr.KindNotFound, "shopify.GetProductByInventoryItem",
			"inventory item %s has no product", inventoryItemID)
	}
	return out.InventoryItem.Variant.Product.ID, nil
}

// UpdateProductStatus flips a product between ACTIVE and DRAFT.
func (c *Client) UpdateProductStatus(ctx context.Context, accessToken, productID, status string) error {
	const op = "shopify.UpdateProductStatus"

	query := `
		mutation productUpdate($input: ProductInput!) {
			productUpdate(input: $input) {
				product { id status }
				userErrors { field message }
			}
		}`

	vars := map[string]interface{}{
		"input": map[string]interface{}{"id": productID, "status": status},
	}

	var out struct {
		ProductUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productUpdate"`
	}
	if err := c.Do(ctx, accessToken, "UpdateProductStatus", query, vars, &out); err != nil {
		return err
	}
	if len(out.ProductUpdate.UserErrors) > 0 {
		return userErrorsToErr(op, out.ProductUpdate.UserErrors)
	}
	return nil
}
