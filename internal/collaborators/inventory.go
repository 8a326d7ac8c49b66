package collaborators

import (
	"context"
	"net/http"
	"net/url"

	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

// InventoryResponse is the inventory service's answer for one product.
type InventoryResponse struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Available   bool    `json:"available"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Inventory calls GET {base}/api/inventory/{productId}.
type Inventory struct {
	baseURL string
	client  *http.Client
}

// NewInventory returns an inventory adapter. A nil client uses http.DefaultClient;
// per-call deadlines come from the context.
func NewInventory(baseURL string, client *http.Client) *Inventory {
	return &Inventory{baseURL: baseURL, client: orDefault(client)}
}

// Check implements orders.InventoryClient.
func (i *Inventory) Check(ctx context.Context, productID string) (orders.InventoryResult, error) {
	var resp InventoryResponse
	u := joinURL(i.baseURL, "/api/inventory/"+url.PathEscape(productID))
	if err := doJSON(ctx, i.client, "inventory", http.MethodGet, u, nil, &resp); err != nil {
		return orders.InventoryResult{}, err
	}
	return orders.InventoryResult{
		Available: resp.Available,
		Quantity:  resp.Quantity,
		UnitPrice: resp.UnitPrice,
	}, nil
}
