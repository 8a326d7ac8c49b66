package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

// canonicalRequest fixes field order and names so the digest is stable across releases.
// Only fields that change the saga's outcome belong here.
type canonicalRequest struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	CustomerID string `json:"customer_id"`
}

// Fingerprint returns the hex SHA-256 of the canonical JSON form of req.
func Fingerprint(req orders.Request) string {
	// marshalling strings and ints cannot fail
	b, _ := json.Marshal(canonicalRequest{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		CustomerID: req.CustomerID,
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
