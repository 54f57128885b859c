package types

import (
	"strings"
	"time"
)

// ProductRecord is one supermarket listing. (Store, ExternalID) is unique.
type ProductRecord struct {
	ExternalID    string    `json:"external_id"`
	Store         string    `json:"store"`
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	Price         float64   `json:"price"`
	OriginalPrice *float64  `json:"original_price,omitempty"`
	OnSale        bool      `json:"on_sale"`
	Available     bool      `json:"available"`
	ImageURL      string    `json:"image_url,omitempty"`
	LastSeen      time.Time `json:"last_seen,omitempty"`
}

// CatalogID is the id used for a product in the product catalog
func (p ProductRecord) CatalogID() string {
	return ProductCatalogID(p.Store, p.ExternalID)
}

// ProductCatalogID builds the store-scoped id "store/external_id"
func ProductCatalogID(store, externalID string) string {
	return strings.ToLower(strings.TrimSpace(store)) + "/" + strings.TrimSpace(externalID)
}
