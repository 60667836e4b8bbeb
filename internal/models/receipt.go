package models

import (
	"time"
)

// Merchant as resolved by the normalizer. Extra carries any
// vendor-supplied keys found on the merchant sub-object beyond
// name/abn/address; they are preserved rather than discarded.
type Merchant struct {
	Name    string         `json:"name"`
	ABN     string         `json:"abn"`
	Address string         `json:"address"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// LineItem is one receipt line. Numeric fields distinguish absent (nil)
// from present-but-unparseable (0.0).
type LineItem struct {
	LineText  string   `json:"line_text"`
	Quantity  *float64 `json:"quantity"`
	UnitPrice *float64 `json:"unit_price"`
	Amount    *float64 `json:"amount"`
}

// ParseResult is the canonical shape every accepted model reply reduces
// to. Every field is populated, with documented defaults standing in for
// whatever the model omitted. RawJSON keeps the extracted payload verbatim
// for audit.
type ParseResult struct {
	UUID        string
	Total       float64
	Currency    string
	PurchasedAt *time.Time
	Merchant    Merchant
	Category    *string
	Items       []LineItem
	RawJSON     map[string]any
}

// Receipt is the persisted record produced from a ParseResult.
type Receipt struct {
	ID          string         `json:"id"`
	UUID        string         `json:"uuid"`
	Total       float64        `json:"total"`
	Currency    string         `json:"currency"`
	PurchasedAt *time.Time     `json:"purchased_at,omitempty"`
	Merchant    Merchant       `json:"merchant"`
	Category    *string        `json:"category,omitempty"`
	ImageURI    string         `json:"image_uri"`
	RawJSON     map[string]any `json:"raw_json"`
	Items       []LineItem     `json:"items"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SearchHit is one similarity-search result over indexed receipt text.
type SearchHit struct {
	ReceiptID string  `json:"receipt_id"`
	Content   string  `json:"content"`
	Distance  float64 `json:"distance"`
}
