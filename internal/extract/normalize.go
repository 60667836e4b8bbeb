package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"receipt-ingest/internal/models"
)

// Alias chains, probed in order, first present non-empty match wins. Kept
// as data so resolution order is testable without touching the resolver.
var (
	uuidAliases      = []string{"uuid"}
	totalAliases     = []string{"total", "amount", "grand_total"}
	currencyAliases  = []string{"currency"}
	categoryAliases  = []string{"category", "receipt_category"}
	purchasedAliases = []string{"purchased_at", "date_purchased", "purchase_date"}

	merchantNameAliases    = []string{"merchant_name", "shop_name"}
	merchantABNAliases     = []string{"merchant_abn", "shop_abn"}
	merchantAddressAliases = []string{"merchant_address", "shop_address"}

	itemTextAliases = []string{"line_text", "description", "name"}
)

// Normalize maps a loosely-shaped payload onto the canonical ParseResult.
// Field-level defects never fail a run: missing keys take documented
// defaults, malformed numbers coerce to zero, malformed dates drop to nil.
func Normalize(payload map[string]any) models.ParseResult {
	record := payload
	if wrapped, ok := payload["receipt_data"].(map[string]any); ok {
		record = wrapped
	}

	id, _ := pick(record, uuidAliases).(string)
	if strings.TrimSpace(id) == "" {
		id = uuid.New().String()
	}

	total := toFloat(pickDefault(record, totalAliases, "0"))

	currency, _ := pick(record, currencyAliases).(string)
	if currency == "" {
		currency = "AUD"
	}

	var category *string
	if c, ok := pick(record, categoryAliases).(string); ok {
		category = &c
	}

	return models.ParseResult{
		UUID:        id,
		Total:       total,
		Currency:    currency,
		PurchasedAt: parseTime(pick(record, purchasedAliases)),
		Merchant:    normalizeMerchant(record),
		Category:    category,
		Items:       normalizeItems(itemsValue(record)),
		RawJSON:     payload,
	}
}

// pick probes keys in order and returns the first present, non-nil value
// that is not an empty string.
func pick(record map[string]any, keys []string) any {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v
	}
	return nil
}

func pickDefault(record map[string]any, keys []string, def any) any {
	if v := pick(record, keys); v != nil {
		return v
	}
	return def
}

func normalizeMerchant(record map[string]any) models.Merchant {
	block, _ := record["merchant"].(map[string]any)

	name, _ := pick(record, merchantNameAliases).(string)
	if name == "" {
		name, _ = pick(block, []string{"name"}).(string)
	}
	if name == "" {
		name = "Unknown"
	}

	abn, _ := pick(record, merchantABNAliases).(string)
	if abn == "" {
		abn, _ = pick(block, []string{"abn"}).(string)
	}

	address, _ := pick(record, merchantAddressAliases).(string)
	if address == "" {
		address, _ = pick(block, []string{"address"}).(string)
	}

	// Vendor keys beyond the canonical three ride along untouched.
	var extra map[string]any
	for k, v := range block {
		switch k {
		case "name", "abn", "address":
		default:
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
		}
	}

	return models.Merchant{Name: name, ABN: abn, Address: address, Extra: extra}
}

// itemsValue reads the item list from "items", falling back to
// "line_items" when the former is absent, null, or an empty list.
func itemsValue(record map[string]any) any {
	if v, ok := record["items"]; ok && v != nil {
		if list, isList := v.([]any); !isList || len(list) > 0 {
			return v
		}
	}
	return record["line_items"]
}

func normalizeItems(v any) []models.LineItem {
	list, ok := v.([]any)
	if !ok {
		return []models.LineItem{}
	}
	items := make([]models.LineItem, 0, len(list))
	for _, entry := range list {
		switch t := entry.(type) {
		case string:
			items = append(items, models.LineItem{LineText: t})
		case map[string]any:
			text, _ := pick(t, itemTextAliases).(string)
			items = append(items, models.LineItem{
				LineText:  text,
				Quantity:  optFloat(t["quantity"]),
				UnitPrice: optFloat(t["unit_price"]),
				Amount:    optFloat(t["amount"]),
			})
		}
	}
	return items
}

// toFloat applies the tolerant numeric rule: nil or empty string is 0.0,
// numbers pass through, anything else parses as a decimal and collapses to
// 0.0 on failure. It never raises.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// optFloat keeps absent values nil but coerces malformed present values to
// zero. Absent and unparseable are deliberately different outcomes.
func optFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	f := toFloat(v)
	return &f
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts ISO-8601 dates or datetimes; anything else drops to
// nil rather than failing the run.
func parseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
