package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers on the receipt API.
	decimal.MarshalJSONWithoutQuotes = true
}

// Receipt identifies an uploaded receipt. The ID is the only correlation key
// used for extraction, allocation and confirmation.
type Receipt struct {
	ID       string `json:"receiptId"`
	Filename string `json:"filename"`
}

// Brand is a company name optionally mapped to a stock ticker.
type Brand struct {
	Name        string `json:"name"`
	StockSymbol string `json:"stockSymbol"`
}

// HasTicker reports whether the brand is mapped to a stock symbol.
func (b *Brand) HasTicker() bool {
	return b != nil && strings.TrimSpace(b.StockSymbol) != ""
}

// Equal compares two possibly nil brands.
func (b *Brand) Equal(other *Brand) bool {
	if b == nil || other == nil {
		return b == nil && other == nil
	}
	return b.Name == other.Name && b.StockSymbol == other.StockSymbol
}

// Clone returns a copy of the brand, or nil.
func (b *Brand) Clone() *Brand {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

type brandJSON struct {
	Name        string  `json:"name"`
	StockSymbol *string `json:"stockSymbol"`
}

// MarshalJSON always emits the object form with a null stockSymbol when unmapped.
func (b Brand) MarshalJSON() ([]byte, error) {
	out := brandJSON{Name: b.Name}
	if b.StockSymbol != "" {
		sym := b.StockSymbol
		out.StockSymbol = &sym
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts either {"name", "stockSymbol"} or a bare brand name.
func (b *Brand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*b = Brand{Name: name}
		return nil
	}
	var raw brandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("brand: %w", err)
	}
	b.Name = raw.Name
	b.StockSymbol = ""
	if raw.StockSymbol != nil {
		b.StockSymbol = *raw.StockSymbol
	}
	return nil
}

// Item is a single receipt line.
type Item struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Brand  *Brand          `json:"brand"`
}

// ExtractedData is the structured, possibly partial, content of a receipt.
type ExtractedData struct {
	Retailer    *Brand          `json:"retailer"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
}

// HasRetailer reports whether a retailer with a name was recovered.
func (d *ExtractedData) HasRetailer() bool {
	return d.Retailer != nil && strings.TrimSpace(d.Retailer.Name) != ""
}

// IsUsable reports whether at least one of retailer, items or a positive
// total was recovered.
func (d *ExtractedData) IsUsable() bool {
	if d == nil {
		return false
	}
	return d.HasRetailer() || len(d.Items) > 0 || d.TotalAmount.IsPositive()
}

// Clone returns a deep copy.
func (d ExtractedData) Clone() ExtractedData {
	out := ExtractedData{
		Retailer:    d.Retailer.Clone(),
		TotalAmount: d.TotalAmount,
	}
	if d.Timestamp != nil {
		ts := *d.Timestamp
		out.Timestamp = &ts
	}
	if d.Items != nil {
		out.Items = make([]Item, len(d.Items))
		for i, it := range d.Items {
			out.Items[i] = Item{Name: it.Name, Amount: it.Amount, Brand: it.Brand.Clone()}
		}
	}
	return out
}

// RoundUp returns the distance from total to the next whole unit. Whole
// amounts round up by zero.
func RoundUp(total decimal.Decimal) decimal.Decimal {
	return total.Ceil().Sub(total)
}
