package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrand_UnmarshalForms(t *testing.T) {
	payload := `{
		"retailer": null,
		"items": [
			{"name": "Sneakers", "amount": 89.5, "brand": {"name": "Nike", "stockSymbol": "NKE"}},
			{"name": "Socks", "amount": "4.25", "brand": "Hanes"},
			{"name": "Bag", "amount": 3, "brand": {"name": "Generic", "stockSymbol": null}},
			{"name": "Gum", "amount": 1, "brand": null}
		],
		"totalAmount": 97.75
	}`

	var data ExtractedData
	require.NoError(t, json.Unmarshal([]byte(payload), &data))

	assert.Nil(t, data.Retailer)
	require.Len(t, data.Items, 4)
	assert.Equal(t, &Brand{Name: "Nike", StockSymbol: "NKE"}, data.Items[0].Brand)
	assert.Equal(t, &Brand{Name: "Hanes"}, data.Items[1].Brand)
	assert.Equal(t, &Brand{Name: "Generic"}, data.Items[2].Brand)
	assert.Nil(t, data.Items[3].Brand)
	assert.True(t, data.Items[1].Amount.Equal(decimal.RequireFromString("4.25")))
	assert.True(t, data.TotalAmount.Equal(decimal.RequireFromString("97.75")))
}

func TestBrand_MarshalObjectForm(t *testing.T) {
	out, err := json.Marshal(Item{Name: "Socks", Amount: decimal.RequireFromString("4.25"), Brand: &Brand{Name: "Hanes"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Socks","amount":4.25,"brand":{"name":"Hanes","stockSymbol":null}}`, string(out))

	out, err = json.Marshal(Item{Name: "Gum", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Gum","amount":1,"brand":null}`, string(out))
}

func TestExtractedData_IsUsable(t *testing.T) {
	tests := []struct {
		name string
		data *ExtractedData
		want bool
	}{
		{name: "nil", data: nil, want: false},
		{name: "empty", data: &ExtractedData{}, want: false},
		{name: "retailer only", data: &ExtractedData{Retailer: &Brand{Name: "Target"}}, want: true},
		{name: "blank retailer", data: &ExtractedData{Retailer: &Brand{Name: "  "}}, want: false},
		{name: "items only", data: &ExtractedData{Items: []Item{{Name: "HP ENVY"}}}, want: true},
		{name: "total only", data: &ExtractedData{TotalAmount: decimal.RequireFromString("0.01")}, want: true},
		{name: "zero total", data: &ExtractedData{TotalAmount: decimal.Zero}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.IsUsable())
		})
	}
}

func TestExtractedData_CloneIsDeep(t *testing.T) {
	orig := ExtractedData{
		Retailer: &Brand{Name: "Best Buy", StockSymbol: "BBY"},
		Items:    []Item{{Name: "HP ENVY", Amount: decimal.RequireFromString("49.99"), Brand: &Brand{Name: "HP"}}},
	}
	cp := orig.Clone()
	cp.Retailer.Name = "Changed"
	cp.Items[0].Name = "Changed"
	cp.Items[0].Brand.StockSymbol = "HPQ"

	assert.Equal(t, "Best Buy", orig.Retailer.Name)
	assert.Equal(t, "HP ENVY", orig.Items[0].Name)
	assert.Equal(t, "", orig.Items[0].Brand.StockSymbol)
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, "0.01", RoundUp(decimal.RequireFromString("49.99")).String())
	assert.Equal(t, "0.75", RoundUp(decimal.RequireFromString("12.25")).String())
	assert.True(t, RoundUp(decimal.NewFromInt(20)).IsZero())
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, BandFor(0.9))
	assert.Equal(t, ConfidenceHigh, BandFor(1))
	assert.Equal(t, ConfidenceMedium, BandFor(0.7))
	assert.Equal(t, ConfidenceMedium, BandFor(0.89))
	assert.Equal(t, ConfidenceLow, BandFor(0.69))
}

func TestAllocationPreview_NeedsReview(t *testing.T) {
	high := Allocation{StockSymbol: "HPQ", Confidence: 0.95}
	medium := Allocation{StockSymbol: "BBY", Confidence: 0.75}

	assert.False(t, (&AllocationPreview{Allocations: []Allocation{high}}).NeedsReview())
	assert.True(t, (&AllocationPreview{Allocations: []Allocation{high, medium}}).NeedsReview())
	assert.False(t, (&AllocationPreview{}).NeedsReview())
	assert.True(t, (&AllocationPreview{}).IsEmpty())
}

func TestCorrections_IsEmpty(t *testing.T) {
	c := &Corrections{Items: []ItemCorrections{{}, {}}}
	assert.True(t, c.IsEmpty())

	c.Items[1].Amount = &FieldChange{Before: "1", After: "2"}
	assert.False(t, c.IsEmpty())

	var nilCorrections *Corrections
	assert.True(t, nilCorrections.IsEmpty())
}
