package types

import "github.com/shopspring/decimal"

// ConfidenceBand buckets a 0..1 confidence score for display.
type ConfidenceBand string

const (
	ConfidenceHigh   ConfidenceBand = "High"
	ConfidenceMedium ConfidenceBand = "Medium"
	ConfidenceLow    ConfidenceBand = "Low"
)

// BandFor maps a confidence score to its band.
func BandFor(confidence float64) ConfidenceBand {
	switch {
	case confidence >= 0.9:
		return ConfidenceHigh
	case confidence >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Allocation is one ticker's share of the round-up.
type Allocation struct {
	StockSymbol string          `json:"stockSymbol"`
	StockName   string          `json:"stockName"`
	Amount      decimal.Decimal `json:"amount"`
	Percentage  float64         `json:"percentage"`
	Confidence  float64         `json:"confidence"`
	Reason      string          `json:"reason"`
}

// Band returns the confidence band of the allocation.
func (a Allocation) Band() ConfidenceBand {
	return BandFor(a.Confidence)
}

// AllocationPreview is the proposed split of a receipt's round-up.
type AllocationPreview struct {
	TotalRoundUp decimal.Decimal `json:"totalRoundUp"`
	Allocations  []Allocation    `json:"allocations"`
}

// NeedsReview is true when any allocation is below the High band.
func (p *AllocationPreview) NeedsReview() bool {
	if p == nil {
		return false
	}
	for _, a := range p.Allocations {
		if a.Band() != ConfidenceHigh {
			return true
		}
	}
	return false
}

// IsEmpty reports a valid preview with zero allocations.
func (p *AllocationPreview) IsEmpty() bool {
	return p == nil || len(p.Allocations) == 0
}

// TickerSuggestion is one result of a ticker search.
type TickerSuggestion struct {
	Ticker      string  `json:"ticker"`
	CompanyName string  `json:"company_name"`
	MatchReason string  `json:"match_reason"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
}

// Brand converts the suggestion into the brand it commits on selection.
func (s TickerSuggestion) Brand() *Brand {
	return &Brand{Name: s.CompanyName, StockSymbol: s.Ticker}
}

// TransactionResult is handed to the completion callback after a successful
// confirmation.
type TransactionResult struct {
	TransactionID string            `json:"transactionId"`
	Receipt       Receipt           `json:"receipt"`
	Data          ExtractedData     `json:"receiptData"`
	Allocation    AllocationPreview `json:"allocation"`
}
