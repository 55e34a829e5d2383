package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// APIStatus is the envelope shared by all receipt API responses.
type APIStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reason returns the backend's explanation of a failure, if any.
func (s APIStatus) Reason() string {
	if s.Error != "" {
		return s.Error
	}
	return s.Message
}

type UploadResponse struct {
	APIStatus
	ReceiptID string `json:"receiptId"`
	Filename  string `json:"filename"`
}

// ProcessRequest asks the backend to (re)extract a receipt. Override replaces
// the stored extraction verbatim and skips OCR.
type ProcessRequest struct {
	RawText  string         `json:"rawText,omitempty"`
	Override *ExtractedData `json:"override,omitempty"`
}

type ProcessResponse struct {
	APIStatus
	Data             *ExtractedData `json:"data"`
	NeedsManualEntry bool           `json:"needsManualEntry"`
}

// AllocateResponse keeps allocations raw so their shape can be checked
// before decoding.
type AllocateResponse struct {
	APIStatus
	Allocations  json.RawMessage `json:"allocations"`
	TotalRoundUp decimal.Decimal `json:"totalRoundUp"`
}

type SearchTickerResponse struct {
	APIStatus
	Suggestions []TickerSuggestion `json:"suggestions"`
}

type CreateTransactionRequest struct {
	ReceiptID   string            `json:"receiptId"`
	ReceiptData ExtractedData     `json:"receiptData"`
	Allocation  AllocationPreview `json:"allocation"`
}

type CreateTransactionResponse struct {
	APIStatus
	TransactionID string `json:"transactionId"`
}

// LearningSubmission reports a confirmed receipt and the user's corrections.
type LearningSubmission struct {
	ReceiptID     string            `json:"receiptId"`
	TransactionID string            `json:"transactionId,omitempty"`
	ReceiptData   ExtractedData     `json:"receiptData"`
	Allocation    AllocationPreview `json:"allocation"`
	Corrections   *Corrections      `json:"corrections"`
}
