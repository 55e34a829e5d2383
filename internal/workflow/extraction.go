package workflow

import "github.com/roundup-invest/receipt-review/types"

// extractionOutcome is the decision taken on a processing response.
type extractionOutcome int

const (
	// proceed to allocation with whatever was recovered
	outcomeProceed extractionOutcome = iota
	// route to manual entry
	outcomeManualEntry
)

// classifyExtraction applies the partial-success policy: any of retailer,
// items or a positive total makes the result usable. Manual entry is chosen
// only when nothing usable came back and the backend asked for it. A
// response that is neither usable nor flagged still proceeds.
func classifyExtraction(resp *types.ProcessResponse) (types.ExtractedData, extractionOutcome) {
	var data types.ExtractedData
	if resp != nil && resp.Data != nil {
		data = resp.Data.Clone()
	}
	if data.IsUsable() {
		return data, outcomeProceed
	}
	if resp != nil && resp.NeedsManualEntry {
		return types.ExtractedData{}, outcomeManualEntry
	}
	return data, outcomeProceed
}
