package types

// FieldChange records a single edited value.
type FieldChange struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// ItemCorrections holds per-item changes; nil fields were not edited.
type ItemCorrections struct {
	Name   *FieldChange `json:"name"`
	Amount *FieldChange `json:"amount"`
	Brand  *FieldChange `json:"brand"`
}

// IsEmpty reports whether no field of the item changed.
func (c ItemCorrections) IsEmpty() bool {
	return c.Name == nil && c.Amount == nil && c.Brand == nil
}

// Corrections is the structural diff between extracted and edited receipt data.
type Corrections struct {
	Retailer    *FieldChange      `json:"retailer"`
	TotalAmount *FieldChange      `json:"totalAmount"`
	Items       []ItemCorrections `json:"items"`
}

// IsEmpty reports whether nothing was corrected.
func (c *Corrections) IsEmpty() bool {
	if c == nil {
		return true
	}
	if c.Retailer != nil || c.TotalAmount != nil {
		return false
	}
	for _, it := range c.Items {
		if !it.IsEmpty() {
			return false
		}
	}
	return true
}
