package workflow

import "github.com/roundup-invest/receipt-review/types"

// ComputeCorrections diffs edited data against the original extraction.
// Unchanged fields are nil. Items are compared by position; an added item
// has a nil Before and a removed item a nil After.
func ComputeCorrections(original, edited types.ExtractedData) *types.Corrections {
	c := &types.Corrections{}

	if !original.Retailer.Equal(edited.Retailer) {
		c.Retailer = &types.FieldChange{Before: brandValue(original.Retailer), After: brandValue(edited.Retailer)}
	}
	if !original.TotalAmount.Equal(edited.TotalAmount) {
		c.TotalAmount = &types.FieldChange{Before: original.TotalAmount, After: edited.TotalAmount}
	}

	n := len(original.Items)
	if len(edited.Items) > n {
		n = len(edited.Items)
	}
	c.Items = make([]types.ItemCorrections, n)
	for i := 0; i < n; i++ {
		var before, after *types.Item
		if i < len(original.Items) {
			before = &original.Items[i]
		}
		if i < len(edited.Items) {
			after = &edited.Items[i]
		}
		c.Items[i] = diffItem(before, after)
	}
	return c
}

func diffItem(before, after *types.Item) types.ItemCorrections {
	var ic types.ItemCorrections
	switch {
	case before == nil && after == nil:
		return ic
	case before == nil:
		ic.Name = &types.FieldChange{Before: nil, After: after.Name}
		ic.Amount = &types.FieldChange{Before: nil, After: after.Amount}
		if after.Brand != nil {
			ic.Brand = &types.FieldChange{Before: nil, After: brandValue(after.Brand)}
		}
		return ic
	case after == nil:
		ic.Name = &types.FieldChange{Before: before.Name, After: nil}
		ic.Amount = &types.FieldChange{Before: before.Amount, After: nil}
		if before.Brand != nil {
			ic.Brand = &types.FieldChange{Before: brandValue(before.Brand), After: nil}
		}
		return ic
	}

	if before.Name != after.Name {
		ic.Name = &types.FieldChange{Before: before.Name, After: after.Name}
	}
	if !before.Amount.Equal(after.Amount) {
		ic.Amount = &types.FieldChange{Before: before.Amount, After: after.Amount}
	}
	if !before.Brand.Equal(after.Brand) {
		ic.Brand = &types.FieldChange{Before: brandValue(before.Brand), After: brandValue(after.Brand)}
	}
	return ic
}

// brandValue keeps a nil brand as an untyped nil so it encodes as JSON null.
func brandValue(b *types.Brand) interface{} {
	if b == nil {
		return nil
	}
	return *b
}
