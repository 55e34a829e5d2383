package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
	"github.com/roundup-invest/receipt-review/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Editor is an editable copy of a receipt's extracted data with live ticker
// search on its name fields. It is obtained from Workflow.BeginEdit and is
// safe for concurrent use.
type Editor struct {
	mu       sync.Mutex
	data     types.ExtractedData
	dirty    bool
	frozen   bool
	sealed   bool
	closed   bool
	focus    *suggest.FieldKey
	active   *SuggestionList
	autoKeys map[suggest.FieldKey]bool

	searcher            *suggest.Searcher
	autoSearchLength    int
	autoAcceptThreshold float64
	onChange            func()
	log                 *zap.SugaredLogger
	metrics             *workflowMetrics
}

func newEditor(data types.ExtractedData, opts SearchOptions, backend suggest.Backend, onChange func(), log *zap.SugaredLogger, metrics *workflowMetrics) *Editor {
	e := &Editor{
		data:                data,
		autoKeys:            make(map[suggest.FieldKey]bool),
		autoSearchLength:    opts.AutoSearchLength,
		autoAcceptThreshold: opts.AutoAcceptThreshold,
		onChange:            onChange,
		log:                 log,
		metrics:             metrics,
	}
	e.searcher = suggest.NewSearcher(backend, suggest.Options{
		Debounce:  opts.Debounce,
		MinLength: opts.MinLength,
		Limiter:   opts.Limiter,
	}, e.handleResult)
	return e
}

// Data returns a copy of the current edited data.
func (e *Editor) Data() types.ExtractedData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.Clone()
}

// Dirty reports whether any edit has been made. A dirty editor invalidates
// the allocation preview it was opened from.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Suggestions returns the open suggestion list, or nil.
func (e *Editor) Suggestions() *SuggestionList {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	cp := *e.active
	cp.Suggestions = append([]types.TickerSuggestion(nil), e.active.Suggestions...)
	return &cp
}

// ActiveField returns the key of the open suggestion list.
func (e *Editor) ActiveField() (suggest.FieldKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return suggest.FieldKey{}, false
	}
	return e.active.Key, true
}

// CloseSuggestions dismisses the open suggestion list.
func (e *Editor) CloseSuggestions() {
	e.mu.Lock()
	changed := e.active != nil
	e.active = nil
	e.focus = nil
	e.mu.Unlock()
	if changed {
		e.changed()
	}
}

// WaitForSearches blocks until scheduled searches have completed and their
// results were applied.
func (e *Editor) WaitForSearches(ctx context.Context) error {
	return e.searcher.Wait(ctx)
}

func (e *Editor) SetRetailerName(name string) error {
	return e.edit(func() error {
		if e.data.Retailer == nil {
			e.data.Retailer = &types.Brand{}
		}
		e.data.Retailer.Name = name
		e.dropEmptyRetailer()
		e.searchLocked(suggest.RetailerKey(), name, false)
		return nil
	})
}

func (e *Editor) SetRetailerTicker(symbol string) error {
	return e.edit(func() error {
		if e.data.Retailer == nil {
			e.data.Retailer = &types.Brand{}
		}
		e.data.Retailer.StockSymbol = normalizeTicker(symbol)
		e.dropEmptyRetailer()
		return nil
	})
}

func (e *Editor) SetTotal(amount decimal.Decimal) error {
	if err := valueobjects.ValidateAmount(amount); err != nil {
		return err
	}
	return e.edit(func() error {
		e.data.TotalAmount = amount
		return nil
	})
}

// AddItem appends an empty line item and returns its index.
func (e *Editor) AddItem() (int, error) {
	var idx int
	err := e.edit(func() error {
		e.data.Items = append(e.data.Items, types.Item{})
		idx = len(e.data.Items) - 1
		return nil
	})
	return idx, err
}

// RemoveItem deletes a line item. Searches and the open list for that item
// and the items after it are dropped since their indexes shift.
func (e *Editor) RemoveItem(index int) error {
	return e.edit(func() error {
		if err := e.checkIndex(index); err != nil {
			return err
		}
		for i := index; i < len(e.data.Items); i++ {
			for _, f := range []suggest.Field{suggest.FieldItemName, suggest.FieldItemBrand} {
				key := suggest.FieldKey{Item: i, Field: f}
				e.searcher.Cancel(key)
				delete(e.autoKeys, key)
			}
		}
		if e.active != nil && e.active.Key.Item >= index {
			e.active = nil
		}
		if e.focus != nil && e.focus.Item >= index {
			e.focus = nil
		}
		e.data.Items = append(e.data.Items[:index], e.data.Items[index+1:]...)
		return nil
	})
}

// SetItemName edits an item name. A name of at least the auto-search length
// on an item without a ticker is auto-resolved: a sufficiently confident top
// suggestion becomes the item's brand without confirmation.
func (e *Editor) SetItemName(index int, name string) error {
	return e.edit(func() error {
		if err := e.checkIndex(index); err != nil {
			return err
		}
		item := &e.data.Items[index]
		item.Name = name
		auto := !item.Brand.HasTicker() && utf8.RuneCountInString(strings.TrimSpace(name)) >= e.autoSearchLength
		e.searchLocked(suggest.FieldKey{Item: index, Field: suggest.FieldItemName}, name, auto)
		return nil
	})
}

func (e *Editor) SetItemAmount(index int, amount decimal.Decimal) error {
	if err := valueobjects.ValidateAmount(amount); err != nil {
		return err
	}
	return e.edit(func() error {
		if err := e.checkIndex(index); err != nil {
			return err
		}
		e.data.Items[index].Amount = amount
		return nil
	})
}

func (e *Editor) SetItemBrandName(index int, name string) error {
	return e.edit(func() error {
		if err := e.checkIndex(index); err != nil {
			return err
		}
		item := &e.data.Items[index]
		if item.Brand == nil {
			item.Brand = &types.Brand{}
		}
		item.Brand.Name = name
		if strings.TrimSpace(item.Brand.Name) == "" && item.Brand.StockSymbol == "" {
			item.Brand = nil
		}
		e.searchLocked(suggest.FieldKey{Item: index, Field: suggest.FieldItemBrand}, name, false)
		return nil
	})
}

func (e *Editor) SetItemBrandTicker(index int, symbol string) error {
	return e.edit(func() error {
		if err := e.checkIndex(index); err != nil {
			return err
		}
		item := &e.data.Items[index]
		if item.Brand == nil {
			item.Brand = &types.Brand{}
		}
		item.Brand.StockSymbol = normalizeTicker(symbol)
		if strings.TrimSpace(item.Brand.Name) == "" && item.Brand.StockSymbol == "" {
			item.Brand = nil
		}
		return nil
	})
}

// SelectSuggestion commits suggestion index of the open list for key as
// {name, stockSymbol} and closes the list.
func (e *Editor) SelectSuggestion(key suggest.FieldKey, index int) error {
	return e.edit(func() error {
		if e.active == nil || e.active.Key != key {
			return errors.ValidationFailed("No suggestions open for this field", fmt.Sprintf("%s of item %d", key.Field, key.Item))
		}
		if index < 0 || index >= len(e.active.Suggestions) {
			return errors.ValidationFailed("Invalid suggestion", fmt.Sprintf("index %d out of range", index))
		}
		brand := e.active.Suggestions[index].Brand()
		if key.Field == suggest.FieldRetailer {
			e.data.Retailer = brand
		} else {
			if err := e.checkIndex(key.Item); err != nil {
				return err
			}
			e.data.Items[key.Item].Brand = brand
		}
		e.searcher.Cancel(key)
		delete(e.autoKeys, key)
		e.active = nil
		e.focus = nil
		return nil
	})
}

// Close cancels outstanding searches. Further edits are rejected.
func (e *Editor) Close() {
	e.mu.Lock()
	e.closed = true
	e.active = nil
	e.mu.Unlock()
	e.searcher.Close()
}

// freeze blocks edits while the data is being saved. Results of searches
// already scheduled are still applied until seal.
func (e *Editor) freeze() {
	e.mu.Lock()
	e.frozen = true
	e.mu.Unlock()
}

// seal returns the data being saved. Search results arriving afterwards are
// dropped.
func (e *Editor) seal() types.ExtractedData {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
	return e.data.Clone()
}

func (e *Editor) unfreeze() {
	e.mu.Lock()
	e.frozen = false
	e.sealed = false
	e.mu.Unlock()
}

func (e *Editor) edit(fn func() error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.InvalidTransition("closed", "edit")
	}
	if e.frozen {
		e.mu.Unlock()
		return errors.InvalidTransition("saving", "edit")
	}
	if err := fn(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.dirty = true
	e.mu.Unlock()
	e.changed()
	return nil
}

// searchLocked focuses key and schedules a search for text. Caller holds e.mu.
func (e *Editor) searchLocked(key suggest.FieldKey, text string, auto bool) {
	if e.focus == nil || *e.focus != key {
		// Opening another field closes the current list.
		e.active = nil
	}
	k := key
	e.focus = &k
	if auto {
		e.autoKeys[key] = true
	} else {
		delete(e.autoKeys, key)
	}
	if _, scheduled := e.searcher.Query(key, text); !scheduled {
		delete(e.autoKeys, key)
		if e.active != nil && e.active.Key == key {
			e.active = nil
		}
	}
}

func (e *Editor) handleResult(r suggest.Result) {
	e.mu.Lock()
	if e.closed || e.sealed || !e.searcher.IsCurrent(r.Key, r.Seq) {
		e.mu.Unlock()
		return
	}
	auto := e.autoKeys[r.Key]
	delete(e.autoKeys, r.Key)

	if r.Err != nil {
		if e.active != nil && e.active.Key == r.Key {
			e.active = nil
		}
		e.mu.Unlock()
		e.changed()
		return
	}

	if auto && e.autoAccept(r) {
		e.mu.Unlock()
		e.changed()
		return
	}

	if e.focus != nil && *e.focus == r.Key {
		e.active = &SuggestionList{Key: r.Key, Query: r.Query, Suggestions: r.Suggestions}
	}
	e.mu.Unlock()
	e.changed()
}

// autoAccept applies the top suggestion to an item's brand when its
// confidence exceeds the threshold. Caller holds e.mu.
func (e *Editor) autoAccept(r suggest.Result) bool {
	if len(r.Suggestions) == 0 || r.Key.Item < 0 || r.Key.Item >= len(e.data.Items) {
		return false
	}
	top := r.Suggestions[0]
	if top.Confidence <= e.autoAcceptThreshold {
		return false
	}
	item := &e.data.Items[r.Key.Item]
	if item.Brand.HasTicker() {
		return false
	}
	item.Brand = top.Brand()
	e.dirty = true
	if e.active != nil && e.active.Key == r.Key {
		e.active = nil
	}
	e.log.Infow("Auto-accepted ticker suggestion", "item", r.Key.Item, "query", r.Query, "ticker", top.Ticker, "confidence", top.Confidence)
	e.metrics.autoAccepted.Inc()
	return true
}

func (e *Editor) dropEmptyRetailer() {
	if r := e.data.Retailer; r != nil && strings.TrimSpace(r.Name) == "" && r.StockSymbol == "" {
		e.data.Retailer = nil
	}
}

func (e *Editor) checkIndex(index int) error {
	if index < 0 || index >= len(e.data.Items) {
		return errors.ValidationFailed("Invalid item index", fmt.Sprintf("item %d does not exist", index))
	}
	return nil
}

func (e *Editor) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

func normalizeTicker(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
