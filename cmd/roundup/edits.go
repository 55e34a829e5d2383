package main

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
	"github.com/roundup-invest/receipt-review/types"
	"gopkg.in/yaml.v3"
)

// editsFile lists corrections to apply to an extracted receipt, e.g.
//
//	retailer:
//	  name: Best Buy
//	  ticker: BBY
//	total: "59.99"
//	items:
//	  - index: 0
//	    amount: "59.99"
//	    brand: HP Inc.
//	    ticker: HPQ
//	remove: [2]
//	add:
//	  - name: USB cable
//	    amount: "9.99"
type editsFile struct {
	Retailer *retailerEdit `yaml:"retailer"`
	Total    *string       `yaml:"total"`
	Items    []itemEdit    `yaml:"items"`
	Remove   []int         `yaml:"remove"`
	Add      []itemEdit    `yaml:"add"`
}

type retailerEdit struct {
	Name   *string `yaml:"name"`
	Ticker *string `yaml:"ticker"`
}

type itemEdit struct {
	Index  int     `yaml:"index"`
	Name   *string `yaml:"name"`
	Amount *string `yaml:"amount"`
	Brand  *string `yaml:"brand"`
	Ticker *string `yaml:"ticker"`
}

// manualFile is the receipt data entered by hand when extraction found nothing.
type manualFile struct {
	Retailer       string       `yaml:"retailer"`
	RetailerTicker string       `yaml:"retailer_ticker"`
	Date           string       `yaml:"date"`
	Total          string       `yaml:"total"`
	Items          []manualItem `yaml:"items"`
}

type manualItem struct {
	Name   string `yaml:"name"`
	Amount string `yaml:"amount"`
	Brand  string `yaml:"brand"`
	Ticker string `yaml:"ticker"`
}

func loadYAML(filename string, out interface{}) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !stderrors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

func (f *editsFile) isEmpty() bool {
	return f == nil || (f.Retailer == nil && f.Total == nil && len(f.Items) == 0 && len(f.Remove) == 0 && len(f.Add) == 0)
}

// apply runs the edits through the editor in file order: retailer, total,
// item changes, removals (highest index first), then additions.
func (f *editsFile) apply(ed *workflow.Editor) error {
	if r := f.Retailer; r != nil {
		if r.Name != nil {
			if err := ed.SetRetailerName(*r.Name); err != nil {
				return err
			}
		}
		if r.Ticker != nil {
			if err := ed.SetRetailerTicker(*r.Ticker); err != nil {
				return err
			}
		}
	}
	if f.Total != nil {
		total, err := valueobjects.ParseAmount(*f.Total)
		if err != nil {
			return err
		}
		if err := ed.SetTotal(total); err != nil {
			return err
		}
	}
	for _, it := range f.Items {
		if err := it.apply(ed, it.Index); err != nil {
			return err
		}
	}

	remove := append([]int(nil), f.Remove...)
	sort.Sort(sort.Reverse(sort.IntSlice(remove)))
	for i, index := range remove {
		if i > 0 && remove[i-1] == index {
			continue
		}
		if err := ed.RemoveItem(index); err != nil {
			return err
		}
	}

	for _, it := range f.Add {
		index, err := ed.AddItem()
		if err != nil {
			return err
		}
		if err := it.apply(ed, index); err != nil {
			return err
		}
	}
	return nil
}

func (it itemEdit) apply(ed *workflow.Editor, index int) error {
	if it.Name != nil {
		if err := ed.SetItemName(index, *it.Name); err != nil {
			return err
		}
	}
	if it.Amount != nil {
		amount, err := valueobjects.ParseAmount(*it.Amount)
		if err != nil {
			return err
		}
		if err := ed.SetItemAmount(index, amount); err != nil {
			return err
		}
	}
	if it.Brand != nil {
		if err := ed.SetItemBrandName(index, *it.Brand); err != nil {
			return err
		}
	}
	if it.Ticker != nil {
		if err := ed.SetItemBrandTicker(index, *it.Ticker); err != nil {
			return err
		}
	}
	return nil
}

// extractedData converts the manual entry into receipt data.
func (m *manualFile) extractedData() (types.ExtractedData, error) {
	var data types.ExtractedData
	if name := strings.TrimSpace(m.Retailer); name != "" || m.RetailerTicker != "" {
		data.Retailer = &types.Brand{Name: name, StockSymbol: strings.ToUpper(strings.TrimSpace(m.RetailerTicker))}
	}
	if m.Total != "" {
		total, err := valueobjects.ParseAmount(m.Total)
		if err != nil {
			return data, err
		}
		data.TotalAmount = total
	}
	if m.Date != "" {
		ts, err := time.Parse("2006-01-02", m.Date)
		if err != nil {
			return data, fmt.Errorf("date %q: expected YYYY-MM-DD", m.Date)
		}
		data.Timestamp = &ts
	}
	for _, it := range m.Items {
		item := types.Item{Name: strings.TrimSpace(it.Name)}
		if it.Amount != "" {
			amount, err := valueobjects.ParseAmount(it.Amount)
			if err != nil {
				return data, err
			}
			item.Amount = amount
		}
		if it.Brand != "" || it.Ticker != "" {
			item.Brand = &types.Brand{Name: strings.TrimSpace(it.Brand), StockSymbol: strings.ToUpper(strings.TrimSpace(it.Ticker))}
		}
		data.Items = append(data.Items, item)
	}
	return data, nil
}
