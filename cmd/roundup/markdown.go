package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
	"github.com/roundup-invest/receipt-review/types"
	"github.com/shopspring/decimal"
)

// printMarkdown renders md for the terminal, falling back to the raw text.
func printMarkdown(w io.Writer, md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		var out string
		if out, err = r.Render(md); err == nil {
			fmt.Fprint(w, out)
			return
		}
	}
	fmt.Fprint(w, md)
}

// reviewMarkdown describes a receipt under review: the data, the proposed
// allocation and the corrections made so far.
func reviewMarkdown(snap workflow.Snapshot, corrections *types.Corrections, currency valueobjects.Currency) string {
	var b strings.Builder
	title := "Receipt"
	switch {
	case snap.Receipt != nil && snap.Receipt.Filename != "":
		title = snap.Receipt.Filename
	case snap.Filename != "":
		title = snap.Filename
	}
	fmt.Fprintf(&b, "# Review: %s\n\n", mdEscape(title))

	if snap.Error != nil {
		fmt.Fprintf(&b, "**Failed** (%s): %s\n", snap.Error.Stage, mdEscape(snap.Error.Message))
		return b.String()
	}

	if d := snap.Data; d != nil {
		retailer := "_unknown_"
		if d.HasRetailer() {
			retailer = brandLabel(d.Retailer)
		}
		fmt.Fprintf(&b, "- **Retailer:** %s\n", retailer)
		if d.Timestamp != nil {
			fmt.Fprintf(&b, "- **Date:** %s\n", d.Timestamp.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "- **Total:** %s\n", valueobjects.Format(d.TotalAmount, currency))
		fmt.Fprintf(&b, "- **Round-up:** %s\n\n", valueobjects.Format(types.RoundUp(d.TotalAmount), currency))

		if len(d.Items) > 0 {
			b.WriteString("## Items\n\n")
			b.WriteString("| # | Item | Brand | Amount |\n")
			b.WriteString("|---|------|-------|-------:|\n")
			for i, it := range d.Items {
				brand := ""
				if it.Brand != nil {
					brand = brandLabel(it.Brand)
				}
				fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i, mdEscape(it.Name), brand, valueobjects.Format(it.Amount, currency))
			}
			b.WriteString("\n")
		}
	}

	if p := snap.Preview; p != nil {
		b.WriteString("## Allocation\n\n")
		if p.IsEmpty() {
			b.WriteString("No ticker could be matched to this receipt.\n\n")
		} else {
			b.WriteString("| Ticker | Company | Amount | Share | Confidence |\n")
			b.WriteString("|--------|---------|-------:|------:|------------|\n")
			for _, a := range p.Allocations {
				fmt.Fprintf(&b, "| %s | %s | %s | %s%% | %s |\n",
					a.StockSymbol, mdEscape(a.StockName), valueobjects.Format(a.Amount, currency),
					decimal.NewFromFloat(a.Percentage).StringFixed(0), a.Band())
			}
			fmt.Fprintf(&b, "\n**Total round-up:** %s\n\n", valueobjects.Format(p.TotalRoundUp, currency))
		}
		if snap.NeedsReview {
			b.WriteString("> Some allocations have low confidence. Check the brands before confirming.\n\n")
		}
	}

	if !corrections.IsEmpty() {
		b.WriteString("## Corrections\n\n")
		if c := corrections.Retailer; c != nil {
			fmt.Fprintf(&b, "- Retailer: %s → %s\n", changeValue(c.Before, currency), changeValue(c.After, currency))
		}
		if c := corrections.TotalAmount; c != nil {
			fmt.Fprintf(&b, "- Total: %s → %s\n", changeValue(c.Before, currency), changeValue(c.After, currency))
		}
		for i, it := range corrections.Items {
			if it.Name != nil {
				fmt.Fprintf(&b, "- Item %d name: %s → %s\n", i, changeValue(it.Name.Before, currency), changeValue(it.Name.After, currency))
			}
			if it.Amount != nil {
				fmt.Fprintf(&b, "- Item %d amount: %s → %s\n", i, changeValue(it.Amount.Before, currency), changeValue(it.Amount.After, currency))
			}
			if it.Brand != nil {
				fmt.Fprintf(&b, "- Item %d brand: %s → %s\n", i, changeValue(it.Brand.Before, currency), changeValue(it.Brand.After, currency))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// confirmationMarkdown summarises a created transaction.
func confirmationMarkdown(result *types.TransactionResult, currency valueobjects.Currency) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Confirmed\n\nTransaction `%s` for receipt `%s`.\n\n", result.TransactionID, result.Receipt.ID)
	fmt.Fprintf(&b, "Invested %s across %d ticker(s).\n",
		valueobjects.Format(result.Allocation.TotalRoundUp, currency), len(result.Allocation.Allocations))
	return b.String()
}

// suggestionsMarkdown lists ticker search results.
func suggestionsMarkdown(query string, suggestions []types.TickerSuggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Tickers for \"%s\"\n\n", mdEscape(query))
	if len(suggestions) == 0 {
		b.WriteString("No matches.\n")
		return b.String()
	}
	b.WriteString("| Ticker | Company | Category | Confidence | Reason |\n")
	b.WriteString("|--------|---------|----------|------------|--------|\n")
	for _, s := range suggestions {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			s.Ticker, mdEscape(s.CompanyName), mdEscape(s.Category), types.BandFor(s.Confidence), mdEscape(s.MatchReason))
	}
	return b.String()
}

func brandLabel(b *types.Brand) string {
	if b.HasTicker() {
		return fmt.Sprintf("%s (%s)", mdEscape(b.Name), b.StockSymbol)
	}
	return mdEscape(b.Name)
}

func changeValue(v interface{}, currency valueobjects.Currency) string {
	switch x := v.(type) {
	case nil:
		return "_none_"
	case *types.Brand:
		if x == nil {
			return "_none_"
		}
		return brandLabel(x)
	case types.Brand:
		return brandLabel(&x)
	case decimal.Decimal:
		return valueobjects.Format(x, currency)
	case string:
		if x == "" {
			return "_empty_"
		}
		return mdEscape(x)
	default:
		return mdEscape(fmt.Sprint(x))
	}
}

var mdReplacer = strings.NewReplacer("|", "\\|", "*", "\\*", "_", "\\_", "`", "\\`")

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}
