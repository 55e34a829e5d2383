package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
)

type processCmd struct {
	editsPath  string
	manualPath string
	confirm    bool
	currency   string

	out io.Writer
}

func (*processCmd) Name() string     { return "process" }
func (*processCmd) Synopsis() string { return "upload a receipt, review its allocation and optionally confirm it" }
func (*processCmd) Usage() string {
	return `roundup process [-edits <file.yaml>] [-manual <file.yaml>] [-confirm] [-currency USD] <receipt>

  Uploads a PNG, JPG or PDF receipt, prints the extracted data and the
  proposed round-up allocation. Corrections from -edits are applied and
  re-allocated before the review is printed. -manual supplies the data when
  nothing could be extracted. -confirm creates the transaction.
`
}

func (c *processCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.editsPath, "edits", "", "YAML file of corrections to apply")
	f.StringVar(&c.manualPath, "manual", "", "YAML file of receipt data used when extraction finds nothing")
	f.BoolVar(&c.confirm, "confirm", false, "create the transaction after review")
	f.StringVar(&c.currency, "currency", string(valueobjects.USD), "currency used to display amounts")
}

func (c *processCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: expected exactly one receipt file")
		return subcommands.ExitUsageError
	}
	if c.out == nil {
		c.out = os.Stdout
	}

	env, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer env.close()

	wf := env.newWorkflow()
	defer wf.Close()

	if err := c.run(ctx, wf, f.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// run drives wf through one receipt: upload, optional manual entry and
// corrections, review and optional confirmation.
func (c *processCmd) run(ctx context.Context, wf *workflow.Workflow, receiptPath string) error {
	currency := valueobjects.Currency(strings.ToUpper(c.currency))

	var edits *editsFile
	if c.editsPath != "" {
		edits = &editsFile{}
		if err := loadYAML(c.editsPath, edits); err != nil {
			return err
		}
	}
	var manual *manualFile
	if c.manualPath != "" {
		manual = &manualFile{}
		if err := loadYAML(c.manualPath, manual); err != nil {
			return err
		}
	}

	file, err := os.Open(receiptPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := wf.Upload(ctx, filepath.Base(receiptPath), file); err != nil {
		printMarkdown(c.out, reviewMarkdown(wf.Snapshot(), nil, currency))
		return err
	}

	if _, ok := wf.State().(workflow.ManualEntry); ok {
		if manual == nil {
			return fmt.Errorf("nothing could be extracted from %s; rerun with -manual", filepath.Base(receiptPath))
		}
		data, err := manual.extractedData()
		if err != nil {
			return err
		}
		if err := wf.SubmitManualEntry(ctx, data); err != nil {
			return err
		}
	}

	if !edits.isEmpty() {
		if err := c.applyEdits(ctx, wf, edits); err != nil {
			return err
		}
	}

	printMarkdown(c.out, reviewMarkdown(wf.Snapshot(), wf.Corrections(), currency))

	if !c.confirm {
		return nil
	}
	result, err := wf.Confirm(ctx)
	if err != nil {
		return err
	}
	printMarkdown(c.out, confirmationMarkdown(result, currency))
	return nil
}

func (c *processCmd) applyEdits(ctx context.Context, wf *workflow.Workflow, edits *editsFile) error {
	ed, err := wf.BeginEdit()
	if err != nil {
		return err
	}
	if err := edits.apply(ed); err != nil {
		_ = wf.CancelEdit()
		return err
	}
	// Auto-accepted tickers from item renames are saved with the edits.
	return wf.SaveEdits(ctx)
}
