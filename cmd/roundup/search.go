package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/roundup-invest/receipt-review/internal/suggest"
)

type searchCmd struct {
	out io.Writer
}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "search stock tickers for a brand or retailer" }
func (*searchCmd) Usage() string {
	return `roundup search <text>

  Lists the tickers the receipt API suggests for a brand or retailer name.
`
}

func (*searchCmd) SetFlags(*flag.FlagSet) {}

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	query := strings.TrimSpace(strings.Join(f.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Error: search text is required")
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

	if err := c.run(ctx, env.searchBackend(), query); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *searchCmd) run(ctx context.Context, backend suggest.Backend, query string) error {
	suggestions, err := backend.SearchTicker(ctx, query)
	if err != nil {
		return err
	}
	printMarkdown(c.out, suggestionsMarkdown(query, suggestions))
	return nil
}
