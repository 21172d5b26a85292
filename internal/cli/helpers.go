package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/logging"
	"github.com/mesh-intelligence/tokenplan/internal/plan"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// operator is the caller for every mutating command. The CLI runs with the
// local user's file permissions, so it is always authorized.
var operator = types.Caller{Name: "local", Authorized: true}

// newService opens the plan service for cfg. Logs go to stderr so stdout
// carries only command output.
func newService(cfg types.Config) (*plan.Service, error) {
	svc, err := plan.New(cfg, logging.New(os.Stderr, cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return svc, nil
}

// withService resolves the configuration, opens the service, runs fn, and
// closes the service on every exit path.
func withService(fn func(*plan.Service) error) (err error) {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close storage: %w", cerr)
		}
	}()
	return fn(svc)
}

// readInput decodes the JSON document at path into v. A path of "-" reads
// standard input.
func readInput(cmd *cobra.Command, path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return usageError{fmt.Errorf("open input: %w", err)}
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, types.ErrInvalidData)
	}
	return nil
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// printTable writes a tab-aligned table with a header and an underline row,
// trimming trailing padding from each line.
func printTable(cmd *cobra.Command, header []string, rows [][]string) {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	underline := make([]string, len(header))
	for i, h := range header {
		underline[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	fmt.Fprintln(w, strings.Join(underline, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	w.Flush()

	out := cmd.OutOrStdout()
	for _, line := range strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n") {
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
}

// printTotals writes a detail's totals in text mode.
func printTotals(cmd *cobra.Command, t types.Totals) {
	fmt.Fprintf(cmd.OutOrStdout(), "token_count_total:  %s\nactual_token_total: %s\n",
		t.TokenCountTotal, t.ActualTokenTotal)
}

// detailKeyFlags binds the --stage, --category, and --subcategory flags.
func detailKeyFlags(cmd *cobra.Command, key *types.DetailKey) {
	cmd.Flags().StringVar(&key.Stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&key.Category, "category", "", "category name")
	cmd.Flags().StringVar(&key.Subcategory, "subcategory", "", "subcategory name")
}
