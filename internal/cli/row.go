package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/plan"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

func newRowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "row",
		Short: "Add, replace, or delete individual detail rows",
	}
	cmd.AddCommand(newRowUpsertCmd(), newRowDeleteCmd())
	return cmd
}

func newRowUpsertCmd() *cobra.Command {
	var (
		key  types.DetailKey
		file string
	)
	cmd := &cobra.Command{
		Use:   "upsert PLAN",
		Short: "Replace the row with the same key, or append it",
		Long: `Upsert reads one detail row as JSON, for example

  {"key": 3, "hdfs_path": "/data/web/cc", "token_count": "1000.5", "actual_token": "900"}

A row whose key already exists is replaced in place; otherwise it is appended.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var row types.DetailRow
			if err := readInput(cmd, file, &row); err != nil {
				return err
			}
			return withService(func(svc *plan.Service) error {
				totals, err := svc.UpsertRow(operator, args[0], key, row)
				if err != nil {
					return err
				}
				return printTotalsResult(cmd, totals)
			})
		},
	}
	detailKeyFlags(cmd, &key)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON input file (- for stdin)")
	return cmd
}

func newRowDeleteCmd() *cobra.Command {
	var key types.DetailKey
	cmd := &cobra.Command{
		Use:   "delete PLAN KEY...",
		Short: "Delete detail rows by key",
		Args:  minimumArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args[1:])
			if err != nil {
				return err
			}
			return withService(func(svc *plan.Service) error {
				res, err := svc.DeleteRows(operator, args[0], key, keys)
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) remain\n", res.Total)
				printTotals(cmd, res.Totals)
				return nil
			})
		},
	}
	detailKeyFlags(cmd, &key)
	return cmd
}

// parseKeys converts row key arguments to integers.
func parseKeys(args []string) ([]int64, error) {
	keys := make([]int64, 0, len(args))
	for _, a := range args {
		k, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, usageError{fmt.Errorf("row key %q: %w", a, errors.Unwrap(err))}
		}
		keys = append(keys, k)
	}
	return keys, nil
}
