package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/plan"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// detailInput is the document read by "detail save".
type detailInput struct {
	Description string            `json:"description"`
	Rows        []types.DetailRow `json:"rows"`
}

func newDetailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detail",
		Short: "Read or replace the detail rows of a subcategory",
	}
	cmd.AddCommand(newDetailGetCmd(), newDetailSaveCmd(), newDetailDescribeCmd())
	return cmd
}

func newDetailGetCmd() *cobra.Command {
	var (
		key      types.DetailKey
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "get PLAN",
		Short: "Show one page of a subcategory's detail rows",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				dp, err := svc.GetDetail(args[0], key, page, pageSize)
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, dp)
				}
				printDetailPage(cmd, dp)
				return nil
			})
		},
	}
	detailKeyFlags(cmd, &key)
	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "rows per page (default from config)")
	return cmd
}

func newDetailSaveCmd() *cobra.Command {
	var (
		key  types.DetailKey
		file string
	)
	cmd := &cobra.Command{
		Use:   "save PLAN",
		Short: "Replace a subcategory's description and detail rows from JSON",
		Long: `Save reads a document of the form

  {"description": "...", "rows": [{"key": 1, "hdfs_path": "...", "token_count": "1000"}]}

and replaces the stored rows. Totals are recomputed from the rows.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in detailInput
			if err := readInput(cmd, file, &in); err != nil {
				return err
			}
			return withService(func(svc *plan.Service) error {
				totals, err := svc.SaveDetail(operator, args[0], key, in.Description, in.Rows)
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

func newDetailDescribeCmd() *cobra.Command {
	var (
		key         types.DetailKey
		description string
	)
	cmd := &cobra.Command{
		Use:   "describe PLAN",
		Short: "Set a subcategory's detail description",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				totals, err := svc.UpdateDetailDescription(operator, args[0], key, description)
				if err != nil {
					return err
				}
				return printTotalsResult(cmd, totals)
			})
		},
	}
	detailKeyFlags(cmd, &key)
	cmd.Flags().StringVar(&description, "description", "", "detail description")
	return cmd
}

func printTotalsResult(cmd *cobra.Command, t types.Totals) error {
	if flags.jsonMode {
		return printJSON(cmd, t)
	}
	printTotals(cmd, t)
	return nil
}

func printDetailPage(cmd *cobra.Command, dp types.DetailPage) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Description: %s\n", dp.Description)
	if len(dp.Rows) == 0 {
		fmt.Fprintln(out, "No rows on this page.")
	} else {
		rows := make([][]string, len(dp.Rows))
		for i, r := range dp.Rows {
			rows[i] = []string{
				strconv.FormatInt(r.Key, 10),
				r.HDFSPath,
				r.TokenCount,
				r.ActualUsage,
				r.ActualToken,
			}
		}
		printTable(cmd, []string{"KEY", "HDFS_PATH", "TOKEN_COUNT", "ACTUAL_USAGE", "ACTUAL_TOKEN"}, rows)
	}
	fmt.Fprintf(out, "Page %d (size %d), %d row(s) total\n", dp.Page, dp.PageSize, dp.Total)
	printTotals(cmd, dp.Totals)
}
