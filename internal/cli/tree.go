package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/plan"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// treeInput is the document read by "tree set".
type treeInput struct {
	Description string               `json:"description"`
	Categories  []types.CategoryNode `json:"categories"`
}

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Read or replace a stage's category tree",
	}
	cmd.AddCommand(newTreeGetCmd(), newTreeSetCmd())
	return cmd
}

func newTreeGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get PLAN STAGE",
		Short: "Show a stage's category tree with live totals",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				view, err := svc.GetCategories(args[0], args[1])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Description: %s\n", view.Description)
				if len(view.Categories) == 0 {
					fmt.Fprintln(out, "No categories.")
					return nil
				}
				var rows [][]string
				for _, c := range view.Categories {
					rows = append(rows, []string{strconv.FormatInt(c.ID, 10), c.Name, "", c.TokenCountTotal, c.ActualTokenTotal})
					for _, sub := range c.Subcategories {
						rows = append(rows, []string{strconv.FormatInt(sub.ID, 10), "", sub.Name, sub.TokenCountTotal, sub.ActualTokenTotal})
					}
				}
				printTable(cmd, []string{"ID", "CATEGORY", "SUBCATEGORY", "TOKENS", "ACTUAL"}, rows)
				return nil
			})
		},
	}
}

func newTreeSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set PLAN STAGE",
		Short: "Replace a stage's description and category tree from JSON",
		Long: `Set reads a document of the form

  {"description": "...", "categories": [{"id": 1, "name": "web", "subcategories": [{"id": 2, "name": "cc"}]}]}`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in treeInput
			if err := readInput(cmd, file, &in); err != nil {
				return err
			}
			return withService(func(svc *plan.Service) error {
				if err := svc.SaveCategories(operator, args[0], args[1], in.Description, in.Categories); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, map[string]any{"stage": args[1], "categories": len(in.Categories)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved category tree for stage %s (%d categories)\n", args[1], len(in.Categories))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON input file (- for stdin)")
	return cmd
}
