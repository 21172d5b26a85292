package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/plan"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage training plans",
	}
	cmd.AddCommand(
		newPlanListCmd(),
		newPlanCreateCmd(),
		newPlanUpdateCmd(),
		newPlanDeleteCmd(),
		newPlanShowCmd(),
		newPlanSaveCmd(),
		newPlanStatsCmd(),
		newPlanExportCmd(),
		newPlanImportCmd(),
	)
	return cmd
}

func newPlanListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all plans with their stage counts",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(func(svc *plan.Service) error {
				plans, err := svc.ListPlans()
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, plans)
				}
				if len(plans) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No plans found.")
					return nil
				}
				rows := make([][]string, len(plans))
				for i, p := range plans {
					rows[i] = []string{p.Key, p.Name, strconv.Itoa(p.StageCount), p.Description}
				}
				printTable(cmd, []string{"KEY", "NAME", "STAGES", "DESCRIPTION"}, rows)
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d plan(s)\n", len(plans))
				return nil
			})
		},
	}
}

func newPlanCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a plan",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				p, err := svc.CreatePlan(operator, args[0], description)
				if err != nil {
					return err
				}
				return printPlan(cmd, p)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "plan description")
	return cmd
}

func newPlanUpdateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Update a plan's description",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				p, err := svc.UpdatePlan(operator, args[0], description)
				if err != nil {
					return err
				}
				return printPlan(cmd, p)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new plan description")
	return cmd
}

func newPlanDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a plan and all of its stored data",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				if err := svc.DeletePlan(operator, args[0]); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, map[string]string{"deleted": types.NormalizeTenant(args[0])})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s\n", types.NormalizeTenant(args[0]))
				return nil
			})
		},
	}
}

func newPlanShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a plan's description and stage tables",
		Long:  "Show reads a plan's description and the rows of every stage. The plan is created if it does not exist.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				data, err := svc.GetPlanData(args[0])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, data)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Plan: %s\n", types.DisplayName(args[0]))
				fmt.Fprintf(out, "Description: %s\n", data.Description)
				if len(data.Stages) == 0 {
					fmt.Fprintln(out, "No stages.")
					return nil
				}
				rows := make([][]string, len(data.Stages))
				for i, st := range data.Stages {
					rows[i] = []string{st.Name, strconv.Itoa(len(st.Rows)), strconv.Itoa(len(st.Merges))}
				}
				printTable(cmd, []string{"STAGE", "ROWS", "MERGES"}, rows)
				return nil
			})
		},
	}
}

func newPlanSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Replace a plan's description and stage tables from JSON",
		Long: `Save reads a document of the form

  {"description": "...", "stages": {"S1": {"rows": [...], "merges": [...]}}}

and makes the plan's stages match it: stages missing from the document are
deleted, the rest are created or updated in document order.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data types.PlanData
			if err := readInput(cmd, file, &data); err != nil {
				return err
			}
			return withService(func(svc *plan.Service) error {
				if err := svc.SavePlanData(operator, args[0], data); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, map[string]any{"plan": types.NormalizeTenant(args[0]), "stages": data.Stages.Names()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved plan %s (%d stage(s))\n", types.NormalizeTenant(args[0]), len(data.Stages))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON input file (- for stdin)")
	return cmd
}

func newPlanStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats NAME",
		Short: "Show token rollups for a plan",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				report, err := svc.Visualization(args[0])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, report)
				}
				printReport(cmd, report)
				return nil
			})
		},
	}
}

func newPlanExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export NAME PATH",
		Short: "Write a JSONL snapshot of a plan",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				if err := svc.ExportPlan(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported plan %s to %s\n", types.NormalizeTenant(args[0]), args[1])
				return nil
			})
		},
	}
}

func newPlanImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import NAME PATH",
		Short: "Replace a plan's contents from a JSONL snapshot",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				if err := svc.ImportPlan(operator, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into plan %s\n", args[1], types.NormalizeTenant(args[0]))
				return nil
			})
		},
	}
}

func printPlan(cmd *cobra.Command, p *types.Plan) error {
	if flags.jsonMode {
		return printJSON(cmd, p)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan:        %s\n", p.Name)
	fmt.Fprintf(out, "ID:          %s\n", p.PlanID)
	fmt.Fprintf(out, "Description: %s\n", p.Description)
	fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func printReport(cmd *cobra.Command, r types.Report) {
	out := cmd.OutOrStdout()
	o := r.Overview
	fmt.Fprintf(out, "Stages: %d  Categories: %d  Tokens: %s  Actual: %s\n",
		o.TotalStages, o.TotalCategories, formatFloat(o.TotalTokenCount), formatFloat(o.TotalActualToken))
	if len(r.CategoryStats) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, len(r.CategoryStats))
	for i, c := range r.CategoryStats {
		rows[i] = []string{
			c.Stage,
			c.Category,
			strconv.Itoa(c.SubcategoryCount),
			strconv.Itoa(c.DatasetCount),
			formatFloat(c.TokenCount),
			formatFloat(c.ActualToken),
			formatFloat(c.UsageRate) + "%",
		}
	}
	printTable(cmd, []string{"STAGE", "CATEGORY", "SUBCATEGORIES", "DATASETS", "TOKENS", "ACTUAL", "USAGE"}, rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
