package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tokenplan/internal/plan"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Manage the stages of a plan",
	}
	cmd.AddCommand(newStageListCmd(), newStageCreateCmd(), newStageDeleteCmd())
	return cmd
}

func newStageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list PLAN",
		Short: "List a plan's stages in order",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				stages, err := svc.ListStages(args[0])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, stages)
				}
				if len(stages) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stages found.")
					return nil
				}
				rows := make([][]string, len(stages))
				for i, st := range stages {
					rows[i] = []string{strconv.Itoa(st.Order), st.Name, strconv.Itoa(st.RowCount)}
				}
				printTable(cmd, []string{"ORDER", "NAME", "ROWS"}, rows)
				return nil
			})
		},
	}
}

func newStageCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create PLAN STAGE",
		Short: "Append a new stage to a plan",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				st, err := svc.CreateStage(operator, args[0], args[1])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created stage %s (order %d)\n", st.Name, st.Order)
				return nil
			})
		},
	}
}

func newStageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PLAN STAGE",
		Short: "Delete a stage with its rows and details",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *plan.Service) error {
				if err := svc.DeleteStage(operator, args[0], args[1]); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd, map[string]string{"deleted": args[1]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted stage %s\n", args[1])
				return nil
			})
		},
	}
}
