package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the tokenplan release version.
const Version = "0.1.0"

const modulePath = "github.com/mesh-intelligence/tokenplan"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tokenplan version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tokenplan v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
