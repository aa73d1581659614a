package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/collector/pkg/collection"
)

const modulePath = "github.com/mesh-intelligence/collector"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the collector version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "collector v%s\nmodule: %s\n", collection.Version, modulePath)
			return nil
		},
	}
}
