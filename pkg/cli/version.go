package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailtmpl/mailtmpl/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mailtmpl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}
