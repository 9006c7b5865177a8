package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type SourcesCmd struct{}

func NewSourcesCmd() *SourcesCmd {
	return &SourcesCmd{}
}

func (c *SourcesCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sources [name...]",
		Short: "Print the known tables, or the schema text for the named ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if len(args) == 0 {
				printSources(cmd.OutOrStdout(), a.registry)
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimLeft(a.registry.Text(args), "\n"))
			return err
		},
	}
}
