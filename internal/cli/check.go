package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errQueryInvalid = errors.New("query is invalid")

type CheckCmd struct{}

func NewCheckCmd() *CheckCmd {
	return &CheckCmd{}
}

func (c *CheckCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <kql>",
		Short: "Run the configured checker on a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := cmd.Flags().GetStringSlice("sources")
			if err != nil {
				return fmt.Errorf("failed to get sources flag: %w", err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			verdict, err := a.checker.Check(ctx, strings.Join(args, " "), sources)
			if err != nil {
				return fmt.Errorf("failed to check query: %w", err)
			}
			if !verdict.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", verdict.Error)
				return errQueryInvalid
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	cmd.Flags().StringSliceP("sources", "s", nil, "shortlisted tables the query must reference")
	_ = cmd.MarkFlagRequired("sources")
	return cmd
}
