package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/huntql/pkg/pipeline"
)

type GenerateCmd struct{}

func NewGenerateCmd() *GenerateCmd {
	return &GenerateCmd{}
}

func (c *GenerateCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <question>",
		Short: "Generate a validated KQL query for one hunting question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if err := a.startService(ctx, 1); err != nil {
				return err
			}

			sess := a.service.Hunt(ctx, strings.Join(args, " "), pipeline.Log{})
			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), sess); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), sess)
			}
			if err := sess.Err(); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the session as JSON")
	return cmd
}
