package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errStoreDisabled = errors.New("session store is disabled")

type HistoryCmd struct{}

func NewHistoryCmd() *HistoryCmd {
	return &HistoryCmd{}
}

func (c *HistoryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}
			id, err := cmd.Flags().GetString("id")
			if err != nil {
				return fmt.Errorf("failed to get id flag: %w", err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if !a.cfg.StoreEnabled() {
				return errStoreDisabled
			}
			if err := a.openStore(); err != nil {
				return err
			}

			if id != "" {
				sess, err := a.store.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get session %s: %w", id, err)
				}
				printResult(cmd.OutOrStdout(), sess)
				return nil
			}

			sessions, err := a.store.List(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			printSummary(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of sessions to list, newest first")
	cmd.Flags().String("id", "", "show one session with its conversation log")
	return cmd
}
