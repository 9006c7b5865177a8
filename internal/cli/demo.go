package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/huntql/pkg/pipeline"
)

var demoScenarios = []string{
	"Find activities related to malicious IP address 192.168.1.1",
	"Investigate phishing email from attacker@evil.com",
	"Analyze activities related to suspicious file hash abcdef123456",
}

type DemoCmd struct{}

func NewDemoCmd() *DemoCmd {
	return &DemoCmd{}
}

func (c *DemoCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in hunting scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if err := a.startService(ctx, 1); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "--- Threat Intelligence System Demo ---")
			for i, q := range demoScenarios {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(out, "\n=== Example %d: %s ===\n", i+1, q)
				printResult(out, a.service.Hunt(ctx, q, pipeline.Log{}))
				fmt.Fprintln(out, strings.Repeat("-", 80))
			}
			return nil
		},
	}
}
