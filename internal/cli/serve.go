package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/huntql/pkg/server"
)

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve query generation as MCP tools over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if listenAddr == "" {
				listenAddr = a.cfg.Server.ListenAddr
			}
			if err := a.startService(ctx, a.cfg.Pipeline.Concurrency); err != nil {
				return err
			}

			cfg := server.Config{
				Logger:        a.log,
				Hunter:        a.service,
				Checker:       a.checker,
				Registry:      a.registry,
				Version:       c.info.Version,
				ListenAddr:    listenAddr,
				AllowedTokens: a.cfg.Server.Tokens,
			}
			cfg.Ready = func(ctx context.Context) error {
				if a.store != nil {
					if err := a.store.Ping(ctx); err != nil {
						return fmt.Errorf("session store: %w", err)
					}
				}
				if a.kafka != nil {
					if err := a.kafka.Ping(ctx); err != nil {
						return fmt.Errorf("kafka: %w", err)
					}
				}
				return nil
			}
			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("listen-addr", "", "address for the MCP endpoint (overrides config)")
	return cmd
}
