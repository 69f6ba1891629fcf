package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-phx-channels/phxclient/internal/phxtest"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var (
		addr  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local endpoint that answers joins and heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := phxtest.New(logger)
			srv.Token = token

			logger.Info().Str("addr", addr).Str("path", phxtest.SocketPath).Msg("serving")
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "require this token query param")
	return cmd
}
