package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZakirC4/papermc-setup/internal/server"
)

func newStartCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the server in the foreground with an interactive console",
		Long: "Run the server in the foreground. Lines typed on stdin are sent as console commands;\n" +
			"\"exit\" or \"quit\" stops the server gracefully, as does Ctrl-C.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			supervisor := server.NewSupervisor(
				server.WithStopCommand(cfg.Game.StopCommand),
				server.WithKillGrace(cfg.Game.KillGraceDuration()),
			)
			lm := server.NewLifecycleManager(supervisor, server.ServerConfigFromGame(cfg.Storage.ServerDir, cfg.Game), nil)

			exit, err := runConsole(ctx, lm, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if exit.ExitCode != 0 && !exit.Forced {
				return &exitCodeError{code: exit.ExitCode}
			}
			return nil
		},
	}
	return cmd
}
