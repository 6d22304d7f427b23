package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "papermc",
		Short:         "Download, configure and run a PaperMC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetFlags(0)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults to $CONFIG_PATH or ./configs/config.yaml)")

	load := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		return config.LoadLocalFile(path)
	}

	root.AddCommand(newDownloadCmd(load))
	root.AddCommand(newPluginCmd(load))
	root.AddCommand(newStartCmd(load))
	root.AddCommand(newPropertiesCmd(load))
	root.AddCommand(newHashPasswordCmd(load))
	root.AddCommand(newGenKeyCmd())

	return root
}

// configLoader loads the configuration selected by the persistent --config flag
type configLoader func() (*config.Config, error)
