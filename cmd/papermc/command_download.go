package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZakirC4/papermc-setup/internal/download"
)

func newDownloadCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the server jar, accept the EULA and write the start script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			manager := download.NewManager(cfg, nil)
			job, err := manager.SubmitServer("cli")
			if err != nil {
				return err
			}
			return followJob(cmd, manager, job, cmd.OutOrStdout())
		},
	}
	return cmd
}

func newPluginCmd(load configLoader) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "plugin <name>",
		Short: "Download a plugin from the catalog into the plugins directory",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			manager := download.NewManager(cfg, nil)
			if list {
				printCatalog(cmd.OutOrStdout(), manager)
				return nil
			}
			job, err := manager.SubmitPlugin(args[0], "cli")
			if err != nil {
				return err
			}
			return followJob(cmd, manager, job, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list the plugins that can be downloaded")
	return cmd
}

// followJob prints job progress until it finishes
func followJob(cmd *cobra.Command, manager *download.Manager, job *download.Job, out io.Writer) error {
	events, unsubscribe := manager.Subscribe(job.ID)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		last := -1
		for ev := range events {
			switch data := ev.Data.(type) {
			case download.Progress:
				if data.Percent < 0 {
					continue
				}
				// One line per 10%
				if step := int(data.Percent) / 10; step > last {
					last = step
					fmt.Fprintf(out, "%s: %3.0f%% (%d/%d bytes)\n", job.Target, data.Percent, data.Bytes, data.Total)
				}
			case string:
				if ev.Event == "log" {
					fmt.Fprintln(out, data)
				}
			}
		}
	}()

	final, err := manager.Wait(cmd.Context(), job.ID)
	unsubscribe()
	<-printed
	if err != nil {
		return fmt.Errorf("%s download failed: %w", job.Target, err)
	}
	fmt.Fprintf(out, "Downloaded %s to %s\n", final.Target, final.Destination)
	return nil
}

func printCatalog(out io.Writer, manager *download.Manager) {
	catalog := manager.Catalog()
	for _, name := range catalog.Names() {
		_, url, _ := catalog.Lookup(name)
		installed := ""
		if _, err := os.Stat(manager.PluginPath(name)); err == nil {
			installed = " (installed)"
		}
		fmt.Fprintf(out, "%-12s %s%s\n", name, url, installed)
	}
}
