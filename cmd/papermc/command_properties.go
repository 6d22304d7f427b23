package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZakirC4/papermc-setup/internal/properties"
)

func newPropertiesCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "properties",
		Short: "Show or change server.properties",
	}

	pathOf := func() (string, error) {
		cfg, err := load()
		if err != nil {
			return "", err
		}
		return filepath.Join(cfg.Storage.ServerDir, properties.FileName), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [key...]",
		Short: "Print the file, or only the given keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := pathOf()
			if err != nil {
				return err
			}
			f, err := properties.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				_, err = out.Write(f.Bytes())
				return err
			}
			for _, key := range args {
				value, ok := f.Get(key)
				if !ok {
					return fmt.Errorf("property %s is not set", key)
				}
				fmt.Fprintf(out, "%s=%s\n", key, value)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "Set one or more properties, keeping the rest of the file as is",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseAssignments(args)
			if err != nil {
				return err
			}
			path, err := pathOf()
			if err != nil {
				return err
			}
			if _, err := properties.Update(path, changes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d properties in %s (restart the server to apply)\n", len(changes), path)
			return nil
		},
	})

	var editor string
	edit := &cobra.Command{
		Use:   "edit",
		Short: "Open server.properties in an editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := pathOf()
			if err != nil {
				return err
			}
			return properties.Edit(path, editor)
		},
	}
	edit.Flags().StringVarP(&editor, "editor", "e", "", "editor command (defaults to $VISUAL or $EDITOR)")
	cmd.AddCommand(edit)

	return cmd
}

func parseAssignments(args []string) (map[string]string, error) {
	changes := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		changes[key] = value
	}
	return changes, nil
}
