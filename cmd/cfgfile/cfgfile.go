// Package cfgfile writes the active configuration to disk.
package cfgfile

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wildnest/camgate/internal/conf"
)

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(saveCommand(settings))
	return cmd
}

// saveCommand writes the active settings, including defaults and flag
// overrides, so a fresh install can start from a complete file.
func saveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "save [path]",
		Short: "Write the active configuration to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				paths, err := conf.GetDefaultConfigPaths()
				if err != nil {
					return err
				}
				path = filepath.Join(paths[0], "config.yaml")
			}

			if err := conf.SaveSettings(path, settings); err != nil {
				return err
			}
			fmt.Printf("configuration written to %s\n", path)
			return nil
		},
	}
}
