// Package cmd assembles the CLI command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wildnest/camgate/cmd/cfgfile"
	"github.com/wildnest/camgate/cmd/discover"
	"github.com/wildnest/camgate/cmd/ptzctl"
	"github.com/wildnest/camgate/cmd/realtime"
	"github.com/wildnest/camgate/internal/conf"
)

// RootCommand creates the root command with its subcommands.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camgate",
		Short: "Edge camera gateway",
		Long:  "camgate discovers and controls a network camera, relays its stream, records motion clips and dispatches alerts.",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		realtime.Command(settings),
		discover.Command(settings),
		ptzctl.Command(settings),
		cfgfile.Command(settings),
	)
	return rootCmd
}

// setupFlags binds the global flags shared by every subcommand.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Camera.Host, "host", viper.GetString("camera.host"), "Camera host address")
	cmd.PersistentFlags().IntVar(&settings.Camera.Port, "port", viper.GetInt("camera.port"), "Camera control service port")
	cmd.PersistentFlags().StringVar(&settings.Camera.Username, "username", viper.GetString("camera.username"), "Camera username")
	cmd.PersistentFlags().StringVar(&settings.Camera.Password, "password", viper.GetString("camera.password"), "Camera password")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
