// Package realtime runs the gateway until interrupted.
package realtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/gateway"
	"github.com/wildnest/camgate/internal/logging"
)

// Command creates the realtime gateway command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run the camera gateway",
		Long:  "Connect to the camera, start the live stream and tunnel, and process motion and detection triggers until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Camera.StreamURL, "streamurl", viper.GetString("camera.streamurl"), "Direct RTSP URL, skips camera discovery")
	cmd.Flags().StringVar(&settings.Stream.OutputPath, "output", viper.GetString("stream.outputpath"), "HLS output directory")
	cmd.Flags().StringVar(&settings.Recording.Path, "clippath", viper.GetString("recording.path"), "Directory for recorded clips")
	cmd.Flags().StringVar(&settings.Tunnel.Mode, "tunnel", viper.GetString("tunnel.mode"), "Tunnel mode: named, quick or empty to disable")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runGateway(settings *conf.Settings) error {
	logger := logging.ForService("realtime")

	g := gateway.New(settings)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String(), "operation", "run")

	g.Shutdown()
	return nil
}
