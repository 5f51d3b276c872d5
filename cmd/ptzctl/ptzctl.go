// Package ptzctl issues one-shot PTZ commands against the configured
// camera.
package ptzctl

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/onvif"
	"github.com/wildnest/camgate/internal/ptz"
)

const commandTimeout = 15 * time.Second

// Command creates the ptz command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptz",
		Short: "Control camera pan/tilt/zoom",
	}
	cmd.AddCommand(
		moveCommand(settings),
		stopCommand(settings),
		presetCommand(settings),
		homeCommand(settings),
	)
	return cmd
}

func moveCommand(settings *conf.Settings) *cobra.Command {
	var pan, tilt, zoom float64
	var durationMs int

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Start a continuous move, stopped after --duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				if err := backend.ContinuousMove(ctx, pan, tilt, zoom); err != nil {
					return err
				}
				time.Sleep(time.Duration(durationMs) * time.Millisecond)
				return backend.Stop(ctx)
			})
		},
	}
	cmd.Flags().Float64Var(&pan, "pan", 0, "Pan velocity -1..1")
	cmd.Flags().Float64Var(&tilt, "tilt", 0, "Tilt velocity -1..1")
	cmd.Flags().Float64Var(&zoom, "zoom", 0, "Zoom velocity -1..1")
	cmd.Flags().IntVar(&durationMs, "duration", 500, "Move duration in milliseconds")
	return cmd
}

func stopCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop all motion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				return backend.Stop(ctx)
			})
		},
	}
}

func presetCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "List, store and recall presets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				presets, err := backend.ListPresets(ctx)
				if err != nil {
					return err
				}
				for _, p := range presets {
					fmt.Printf("  %s  %s\n", p.Token, p.Name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "goto [token]",
		Short: "Move to a stored preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				return backend.GotoPreset(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [name]",
		Short: "Store the current position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				token, err := backend.SetPreset(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("stored as %s\n", token)
				return nil
			})
		},
	})
	return cmd
}

func homeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Move to the home position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(settings, func(ctx context.Context, backend ptz.Backend) error {
				return backend.GotoHome(ctx)
			})
		},
	}
}

// withBackend resolves the PTZ backend from the configuration, connecting
// to the camera when the standard protocol needs a media profile.
func withBackend(settings *conf.Settings, fn func(context.Context, ptz.Backend) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	camera := settings.Camera
	kind := ptz.SelectKind(camera.PTZ.Backend, "", "")

	if kind == ptz.VendorCGI {
		port := camera.CGIPort
		if port == 0 {
			port = 80
		}
		backend := ptz.NewCGIBackend(camera.Host, port, camera.Username, camera.Password,
			camera.PTZ.Channel, camera.PTZ.Speed)
		return fn(ctx, backend)
	}

	client := onvif.NewClient(camera.Host, camera.Port,
		onvif.Credentials{Username: camera.Username, Password: camera.Password})
	device, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	best := device.BestProfile()
	if best == nil {
		return fmt.Errorf("camera has no usable media profile")
	}
	return fn(ctx, ptz.NewStandardBackend(client, best.Token, camera.PTZ.Speed))
}
