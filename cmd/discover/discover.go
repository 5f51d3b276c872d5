// Package discover probes the local network for cameras.
package discover

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/discovery"
)

// Command creates the discovery command.
func Command(settings *conf.Settings) *cobra.Command {
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Probe the network for cameras",
		Long:  "Send a multicast probe and list the cameras that answer within the listen window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := time.Duration(timeoutSeconds) * time.Second
			if timeoutSeconds <= 0 {
				timeout = time.Duration(settings.Camera.DiscoveryTimeout) * time.Second
			}

			devices, err := discovery.Probe(context.Background(), timeout)
			if err != nil {
				return err
			}

			fmt.Printf("Found %d camera(s):\n", len(devices))
			for _, d := range devices {
				fmt.Printf("  %s:%d  %s %s", d.Address, d.Port, d.Manufacturer, d.Model)
				if d.Name != "" {
					fmt.Printf("  (%s)", d.Name)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Listen window in seconds")
	return cmd
}
