package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/discovery"
	"github.com/BioHazard786/Huddle/internal/ui"
)

var flagDiscoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find relays announced on the local network",
	Long: `Browse the local network for relays started with "huddle serve --announce".

Join one with:
  huddle join --server <address> <room> <name>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagDiscoverTimeout)
		defer cancel()

		sp := ui.NewSearchSpinner("Looking for relays...").Start()
		relays, err := discovery.Discover(ctx)
		sp.Stop()
		if err != nil {
			return err
		}

		ui.RenderRelays(cmd.OutOrStdout(), relays)
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVarP(&flagDiscoverTimeout, "timeout", "t", 3*time.Second, "how long to listen for announcements")
}
