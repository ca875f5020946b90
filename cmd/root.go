package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Room-based chat with file sharing and peer-to-peer calls",
	Long: `Huddle is a terminal chat for small groups. Pick a room code and a name,
share images and PDFs with everyone in the room, and call anyone in it over
WebRTC. A thin relay server keeps track of who is where and passes messages
along; calls go directly between peers.`,
}

func init() {
	rootCmd.AddCommand(serveCmd, joinCmd, roomsCmd, discoverCmd, versionCmd)
}

// Execute runs the command line. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, rootCmd, fang.WithVersion(version.Version)); err != nil {
		stop()
		os.Exit(1)
	}
}
