package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/config"
)

var (
	flagServer     string
	flagInsecure   bool
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagRelay      bool
	flagLANPrivacy bool
	flagAudioOnly  bool
	flagVideoFile  string
	flagDataDir    string
)

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagServer, "server", "s", "", "relay host[:port] (env HUDDLE_DOMAIN)")
	cmd.Flags().BoolVar(&flagInsecure, "insecure", false, "use ws:// and http:// instead of TLS")
}

func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	cmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server URL (env TURN_SERVER)")
	cmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	cmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	cmd.Flags().BoolVar(&flagRelay, "relay", false, "force calls through the TURN server")
	cmd.Flags().BoolVar(&flagLANPrivacy, "mdns-candidates", false, "hide local addresses behind .local names")
	cmd.Flags().BoolVar(&flagAudioOnly, "audio-only", false, "never send video")
	cmd.Flags().StringVar(&flagVideoFile, "video", "", "VP8 .ivf file to loop as the camera (env HUDDLE_VIDEO_FILE)")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "history and log directory (env HUDDLE_DATA_DIR)")
}

func loadClientConfig() (*config.Client, error) {
	return config.LoadClient(config.ClientOptions{
		Domain:     flagServer,
		Insecure:   flagInsecure,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		LANPrivacy: flagLANPrivacy,
		AudioOnly:  flagAudioOnly,
		VideoFile:  flagVideoFile,
		DataDir:    flagDataDir,
	})
}
