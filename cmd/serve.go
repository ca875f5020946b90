package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/config"
	"github.com/BioHazard786/Huddle/internal/directory"
	"github.com/BioHazard786/Huddle/internal/discovery"
	"github.com/BioHazard786/Huddle/internal/logging"
	"github.com/BioHazard786/Huddle/internal/relay"
	"github.com/BioHazard786/Huddle/internal/server"
	"github.com/BioHazard786/Huddle/internal/version"
)

const shutdownTimeout = 5 * time.Second

var (
	flagAddr           string
	flagMaxMessageSize int64
	flagAnnounce       bool
	flagRelayName      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay that clients join rooms through.

Examples:
  huddle serve
  huddle serve --addr :9000
  huddle serve --announce --name office`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (env HUDDLE_ADDR or PORT, default :8080)")
	serveCmd.Flags().Int64Var(&flagMaxMessageSize, "max-message-size", 0, "largest accepted websocket frame in bytes")
	serveCmd.Flags().BoolVar(&flagAnnounce, "announce", false, "advertise the relay on the local network over mDNS")
	serveCmd.Flags().StringVar(&flagRelayName, "name", "", "name to announce (default hostname)")
}

func serve(ctx context.Context) error {
	logging.Init(os.Stderr, slog.LevelInfo)

	cfg, err := config.LoadServer(config.ServerOptions{
		Addr:           flagAddr,
		MaxMessageSize: flagMaxMessageSize,
		Announce:       flagAnnounce,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := relay.NewHub(directory.New())
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(hub, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("relay listening", "addr", cfg.Addr, "version", version.Version)

	if cfg.Announce {
		go announce(ctx, cfg)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked, so the hub closes them itself.
	stopHub()
	return srv.Shutdown(shutdownCtx)
}

func announce(ctx context.Context, cfg *config.Server) {
	name := flagRelayName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "huddle"
		}
		name = host
	}
	port := cfg.Port()
	if port == 0 {
		slog.Warn("not announcing relay: listen address has no port", "addr", cfg.Addr)
		return
	}
	if err := discovery.Announce(ctx, name, port, version.Version); err != nil {
		slog.Warn("mDNS announcement stopped", "error", err)
	}
}
