package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/dns"
	"github.com/BioHazard786/Huddle/internal/protocol"
	"github.com/BioHazard786/Huddle/internal/ui"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the active rooms on a relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}

		sp := ui.NewConnectionSpinner("Asking " + cfg.Domain + "...").Start()
		rooms, err := fetchRooms(cmd.Context(), cfg.HTTPURL("/rooms"))
		sp.Stop()
		if err != nil {
			return err
		}

		ui.RenderRooms(cmd.OutOrStdout(), rooms)
		return nil
	},
}

func init() {
	addServerFlags(roomsCmd)
}

func fetchRooms(ctx context.Context, url string) ([]protocol.RoomSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Transport: &http.Transport{DialContext: dns.DialContext}}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay answered %s", resp.Status)
	}

	var rooms []protocol.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("invalid room list: %w", err)
	}
	return rooms, nil
}
