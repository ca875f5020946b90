package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Huddle/internal/config"
	"github.com/BioHazard786/Huddle/internal/protocol"
	"github.com/BioHazard786/Huddle/internal/relay"
)

const statsTimeout = 2 * time.Second

// ServeWs returns an http.HandlerFunc that upgrades requests and attaches
// them to the hub.
func ServeWs(hub *relay.Hub, cfg *config.Server) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,

		// Terminal clients send no Origin; browsers on other hosts are allowed too.
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := relay.NewClient(hub, conn, cfg.MaxMessageSize)
		if !hub.Register(client) {
			slog.Warn("relay is shutting down, refusing connection", "remote", r.RemoteAddr)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// Health check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay server is healthy."))
}

// roomsHandler reports each room with its member count.
func roomsHandler(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()

		rooms, err := hub.Rooms(ctx)
		if err != nil {
			slog.Warn("room stats unavailable", "error", err)
			http.Error(w, "room stats unavailable", http.StatusServiceUnavailable)
			return
		}

		out := make([]protocol.RoomSummary, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, protocol.RoomSummary{RoomCode: room.Code, Members: room.Members})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			slog.Warn("failed to write room stats", "error", err)
		}
	}
}

// NewRouter wires the relay's HTTP surface.
func NewRouter(hub *relay.Hub, cfg *config.Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /rooms", roomsHandler(hub))
	mux.HandleFunc("/ws", ServeWs(hub, cfg))
	return mux
}
