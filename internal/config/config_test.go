package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("HUDDLE_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("HUDDLE_MAX_MESSAGE_SIZE", "")
	t.Setenv("HUDDLE_MDNS", "")

	cfg, err := LoadServer(ServerOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
	assert.False(t, cfg.Announce)
	assert.Equal(t, 8080, cfg.Port())
}

func TestLoadServerPrecedence(t *testing.T) {
	t.Setenv("HUDDLE_ADDR", ":9000")
	t.Setenv("PORT", "7000")

	cfg, err := LoadServer(ServerOptions{})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr, "env beats default")

	cfg, err = LoadServer(ServerOptions{Addr: ":9100"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr, "flag beats env")

	t.Setenv("HUDDLE_ADDR", "")
	cfg, err = LoadServer(ServerOptions{})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr, "PORT is honoured")
}

func TestLoadServerRejectsBadSize(t *testing.T) {
	t.Setenv("HUDDLE_MAX_MESSAGE_SIZE", "lots")
	_, err := LoadServer(ServerOptions{})
	assert.Error(t, err)
}

func TestLoadClientLocalIsInsecure(t *testing.T) {
	t.Setenv("HUDDLE_DOMAIN", "")
	cfg, err := LoadClient(ClientOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.WebSocketURL)
	assert.Equal(t, "http://localhost:8080/rooms", cfg.HTTPURL("/rooms"))
}

func TestLoadClientRemoteIsSecure(t *testing.T) {
	cfg, err := LoadClient(ClientOptions{Domain: "chat.example.com", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WebSocketURL)
	assert.Nil(t, cfg.GetTURNServers())
}

func TestLoadClientForceRelayNeedsTURN(t *testing.T) {
	t.Setenv("TURN_SERVER", "")
	_, err := LoadClient(ClientOptions{ForceRelay: true, DataDir: t.TempDir()})
	assert.Error(t, err)

	cfg, err := LoadClient(ClientOptions{ForceRelay: true, TURNServer: "turn:relay.example.com", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Len(t, cfg.GetTURNServers(), 2)
}

func TestLoadClientVideoFile(t *testing.T) {
	t.Setenv("HUDDLE_VIDEO_FILE", "/env/cam.ivf")
	cfg, err := LoadClient(ClientOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "/env/cam.ivf", cfg.VideoFile)

	cfg, err = LoadClient(ClientOptions{VideoFile: "/flag/cam.ivf", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "/flag/cam.ivf", cfg.VideoFile)
}
