package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default configuration values
const (
	DefaultAddr           = ":8080"
	DefaultDomain         = "localhost:8080"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultMaxMessageSize = 16 * 1024 * 1024 // 16 MB - images and PDFs travel as data URIs
	DefaultBufferSize     = 64 * 1024        // 64 KB
	DefaultMaxUploadSize  = 10 * 1024 * 1024 // 10 MB before base64
)

// Server holds relay server configuration.
type Server struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// MaxMessageSize is the websocket read limit per frame.
	MaxMessageSize int64

	// ReadBufferSize and WriteBufferSize size the websocket upgrader buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// Announce advertises the relay on the local network over mDNS.
	Announce bool
}

// ServerOptions carries CLI flag overrides for LoadServer.
type ServerOptions struct {
	Addr           string
	MaxMessageSize int64
	Announce       bool
}

// LoadServer reads server configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*Server, error) {
	addr := firstNonEmpty(opts.Addr, os.Getenv("HUDDLE_ADDR"))
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		}
	}
	if addr == "" {
		addr = DefaultAddr
	}

	maxSize := opts.MaxMessageSize
	if maxSize == 0 {
		if v := os.Getenv("HUDDLE_MAX_MESSAGE_SIZE"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid HUDDLE_MAX_MESSAGE_SIZE %q: %w", v, err)
			}
			maxSize = n
		}
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	announce := opts.Announce || envBool("HUDDLE_MDNS")

	return &Server{
		Addr:            addr,
		MaxMessageSize:  maxSize,
		ReadBufferSize:  DefaultBufferSize,
		WriteBufferSize: DefaultBufferSize,
		Announce:        announce,
	}, nil
}

// Port returns the numeric port of Addr, or 0 when it has none.
func (s *Server) Port() int {
	i := strings.LastIndex(s.Addr, ":")
	if i < 0 {
		return 0
	}
	port, err := strconv.Atoi(s.Addr[i+1:])
	if err != nil {
		return 0
	}
	return port
}

// Client holds configuration for the chat and call client.
type Client struct {
	// Domain is the relay host (and optional port).
	Domain string

	// Insecure selects ws:// instead of wss://.
	Insecure bool

	// WebSocketURL is constructed from Domain and Insecure.
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// LANPrivacy hides host addresses behind mDNS .local candidates.
	LANPrivacy bool

	// AudioOnly makes video acquisition fail so calls degrade to audio.
	AudioOnly bool

	// VideoFile is an IVF (VP8) file looped as the camera. Without it the
	// video track stays silent.
	VideoFile string

	// MaxUploadSize caps images and PDFs before encoding.
	MaxUploadSize int64

	// DataDir holds chat history and the last session.
	DataDir string

	// LogFile receives client logs while the terminal UI owns the screen.
	LogFile string
}

// ClientOptions carries CLI flag overrides for LoadClient.
type ClientOptions struct {
	Domain     string
	Insecure   bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	LANPrivacy bool
	AudioOnly  bool
	VideoFile  string
	DataDir    string
}

// LoadClient reads client configuration with the same flag > env > default
// priority as LoadServer.
func LoadClient(opts ClientOptions) (*Client, error) {
	domain := firstNonEmpty(opts.Domain, os.Getenv("HUDDLE_DOMAIN"), DefaultDomain)
	insecure := opts.Insecure || envBool("HUDDLE_INSECURE") || isLocal(domain)

	scheme := "wss"
	if insecure {
		scheme = "ws"
	}
	u := url.URL{Scheme: scheme, Host: domain, Path: "/ws"}

	dataDir := firstNonEmpty(opts.DataDir, os.Getenv("HUDDLE_DATA_DIR"))
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		dataDir = filepath.Join(base, "huddle")
	}

	cfg := &Client{
		Domain:        domain,
		Insecure:      insecure,
		WebSocketURL:  u.String(),
		STUNServer:    firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer:    firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:      firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:      firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay:    opts.ForceRelay,
		LANPrivacy:    opts.LANPrivacy || envBool("HUDDLE_MDNS_CANDIDATES"),
		AudioOnly:     opts.AudioOnly || envBool("HUDDLE_AUDIO_ONLY"),
		VideoFile:     firstNonEmpty(opts.VideoFile, os.Getenv("HUDDLE_VIDEO_FILE")),
		MaxUploadSize: DefaultMaxUploadSize,
		DataDir:       dataDir,
		LogFile:       filepath.Join(dataDir, "huddle.log"),
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// HTTPURL returns the relay's base HTTP URL for non-websocket endpoints.
func (c *Client) HTTPURL(path string) string {
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: c.Domain, Path: path}
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Client) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func isLocal(domain string) bool {
	host := domain
	if i := strings.LastIndex(domain, ":"); i >= 0 {
		host = domain[:i]
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]"
}
