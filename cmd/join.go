package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/config"
	"github.com/BioHazard786/Huddle/internal/history"
	"github.com/BioHazard786/Huddle/internal/logging"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/protocol"
	"github.com/BioHazard786/Huddle/internal/roomcode"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/BioHazard786/Huddle/internal/ui"
)

const connectTimeout = 15 * time.Second

var (
	errNoSession = errors.New("no previous session to resume, use: huddle join <room> <name>")
	errNeedBoth  = errors.New("both a room and a name are needed: huddle join <room> <name>")
	errNeedName  = errors.New("a name is needed: huddle join --new <name>")
)

var flagNewRoom bool

var joinCmd = &cobra.Command{
	Use:     "join [room] [name]",
	Aliases: []string{"j"},
	Short:   "Join a room to chat and call",
	Long: `Join a room under a display name. Everyone who joins the same room code
can read your messages and call you.

Run without arguments to rejoin the last room with the same name, or with
--new to open a room under a freshly generated code.

Examples:
  huddle join standup alice
  huddle join --server relay.example.com standup alice
  huddle join --new alice
  huddle join`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(cmd.Context(), args)
	},
}

func init() {
	addServerFlags(joinCmd)
	addCallFlags(joinCmd)
	joinCmd.Flags().BoolVarP(&flagNewRoom, "new", "n", false, "create a room with a generated code")
}

func join(ctx context.Context, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	logFile, err := logging.InitFile(cfg.LogFile, slog.LevelError)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	store, err := history.Open(filepath.Join(cfg.DataDir, "history"), 0)
	if err != nil {
		ui.PrintWarningf("Chat history disabled: %v", err)
		store = nil
	}

	var room, name string
	if flagNewRoom {
		room, name, err = newRoom(ctx, args, cfg)
	} else {
		room, name, err = resolveSession(args, store)
	}
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Connecting to " + cfg.Domain + "...").Start()
	client := signaling.NewClient(cfg.WebSocketURL, config.DefaultMaxMessageSize)
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		sp.Error("Could not reach " + cfg.Domain)
		return err
	}
	sp.Stop()
	defer client.Close()

	factory, err := media.NewFactory(media.OptionsFromConfig(cfg))
	if err != nil {
		return call.NewError("set up media", err)
	}

	bridge := ui.NewBridge()
	session := call.NewSession(call.Options{
		Name:        name,
		Signaler:    client,
		Devices:     media.NewDevices(cfg.AudioOnly, cfg.VideoFile),
		Connections: factory,
		Observer:    bridge,
	})

	model := ui.NewChat(ui.ChatConfig{
		Room:      room,
		Name:      name,
		Calls:     session,
		Sender:    client,
		History:   store,
		MaxUpload: cfg.MaxUploadSize,
		SaveDir:   downloadsDir(cfg),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)

	handlerCtx, stopHandler := context.WithCancel(ctx)
	defer stopHandler()
	go func() {
		signaling.NewHandler(session, bridge).Run(handlerCtx, client.Incoming())
		if handlerCtx.Err() == nil {
			bridge.Disconnected()
		}
	}()

	if err := client.Send(protocol.EventJoin, protocol.JoinPayload{Username: name, RoomCode: room}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if store != nil {
		if err := store.SaveSession(history.Session{Room: room, Name: name}); err != nil {
			slog.Warn("could not save session", "error", err)
		}
	}

	_, runErr := p.Run()

	// Leaving the room ends any call first.
	session.Hangup()
	stopHandler()
	if err := client.Send(protocol.EventLogout, nil); err != nil {
		slog.Debug("logout not sent", "error", err)
	}
	client.Close()

	if model.LoggedOut() && store != nil {
		if err := store.ClearSession(); err != nil {
			slog.Warn("could not clear session", "error", err)
		}
	}

	switch {
	case model.Disconnected():
		return errors.New("lost connection to the relay")
	case runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled):
		return runErr
	}

	if model.LoggedOut() {
		ui.PrintSuccessf("Logged out of %s", room)
	} else {
		ui.PrintInfo("Left " + room + ". Run \"huddle join\" to come back.")
	}
	return nil
}

// resolveSession picks the room and name from args, or resumes the last
// session when none are given.
func resolveSession(args []string, store *history.Store) (room, name string, err error) {
	switch len(args) {
	case 2:
		room, name = strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
		if room == "" || name == "" {
			return "", "", errNeedBoth
		}
		return room, name, nil
	case 0:
		if store == nil {
			return "", "", errNoSession
		}
		sess, ok, err := store.LastSession()
		if err != nil {
			slog.Warn("could not read last session", "error", err)
		}
		if !ok {
			return "", "", errNoSession
		}
		return sess.Room, sess.Name, nil
	default:
		return "", "", errNeedBoth
	}
}

// newRoom generates a room code that is not in use on the relay. The check
// is best effort; a relay that cannot be asked is treated as empty.
func newRoom(ctx context.Context, args []string, cfg *config.Client) (room, name string, err error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", "", errNeedName
	}
	name = strings.TrimSpace(args[0])

	active := map[string]bool{}
	if rooms, err := fetchRooms(ctx, cfg.HTTPURL("/rooms")); err == nil {
		for _, r := range rooms {
			active[r.RoomCode] = true
		}
	} else {
		slog.Warn("could not list rooms", "error", err)
	}

	room = roomcode.Generate(func(code string) bool { return active[code] })
	ui.PrintSuccessf("New room %s", ui.TitleStyle.Render(room))
	ui.PrintInfo("Others can join with: huddle join " + room + " <name>")
	return room, name, nil
}

func downloadsDir(cfg *config.Client) string {
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, "Downloads")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return filepath.Join(cfg.DataDir, "downloads")
}
