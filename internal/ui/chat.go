package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/chat"
	"github.com/BioHazard786/Huddle/internal/history"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

const actionTimeout = 30 * time.Second

// Calls is the part of the call session the chat screen drives.
type Calls interface {
	Call(ctx context.Context, target string) error
	Accept(ctx context.Context) error
	Reject() error
	Hangup()
	ToggleMute() (bool, error)
	ToggleCamera() (bool, error)
}

// Sender queues events for the relay.
type Sender interface {
	Send(event string, payload any) error
}

// ChatConfig wires the chat screen.
type ChatConfig struct {
	Room   string
	Name   string
	Calls  Calls
	Sender Sender

	// History is optional.
	History   *history.Store
	MaxUpload int64
	SaveDir   string
}

type actionErrMsg struct {
	op  string
	err error
}

type savedMsg string

type toggledMsg struct {
	camera bool
	on     bool
}

type received struct {
	user     string
	filename string
	data     string
}

// Chat is the room screen.
type Chat struct {
	cfg ChatConfig

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	ready    bool
	width    int

	lines []string
	users []string

	state   call.State
	peer    string
	status  string
	ringing string

	muted     bool
	cameraOff bool

	lastFile *received

	loggedOut    bool
	disconnected bool
}

// NewChat creates the chat screen and replays the room's saved history.
func NewChat(cfg ChatConfig) *Chat {
	ti := textinput.New()
	ti.Placeholder = "Message " + cfg.Room + ", or /help"
	ti.Prompt = "› "
	ti.PromptStyle = SelfStyle
	ti.CharLimit = 4096
	ti.Focus()

	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(SpinnerStyle))

	m := &Chat{
		cfg:     cfg,
		input:   ti,
		spinner: s,
	}
	m.replayHistory()
	return m
}

func (m *Chat) replayHistory() {
	if m.cfg.History == nil {
		return
	}
	entries, err := m.cfg.History.Load(m.cfg.Room)
	if err != nil {
		slog.Warn("could not load history", "room", m.cfg.Room, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		m.lines = append(m.lines, m.entryLine(e))
	}
	m.lines = append(m.lines, MutedStyle.Render("── earlier messages above ──"))
}

// LoggedOut reports whether the user left with /logout.
func (m *Chat) LoggedOut() bool { return m.loggedOut }

// Disconnected reports whether the relay connection dropped.
func (m *Chat) Disconnected() bool { return m.disconnected }

func (m *Chat) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			value := m.input.Value()
			m.input.Reset()
			cmds = append(cmds, m.submit(value))
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case presenceMsg:
		m.users = msg.p.Users
		if msg.joined && msg.p.User != m.cfg.Name {
			m.system(msg.p.User + " joined the room")
		}

	case chatMsg:
		kind := history.KindText
		if msg.User == protocol.SystemUser {
			kind = history.KindSystem
		}
		m.record(history.Entry{Kind: kind, User: msg.User, Text: msg.Text, Timestamp: msg.Timestamp})

	case imageMsg:
		m.lastFile = &received{user: msg.User, data: msg.Image}
		m.record(history.Entry{Kind: history.KindImage, User: msg.User, Filesize: dataSize(msg.Image), Timestamp: msg.Timestamp})

	case pdfMsg:
		m.lastFile = &received{user: msg.User, filename: msg.Filename, data: msg.PDF}
		m.record(history.Entry{Kind: history.KindPDF, User: msg.User, Filename: msg.Filename, Filesize: msg.Filesize, Timestamp: msg.Timestamp})

	case relayErrMsg:
		m.errorLine(string(msg))

	case callStateMsg:
		wasBusy := m.state == call.Calling || m.state == call.Connecting
		m.state, m.peer = msg.state, msg.peer
		if m.state != call.RingingIncoming {
			m.ringing = ""
		}
		if m.state == call.Idle {
			m.status = ""
			m.muted, m.cameraOff = false, false
		}
		if !wasBusy && (m.state == call.Calling || m.state == call.Connecting) {
			cmds = append(cmds, m.spinner.Tick)
		}

	case noticeMsg:
		m.record(history.Entry{
			Kind:      history.KindSystem,
			User:      protocol.SystemUser,
			Text:      IconPhone + " " + string(msg),
			Timestamp: protocol.Timestamp(time.Now()),
		})

	case toggledMsg:
		switch {
		case msg.camera && msg.on:
			m.cameraOff = true
			m.system("Camera off")
		case msg.camera:
			m.cameraOff = false
			m.system("Camera on")
		case msg.on:
			m.muted = true
			m.system("Microphone muted")
		default:
			m.muted = false
			m.system("Microphone unmuted")
		}

	case statusMsg:
		m.status = string(msg)

	case incomingCallMsg:
		m.ringing = string(msg)
		m.appendLine(BoldStyle.Render(IconPhone+" Incoming call from "+string(msg)) +
			MutedStyle.Render("  /accept or /reject"))

	case remoteTrackMsg:
		m.system(fmt.Sprintf("Receiving %s from %s", msg.kind, msg.peer))

	case actionErrMsg:
		if text, ok := actionErrText(msg.op, msg.err); ok {
			m.errorLine(text)
		}

	case savedMsg:
		m.appendLine(SuccessStyle.Render(IconSuccess) + " Saved to " + string(msg))

	case disconnectedMsg:
		m.disconnected = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.state == call.Calling || m.state == call.Connecting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Chat) resize(width, height int) {
	m.width = width
	m.input.Width = max(10, width-4)
	vpHeight := max(3, height-4)
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.refresh()
}

func (m *Chat) submit(value string) tea.Cmd {
	text := strings.TrimSpace(value)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		return m.relay(protocol.EventSendMessage, protocol.SendMessagePayload{Text: text})
	}

	command, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "/call":
		if arg == "" {
			m.errorLine("Usage: /call <name>")
			return nil
		}
		return m.action("call", func(ctx context.Context) error { return m.cfg.Calls.Call(ctx, arg) })
	case "/accept":
		return m.action("accept", m.cfg.Calls.Accept)
	case "/reject":
		return m.action("reject", func(context.Context) error { return m.cfg.Calls.Reject() })
	case "/hangup":
		return m.action("hangup", func(context.Context) error { m.cfg.Calls.Hangup(); return nil })
	case "/mute":
		return m.toggle(false)
	case "/camera", "/video":
		return m.toggle(true)
	case "/users", "/who":
		partner := ""
		if m.state != call.Idle {
			partner = m.peer
		}
		m.appendLine(MembersView(m.users, m.cfg.Name, partner))
	case "/image":
		return m.share(chat.KindImage, arg)
	case "/pdf":
		return m.share(chat.KindPDF, arg)
	case "/save":
		return m.save(arg)
	case "/clear":
		m.lines = nil
		if m.cfg.History != nil {
			if err := m.cfg.History.Clear(m.cfg.Room); err != nil {
				m.errorLine(err.Error())
			}
		}
		m.refresh()
	case "/logout":
		m.loggedOut = true
		return tea.Quit
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		m.appendLine(helpText)
	default:
		m.errorLine("Unknown command " + command + ". Type /help")
	}
	return nil
}

const helpText = `Commands:
  /call <name>    call someone in the room
  /accept         answer an incoming call
  /reject         decline an incoming call
  /hangup         end the current call
  /mute           mute or unmute your microphone
  /camera         turn your camera off or on
  /users          list the people in the room
  /image <path>   share an image
  /pdf <path>     share a PDF
  /save [dir]     save the last shared file
  /clear          clear the screen and this room's history
  /logout         leave and forget this room
  /quit           leave, rejoin later with "huddle join"`

func (m *Chat) relay(event string, payload any) tea.Cmd {
	return func() tea.Msg {
		if err := m.cfg.Sender.Send(event, payload); err != nil {
			return actionErrMsg{op: "send", err: err}
		}
		return nil
	}
}

func (m *Chat) action(op string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return actionErrMsg{op: op, err: err}
		}
		return nil
	}
}

func (m *Chat) toggle(camera bool) tea.Cmd {
	calls := m.cfg.Calls
	return func() tea.Msg {
		var on bool
		var err error
		op := "mute"
		if camera {
			op = "camera"
			on, err = calls.ToggleCamera()
		} else {
			on, err = calls.ToggleMute()
		}
		if err != nil {
			return actionErrMsg{op: op, err: err}
		}
		return toggledMsg{camera: camera, on: on}
	}
}

func (m *Chat) share(kind chat.Kind, path string) tea.Cmd {
	if path == "" {
		m.errorLine(fmt.Sprintf("Usage: /%s <path>", kind))
		return nil
	}
	maxUpload := m.cfg.MaxUpload
	return func() tea.Msg {
		a, err := chat.LoadFile(expandHome(path), kind, maxUpload)
		if err != nil {
			return actionErrMsg{op: "share", err: err}
		}
		event, payload := a.Event()
		if err := m.cfg.Sender.Send(event, payload); err != nil {
			return actionErrMsg{op: "share", err: err}
		}
		return nil
	}
}

func (m *Chat) save(dir string) tea.Cmd {
	if m.lastFile == nil {
		m.errorLine("Nothing to save yet")
		return nil
	}
	if dir == "" {
		dir = m.cfg.SaveDir
	}
	file := *m.lastFile
	return func() tea.Msg {
		path, err := chat.Save(expandHome(dir), file.filename, file.data)
		if err != nil {
			return actionErrMsg{op: "save", err: err}
		}
		return savedMsg(path)
	}
}

// actionErrText hides failures the call session already announced.
func actionErrText(op string, err error) (string, bool) {
	switch {
	case errors.Is(err, call.ErrCallAborted):
		return "", false
	case errors.Is(err, call.ErrBusy):
		return "You are already in a call", true
	case errors.Is(err, call.ErrNoIncomingCall):
		return "There is no incoming call", true
	case errors.Is(err, call.ErrInvalidTarget):
		return "Pick someone else in the room to call", true
	case errors.Is(err, call.ErrNoConnection):
		return "You are not in a call", true
	case errors.Is(err, call.ErrNoVideo):
		return "This call is audio only", true
	case op == "call" || op == "accept":
		return "", false
	default:
		return err.Error(), true
	}
}

func (m *Chat) record(e history.Entry) {
	m.appendLine(m.entryLine(e))
	if m.cfg.History == nil {
		return
	}
	if err := m.cfg.History.Append(m.cfg.Room, e); err != nil {
		slog.Warn("could not save history", "room", m.cfg.Room, "error", err)
	}
}

func (m *Chat) entryLine(e history.Entry) string {
	stamp := MutedStyle.Render(Clock(e.Timestamp))
	switch e.Kind {
	case history.KindSystem:
		return stamp + " " + SystemStyle.Render(e.Text)
	case history.KindImage:
		return fmt.Sprintf("%s %s shared an image %s %s", stamp, m.name(e.User), IconImage,
			MutedStyle.Render("("+chat.FormatSize(e.Filesize)+")"))
	case history.KindPDF:
		return fmt.Sprintf("%s %s shared %s %s %s", stamp, m.name(e.User), IconPDF, BoldStyle.Render(e.Filename),
			MutedStyle.Render("("+chat.FormatSize(e.Filesize)+")"))
	default:
		return fmt.Sprintf("%s %s: %s", stamp, m.name(e.User), e.Text)
	}
}

func (m *Chat) name(user string) string {
	if user == m.cfg.Name {
		return SelfStyle.Render(user)
	}
	return NameStyle(user).Render(user)
}

func (m *Chat) system(text string) {
	m.appendLine(SystemStyle.Render("* " + text))
}

func (m *Chat) errorLine(text string) {
	m.appendLine(ErrorStyle.Render(IconError + " " + text))
}

func (m *Chat) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Chat) refresh() {
	if !m.ready {
		return
	}
	wrap := lipgloss.NewStyle().Width(m.viewport.Width)
	rendered := make([]string, len(m.lines))
	for i, line := range m.lines {
		rendered[i] = wrap.Render(line)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	m.viewport.GotoBottom()
}

func (m *Chat) View() string {
	if !m.ready {
		return "Joining " + m.cfg.Room + "..."
	}

	header := HeaderStyle.Width(m.width).Render(fmt.Sprintf("%s %s  %s %s  %d online",
		IconRoom, Truncate(m.cfg.Room, 24), IconPeer, Truncate(m.cfg.Name, 24), len(m.users)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.callBar(),
		InputBorderStyle.Width(m.width).Render(m.input.View()),
	)
}

func (m *Chat) callBar() string {
	if m.state == call.Idle {
		return MutedStyle.Render(" /help for commands")
	}

	text := m.status
	if text == "" {
		text = m.state.String() + " " + m.peer
	}
	if m.state == call.RingingIncoming {
		text = "Incoming call from " + m.ringing + "  /accept or /reject"
	}
	if m.muted {
		text += "  " + IconMuted + " muted"
	}
	if m.cameraOff {
		text += "  " + IconCameraOff + " camera off"
	}
	prefix := IconPhone
	if m.state == call.Calling || m.state == call.Connecting {
		prefix = m.spinner.View()
	}
	return CallBarStyle.Width(m.width).Render(prefix + " " + text)
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// dataSize estimates the decoded size of a base64 data URI.
func dataSize(uri string) int64 {
	_, encoded, ok := strings.Cut(uri, ",")
	if !ok {
		return 0
	}
	n := int64(len(encoded)) * 3 / 4
	n -= int64(strings.Count(encoded[max(0, len(encoded)-2):], "="))
	return max(0, n)
}
