package ui

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/text"

	pretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/BioHazard786/Huddle/internal/discovery"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

// MembersView renders the room roster in join order. self and the current
// call partner are marked.
func MembersView(users []string, self, inCallWith string) string {
	if len(users) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	rows := make([][]string, 0, len(users))
	for i, u := range users {
		var note string
		switch u {
		case self:
			note = "you"
		case inCallWith:
			note = IconPhone + " in call"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), Truncate(u, 24), note})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func newPrettyTable(out io.Writer) pretty.Writer {
	t := pretty.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(pretty.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	return t
}

// RenderRooms prints the relay's active rooms.
func RenderRooms(out io.Writer, rooms []protocol.RoomSummary) {
	if len(rooms) == 0 {
		fmt.Fprintln(out, MutedStyle.Render("No active rooms"))
		return
	}

	t := newPrettyTable(out)
	t.AppendHeader(pretty.Row{"Room", "Members"})
	total := 0
	for _, r := range rooms {
		total += r.Members
		t.AppendRow(pretty.Row{Truncate(r.RoomCode, 40), r.Members})
	}
	t.AppendFooter(pretty.Row{fmt.Sprintf("%d rooms", len(rooms)), total})
	t.Render()
}

// RenderRelays prints relays found on the local network.
func RenderRelays(out io.Writer, relays []discovery.Relay) {
	if len(relays) == 0 {
		fmt.Fprintln(out, MutedStyle.Render("No relays found on the local network"))
		return
	}

	t := newPrettyTable(out)
	t.AppendHeader(pretty.Row{"Name", "Address", "Version"})
	for _, r := range relays {
		t.AppendRow(pretty.Row{Truncate(r.Name, 32), r.Domain(), r.Version})
	}
	t.Render()
}
