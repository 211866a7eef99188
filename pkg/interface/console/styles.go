package console

import (
	"fmt"
	"strings"
	"time"

	"voice-relay/internal/signaling"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	LabelStyle   = lipgloss.NewStyle().Foreground(Muted).Width(10)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1)
)

// Status is a snapshot of the call shown by the status command.
type Status struct {
	Role    string
	Room    string
	Phase   string
	Speaker string
	Level   int
	Muted   bool
	Health  string
	Recent  []string
}

// Meter draws a 0-100 level as a ten cell bar.
func Meter(level int) string {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	filled := level / 10
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func healthStyle(h string) lipgloss.Style {
	switch h {
	case "healthy":
		return SuccessStyle
	case "degraded":
		return WarningStyle
	default:
		return ErrorStyle
	}
}

// RenderStatus renders s as a bordered block.
func RenderStatus(s Status) string {
	line := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
	}
	mic := SuccessStyle.Render("live")
	if s.Muted {
		mic = WarningStyle.Render("muted")
	}

	rows := []string{
		TitleStyle.Render("voice relay · " + s.Role),
		line("room", s.Room),
		line("session", s.Phase),
		line("speaker", s.Speaker+" "+MutedStyle.Render(Meter(s.Level))),
		line("mic", mic),
		line("health", healthStyle(s.Health).Render(s.Health)),
	}
	for _, r := range s.Recent {
		rows = append(rows, ErrorStyle.Render("! ")+MutedStyle.Render(r))
	}
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// RenderRooms renders the room list as a table.
func RenderRooms(rooms []signaling.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No open rooms")
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Host", "Guests", "Created"})
	for _, r := range rooms {
		t.AppendRow(table.Row{
			r.RoomID,
			r.HostName,
			fmt.Sprintf("%d/%d", r.GuestCount, r.MaxGuests),
			r.CreatedAt.Local().Format(time.TimeOnly),
		})
	}
	return t.Render()
}
