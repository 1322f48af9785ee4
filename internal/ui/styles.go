package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/warpcall/internal/media"
)

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee") // WarpCall cyan
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")

	headerBackground = lipgloss.Color("#1F2937")
)

// Text styles
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

// Call screen frames. The border tells the phase apart at a glance.
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(headerBackground).
			Padding(0, 2).
			MarginBottom(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2)

	IncomingBoxStyle = BoxStyle.
				Border(lipgloss.DoubleBorder()).
				BorderForeground(Success)

	EndedBoxStyle = BoxStyle.
			Border(lipgloss.ThickBorder()).
			BorderForeground(Muted)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	TableRowStyle    = tableCellStyle.Foreground(lipgloss.Color("255"))
	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

// connDot marks a participant's link state on the call screen.
var connDot = map[media.ConnState]string{
	media.ConnConnected:    SuccessStyle.Render("●"),
	media.ConnDisconnected: WarningStyle.Render("●"),
	media.ConnFailed:       ErrorStyle.Render("●"),
	media.ConnClosed:       ErrorStyle.Render("●"),
}

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconPeer     = "👤"
	IconConnect  = "🔌"
	IconTime     = "⏱️"
	IconWaiting  = "⏳"
	IconCall     = "📞"
	IconIncoming = "📲"
	IconHangup   = "📵"
	IconMic      = "🎤"
	IconMicOff   = "🔇"
	IconVideo    = "📹"
	IconSpeaker  = "🔊"
	IconHold     = "⏸️"
)

func PrintError(msg string) {
	fmt.Println(FormatError(fmt.Errorf("%s", msg)))
}

func PrintErrorf(format string, args ...any) {
	PrintError(fmt.Sprintf(format, args...))
}

func PrintWarning(msg string) {
	fmt.Println(WarningStyle.Render(IconWarning + " " + msg))
}

func PrintWarningf(format string, args ...any) {
	PrintWarning(fmt.Sprintf(format, args...))
}

func PrintSuccess(msg string) {
	fmt.Println(SuccessStyle.Render(IconSuccess) + " " + msg)
}

func PrintSuccessf(format string, args ...any) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	fmt.Println(IconInfo + " " + msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}

// FormatError renders err the way every command reports failures.
func FormatError(err error) string {
	return ErrorStyle.Render(IconError + " " + err.Error())
}
