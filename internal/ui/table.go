package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/store"
)

// ContactsView renders the directory using lipgloss/table
func ContactsView(contacts []store.Contact) string {
	if len(contacts) == 0 {
		return MutedStyle.Render("No contacts")
	}

	rows := make([][]string, 0, len(contacts))
	for i, c := range contacts {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncateString(c.DisplayName, 30),
			truncateString(c.ID.String(), 40),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Identity").
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

func RenderContacts(contacts []store.Contact) {
	fmt.Println(ContactsView(contacts))
}

// HistoryView renders recent calls, newest first.
func HistoryView(records []store.CallRecord) string {
	if len(records) == 0 {
		return MutedStyle.Render("No calls yet")
	}

	tw := prettytable.NewWriter()
	tw.SetTitle(IconCall + " Recent Calls")
	tw.AppendHeader(prettytable.Row{"When", "Direction", "Kind", "With", "Duration", "Result"})
	for _, r := range records {
		tw.AppendRow(prettytable.Row{
			r.EndedAt.Local().Format("Jan 02 15:04"),
			directionLabel(r.Direction),
			r.Kind,
			truncateString(peerList(r.Peers), 32),
			durationLabel(r),
			r.Reason,
		})
	}
	tw.SetStyle(prettytable.StyleRounded)
	tw.Style().Options.SeparateRows = false

	return tw.Render()
}

func RenderHistory(records []store.CallRecord) {
	fmt.Println(HistoryView(records))
}

func peerList(peers []identity.ID) string {
	return strings.Join(identity.Strings(peers), ", ")
}

func directionLabel(d string) string {
	switch d {
	case "incoming":
		return "↙ in"
	case "outgoing":
		return "↗ out"
	}
	return d
}

func durationLabel(r store.CallRecord) string {
	if r.StartedAt.IsZero() {
		return "-"
	}
	return FormatDuration(r.Duration.Truncate(time.Second))
}
