package main

import (
	"fmt"
	"time"

	"fileshare/pkg/client"
	"fileshare/pkg/types"
	"fileshare/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6") // Pink
	secondaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor    = lipgloss.Color("#50FA7B") // Green
	warningColor   = lipgloss.Color("#FFB86C") // Orange
	dangerColor    = lipgloss.Color("#FF5555") // Red
	mutedColor     = lipgloss.Color("#6272A4")

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	successStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	dangerStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	ownerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	selfStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#7571f9"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("#ffffff")).
					Bold(true).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Padding(0, 1)
			}
		}).
		Headers(headers...)
}

// renderEntries highlights the caller's own files.
func renderEntries(entries []types.FileEntry, self types.Username) string {
	t := newTable("NAME", "OWNER")
	for _, e := range entries {
		owner := ownerStyle.Render(string(e.Owner))
		if e.Owner == self {
			owner = selfStyle.Render(string(e.Owner) + " (you)")
		}
		t.Row(e.Name, owner)
	}
	return t.Render()
}

func renderStoredFiles(files []types.StoredFile) string {
	t := newTable("NAME", "OWNER", "SIZE", "MODIFIED")
	var total int64
	for _, f := range files {
		total += f.Size
		t.Row(
			f.Name,
			ownerStyle.Render(string(f.Owner)),
			utils.FormatDataSize(f.Size),
			f.Modified.Format(time.DateTime),
		)
	}
	summary := mutedStyle.Render(fmt.Sprintf("%d files, %s", len(files), utils.FormatDataSize(total)))
	return lipgloss.JoinVertical(lipgloss.Left, t.Render(), summary)
}

func renderEvent(ev client.Event) string {
	stamp := mutedStyle.Render(time.Now().Format(time.TimeOnly))
	switch ev.Type {
	case client.EventNotification:
		return fmt.Sprintf("%s %s %s downloaded %s",
			stamp,
			successStyle.Render("●"),
			ownerStyle.Render(string(ev.Notification.Requester)),
			ev.Notification.File)
	case client.EventDisconnect:
		return fmt.Sprintf("%s %s", stamp, warningStyle.Render("Server is shutting down"))
	default:
		return fmt.Sprintf("%s %s", stamp, ev.Type)
	}
}
