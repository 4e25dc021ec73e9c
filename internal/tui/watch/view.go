package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/reroute/internal/events"
)

func panel(theme Theme, width int, title string, body string) string {
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render(title), body)
	return theme.Border.Width(max(width-4, 20)).Render(content)
}

func renderHeader(s *State, pulse Pulse, theme Theme, width int, now time.Time) string {
	h := s.Health
	status := theme.StatusOK.Render("HEALTHY")
	switch {
	case !h.Connected:
		status = theme.StatusFailed.Render("CONNECTING")
	case h.Status != "" && h.Status != "ok":
		status = theme.StatusFailed.Render("DEGRADED")
	}

	last := "never"
	if !pulse.LastEvent().IsZero() {
		last = now.Sub(pulse.LastEvent()).Round(time.Second).String() + " ago"
	}

	lines := []string{
		fmt.Sprintf(" %s  up %s  queued: %d  markers: %d  table: %s",
			status, formatDuration(time.Duration(h.UptimeSeconds)*time.Second),
			h.QueueDepth, len(s.Markers), theme.Highlight.Render(h.RoutingTable)),
		fmt.Sprintf(" last event: %s %s", last, pulse.Render(theme)),
	}
	title := "REROUTE WATCH  " + theme.Dim.Render(now.Format("15:04:05"))
	return panel(theme, width, title, strings.Join(lines, "\n"))
}

func markerRows(markers map[string]string) []table.Row {
	names := make([]string, 0, len(markers))
	for m := range markers {
		names = append(names, m)
	}
	sort.Strings(names)
	rows := make([]table.Row, 0, len(names))
	for _, m := range names {
		kind, value, _ := strings.Cut(m, ":")
		rows = append(rows, table.Row{kind, value, markers[m]})
	}
	return rows
}

func newMarkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Kind", Width: 6},
			{Title: "Value", Width: 36},
			{Title: "Queue", Width: 20},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func renderMarkers(s *State, t table.Model, theme Theme, width int) string {
	if len(s.Markers) == 0 {
		return panel(theme, width, "ROUTING TABLE", theme.Dim.Render("  No markers; every job runs where it was queued."))
	}
	return panel(theme, width, "ROUTING TABLE", t.View())
}

func renderFlows(s *State, theme Theme, width int) string {
	flows := s.SortedFlows()
	var lines []string
	for i, f := range flows {
		if i >= 8 {
			break
		}
		lines = append(lines, fmt.Sprintf("  %-16s %s %-16s %5d  %s",
			f.From, theme.Arrow.Render("→"), f.To, f.Count, theme.Dim.Render(f.Last.Format("15:04:05"))))
	}
	if len(lines) == 0 {
		lines = append(lines, theme.Dim.Render("  No reroutes observed yet."))
	}

	if len(s.Outcomes) > 0 {
		statuses := make([]string, 0, len(s.Outcomes))
		for st := range s.Outcomes {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		var parts []string
		for _, st := range statuses {
			parts = append(parts, theme.statusStyle(st).Render(fmt.Sprintf("%s %d", st, s.Outcomes[st])))
		}
		lines = append(lines, "", "  "+strings.Join(parts, "  "))
	}
	return panel(theme, width, "REROUTES", strings.Join(lines, "\n"))
}

func renderEventStream(s *State, theme Theme, width int) string {
	if len(s.EventLog) == 0 {
		return panel(theme, width, "EVENT STREAM", theme.Dim.Render("  Waiting for events..."))
	}
	var lines []string
	for i, e := range s.EventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}
	return panel(theme, width, "EVENT STREAM", lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")))
}

func formatEvent(e events.Event, theme Theme) string {
	var style lipgloss.Style
	switch e.Type {
	case events.TypeJobRerouted:
		style = theme.Arrow
	case events.TypeJobCompleted:
		style = theme.StatusOK
	case events.TypeMarkerSet, events.TypeMarkerRemoved, events.TypeMarkersCleared:
		style = theme.Highlight
	default:
		style = theme.Dim
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-16s", e.Type)),
		describeEvent(e))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.TypeJobRerouted:
		var p events.ReroutePayload
		if json.Unmarshal(e.Data, &p) == nil {
			return fmt.Sprintf("[%s] %s %s → %s", shortID(p.JobID), p.JobType, p.FromQueue, p.ToQueue)
		}
	case events.TypeJobCompleted:
		var p events.CompletionPayload
		if json.Unmarshal(e.Data, &p) == nil {
			desc := fmt.Sprintf("[%s] %s on %s %s", shortID(p.JobID), p.JobType, p.Queue, p.Status)
			if p.Error != "" {
				desc += ": " + p.Error
			}
			return desc
		}
	case events.TypeMarkerSet:
		var p struct {
			Marker string `json:"marker"`
			Queue  string `json:"queue"`
		}
		if json.Unmarshal(e.Data, &p) == nil {
			return fmt.Sprintf("%s → %s", p.Marker, p.Queue)
		}
	case events.TypeMarkerRemoved:
		var p struct {
			Marker string `json:"marker"`
		}
		if json.Unmarshal(e.Data, &p) == nil {
			return p.Marker
		}
	}
	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
