package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/reroute/internal/events"
)

// Model is the bubbletea model for reroute system watch.
type Model struct {
	client *Client

	width  int
	height int

	state   *State
	pulse   Pulse
	markers table.Model
	theme   Theme

	hubEvents chan events.Event
	lastError string
	now       func() time.Time
}

func New(apiURL, apiKey string) Model {
	return Model{
		client:    &Client{BaseURL: apiURL, APIKey: apiKey},
		state:     NewState(),
		markers:   newMarkerTable(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
		now:       time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchMarkers,
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.client.fetchMarkers
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.markers.SetWidth(max(m.width-8, 20))

	case tickMsg:
		m.pulse.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.pulse.OnEvent(m.now())
		m.state.Health.Connected = true
		m.lastError = ""
		if m.state.Apply(e) {
			m.markers.SetRows(markerRows(m.state.Markers))
		}
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.state.Health = HealthState(msg)
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case markersMsg:
		clear(m.state.Markers)
		for k, v := range msg {
			m.state.Markers[k] = v
		}
		m.markers.SetRows(markerRows(m.state.Markers))
		return m, nil

	case sseDisconnectedMsg:
		m.state.Health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the shared channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, tea.Batch(m.client.subscribe(m.state.LastEventID, m.hubEvents), m.client.fetchMarkers)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	var cmd tea.Cmd
	m.markers, cmd = m.markers.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	parts := []string{
		renderHeader(m.state, m.pulse, m.theme, m.width, m.now()),
		renderMarkers(m.state, m.markers, m.theme, m.width),
		renderFlows(m.state, m.theme, m.width),
		renderEventStream(m.state, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll markers • [r] Refresh markers"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey), tea.WithAltScreen()).Run()
	return err
}
