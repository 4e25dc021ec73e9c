package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/reroute/internal/events"
)

type eventMsg events.Event

type healthMsg HealthState

type markersMsg map[string]string

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the operator API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c *Client) newRequest(path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimSuffix(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

func (c *Client) getJSON(path string, v any) error {
	req, err := c.newRequest(path)
	if err != nil {
		return err
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) fetchHealth() tea.Msg {
	var h struct {
		Status        string `json:"status"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		QueueDepth    int    `json:"queue_depth"`
		Markers       int    `json:"markers"`
		RoutingTable  string `json:"routing_table"`
	}
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg{
		Status:        h.Status,
		UptimeSeconds: h.UptimeSeconds,
		QueueDepth:    h.QueueDepth,
		Markers:       h.Markers,
		RoutingTable:  h.RoutingTable,
		Connected:     true,
		LastCheck:     time.Now(),
	}
}

func (c *Client) fetchMarkers() tea.Msg {
	var resp struct {
		Markers map[string]string `json:"markers"`
	}
	if err := c.getJSON("/markers", &resp); err != nil {
		return errMsg(err)
	}
	return markersMsg(resp.Markers)
}

// subscribe streams /events into ch until the connection drops, resuming
// after lastID. Returns sseDisconnectedMsg when the stream ends.
func (c *Client) subscribe(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest("/events")
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		readStream(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readStream parses SSE frames. Comment lines (keepalives) are ignored.
func readStream(scanner *bufio.Scanner, ch chan<- events.Event) {
	var (
		cur     events.Event
		hasData bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if hasData {
				cur.At = time.Now()
				ch <- cur
			}
			cur, hasData = events.Event{}, false
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
			hasData = true
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
