// Package tui implements the blazehooks delivery monitor.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/blazehooks/internal/events"
)

const (
	maxDeliveries = 200
	maxLogLines   = 50
	healthEvery   = 5 * time.Second
)

// HealthFunc polls service health. A nil HealthFunc hides the health header.
type HealthFunc func(ctx context.Context) (Health, error)

// Delivery is the monitor's view of one logical delivery.
type Delivery struct {
	ID          string
	WebhookID   string
	Event       string
	Attempt     int
	MaxAttempts int
	Status      string
	HTTPStatus  int
	LatencyMs   int64
	Error       string
	UpdatedAt   time.Time
}

type eventMsg events.Event
type streamClosedMsg struct{}
type healthMsg Health
type errMsg struct{ err error }

// payload is the union of fields the service puts in delivery events.
type payload struct {
	DeliveryID     string  `json:"deliveryId"`
	WebhookID      string  `json:"webhookId"`
	Event          string  `json:"event"`
	Attempt        int     `json:"attempt"`
	MaxAttempts    int     `json:"maxAttempts"`
	Status         string  `json:"status"`
	HTTPStatus     *int    `json:"httpStatus"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
	Error          *string `json:"error"`
	Reason         string  `json:"reason"`
}

type Model struct {
	theme  Theme
	source <-chan events.Event
	health HealthFunc

	width  int
	height int

	deliveries map[string]*Delivery
	order      []string // newest first
	eventLog   []events.Event
	counts     map[string]int
	disabled   int

	status    Health
	connected bool
	lastErr   error

	table table.Model
}

// NewMonitor builds a monitor fed by source, which may come from the API's
// SSE stream or the Redis broadcast.
func NewMonitor(source <-chan events.Event, health HealthFunc) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Delivery", Width: 10},
			{Title: "Webhook", Width: 10},
			{Title: "Event", Width: 22},
			{Title: "Try", Width: 5},
			{Title: "HTTP", Width: 5},
			{Title: "Latency", Width: 8},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
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

	return &Model{
		theme:      NewDefaultTheme(),
		source:     source,
		health:     health,
		deliveries: make(map[string]*Delivery),
		counts:     make(map[string]int),
		connected:  true,
		table:      t,
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.receiveNextEvent()}
	if m.health != nil {
		cmds = append(cmds, m.pollHealth(0))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		if h := m.height/2 - 4; h > 3 {
			m.table.SetHeight(h)
		}

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case streamClosedMsg:
		m.connected = false
		return m, nil

	case healthMsg:
		m.status = Health(msg)
		m.lastErr = nil
		return m, m.pollHealth(healthEvery)

	case errMsg:
		m.lastErr = msg.err
		if m.health != nil {
			return m, m.pollHealth(healthEvery)
		}
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxLogLines {
		m.eventLog = m.eventLog[:maxLogLines]
	}

	var p payload
	_ = json.Unmarshal(e.Data, &p)

	switch e.Type {
	case events.TypeWebhookDisabled:
		m.disabled++
		return
	case events.TypeDeliveryQueued, events.TypeDeliveryAttempted, events.TypeDeliveryAbandoned:
	default:
		return
	}
	if p.DeliveryID == "" {
		return
	}

	d := m.delivery(p.DeliveryID)
	if p.WebhookID != "" {
		d.WebhookID = p.WebhookID
	}
	if p.Event != "" {
		d.Event = p.Event
	}
	d.UpdatedAt = e.At

	switch e.Type {
	case events.TypeDeliveryQueued:
		if d.Status == "" {
			d.Status = "queued"
		}
	case events.TypeDeliveryAttempted:
		d.Status = p.Status
		d.Attempt = p.Attempt
		d.MaxAttempts = p.MaxAttempts
		d.LatencyMs = p.ResponseTimeMs
		d.HTTPStatus = 0
		if p.HTTPStatus != nil {
			d.HTTPStatus = *p.HTTPStatus
		}
		d.Error = ""
		if p.Error != nil {
			d.Error = *p.Error
		}
		m.counts[p.Status]++
	case events.TypeDeliveryAbandoned:
		d.Status = "abandoned"
		d.Error = p.Reason
		m.counts["abandoned"]++
	}
}

// delivery returns the tracked delivery, creating it at the top of the list.
func (m *Model) delivery(id string) *Delivery {
	if d, ok := m.deliveries[id]; ok {
		return d
	}
	d := &Delivery{ID: id}
	m.deliveries[id] = d
	m.order = append([]string{id}, m.order...)
	if len(m.order) > maxDeliveries {
		for _, old := range m.order[maxDeliveries:] {
			delete(m.deliveries, old)
		}
		m.order = m.order[:maxDeliveries]
	}
	return d
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		d := m.deliveries[id]

		attempt := "-"
		if d.Attempt > 0 {
			attempt = fmt.Sprintf("%d/%d", d.Attempt, d.MaxAttempts)
		}
		code := "-"
		if d.HTTPStatus > 0 {
			code = strconv.Itoa(d.HTTPStatus)
		}
		latency := "-"
		if d.Attempt > 0 {
			latency = fmt.Sprintf("%dms", d.LatencyMs)
		}

		rows = append(rows, table.Row{
			m.theme.Symbol(d.Status),
			short(d.ID),
			short(d.WebhookID),
			d.Event,
			attempt,
			code,
			latency,
			d.Error,
		})
	}
	m.table.SetRows(rows)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	deliveries := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Deliveries"),
			m.table.View(),
		),
	)
	stream := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), deliveries, stream, help),
	)
}

func (m *Model) renderHeader() string {
	stream := m.theme.StatusOK.Render("LIVE")
	if !m.connected {
		stream = m.theme.StatusFailed.Render("DISCONNECTED")
	}

	items := []string{"Stream: " + stream}
	if m.health != nil {
		status := m.theme.StatusOK.Render("OK")
		if m.lastErr != nil || (m.status.Status != "" && m.status.Status != "ok") {
			status = m.theme.StatusFailed.Render("DEGRADED")
		}
		uptime := time.Duration(m.status.UptimeSeconds) * time.Second
		items = append(items,
			"Service: "+status,
			"Uptime: "+uptime.String(),
			fmt.Sprintf("Queue: %d", m.status.QueueDepth),
		)
	}
	items = append(items,
		fmt.Sprintf("OK: %d", m.counts["succeeded"]),
		fmt.Sprintf("Retry: %d", m.counts["retrying"]),
		fmt.Sprintf("Failed: %d", m.counts["exhausted"]+m.counts["abandoned"]),
		fmt.Sprintf("Disabled: %d", m.disabled),
	)

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-21s | %s", e.At.Format("15:04:05"), e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m *Model) receiveNextEvent() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ev, ok := <-source
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) pollHealth(after time.Duration) tea.Cmd {
	fetch := m.health
	return tea.Tick(after, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h, err := fetch(ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return healthMsg(h)
	})
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
