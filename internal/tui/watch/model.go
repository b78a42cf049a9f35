package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herd/internal/events"
)

const (
	maxEventLog    = 50
	healthInterval = 5 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health      HealthState
	jobs        *JobTracker
	workers     *WorkerTracker
	eventLog    []events.Event
	lastEventID int64

	activity Activity

	theme        Theme
	workerOffset int

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		jobs:      NewJobTracker(),
		workers:   NewWorkerTracker(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		activity:  NewActivity(time.Now()),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchWorkers(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.workerOffset > 0 {
				m.workerOffset--
			}
		case "down", "j":
			if m.workerOffset < m.workers.Len()-1 {
				m.workerOffset++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.applyEvent(e)
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.OpenJobs = msg.OpenJobs
		m.health.Workers = msg.Workers
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case workersMsg:
		for _, w := range msg {
			state := m.workers.get(w.Index)
			state.Identity = w.Identity
			state.Kind = w.Kind
		}

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// applyEvent folds one streamed event into the model.
func (m *Model) applyEvent(e events.Event) {
	if e.ID > 0 {
		m.lastEventID = e.ID
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	m.activity.Record(time.Now(), e.Type == events.SchedulerTick)

	m.jobs.Apply(e)
	m.workers.Apply(e)

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to herd..."
	}

	header := renderHeader(m.health, len(m.jobs.Running()), m.activity, m.theme, m.width, time.Now())
	workers := renderWorkers(m.workers, m.workerOffset, m.theme, m.width)
	jobs := renderJobs(m.jobs, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, workers, jobs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll workers"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
