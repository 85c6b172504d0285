// Package watch is the terminal monitor for a single run. It polls the
// API until the run reaches a terminal status.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
)

// PollInterval is how often the monitor refreshes.
const PollInterval = 2 * time.Second

const (
	maxEvents   = 8
	eventsBatch = 200
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyles = map[models.RunStatus]lipgloss.Style{
		models.RunStatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		models.RunStatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		models.RunStatusPartial: lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		models.RunStatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	levelStyles = map[models.EventLevel]lipgloss.Style{
		models.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Source is the subset of the API client the monitor needs.
type Source interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	Devices(ctx context.Context, id uuid.UUID) (models.RunDevices, error)
	Events(ctx context.Context, id uuid.UUID, afterID uint64, limit int) (models.Events, error)
}

type snapshotMsg struct {
	run     *models.Run
	devices models.RunDevices
	events  models.Events
}

type errMsg struct{ err error }

type tickMsg time.Time

// Model represents the Bubble Tea program state.
type Model struct {
	source  Source
	runID   uuid.UUID
	spinner spinner.Model
	devices table.Model

	run       *models.Run
	rows      models.RunDevices
	events    models.Events
	lastEvent uint64
	err       error
	done      bool
}

// New creates the monitor for runID.
func New(source Source, runID uuid.UUID) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		source:  source,
		runID:   runID,
		spinner: sp,
		devices: createTable(deviceColumnTitles, distributeWidths(100, deviceColumnWeights)),
	}
}

// Run returns the last fetched run, nil until the first poll lands.
func (m Model) Run() *models.Run {
	return m.run
}

// Err returns the last poll error.
func (m Model) Err() error {
	return m.err
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetch(m.source, m.runID, m.lastEvent))
}

// Update handles Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.devices.SetColumns(buildColumns(deviceColumnTitles, distributeWidths(msg.Width-4, deviceColumnWeights)))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.devices.SetRows(devicesToRows(m.rows, m.spinner.View()))
		return m, cmd
	case tickMsg:
		return m, fetch(m.source, m.runID, m.lastEvent)
	case snapshotMsg:
		m.err = nil
		m.run = msg.run
		m.rows = msg.devices
		m.devices.SetRows(devicesToRows(m.rows, m.spinner.View()))

		if n := len(msg.events); n > 0 {
			m.lastEvent = msg.events[n-1].ID
			m.events = append(m.events, msg.events...)
			if len(m.events) > maxEvents {
				m.events = m.events[len(m.events)-maxEvents:]
			}
		}

		if m.run.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, tick()
	case errMsg:
		// keep polling; the API may be restarting
		m.err = msg.err
		return m, tick()
	}

	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	return m, cmd
}

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("switchyard run " + m.runID.String()))
	b.WriteString("\n")

	if m.run == nil {
		if m.err != nil {
			b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		} else {
			b.WriteString(m.spinner.View() + " loading")
		}
		b.WriteString("\n")
		return b.String()
	}

	style, ok := statusStyles[m.run.Status]
	if !ok {
		style = mutedStyle
	}
	b.WriteString(fmt.Sprintf("%s  %s  parallelism %d  policy %s\n",
		style.Render(strings.ToUpper(string(m.run.Status))),
		progress(m.rows),
		m.run.Parallelism,
		m.run.FailurePolicy,
	))

	b.WriteString(boxStyle.Render(m.devices.View()))
	b.WriteString("\n")

	if len(m.events) > 0 {
		lines := make([]string, 0, len(m.events))
		for _, e := range m.events {
			line := fmt.Sprintf("%s %s", e.TS.Local().Format(time.TimeOnly), e.Message)
			if s, ok := levelStyles[e.Level]; ok {
				line = s.Render(line)
			}
			lines = append(lines, line)
		}
		b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}

	if m.done {
		b.WriteString(mutedStyle.Render("run finished") + "\n")
	} else {
		b.WriteString(mutedStyle.Render("q quit • ↑/↓ scroll") + "\n")
	}

	return b.String()
}

// progress summarises device outcomes, e.g. "3/5 done (2 ok, 1 failed, 0 skipped)".
func progress(devices models.RunDevices) string {
	var ok, failed, skipped int
	for _, d := range devices {
		switch d.Status {
		case models.DeviceStatusSuccess:
			ok++
		case models.DeviceStatusFailed:
			failed++
		case models.DeviceStatusSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("%d/%d done (%d ok, %d failed, %d skipped)", ok+failed+skipped, len(devices), ok, failed, skipped)
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(source Source, runID uuid.UUID, afterID uint64) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		run, err := source.Get(ctx, runID)
		if err != nil {
			return errMsg{err: err}
		}

		devices, err := source.Devices(ctx, runID)
		if err != nil {
			return errMsg{err: err}
		}

		events, err := source.Events(ctx, runID, afterID, eventsBatch)
		if err != nil {
			return errMsg{err: err}
		}

		return snapshotMsg{run: run, devices: devices, events: events}
	}
}
