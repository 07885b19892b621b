// Package ui provides the terminal dashboard for napwatch.
// Uses Bubbletea to display the projected timeline, the reminder countdown,
// and engine events, and to route snooze/dismiss keys to the engine.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/napwatch/internal/alarm"
	"github.com/marcus/napwatch/internal/engine"
	"github.com/marcus/napwatch/internal/reminder"
	"github.com/marcus/napwatch/internal/timeline"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelTimeline Panel = iota
	PanelAlarm
	PanelEvents
)

// Controller is the engine surface the dashboard drives. *engine.Engine
// satisfies it; tests use a stub.
type Controller interface {
	Status() engine.Status
	Snooze(ctx reminder.Context)
	Dismiss(ctx reminder.Context)
	OverrideLead(sec int) error
	Now() time.Time
}

// EventLine is a rendered engine event.
type EventLine struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds the dashboard state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	controller Controller
	status     engine.Status

	events      []EventLine
	eventScroll int

	selectedNap int
	napScroll   int

	progressTick int

	refreshRequested func()

	styles *Styles
}

// Styles holds lipgloss styles for the dashboard.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	StatusError lipgloss.Style
	StatusLive  lipgloss.Style

	RowSelected lipgloss.Style

	FiredBanner lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusLive: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		RowSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		FiredBanner: lipgloss.NewStyle().
			Background(red).
			Foreground(lipgloss.Color("#fff")).
			Bold(true).
			Padding(0, 1),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent every second to refresh the countdown.
type tickMsg time.Time

// StatusMsg pushes a fresh engine status into the model.
type StatusMsg engine.Status

// EventMsg pushes an engine event into the events panel.
type EventMsg engine.Event

// New creates a dashboard model backed by the given controller.
func New(controller Controller, refreshRequested func()) *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelTimeline,
		controller:  controller,
		events:      make([]EventLine, 0),
		styles:      newStyles(),

		refreshRequested: refreshRequested,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		if m.controller != nil {
			m.status = m.controller.Status()
		}
		return m, tickCmd()

	case StatusMsg:
		m.status = engine.Status(msg)
		return m, nil

	case EventMsg:
		m.appendEvent(engine.Event(msg))
		return m, nil
	}

	return m, nil
}

func (m *Model) appendEvent(ev engine.Event) {
	line := EventLine{Time: ev.Time, Kind: eventKind(ev.Type)}
	switch ev.Type {
	case engine.EventFired:
		line.Message = fmt.Sprintf("reminder fired (%s, nap %d)", ev.Context, ev.NapIndex)
	case engine.EventDegraded:
		line.Message = "schedule unavailable: " + ev.Error
	default:
		line.Message = ev.Message
		if line.Message == "" {
			line.Message = line.Kind
		}
	}
	m.events = append(m.events, line)
	if m.eventScroll == len(m.events)-2 || len(m.events) == 1 {
		m.eventScroll = len(m.events) - 1
	}
}

func eventKind(t engine.EventType) string {
	switch t {
	case engine.EventRefresh:
		return "refresh"
	case engine.EventFired:
		return "fired"
	case engine.EventSnoozed:
		return "snoozed"
	case engine.EventDismissed:
		return "dismissed"
	case engine.EventSettings:
		return "settings"
	case engine.EventDegraded:
		return "degraded"
	default:
		return "event"
	}
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "s":
		if ctx, ok := m.firedContext(); ok && m.controller != nil {
			m.controller.Snooze(ctx)
			m.status = m.controller.Status()
		}
		return m, nil

	case "d":
		if ctx, ok := m.firedContext(); ok && m.controller != nil {
			m.controller.Dismiss(ctx)
			m.status = m.controller.Status()
		}
		return m, nil

	case "r":
		if m.refreshRequested != nil {
			m.refreshRequested()
		}
		return m, nil

	case "+", "=":
		return m.adjustLead(60), nil

	case "-", "_":
		return m.adjustLead(-60), nil
	}

	return m, nil
}

// adjustLead bumps the lead of the currently targeted alarm only. The
// override reverts when the target changes.
func (m Model) adjustLead(deltaSec int) Model {
	if m.controller == nil {
		return m
	}
	base := m.status.LeadSec
	if sched, _ := m.activeSchedule(); sched != nil && sched.LeadSec > 0 {
		base = sched.LeadSec
	}
	next := base + deltaSec
	if next < 0 {
		next = 0
	}
	if err := m.controller.OverrideLead(next); err == nil {
		m.status = m.controller.Status()
	}
	return m
}

// firedContext returns the context whose reminder is currently fired.
func (m Model) firedContext() (reminder.Context, bool) {
	if m.status.NapEnd.State == reminder.StateFired {
		return reminder.ContextNapEnd, true
	}
	if m.status.NapStart.State == reminder.StateFired {
		return reminder.ContextNapStart, true
	}
	return "", false
}

func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelTimeline:
		if m.selectedNap > 0 {
			m.selectedNap--
		}
	case PanelEvents:
		if m.eventScroll > 0 {
			m.eventScroll--
		}
	}
	return m
}

func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelTimeline:
		if m.selectedNap < len(m.status.Entries)-1 {
			m.selectedNap++
		}
	case PanelEvents:
		if m.eventScroll < len(m.events)-1 {
			m.eventScroll++
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	timelinePanel := m.renderTimelinePanel(leftWidth-2, topHeight-2)
	alarmPanel := m.renderAlarmPanel(rightWidth-2, topHeight-2)
	eventPanel := m.renderEventPanel(m.width-2, bottomHeight-2)

	timelineBorder := m.getBorder(PanelTimeline).Width(leftWidth - 2).Height(topHeight - 2)
	alarmBorder := m.getBorder(PanelAlarm).Width(rightWidth - 2).Height(topHeight - 2)
	eventBorder := m.getBorder(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		timelineBorder.Render(timelinePanel),
		alarmBorder.Render(alarmPanel),
	)

	helpBar := m.renderHelpBar()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		eventBorder.Render(eventPanel),
		helpBar,
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderTimelinePanel renders the projected nap timeline.
func (m Model) renderTimelinePanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Today"))
	b.WriteString("\n\n")

	if m.status.Degraded {
		b.WriteString(m.styles.StatusError.Render("schedule unavailable"))
		b.WriteString("\n")
		return b.String()
	}
	if m.status.NoSchedule {
		b.WriteString(m.styles.Muted.Render("No schedule for today"))
		return b.String()
	}
	if len(m.status.Entries) == 0 {
		b.WriteString(m.styles.Muted.Render("No naps planned"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}
	if m.selectedNap < m.napScroll {
		m.napScroll = m.selectedNap
	} else if m.selectedNap >= m.napScroll+visible {
		m.napScroll = m.selectedNap - visible + 1
	}

	for i := m.napScroll; i < len(m.status.Entries) && i < m.napScroll+visible; i++ {
		ent := m.status.Entries[i]
		line := m.renderNapLine(ent)
		if i == m.selectedNap && m.activePanel == PanelTimeline {
			line = m.styles.RowSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.status.SleepActive {
		b.WriteString("\n")
		b.WriteString(m.styles.StatusLive.Render("overnight sleep in progress"))
	}

	return b.String()
}

func (m Model) renderNapLine(ent timeline.Entry) string {
	var icon string
	var style lipgloss.Style
	switch ent.Nap.Status {
	case timeline.NapFinished:
		icon = "*"
		style = m.styles.StatusOK
	case timeline.NapInProgress:
		icon = m.spinner()
		style = m.styles.StatusLive
	default:
		icon = "o"
		style = m.styles.Muted
	}

	window := fmt.Sprintf("%s - %s",
		ent.InferredStart.Format("15:04"),
		ent.EndTime.Format("15:04"))

	suffix := ""
	if ent.Projected {
		suffix = m.styles.Muted.Render(" ~")
	}

	return fmt.Sprintf(" %s nap %d  %s%s", style.Render(icon), ent.Nap.Index, window, suffix)
}

// renderAlarmPanel renders the reminder countdown and fired banner.
func (m Model) renderAlarmPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Reminder"))
	b.WriteString("\n\n")

	sched, label := m.activeSchedule()
	if sched == nil {
		b.WriteString(m.styles.Muted.Render("No reminder armed"))
		b.WriteString("\n\n")
		m.renderSoundLine(&b)
		return b.String()
	}

	switch sched.State {
	case reminder.StateFired:
		b.WriteString(m.styles.FiredBanner.Render(strings.ToUpper(label)))
		b.WriteString("\n\n")
		b.WriteString(m.styles.Label.Render("Press "))
		b.WriteString(m.styles.HelpKey.Render("s"))
		b.WriteString(m.styles.Label.Render(" to snooze, "))
		b.WriteString(m.styles.HelpKey.Render("d"))
		b.WriteString(m.styles.Label.Render(" to dismiss"))
		b.WriteString("\n\n")

	case reminder.StateArmed, reminder.StateSnoozed:
		b.WriteString(m.styles.Label.Render(label + " in "))
		var now time.Time
		if m.controller != nil {
			now = m.controller.Now()
		} else {
			now = time.Now()
		}
		if sched.ScheduledAt != nil {
			remaining := sched.ScheduledAt.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			b.WriteString(m.styles.Highlight.Render(formatCountdown(remaining)))
		}
		b.WriteString("\n\n")
		if sched.State == reminder.StateSnoozed {
			b.WriteString(m.styles.StatusWarn.Render("snoozed"))
			b.WriteString("\n")
		}
		if sched.AutoAdjusted {
			b.WriteString(m.styles.Muted.Render("adjusted to fit the event"))
			b.WriteString("\n")
		}
		b.WriteString("\n")

	case reminder.StateDismissed:
		b.WriteString(m.styles.Muted.Render("dismissed"))
		b.WriteString("\n\n")
	}

	b.WriteString(m.styles.Label.Render("Lead: "))
	b.WriteString(m.styles.Value.Render(alarm.FormatLead(m.status.LeadSec)))
	b.WriteString("\n")
	m.renderSoundLine(&b)

	return b.String()
}

func (m Model) renderSoundLine(b *strings.Builder) {
	b.WriteString(m.styles.Label.Render("Sound: "))
	if m.status.SoundEnabled {
		b.WriteString(m.styles.Value.Render(string(m.status.SoundID)))
	} else {
		b.WriteString(m.styles.Muted.Render("off"))
	}
	b.WriteString("\n")
}

// activeSchedule picks the schedule to display: a fired one wins, then an
// armed or snoozed one.
func (m Model) activeSchedule() (*reminder.AlarmSchedule, string) {
	end := m.status.NapEnd
	start := m.status.NapStart

	if end.State == reminder.StateFired {
		return &end, "nap ending"
	}
	if start.State == reminder.StateFired {
		return &start, "nap starting"
	}
	if end.State == reminder.StateArmed || end.State == reminder.StateSnoozed {
		return &end, "nap ends"
	}
	if start.State == reminder.StateArmed || start.State == reminder.StateSnoozed {
		return &start, "next nap"
	}
	if end.State == reminder.StateDismissed {
		return &end, "nap ends"
	}
	return nil, ""
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderEventPanel renders the engine event log.
func (m Model) renderEventPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("No events yet"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.eventScroll
	if start+visible > len(m.events) {
		start = len(m.events) - visible
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(m.events) && i < start+visible; i++ {
		ev := m.events[i]

		var kindStyle lipgloss.Style
		switch ev.Kind {
		case "fired":
			kindStyle = m.styles.StatusError
		case "degraded":
			kindStyle = m.styles.StatusWarn
		case "snoozed", "dismissed":
			kindStyle = m.styles.StatusLive
		default:
			kindStyle = m.styles.Muted
		}

		maxMsgLen := width - 24
		msg := ev.Message
		if len(msg) > maxMsgLen && maxMsgLen > 3 {
			msg = msg[:maxMsgLen-3] + "..."
		}

		line := fmt.Sprintf("%s %s %s",
			m.styles.Muted.Render(ev.Time.Format("15:04:05")),
			kindStyle.Render(fmt.Sprintf("[%-9s]", ev.Kind)),
			msg,
		)
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.events) > visible {
		scrollInfo := fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(m.events))
		b.WriteString(m.styles.Muted.Render(scrollInfo))
	}

	return b.String()
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"s", "snooze"},
		{"d", "dismiss"},
		{"+/-", "adjust lead"},
		{"r", "refresh"},
		{"tab", "switch panel"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// formatCountdown renders a duration as m:ss or h:mm:ss.
func formatCountdown(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	h := total / 3600
	mnt := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, s)
	}
	return fmt.Sprintf("%d:%02d", mnt, s)
}

// RunWithProgram starts the dashboard and returns the program so callers
// can push StatusMsg and EventMsg from outside.
func (m *Model) RunWithProgram() (*tea.Program, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, nil
}
