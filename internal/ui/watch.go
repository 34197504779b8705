package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// maxWatchEvents is the number of recent event lines kept on screen.
const maxWatchEvents = 10

// PeerLister returns the current peer snapshot.
type PeerLister interface {
	Peers() []*discovery.Peer
}

type statusTickMsg time.Time

// watchKeyMap defines key bindings for the watch view
type watchKeyMap struct {
	Clear key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Clear, k.Quit}}
}

var watchKeys = watchKeyMap{
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear events"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// WatchModel is a live peer table with a scrolling event log. It quits when
// the user presses q or the subscription closes.
type WatchModel struct {
	title          string
	source         PeerLister
	sub            *discovery.Subscription
	statusInterval time.Duration
	now            func() time.Time
	started        time.Time

	spinner spinner.Model
	help    help.Model
	keys    watchKeyMap
	width   int
	peers   []*discovery.Peer
	events  []string
	status  string
	closed  bool
}

// NewWatchModel creates a watch view. A status line with the peer count and
// uptime is refreshed every statusInterval.
func NewWatchModel(title string, source PeerLister, sub *discovery.Subscription, statusInterval time.Duration) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = EventLifecycleStyle

	if statusInterval <= 0 {
		statusInterval = 5 * time.Second
	}

	m := WatchModel{
		title:          title,
		source:         source,
		sub:            sub,
		statusInterval: statusInterval,
		now:            time.Now,
		spinner:        s,
		help:           help.New(),
		keys:           watchKeys,
		width:          GetTerminalWidth(),
	}
	m.started = m.now()
	m.peers = source.Peers()
	return m
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.sub), m.statusTick())
}

func (m WatchModel) statusTick() tea.Cmd {
	return tea.Tick(m.statusInterval, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.events = nil
		}
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.help.Width = m.width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.events = append(m.events, FormatEvent(discovery.PeerEvent(msg), m.now()))
		if len(m.events) > maxWatchEvents {
			m.events = m.events[len(m.events)-maxWatchEvents:]
		}
		m.peers = m.source.Peers()
		return m, waitForEvent(m.sub)
	case subClosedMsg:
		m.closed = true
		return m, tea.Quit
	case statusTickMsg:
		m.peers = m.source.Peers()
		m.status = m.statusLine()
		return m, m.statusTick()
	}
	return m, nil
}

func (m WatchModel) statusLine() string {
	uptime := m.now().Sub(m.started).Round(time.Second)
	line := fmt.Sprintf("%d peers  uptime %s", len(m.peers), uptime)
	if missed := m.sub.Missed(); missed > 0 {
		line += fmt.Sprintf("  %d events dropped", missed)
	}
	return line
}

// Peers returns the snapshot currently displayed.
func (m WatchModel) Peers() []*discovery.Peer {
	return m.peers
}

// Events returns the rendered event lines currently displayed.
func (m WatchModel) Events() []string {
	return m.events
}

// Closed reports whether the model exited because its subscription closed.
func (m WatchModel) Closed() bool {
	return m.closed
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString("\n  ")
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(HeaderTitleStyle.UnsetPaddingLeft().Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(RenderPeerTable(m.peers, m.now(), m.width))
	b.WriteString("\n\n")

	if len(m.events) > 0 {
		b.WriteString(TableHeaderStyle.PaddingLeft(2).Render("RECENT EVENTS"))
		b.WriteString("\n")
		for _, line := range m.events {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(StatusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("  ")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

// RunWatch runs the watch view until the user quits, ctx is done or the
// subscription closes.
func RunWatch(ctx context.Context, title string, source PeerLister, sub *discovery.Subscription, statusInterval time.Duration) error {
	model := NewWatchModel(title, source, sub, statusInterval)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(os.Stdout), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch view failed: %w", err)
	}
	return nil
}
