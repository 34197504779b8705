package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// ErrInterrupted is returned by RunScan when the user quits early.
var ErrInterrupted = errors.New("interrupted")

const scanTickInterval = 100 * time.Millisecond

type scanTickMsg time.Time

type scanDoneMsg struct {
	peers []*discovery.Peer
	err   error
}

// ScanFunc performs the blocking sample, normally DiscoverPeersWithContext.
type ScanFunc func(ctx context.Context) ([]*discovery.Peer, error)

// ScanModel shows a progress bar over a fixed sampling window and a live
// count of peers seen while it runs.
type ScanModel struct {
	label   string
	timeout time.Duration
	started time.Time
	now     func() time.Time

	bar  progress.Model
	sub  *discovery.Subscription
	scan func() ([]*discovery.Peer, error)
	seen map[string]struct{}

	peers       []*discovery.Peer
	err         error
	done        bool
	interrupted bool
}

// NewScanModel creates a scan view. scan runs once when the program starts.
func NewScanModel(label string, timeout time.Duration, sub *discovery.Subscription, scan func() ([]*discovery.Peer, error)) ScanModel {
	return ScanModel{
		label:   label,
		timeout: timeout,
		started: time.Now(),
		now:     time.Now,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		sub:     sub,
		scan:    scan,
		seen:    make(map[string]struct{}),
	}
}

// Init implements tea.Model
func (m ScanModel) Init() tea.Cmd {
	scan := m.scan
	return tea.Batch(
		scanTick(),
		waitForEvent(m.sub),
		func() tea.Msg {
			peers, err := scan()
			return scanDoneMsg{peers: peers, err: err}
		},
	)
}

func scanTick() tea.Cmd {
	return tea.Tick(scanTickInterval, func(t time.Time) tea.Msg { return scanTickMsg(t) })
}

// Update implements tea.Model
func (m ScanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.interrupted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(50, max(20, msg.Width-30))
	case scanTickMsg:
		if !m.done {
			return m, scanTick()
		}
	case eventMsg:
		ev := discovery.PeerEvent(msg)
		switch ev.Kind {
		case discovery.PeerDiscovered:
			m.seen[ev.Peer.ID] = struct{}{}
		case discovery.PeerLost:
			delete(m.seen, ev.Peer.ID)
		}
		return m, waitForEvent(m.sub)
	case scanDoneMsg:
		m.peers, m.err, m.done = msg.peers, msg.err, true
		return m, tea.Quit
	}
	return m, nil
}

// Percent returns the fraction of the sampling window that has elapsed.
func (m ScanModel) Percent() float64 {
	if m.done || m.timeout <= 0 {
		return 1
	}
	p := float64(m.now().Sub(m.started)) / float64(m.timeout)
	return min(1, max(0, p))
}

// Seen returns the number of peers currently known to the scan view.
func (m ScanModel) Seen() int {
	return len(m.seen)
}

// View implements tea.Model
func (m ScanModel) View() string {
	if m.done || m.interrupted {
		return ""
	}
	left := m.timeout - m.now().Sub(m.started)
	if left < 0 {
		left = 0
	}

	var b strings.Builder
	b.WriteString(ProgressLabelStyle.Render(m.label))
	b.WriteString("\n\n  ")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString(StatusStyle.Render(fmt.Sprintf("%d seen  %s left", len(m.seen), left.Round(time.Second))))
	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render("q to cancel"))
	b.WriteString("\n")
	return b.String()
}

// Result returns the scan outcome once the program has exited.
func (m ScanModel) Result() ([]*discovery.Peer, error) {
	if m.interrupted && !m.done {
		return nil, ErrInterrupted
	}
	return m.peers, m.err
}

// RunScan runs scan under a progress view and returns its result. The
// subscription is only used for the live counter; the caller owns it.
func RunScan(ctx context.Context, label string, timeout time.Duration, sub *discovery.Subscription, scan ScanFunc) ([]*discovery.Peer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewScanModel(label, timeout, sub, func() ([]*discovery.Peer, error) {
		return scan(ctx)
	})
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(os.Stdout))
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("scan view failed: %w", err)
	}
	return final.(ScanModel).Result()
}
