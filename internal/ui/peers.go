package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// peerColumns are the peer table columns in display order.
var peerColumns = []string{"NAME", "ADDRESS", "TYPE", "SEEN"}

// SortPeers orders peers by ID in place.
func SortPeers(peers []*discovery.Peer) {
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
}

// PeerName returns the instance label of a peer ID, e.g. "alice" for
// "alice._qopyapp._tcp.local.".
func PeerName(p *discovery.Peer) string {
	name, _, _ := strings.Cut(p.ID, ".")
	return name
}

// RenderPeerTable renders peers as an aligned table. Columns that do not fit
// in width are truncated from the NAME column.
func RenderPeerTable(peers []*discovery.Peer, now time.Time, width int) string {
	if len(peers) == 0 {
		return StatusStyle.Render("No peers found")
	}

	sorted := append([]*discovery.Peer(nil), peers...)
	SortPeers(sorted)

	rows := make([][]string, 0, len(sorted))
	for _, p := range sorted {
		rows = append(rows, []string{
			PeerName(p),
			p.Addr(),
			p.DeviceType(),
			formatAge(now.Sub(p.DiscoveredAt)),
		})
	}

	widths := make([]int, len(peerColumns))
	for i, col := range peerColumns {
		widths[i] = lipgloss.Width(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	// Two leading spaces plus two between columns
	total := 2 + 2*(len(widths)-1)
	for _, w := range widths {
		total += w
	}
	if width >= MinTerminalWidth && total > width {
		widths[0] = max(4, widths[0]-(total-width))
	}

	var b strings.Builder
	b.WriteString(renderRow(peerColumns, widths, TableHeaderStyle))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(renderRow(row, widths, TableCellStyle))
	}
	return b.String()
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = style.Render(padRight(truncate(cell, widths[i]), widths[i]))
	}
	return "  " + strings.Join(parts, "  ")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if width <= 1 {
		return string(r[:width])
	}
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

// formatAge renders a duration as a short "12s ago" string.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// FormatEvent renders an event as a single line for logs and watch output.
func FormatEvent(ev discovery.PeerEvent, at time.Time) string {
	ts := EventTimeStyle.Render(at.Format("15:04:05"))

	switch ev.Kind {
	case discovery.PeerDiscovered:
		return fmt.Sprintf("%s %s %s %s",
			ts,
			EventDiscoveredStyle.Render(DiscoveredMarker+" discovered"),
			TableCellStyle.Render(PeerName(ev.Peer)),
			EventTimeStyle.Render(fmt.Sprintf("%s (%s)", ev.Peer.Addr(), ev.Peer.DeviceType())),
		)
	case discovery.PeerLost:
		return fmt.Sprintf("%s %s %s",
			ts,
			EventLostStyle.Render(LostMarker+" lost      "),
			TableCellStyle.Render(PeerName(ev.Peer)),
		)
	case discovery.ServiceStarted:
		return fmt.Sprintf("%s %s", ts, EventLifecycleStyle.Render(LifecycleMarker+" service started"))
	case discovery.ServiceStopped:
		return fmt.Sprintf("%s %s", ts, EventLifecycleStyle.Render(LifecycleMarker+" service stopped"))
	case discovery.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return fmt.Sprintf("%s %s %s", ts, ErrorTitleStyle.Render(FailureMarker+" error"), ErrorMessageStyle.Render(msg))
	default:
		return fmt.Sprintf("%s %s", ts, ev.String())
	}
}

// Troubleshooting returns hints for a discovery error, keyed on its kind.
func Troubleshooting(err error) []string {
	switch discovery.KindOf(err) {
	case discovery.KindIO:
		return []string{
			"Check that a non-loopback network interface is up",
			"Run 'qopy-discover interfaces' to list usable addresses",
			"Pass --interface to pick an interface explicitly",
		}
	case discovery.KindAdvertise:
		return []string{
			"Another process may already own the mDNS port (5353)",
			"Try the other engine with --backend hashicorp or --backend zeroconf",
			"Check that the service name is unique on the network",
		}
	case discovery.KindDiscoveryFailure:
		return []string{
			"Check that multicast traffic is allowed by the firewall",
			"VPN and container interfaces often drop multicast; try --interface",
		}
	default:
		return nil
	}
}
