package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// eventMsg carries one event from a subscription into a model.
type eventMsg discovery.PeerEvent

// subClosedMsg reports that the subscription channel was closed.
type subClosedMsg struct{}

// waitForEvent blocks on the next subscription event. Models re-issue it
// after every eventMsg.
func waitForEvent(sub *discovery.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C()
		if !ok {
			return subClosedMsg{}
		}
		return eventMsg(ev)
	}
}
