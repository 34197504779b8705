package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// Printer writes styled components to a writer.
// This is the primary way one-shot commands produce output.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	p.width = width
	return p
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
	p.Newline()
}

// PrintResult prints a result box
func (p *Printer) PrintResult(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
	p.Newline()
}

// PrintError prints a failure box with troubleshooting hints for err
func (p *Printer) PrintError(title string, err error) {
	p.PrintResult(NewFailureResult(title, err, Troubleshooting(err)))
}

// PrintPeers prints the peer table
func (p *Printer) PrintPeers(peers []*discovery.Peer) {
	p.Println(RenderPeerTable(peers, time.Now(), p.width))
}

// PrintEvent prints a single event line
func (p *Printer) PrintEvent(ev discovery.PeerEvent) {
	p.Println(FormatEvent(ev, time.Now()))
}
