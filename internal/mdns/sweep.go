package mdns

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// eventQueue buffers raw events between the sweep goroutine and the consumer.
const eventQueue = 32

// sweepFunc runs one browse window and sends every record it resolves to
// out. It returns when the window ends.
type sweepFunc func(ctx context.Context, out chan<- discovery.ServiceRecord) error

// tracker turns repeated sweep results into resolved and removed events.
// The mDNS libraries only report arrivals, so an instance counts as removed
// once it has been missing from threshold consecutive sweeps.
type tracker struct {
	threshold int
	entries   map[string]*trackedEntry
}

type trackedEntry struct {
	fingerprint string
	seen        bool
	misses      int
}

func newTracker(threshold int) *tracker {
	if threshold <= 0 {
		threshold = DefaultMissThreshold
	}
	return &tracker{threshold: threshold, entries: make(map[string]*trackedEntry)}
}

// observe records rec as seen in the current sweep. It reports whether rec
// is new or differs from the last resolve.
func (t *tracker) observe(rec discovery.ServiceRecord) bool {
	fp := fingerprint(rec)
	entry, ok := t.entries[rec.FullName]
	if !ok {
		t.entries[rec.FullName] = &trackedEntry{fingerprint: fp, seen: true}
		return true
	}
	entry.seen = true
	if entry.fingerprint == fp {
		return false
	}
	entry.fingerprint = fp
	return true
}

// endSweep closes the current sweep and returns the names, sorted, that
// reached the miss threshold.
func (t *tracker) endSweep() []string {
	var gone []string
	for name, entry := range t.entries {
		if entry.seen {
			entry.seen = false
			entry.misses = 0
			continue
		}
		entry.misses++
		if entry.misses >= t.threshold {
			delete(t.entries, name)
			gone = append(gone, name)
		}
	}
	sort.Strings(gone)
	return gone
}

func fingerprint(rec discovery.ServiceRecord) string {
	addrs := make([]string, 0, len(rec.Addresses))
	for _, ip := range rec.Addresses {
		addrs = append(addrs, ip.String())
	}
	sort.Strings(addrs)

	props := make([]string, 0, len(rec.Properties))
	for _, p := range rec.Properties {
		if p.Value == nil {
			props = append(props, p.Key)
			continue
		}
		props = append(props, p.Key+"="+string(p.Value))
	}
	sort.Strings(props)

	var b strings.Builder
	b.WriteString(rec.HostName)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(rec.Port))
	b.WriteByte('|')
	b.WriteString(strings.Join(addrs, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(props, "\x00"))
	return b.String()
}

// runSweeps repeats sweep until ctx is done and streams the resulting raw
// events. The returned channel is closed when the loop exits.
func runSweeps(ctx context.Context, opts Options, sweep sweepFunc) <-chan discovery.RawEvent {
	events := make(chan discovery.RawEvent, eventQueue)

	go func() {
		defer close(events)
		t := newTracker(opts.MissThreshold)

		send := func(ev discovery.RawEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for ctx.Err() == nil {
			records := make(chan discovery.ServiceRecord)
			errc := make(chan error, 1)
			go func() {
				errc <- sweep(ctx, records)
				close(records)
			}()

			// Records are drained to the end even after ctx is done so the
			// sweep goroutine can always finish.
			stopped := false
			for rec := range records {
				if stopped || !t.observe(rec) {
					continue
				}
				if !send(discovery.RawEvent{Kind: discovery.RawResolved, Record: rec}) {
					stopped = true
				}
			}
			if stopped || ctx.Err() != nil {
				return
			}

			if err := <-errc; err != nil {
				opts.Logger.Warn("mDNS sweep failed, retrying", zap.Error(err))
				if !sleep(ctx, opts.clock, opts.SweepInterval) {
					return
				}
				continue
			}

			for _, name := range t.endSweep() {
				if !send(discovery.RawEvent{Kind: discovery.RawRemoved, Name: name}) {
					return
				}
			}
		}
	}()

	return events
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) bool {
	timer := c.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// recordAddresses orders IPv4 addresses before IPv6 ones.
func recordAddresses(v4, v6 []net.IP) []net.IP {
	addrs := make([]net.IP, 0, len(v4)+len(v6))
	addrs = append(addrs, v4...)
	return append(addrs, v6...)
}
