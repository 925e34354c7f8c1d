// Package logsink writes published snapshots to the diagnostic log.
package logsink

import (
	"fmt"
	"strings"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
)

// Sink is a stats.Consumer that logs one line per snapshot with its
// identity fields and every metric in key order.
type Sink struct {
	// Every logs only every Nth snapshot when > 1.
	Every int
	// SkipZero drops metrics whose value is exactly zero, which keeps
	// lines short when the snapshot was pre-filled from catalog defaults.
	SkipZero bool

	seen int
}

var _ stats.Consumer = (*Sink)(nil)

// New returns a sink that logs every snapshot.
func New() *Sink {
	return &Sink{Every: 1}
}

// Consume implements stats.Consumer.
func (k *Sink) Consume(s *stats.Snapshot) {
	k.seen++
	if k.Every > 1 && (k.seen-1)%k.Every != 0 {
		return
	}
	monitoring.Logf("%s", Format(s, k.SkipZero))
}

// Format renders a snapshot as a single log line.
func Format(s *stats.Snapshot, skipZero bool) string {
	var b strings.Builder
	mode := "minimal"
	if s.Extended() {
		mode = "extended"
	}
	fmt.Fprintf(&b, "[stats] ref=%d loop=%d local=%d mode=%s",
		s.RefImageID(), s.LoopClosureID(), s.LocalLoopClosureID(), mode)

	data := s.Data()
	for _, key := range s.SortedKeys() {
		v := data[key]
		if skipZero && v == 0 {
			continue
		}
		fmt.Fprintf(&b, " %s=%g", key, v)
	}
	return b.String()
}
