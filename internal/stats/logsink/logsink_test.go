package logsink

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
)

func captureLog(t *testing.T) *[]string {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })

	lines := &[]string{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, v...))
	})
	return lines
}

func TestFormat(t *testing.T) {
	s := stats.NewSnapshot()
	s.SetRefImageID(12)
	s.SetLoopClosureID(4)
	s.AddStatistic(stats.KeyTimingTotal, 85)
	s.AddStatistic(stats.KeyLoopHypothesisRatio, 0)

	assert.Equal(t,
		"[stats] ref=12 loop=4 local=0 mode=minimal Loop/Hypothesis_ratio/=0 Timing/Total/ms=85",
		Format(s, false))
	assert.Equal(t,
		"[stats] ref=12 loop=4 local=0 mode=minimal Timing/Total/ms=85",
		Format(s, true))
}

func TestSink_Every(t *testing.T) {
	lines := captureLog(t)

	sink := &Sink{Every: 3}
	for i := 0; i < 7; i++ {
		s := stats.NewSnapshot()
		s.SetExtended(true)
		s.SetRefImageID(i + 1)
		sink.Consume(s)
	}

	require.Len(t, *lines, 3)
	assert.Contains(t, (*lines)[0], "ref=1 ")
	assert.Contains(t, (*lines)[1], "ref=4 ")
	assert.Contains(t, (*lines)[2], "ref=7 ")
	assert.Contains(t, (*lines)[0], "mode=extended")
}

func TestNew_LogsEverySnapshot(t *testing.T) {
	lines := captureLog(t)

	sink := New()
	sink.Consume(stats.NewSnapshot())
	sink.Consume(stats.NewSnapshot())
	assert.Len(t, *lines, 2)
}
