package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/stats/codec"
	"github.com/banshee-data/loopstats/internal/timeutil"
)

func testCatalog(extra ...stats.Declaration) *stats.Catalog {
	c := stats.NewCatalog()
	c.RegisterAll(stats.BuiltinDeclarations())
	c.RegisterAll(extra)
	return c
}

func TestSyntheticSource_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewSyntheticSource(testCatalog(), 7)
	b := NewSyntheticSource(testCatalog(), 7)
	a.Extended, b.Extended = true, true

	for i := 0; i < 12; i++ {
		if diff := cmp.Diff(codec.FromSnapshot(a.NextSnapshot()), codec.FromSnapshot(b.NextSnapshot())); diff != "" {
			t.Fatalf("cycle %d differs (-a +b):\n%s", i+1, diff)
		}
	}
	assert.Equal(t, 12, a.Cycles())
}

func TestSyntheticSource_AllCatalogKeysPresent(t *testing.T) {
	t.Parallel()

	c := testCatalog(stats.Declaration{Key: "Custom/Gain/dB", Default: -3})
	g := NewSyntheticSource(c, 1)

	for i := 0; i < 5; i++ {
		s := g.NextSnapshot()
		for _, key := range c.Keys() {
			_, ok := s.Statistic(key)
			assert.True(t, ok, "cycle %d missing %s", i+1, key)
		}
		v, _ := s.Statistic("Custom/Gain/dB")
		assert.Equal(t, -3.0, v)
	}
}

func TestSyntheticSource_ExtraMetricValue(t *testing.T) {
	t.Parallel()

	c := testCatalog(stats.Declaration{Key: "Custom/Gain/dB", Default: -3})
	g := NewSyntheticSource(c, 1)
	g.ExtraMetricValue = func(key stats.MetricKey, cycle int) float64 {
		if key == "Custom/Gain/dB" {
			return float64(cycle)
		}
		return 0
	}

	g.NextSnapshot()
	s := g.NextSnapshot()
	v, _ := s.Statistic("Custom/Gain/dB")
	assert.Equal(t, 2.0, v)

	// Values computed by the cycle itself are not overridden.
	total, _ := s.Statistic(stats.KeyTimingTotal)
	assert.Greater(t, total, 0.0)
}

func TestSyntheticSource_LoopClosureOnRevisit(t *testing.T) {
	t.Parallel()

	g := NewSyntheticSource(testCatalog(), 3)
	g.Extended = true

	for cycle := 1; cycle <= 20; cycle++ {
		s := g.NextSnapshot()
		require.Equal(t, cycle, s.RefImageID())

		if cycle%g.RevisitEvery == 0 {
			assert.NotEqual(t, stats.NoID, s.LoopClosureID(), "cycle %d", cycle)
			assert.Less(t, s.LoopClosureID(), cycle-1)
			assert.False(t, s.LoopImage().Empty())
			assert.NotZero(t, s.LoopWords().Count())

			id, _ := s.Statistic(stats.KeyLoopHighestHypothesisID)
			assert.Equal(t, float64(s.LoopClosureID()), id)
		} else {
			assert.Equal(t, stats.NoID, s.LoopClosureID(), "cycle %d", cycle)
			assert.True(t, s.LoopImage().Empty())
		}
	}
}

func TestSyntheticSource_ExtendedArtifacts(t *testing.T) {
	t.Parallel()

	g := NewSyntheticSource(testCatalog(), 11)
	g.Extended = true
	for i := 0; i < 9; i++ {
		g.NextSnapshot()
	}
	s := g.NextSnapshot()

	assert.True(t, s.Extended())
	sum := 0.0
	for _, p := range s.Posterior() {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Contains(t, s.Posterior(), -1)
	assert.Len(t, s.Likelihood(), len(s.Posterior())-1)
	assert.Len(t, s.Weights(), len(s.Likelihood()))
	assert.Equal(t, g.WordsPerImage, s.RefWords().Count())

	ref := s.RefImage()
	assert.Equal(t, g.ImageRows, ref.Rows)
	assert.Equal(t, g.ImageCols, ref.Cols)
	assert.Equal(t, 1, ref.Channels)
}

func TestSyntheticSource_MinimalMode(t *testing.T) {
	t.Parallel()

	g := NewSyntheticSource(testCatalog(), 5)
	for i := 0; i < 10; i++ {
		s := g.NextSnapshot()
		assert.False(t, s.Extended())
		assert.True(t, s.RefImage().Empty())
		assert.Empty(t, s.Posterior())
		assert.Empty(t, s.Weights())
		assert.Zero(t, s.RefWords().Count())
	}
}

func TestRun_PublishesN(t *testing.T) {
	t.Parallel()

	var ids []int
	pub := stats.NewPublisher(stats.ConsumerFunc(func(s *stats.Snapshot) {
		ids = append(ids, s.RefImageID())
	}))

	g := NewSyntheticSource(testCatalog(), 1)
	n, err := g.Run(context.Background(), 3, 0, pub)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(3), pub.Published())
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewSyntheticSource(testCatalog(), 1)
	n, err := g.Run(ctx, 0, 0, stats.NewPublisher())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestRun_UnboundedUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := 0
	pub := stats.NewPublisher(stats.ConsumerFunc(func(*stats.Snapshot) {
		seen++
		if seen == 4 {
			cancel()
		}
	}))

	g := NewSyntheticSource(testCatalog(), 1)
	n, err := g.Run(ctx, 0, time.Millisecond, pub)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, n)
}

func TestRun_PacedByClock(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	got := make(chan int, 3)
	pub := stats.NewPublisher(stats.ConsumerFunc(func(s *stats.Snapshot) {
		got <- s.RefImageID()
	}))

	g := NewSyntheticSource(testCatalog(), 1)
	g.Clock = clock

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := g.Run(context.Background(), 3, time.Second, pub)
		done <- result{n, err}
	}()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	for want := 1; want <= 3; want++ {
		select {
		case id := <-got:
			t.Fatalf("snapshot %d published before the tick", id)
		default:
		}
		clock.Advance(time.Second)
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(time.Second):
			t.Fatalf("cycle %d not published after tick", want)
		}
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.n)
	assert.Zero(t, clock.Tickers())
}
