// Package pipeline drives the statistics publisher with a synthetic loop
// closure cycle, for demos and end-to-end tests of the consumers.
package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/timeutil"
)

// virtualPlaceID is the posterior entry for "this is a new place".
const virtualPlaceID = -1

// SyntheticSource produces snapshots shaped like one cycle of a loop
// closure detector: a new reference image id per cycle, a posterior over
// the ids still in working memory, and timing and memory metrics.
type SyntheticSource struct {
	catalog *stats.Catalog
	cycle   int

	// Configuration
	Extended         bool    // attach images, words and distributions
	WorkingMemory    int     // ids kept as loop closure candidates
	LoopThreshold    float64 // posterior needed to accept a loop closure
	ImageRows        int
	ImageCols        int
	WordsPerImage    int
	VocabularySize   int
	RevisitEvery     int // every Nth cycle revisits an earlier place
	BaseCycleMillis  float64
	// ExtraMetricValue, when set, supplies values for catalog keys the
	// synthetic cycle does not compute itself.
	ExtraMetricValue func(key stats.MetricKey, cycle int) float64
	// Clock paces Run.
	Clock timeutil.Clock

	rng *rand.Rand
}

// NewSyntheticSource creates a source whose output is fully determined
// by seed. Missing catalog keys in each snapshot are filled from catalog.
func NewSyntheticSource(catalog *stats.Catalog, seed int64) *SyntheticSource {
	if catalog == nil {
		catalog = stats.ProcessCatalog()
	}
	return &SyntheticSource{
		catalog:         catalog,
		WorkingMemory:   20,
		LoopThreshold:   0.15,
		ImageRows:       48,
		ImageCols:       64,
		WordsPerImage:   40,
		VocabularySize:  500,
		RevisitEvery:    5,
		BaseCycleMillis: 80,
		Clock:           timeutil.RealClock{},
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Cycles returns how many snapshots have been produced.
func (g *SyntheticSource) Cycles() int {
	return g.cycle
}

// NextSnapshot produces the snapshot of the next cycle.
func (g *SyntheticSource) NextSnapshot() *stats.Snapshot {
	g.cycle++
	refID := g.cycle

	s := stats.NewSnapshot()
	s.SetExtended(g.Extended)
	s.SetRefImageID(refID)

	candidates := g.candidates(refID)
	posterior, likelihood, raw := g.distributions(refID, candidates)

	best, bestValue := virtualPlaceID, posterior[virtualPlaceID]
	for _, id := range candidates {
		if p := posterior[id]; p > bestValue {
			best, bestValue = id, p
		}
	}

	loopID := stats.NoID
	rejected := 0.0
	if best != virtualPlaceID {
		if bestValue >= g.LoopThreshold {
			loopID = best
		} else {
			rejected = 1
		}
	}
	s.SetLoopClosureID(loopID)
	if loopID == stats.NoID && len(candidates) > 0 && g.rng.Float64() < 0.1 {
		s.SetLocalLoopClosureID(candidates[len(candidates)-1])
	}

	highest := 0.0
	if best != virtualPlaceID {
		highest = float64(best)
	}
	ratio := 0.0
	if v := posterior[virtualPlaceID]; v > 0 && best != virtualPlaceID {
		ratio = bestValue / v
	}
	s.AddStatistic(stats.KeyLoopHighestHypothesisID, highest)
	s.AddStatistic(stats.KeyLoopHighestHypothesisValue, bestValue)
	s.AddStatistic(stats.KeyLoopRejectedHypothesis, rejected)
	s.AddStatistic(stats.KeyLoopHypothesisRatio, ratio)
	s.AddStatistic(stats.KeyLoopVpHypothesis, posterior[virtualPlaceID])

	wm := len(candidates)
	s.AddStatistic(stats.KeyMemoryWorkingMemorySize, float64(wm))
	s.AddStatistic(stats.KeyMemoryShortTimeMemorySize, float64(min(refID, 10)))
	if refID > g.WorkingMemory {
		s.AddStatistic(stats.KeyMemorySignaturesRemoved, 1)
	}
	s.AddStatistic(stats.KeyKeypointDictionarySize, float64(min(refID*g.WordsPerImage, g.VocabularySize)))
	s.AddStatistic(stats.KeyKeypointResponseThreshold, 0)

	g.addTimings(s, wm)

	if g.ExtraMetricValue != nil {
		for _, key := range g.catalog.Keys() {
			if _, ok := s.Statistic(key); !ok {
				s.AddStatistic(key, g.ExtraMetricValue(key, refID))
			}
		}
	}
	s.ApplyDefaults(g.catalog.Defaults())

	if g.Extended {
		s.SetPosterior(posterior)
		s.SetLikelihood(likelihood)
		s.SetRawLikelihood(raw)
		s.SetWeights(g.weights(candidates))
		s.SetRefImage(g.image())
		refWords := g.words(g.WordsPerImage)
		s.SetRefWords(refWords)
		if loopID != stats.NoID {
			s.SetLoopImage(g.image())
			s.SetLoopWords(g.matchedWords(refWords))
		}
	}
	return s
}

// candidates returns the ids in working memory, oldest first. The most
// recent id is excluded as it is always adjacent to refID.
func (g *SyntheticSource) candidates(refID int) []int {
	first := max(1, refID-1-g.WorkingMemory)
	ids := make([]int, 0, g.WorkingMemory)
	for id := first; id < refID-1; id++ {
		ids = append(ids, id)
	}
	return ids
}

// distributions builds a normalised posterior over candidates plus the
// virtual place. On revisit cycles one earlier id gets most of the mass.
func (g *SyntheticSource) distributions(refID int, candidates []int) (posterior, likelihood, raw map[int]float64) {
	posterior = map[int]float64{virtualPlaceID: 1}
	likelihood = map[int]float64{}
	raw = map[int]float64{}
	if len(candidates) == 0 {
		return posterior, likelihood, raw
	}

	revisit := stats.NoID
	if g.RevisitEvery > 0 && refID%g.RevisitEvery == 0 {
		revisit = candidates[g.rng.Intn(len(candidates))]
	}

	sum := 0.0
	for _, id := range candidates {
		r := 0.05 + 0.1*g.rng.Float64()
		if id == revisit {
			r += 2 + g.rng.Float64()
		}
		raw[id] = r
		l := 1 + 4*r
		likelihood[id] = l
		posterior[id] = l
		sum += l
	}
	vp := 1.5 + float64(len(candidates))*0.15
	posterior[virtualPlaceID] = vp
	sum += vp
	for id := range posterior {
		posterior[id] /= sum
	}
	return posterior, likelihood, raw
}

func (g *SyntheticSource) weights(candidates []int) map[int]int {
	w := make(map[int]int, len(candidates))
	for _, id := range candidates {
		w[id] = g.rng.Intn(5)
	}
	return w
}

func (g *SyntheticSource) image() stats.Image {
	im := stats.NewImage(g.ImageRows, g.ImageCols, 1)
	phase := g.rng.Float64() * 2 * math.Pi
	for r := 0; r < im.Rows; r++ {
		for c := 0; c < im.Cols; c++ {
			v := 128 + 100*math.Sin(phase+float64(c)/6)*math.Cos(float64(r)/5)
			im.Pix[r*im.Stride()+c] = uint8(math.Max(0, math.Min(255, v+float64(g.rng.Intn(16)))))
		}
	}
	return im
}

func (g *SyntheticSource) keyPoint() stats.KeyPoint {
	return stats.KeyPoint{
		X:        float32(g.rng.Float64() * float64(g.ImageCols)),
		Y:        float32(g.rng.Float64() * float64(g.ImageRows)),
		Size:     float32(5 + g.rng.Intn(20)),
		Angle:    float32(g.rng.Float64() * 360),
		Response: float32(g.rng.Float64()),
		Octave:   g.rng.Intn(4),
	}
}

func (g *SyntheticSource) words(n int) stats.Words {
	var w stats.Words
	for i := 0; i < n; i++ {
		w.Add(1+g.rng.Intn(g.VocabularySize), g.keyPoint())
	}
	return w
}

// matchedWords returns loop words sharing roughly half of ref's ids.
func (g *SyntheticSource) matchedWords(ref stats.Words) stats.Words {
	var w stats.Words
	for _, id := range ref.IDs() {
		if g.rng.Float64() < 0.5 {
			w.Add(id, g.keyPoint())
		}
	}
	extra := g.words(g.WordsPerImage / 4)
	for _, id := range extra.IDs() {
		for _, kp := range extra[id] {
			w.Add(id, kp)
		}
	}
	return w
}

// addTimings fills the per-step timings; they grow with working memory.
func (g *SyntheticSource) addTimings(s *stats.Snapshot, wm int) {
	steps := []struct {
		key   stats.MetricKey
		share float64
	}{
		{stats.KeyTimingMemoryUpdate, 0.30},
		{stats.KeyTimingCleaningNeighbors, 0.02},
		{stats.KeyTimingReactivation, 0.03},
		{stats.KeyTimingAddLoopClosureLink, 0.01},
		{stats.KeyTimingLikelihoodComputation, 0.35},
		{stats.KeyTimingPosteriorComputation, 0.08},
		{stats.KeyTimingHypothesesCreation, 0.05},
		{stats.KeyTimingHypothesesValidation, 0.04},
		{stats.KeyTimingStatisticsCreation, 0.02},
		{stats.KeyTimingMemoryCleanup, 0.04},
		{stats.KeyTimingForgetting, 0.03},
		{stats.KeyTimingJoiningTrash, 0.02},
		{stats.KeyTimingEmptyingTrash, 0.01},
	}
	budget := g.BaseCycleMillis * (1 + float64(wm)/100)
	total := 0.0
	for _, st := range steps {
		v := budget * st.share * (0.8 + 0.4*g.rng.Float64())
		s.AddStatistic(st.key, v)
		total += v
	}
	s.AddStatistic(stats.KeyTimingTotal, total)
}

// Run publishes n snapshots, one per interval, or until ctx is done when
// n <= 0. A zero interval publishes back to back. It returns the number
// published and ctx.Err() when cancelled.
func (g *SyntheticSource) Run(ctx context.Context, n int, interval time.Duration, pub *stats.Publisher) (int, error) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := g.Clock.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	published := 0
	for n <= 0 || published < n {
		if tick != nil {
			select {
			case <-ctx.Done():
				monitoring.Logf("[pipeline] stopped after %d cycles", published)
				return published, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			monitoring.Logf("[pipeline] stopped after %d cycles", published)
			return published, err
		}

		pub.Publish(g.NextSnapshot())
		published++
	}
	monitoring.Debugf("[pipeline] finished %d cycles", published)
	return published, nil
}
