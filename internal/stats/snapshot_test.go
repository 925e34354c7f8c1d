package stats

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	assert.False(t, s.Extended())
	assert.Equal(t, NoID, s.RefImageID())
	assert.Equal(t, NoID, s.LoopClosureID())
	assert.Equal(t, NoID, s.LocalLoopClosureID())
	assert.Empty(t, s.Data())
	assert.Zero(t, s.Len())
}

func TestSnapshot_MinimalModeReturnsEmptyContainers(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	assert.True(t, s.RefImage().Empty())
	assert.True(t, s.LoopImage().Empty())
	assert.Empty(t, s.Weights())
	assert.Empty(t, s.Posterior())
	assert.Empty(t, s.Likelihood())
	assert.Empty(t, s.RawLikelihood())
	assert.Empty(t, s.RefWords())
	assert.Empty(t, s.LoopWords())
}

func TestSnapshot_AddStatisticLastWriteWins(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.AddStatistic("Timing/Total/ms", 120.0)
	s.AddStatistic("Timing/Total/ms", 85.0)

	assert.Equal(t, 1, s.Len())
	v, ok := s.Statistic("Timing/Total/ms")
	require.True(t, ok)
	assert.Equal(t, 85.0, v)
	assert.Equal(t, 85.0, s.Data()[KeyTimingTotal])
}

func TestSnapshot_AddStatisticAcceptsAnyKey(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.AddStatistic("not a structured key", 1)
	s.AddStatistic("", 2)
	s.AddStatistic("Custom/Unknown/px", 3)

	want := map[MetricKey]float64{"not a structured key": 1, "": 2, "Custom/Unknown/px": 3}
	if diff := cmp.Diff(want, s.Data()); diff != "" {
		t.Errorf("Data() mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_ZeroValueUsable(t *testing.T) {
	t.Parallel()

	var s Snapshot
	s.AddStatistic(KeyTimingTotal, 1)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.RefWords())
	assert.Empty(t, s.Weights())
}

func TestSnapshot_RefWordsKeepsDuplicateIDs(t *testing.T) {
	t.Parallel()

	kp1 := KeyPoint{X: 10, Y: 20, Size: 3, Angle: 45, Response: 0.8}
	kp2 := KeyPoint{X: 11, Y: 22, Size: 4, Angle: 90, Response: 0.6}
	var words Words
	words.Add(5, kp1)
	words.Add(5, kp2)

	s := NewSnapshot()
	s.SetExtended(true)
	s.SetRefWords(words)

	got := s.RefWords()
	require.Len(t, got[5], 2)
	assert.Equal(t, []KeyPoint{kp1, kp2}, got[5])
	assert.Equal(t, 2, got.Count())
	assert.Equal(t, []int{5}, got.IDs())
}

func TestSnapshot_SettersReplaceWholesale(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.SetPosterior(map[int]float64{1: 0.2, 2: 0.8})
	s.SetPosterior(map[int]float64{3: 1.0})

	if diff := cmp.Diff(map[int]float64{3: 1.0}, s.Posterior()); diff != "" {
		t.Errorf("Posterior() mismatch (-want +got):\n%s", diff)
	}

	s.SetWeights(map[int]int{1: 4})
	s.SetWeights(nil)
	assert.Empty(t, s.Weights())
}

func TestSnapshot_SetExtendedFalseKeepsExtendedData(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.SetExtended(true)
	s.SetLikelihood(map[int]float64{7: 0.5})
	s.SetRefImage(NewImage(2, 2, 1))
	s.SetExtended(false)

	assert.False(t, s.Extended())
	assert.Equal(t, map[int]float64{7: 0.5}, s.Likelihood())
	assert.False(t, s.RefImage().Empty())
}

func TestSnapshot_IdentityFields(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.SetRefImageID(42)
	s.SetLoopClosureID(17)
	s.SetLocalLoopClosureID(-1)

	assert.Equal(t, 42, s.RefImageID())
	assert.Equal(t, 17, s.LoopClosureID())
	assert.Equal(t, -1, s.LocalLoopClosureID())
}

func TestSnapshot_IndependentSnapshotsShareNothing(t *testing.T) {
	t.Parallel()

	weights := map[int]int{1: 10, 2: 20}
	a := NewSnapshot()
	b := NewSnapshot()
	a.SetWeights(weights)
	b.SetWeights(weights)

	// Mutating the caller's map, or a returned view, must not leak.
	weights[1] = 999
	view := a.Weights()
	view[2] = 888
	a.SetWeights(map[int]int{3: 30})

	assert.Equal(t, map[int]int{3: 30}, a.Weights())
	assert.Equal(t, map[int]int{1: 10, 2: 20}, b.Weights())
}

func TestSnapshot_ImageIsCopied(t *testing.T) {
	t.Parallel()

	im := NewImage(1, 2, 3)
	im.Pix[0] = 7

	s := NewSnapshot()
	s.SetLoopImage(im)
	im.Pix[0] = 9

	got := s.LoopImage()
	assert.Equal(t, byte(7), got.At(0, 0, 0))
	got.Pix[0] = 1
	assert.Equal(t, byte(7), s.LoopImage().At(0, 0, 0))
}

func TestSnapshot_Clone(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.SetExtended(true)
	s.SetRefImageID(3)
	s.SetRawLikelihood(map[int]float64{1: 0.1})
	var w Words
	w.Add(1, KeyPoint{X: 1})
	s.SetLoopWords(w)
	s.AddStatistic(KeyTimingTotal, 12)

	c := s.Clone()
	c.AddStatistic(KeyTimingTotal, 50)
	c.SetRefImageID(4)

	v, _ := s.Statistic(KeyTimingTotal)
	assert.Equal(t, 12.0, v)
	assert.Equal(t, 3, s.RefImageID())
	assert.True(t, c.Extended())
	assert.Equal(t, s.RawLikelihood(), c.RawLikelihood())
	assert.Equal(t, s.LoopWords(), c.LoopWords())
}

func TestSnapshot_ApplyDefaults(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.AddStatistic(KeyTimingTotal, 85)
	s.AddStatistic("Custom/Extra/", 1)
	s.ApplyDefaults(newBuiltinCatalog().Defaults())

	assert.Equal(t, len(builtinDeclarations)+1, s.Len())
	v, _ := s.Statistic(KeyTimingTotal)
	assert.Equal(t, 85.0, v)
	v, ok := s.Statistic(KeyMemoryWorkingMemorySize)
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestSnapshot_SortedKeys(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.AddStatistic(KeyTimingTotal, 1)
	s.AddStatistic(KeyLoopHypothesisRatio, 1)
	s.AddStatistic(KeyHypothesisReactivated, 1)

	assert.Equal(t, []MetricKey{KeyHypothesisReactivated, KeyLoopHypothesisRatio, KeyTimingTotal}, s.SortedKeys())
}
