package stats

import (
	"maps"
	"slices"
)

// NoID marks an identity field that has not been set, e.g. a cycle with
// no loop closure.
const NoID = 0

// Snapshot is one processing cycle's report.
//
// The producing cycle fills it with the setters and AddStatistic, then
// hands it off; after hand-off nobody mutates it. Setters copy their
// arguments and accessors return copies, so two snapshots never share a
// container. A Snapshot is not safe for concurrent mutation.
type Snapshot struct {
	extended bool

	refImageID         int
	loopClosureID      int
	localLoopClosureID int

	// Extended data. Only meaningful when extended is set, but nothing
	// stops a producer from filling it in minimal mode.
	refImage      Image
	loopImage     Image
	weights       map[int]int
	posterior     map[int]float64
	likelihood    map[int]float64
	rawLikelihood map[int]float64
	refWords      Words
	loopWords     Words

	// Plottable scalars keyed "Group/Name/Unit".
	data map[MetricKey]float64
}

// NewSnapshot returns a minimal-mode snapshot with unset ids and empty
// containers.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		refImageID:         NoID,
		loopClosureID:      NoID,
		localLoopClosureID: NoID,
		weights:            make(map[int]int),
		posterior:          make(map[int]float64),
		likelihood:         make(map[int]float64),
		rawLikelihood:      make(map[int]float64),
		refWords:           make(Words),
		loopWords:          make(Words),
		data:               make(map[MetricKey]float64),
	}
}

// AddStatistic stores value under key, replacing any earlier value. The
// key is not checked against the catalog or the Group/Name/Unit form.
func (s *Snapshot) AddStatistic(key MetricKey, value float64) {
	if s.data == nil {
		s.data = make(map[MetricKey]float64)
	}
	s.data[key] = value
}

// ApplyDefaults fills every key of defaults that the snapshot has not
// reported yet. Reported values are left alone.
func (s *Snapshot) ApplyDefaults(defaults map[MetricKey]float64) {
	for k, v := range defaults {
		if _, ok := s.data[k]; ok {
			continue
		}
		s.AddStatistic(k, v)
	}
}

// Setters replace the field wholesale. None of them validates its
// argument or touches any other field: SetExtended(false) keeps extended
// data that was already set.

func (s *Snapshot) SetExtended(extended bool) { s.extended = extended }
func (s *Snapshot) SetRefImageID(id int) { s.refImageID = id }
func (s *Snapshot) SetLoopClosureID(id int) { s.loopClosureID = id }
func (s *Snapshot) SetLocalLoopClosureID(id int) { s.localLoopClosureID = id }
func (s *Snapshot) SetRefImage(im Image) { s.refImage = im.Clone() }
func (s *Snapshot) SetLoopImage(im Image) { s.loopImage = im.Clone() }
func (s *Snapshot) SetWeights(w map[int]int) { s.weights = cloneMap(w) }
func (s *Snapshot) SetPosterior(p map[int]float64) { s.posterior = cloneMap(p) }
func (s *Snapshot) SetLikelihood(l map[int]float64) { s.likelihood = cloneMap(l) }
func (s *Snapshot) SetRawLikelihood(l map[int]float64) { s.rawLikelihood = cloneMap(l) }
func (s *Snapshot) SetRefWords(w Words) { s.refWords = w.Clone() }
func (s *Snapshot) SetLoopWords(w Words) { s.loopWords = w.Clone() }

// Accessors return copies of the stored value, or the empty value when
// it was never set.

func (s *Snapshot) Extended() bool { return s.extended }
func (s *Snapshot) RefImageID() int { return s.refImageID }
func (s *Snapshot) LoopClosureID() int { return s.loopClosureID }
func (s *Snapshot) LocalLoopClosureID() int { return s.localLoopClosureID }
func (s *Snapshot) RefImage() Image { return s.refImage.Clone() }
func (s *Snapshot) LoopImage() Image { return s.loopImage.Clone() }
func (s *Snapshot) Weights() map[int]int { return cloneMap(s.weights) }
func (s *Snapshot) Posterior() map[int]float64 { return cloneMap(s.posterior) }
func (s *Snapshot) Likelihood() map[int]float64 { return cloneMap(s.likelihood) }
func (s *Snapshot) RawLikelihood() map[int]float64 { return cloneMap(s.rawLikelihood) }
func (s *Snapshot) RefWords() Words { return s.refWords.Clone() }
func (s *Snapshot) LoopWords() Words { return s.loopWords.Clone() }
func (s *Snapshot) Data() map[MetricKey]float64 { return cloneMap(s.data) }

// Statistic returns the value reported under key.
func (s *Snapshot) Statistic(key MetricKey) (float64, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Len returns the number of metrics in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.data)
}

// SortedKeys returns the metric keys in lexical order.
func (s *Snapshot) SortedKeys() []MetricKey {
	return slices.Sorted(maps.Keys(s.data))
}

// Clone returns a deep copy, for handing a snapshot to a consumer that
// keeps it past the current cycle.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		extended:           s.extended,
		refImageID:         s.refImageID,
		loopClosureID:      s.loopClosureID,
		localLoopClosureID: s.localLoopClosureID,
		refImage:           s.refImage.Clone(),
		loopImage:          s.loopImage.Clone(),
		weights:            cloneMap(s.weights),
		posterior:          cloneMap(s.posterior),
		likelihood:         cloneMap(s.likelihood),
		rawLikelihood:      cloneMap(s.rawLikelihood),
		refWords:           s.refWords.Clone(),
		loopWords:          s.loopWords.Clone(),
		data:               cloneMap(s.data),
	}
}

// cloneMap copies m, returning an empty map rather than nil.
func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	maps.Copy(out, m)
	return out
}
