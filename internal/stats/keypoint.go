package stats

import (
	"maps"
	"slices"
)

// KeyPoint is a 2-D feature detection: image position plus the scale and
// orientation the detector assigned to it.
type KeyPoint struct {
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Size     float32 `json:"size"`
	Angle    float32 `json:"angle"`    // degrees, -1 when not applicable
	Response float32 `json:"response"` // detector strength
	Octave   int     `json:"octave"`
}

// Words maps a visual word id to every keypoint quantised to it. Several
// keypoints may share one id, so each id holds a slice.
type Words map[int][]KeyPoint

// Add appends kp under id, allocating the map on first use.
func (w *Words) Add(id int, kp KeyPoint) {
	if *w == nil {
		*w = make(Words)
	}
	(*w)[id] = append((*w)[id], kp)
}

// Count returns the total number of keypoints across all ids.
func (w Words) Count() int {
	n := 0
	for _, kps := range w {
		n += len(kps)
	}
	return n
}

// IDs returns the word ids in ascending order.
func (w Words) IDs() []int {
	return slices.Sorted(maps.Keys(w))
}

// Clone returns a deep copy. A nil receiver yields an empty, non-nil map.
func (w Words) Clone() Words {
	out := make(Words, len(w))
	for id, kps := range w {
		out[id] = slices.Clone(kps)
	}
	return out
}
