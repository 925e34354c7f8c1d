// Package codec serialises snapshots for logging and telemetry
// collaborators, as JSON or as a protobuf Struct message.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/loopstats/internal/stats"
)

// Float is a float64 whose JSON form also carries NaN and ±Inf, as the
// strings "NaN", "+Inf" and "-Inf". Finite values stay plain numbers and
// null decodes as NaN.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", s, err)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Image is the serialised form of stats.Image. Pix is base64 in JSON.
type Image struct {
	Rows     int    `json:"rows"`
	Cols     int    `json:"cols"`
	Channels int    `json:"channels"`
	Pix      []byte `json:"pix"`
}

// KeyPoint is the serialised form of stats.KeyPoint.
type KeyPoint struct {
	X        Float `json:"x"`
	Y        Float `json:"y"`
	Size     Float `json:"size"`
	Angle    Float `json:"angle"`
	Response Float `json:"response"`
	Octave   int   `json:"octave"`
}

// Snapshot is the serialised form of stats.Snapshot. Extended containers
// are omitted when empty.
type Snapshot struct {
	Extended           bool               `json:"extended"`
	RefImageID         int                `json:"ref_image_id"`
	LoopClosureID      int                `json:"loop_closure_id"`
	LocalLoopClosureID int                `json:"local_loop_closure_id"`
	RefImage           *Image             `json:"ref_image,omitempty"`
	LoopImage          *Image             `json:"loop_image,omitempty"`
	Weights            map[int]int        `json:"weights,omitempty"`
	Posterior          map[int]Float      `json:"posterior,omitempty"`
	Likelihood         map[int]Float      `json:"likelihood,omitempty"`
	RawLikelihood      map[int]Float      `json:"raw_likelihood,omitempty"`
	RefWords           map[int][]KeyPoint `json:"ref_words,omitempty"`
	LoopWords          map[int][]KeyPoint `json:"loop_words,omitempty"`
	Metrics            map[string]Float   `json:"metrics"`
}

// FromSnapshot copies s into its serialised form.
func FromSnapshot(s *stats.Snapshot) *Snapshot {
	out := &Snapshot{
		Extended:           s.Extended(),
		RefImageID:         s.RefImageID(),
		LoopClosureID:      s.LoopClosureID(),
		LocalLoopClosureID: s.LocalLoopClosureID(),
		RefImage:           fromImage(s.RefImage()),
		LoopImage:          fromImage(s.LoopImage()),
		Weights:            nilIfEmpty(s.Weights()),
		Posterior:          toFloats(s.Posterior()),
		Likelihood:         toFloats(s.Likelihood()),
		RawLikelihood:      toFloats(s.RawLikelihood()),
		RefWords:           fromWords(s.RefWords()),
		LoopWords:          fromWords(s.LoopWords()),
		Metrics:            make(map[string]Float, s.Len()),
	}
	for k, v := range s.Data() {
		out.Metrics[string(k)] = Float(v)
	}
	return out
}

// ToSnapshot rebuilds a stats.Snapshot.
func (w *Snapshot) ToSnapshot() *stats.Snapshot {
	s := stats.NewSnapshot()
	s.SetExtended(w.Extended)
	s.SetRefImageID(w.RefImageID)
	s.SetLoopClosureID(w.LoopClosureID)
	s.SetLocalLoopClosureID(w.LocalLoopClosureID)
	s.SetRefImage(w.RefImage.toImage())
	s.SetLoopImage(w.LoopImage.toImage())
	s.SetWeights(w.Weights)
	s.SetPosterior(fromFloats(w.Posterior))
	s.SetLikelihood(fromFloats(w.Likelihood))
	s.SetRawLikelihood(fromFloats(w.RawLikelihood))
	s.SetRefWords(toWords(w.RefWords))
	s.SetLoopWords(toWords(w.LoopWords))
	for k, v := range w.Metrics {
		s.AddStatistic(stats.MetricKey(k), float64(v))
	}
	return s
}

// EncodeJSON marshals s. Non-finite values are written as strings.
func EncodeJSON(s *stats.Snapshot) ([]byte, error) {
	data, err := json.Marshal(FromSnapshot(s))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot json: %w", err)
	}
	return data, nil
}

// DecodeJSON unmarshals a snapshot written by EncodeJSON.
func DecodeJSON(data []byte) (*stats.Snapshot, error) {
	var w Snapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode snapshot json: %w", err)
	}
	return w.ToSnapshot(), nil
}

func fromImage(im stats.Image) *Image {
	if im.Empty() {
		return nil
	}
	return &Image{Rows: im.Rows, Cols: im.Cols, Channels: im.Channels, Pix: im.Pix}
}

func (im *Image) toImage() stats.Image {
	if im == nil {
		return stats.Image{}
	}
	return stats.Image{Rows: im.Rows, Cols: im.Cols, Channels: im.Channels, Pix: im.Pix}
}

func toFloats(m map[int]float64) map[int]Float {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

func fromFloats(m map[int]Float) map[int]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = float64(v)
	}
	return out
}

func fromWords(w stats.Words) map[int][]KeyPoint {
	if len(w) == 0 {
		return nil
	}
	out := make(map[int][]KeyPoint, len(w))
	for id, kps := range w {
		list := make([]KeyPoint, len(kps))
		for i, kp := range kps {
			list[i] = KeyPoint{
				X:        Float(kp.X),
				Y:        Float(kp.Y),
				Size:     Float(kp.Size),
				Angle:    Float(kp.Angle),
				Response: Float(kp.Response),
				Octave:   kp.Octave,
			}
		}
		out[id] = list
	}
	return out
}

func toWords(m map[int][]KeyPoint) stats.Words {
	var out stats.Words
	for id, kps := range m {
		for _, kp := range kps {
			out.Add(id, stats.KeyPoint{
				X:        float32(kp.X),
				Y:        float32(kp.Y),
				Size:     float32(kp.Size),
				Angle:    float32(kp.Angle),
				Response: float32(kp.Response),
				Octave:   kp.Octave,
			})
		}
	}
	return out
}

func nilIfEmpty[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return m
}
