package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/loopstats/internal/stats"
)

// Field names of the protobuf Struct message. They match the JSON tags so
// telemetry consumers can read either encoding with one schema.
const (
	fieldExtended           = "extended"
	fieldRefImageID         = "ref_image_id"
	fieldLoopClosureID      = "loop_closure_id"
	fieldLocalLoopClosureID = "local_loop_closure_id"
	fieldRefImage           = "ref_image"
	fieldLoopImage          = "loop_image"
	fieldWeights            = "weights"
	fieldPosterior          = "posterior"
	fieldLikelihood         = "likelihood"
	fieldRawLikelihood      = "raw_likelihood"
	fieldRefWords           = "ref_words"
	fieldLoopWords          = "loop_words"
	fieldMetrics            = "metrics"
)

// ToStruct converts s to a google.protobuf.Struct. NaN and ±Inf values
// are carried as plain numbers.
func ToStruct(s *stats.Snapshot) (*structpb.Struct, error) {
	metrics := make(map[string]any, s.Len())
	for k, v := range s.Data() {
		metrics[string(k)] = v
	}

	m := map[string]any{
		fieldExtended:           s.Extended(),
		fieldRefImageID:         s.RefImageID(),
		fieldLoopClosureID:      s.LoopClosureID(),
		fieldLocalLoopClosureID: s.LocalLoopClosureID(),
		fieldMetrics:            metrics,
	}
	if im := s.RefImage(); !im.Empty() {
		m[fieldRefImage] = imageToMap(im)
	}
	if im := s.LoopImage(); !im.Empty() {
		m[fieldLoopImage] = imageToMap(im)
	}
	if w := s.Weights(); len(w) > 0 {
		m[fieldWeights] = intKeyed(w, func(v int) any { return v })
	}
	if d := s.Posterior(); len(d) > 0 {
		m[fieldPosterior] = intKeyed(d, func(v float64) any { return v })
	}
	if d := s.Likelihood(); len(d) > 0 {
		m[fieldLikelihood] = intKeyed(d, func(v float64) any { return v })
	}
	if d := s.RawLikelihood(); len(d) > 0 {
		m[fieldRawLikelihood] = intKeyed(d, func(v float64) any { return v })
	}
	if w := s.RefWords(); len(w) > 0 {
		m[fieldRefWords] = wordsToMap(w)
	}
	if w := s.LoopWords(); len(w) > 0 {
		m[fieldLoopWords] = wordsToMap(w)
	}

	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build snapshot struct: %w", err)
	}
	return st, nil
}

// FromStruct rebuilds a snapshot from a Struct produced by ToStruct.
func FromStruct(st *structpb.Struct) (*stats.Snapshot, error) {
	fields := st.GetFields()
	s := stats.NewSnapshot()
	s.SetExtended(fields[fieldExtended].GetBoolValue())
	s.SetRefImageID(int(fields[fieldRefImageID].GetNumberValue()))
	s.SetLoopClosureID(int(fields[fieldLoopClosureID].GetNumberValue()))
	s.SetLocalLoopClosureID(int(fields[fieldLocalLoopClosureID].GetNumberValue()))

	for _, f := range []struct {
		name string
		set  func(stats.Image)
	}{
		{fieldRefImage, s.SetRefImage},
		{fieldLoopImage, s.SetLoopImage},
	} {
		if v, ok := fields[f.name]; ok {
			im, err := imageFromStruct(v.GetStructValue())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.name, err)
			}
			f.set(im)
		}
	}

	weights, err := intKeyedFrom(fields[fieldWeights], func(v *structpb.Value) int { return int(v.GetNumberValue()) })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldWeights, err)
	}
	s.SetWeights(weights)

	for _, f := range []struct {
		name string
		set  func(map[int]float64)
	}{
		{fieldPosterior, s.SetPosterior},
		{fieldLikelihood, s.SetLikelihood},
		{fieldRawLikelihood, s.SetRawLikelihood},
	} {
		d, err := intKeyedFrom(fields[f.name], (*structpb.Value).GetNumberValue)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		f.set(d)
	}

	refWords, err := wordsFromValue(fields[fieldRefWords])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldRefWords, err)
	}
	s.SetRefWords(refWords)
	loopWords, err := wordsFromValue(fields[fieldLoopWords])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldLoopWords, err)
	}
	s.SetLoopWords(loopWords)

	for k, v := range fields[fieldMetrics].GetStructValue().GetFields() {
		s.AddStatistic(stats.MetricKey(k), v.GetNumberValue())
	}
	return s, nil
}

// EncodeProto marshals s as a binary google.protobuf.Struct.
func EncodeProto(s *stats.Snapshot) ([]byte, error) {
	st, err := ToStruct(s)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot proto: %w", err)
	}
	return data, nil
}

// DecodeProto unmarshals a snapshot written by EncodeProto.
func DecodeProto(data []byte) (*stats.Snapshot, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot proto: %w", err)
	}
	return FromStruct(&st)
}

func intKeyed[V any](m map[int]V, conv func(V) any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = conv(v)
	}
	return out
}

func intKeyedFrom[V any](v *structpb.Value, conv func(*structpb.Value) V) (map[int]V, error) {
	fields := v.GetStructValue().GetFields()
	out := make(map[int]V, len(fields))
	for k, fv := range fields {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("non-integer id %q: %w", k, err)
		}
		out[id] = conv(fv)
	}
	return out, nil
}

func imageToMap(im stats.Image) map[string]any {
	return map[string]any{
		"rows":     im.Rows,
		"cols":     im.Cols,
		"channels": im.Channels,
		"pix":      im.Pix, // structpb stores []byte as base64 text
	}
}

func imageFromStruct(st *structpb.Struct) (stats.Image, error) {
	f := st.GetFields()
	pix, err := base64.StdEncoding.DecodeString(f["pix"].GetStringValue())
	if err != nil {
		return stats.Image{}, fmt.Errorf("decode pixels: %w", err)
	}
	// The buffer is opaque here; shape checks belong to the renderers.
	return stats.Image{
		Rows:     int(f["rows"].GetNumberValue()),
		Cols:     int(f["cols"].GetNumberValue()),
		Channels: int(f["channels"].GetNumberValue()),
		Pix:      pix,
	}, nil
}

func wordsToMap(w stats.Words) map[string]any {
	out := make(map[string]any, len(w))
	for id, kps := range w {
		list := make([]any, 0, len(kps))
		for _, kp := range kps {
			list = append(list, map[string]any{
				"x":        float64(kp.X),
				"y":        float64(kp.Y),
				"size":     float64(kp.Size),
				"angle":    float64(kp.Angle),
				"response": float64(kp.Response),
				"octave":   kp.Octave,
			})
		}
		out[strconv.Itoa(id)] = list
	}
	return out
}

func wordsFromValue(v *structpb.Value) (stats.Words, error) {
	var out stats.Words
	for k, fv := range v.GetStructValue().GetFields() {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("non-integer word id %q: %w", k, err)
		}
		for _, item := range fv.GetListValue().GetValues() {
			f := item.GetStructValue().GetFields()
			out.Add(id, stats.KeyPoint{
				X:        float32(f["x"].GetNumberValue()),
				Y:        float32(f["y"].GetNumberValue()),
				Size:     float32(f["size"].GetNumberValue()),
				Angle:    float32(f["angle"].GetNumberValue()),
				Response: float32(f["response"].GetNumberValue()),
				Octave:   int(math.Round(f["octave"].GetNumberValue())),
			})
		}
	}
	return out, nil
}
