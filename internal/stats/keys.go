// Package stats holds the per-cycle statistics produced by the loop
// closure pipeline: a process-wide catalog of known metric keys with
// their default values, and the Snapshot each cycle hands to consumers.
package stats

import "strings"

// MetricKey names one reportable scalar. The expected form is
// "<Group>/<Name>/<Unit>" where Group and Unit may be empty, e.g.
// "Timing/Total/ms" or "Loop/RejectedHypothesis/". Keys are compared as
// plain strings and are never rejected for being malformed.
type MetricKey string

const keySeparator = "/"

// NewMetricKey joins group, name and unit into a key.
func NewMetricKey(group, name, unit string) MetricKey {
	return MetricKey(group + keySeparator + name + keySeparator + unit)
}

// String implements fmt.Stringer.
func (k MetricKey) String() string {
	return string(k)
}

// Parts splits the key into its three segments. ok is false when the key
// does not have exactly three segments; group then holds the whole key.
func (k MetricKey) Parts() (group, name, unit string, ok bool) {
	segs := strings.Split(string(k), keySeparator)
	if len(segs) != 3 {
		return string(k), "", "", false
	}
	return segs[0], segs[1], segs[2], true
}

// Group returns the first segment of a well-formed key.
func (k MetricKey) Group() string {
	g, _, _, _ := k.Parts()
	return g
}

// Name returns the middle segment of a well-formed key.
func (k MetricKey) Name() string {
	_, n, _, _ := k.Parts()
	return n
}

// Unit returns the last segment of a well-formed key, often empty.
func (k MetricKey) Unit() string {
	_, _, u, _ := k.Parts()
	return u
}

// WellFormed reports whether the key has the three-segment structure.
func (k MetricKey) WellFormed() bool {
	_, _, _, ok := k.Parts()
	return ok
}

// Declaration is one catalog entry: a key and the value consumers should
// assume until a snapshot reports one.
type Declaration struct {
	Key     MetricKey `json:"key"`
	Default float64   `json:"default"`
}

// Loop closure hypothesis metrics.
const (
	KeyLoopRejectedHypothesis     = MetricKey("Loop/RejectedHypothesis/")
	KeyLoopHighestHypothesisID    = MetricKey("Loop/Highest_hypothesis_id/")
	KeyLoopHighestHypothesisValue = MetricKey("Loop/Highest_hypothesis_value/")
	KeyLoopVpHypothesis           = MetricKey("Loop/Vp_hypothesis/")
	KeyLoopReactivateID           = MetricKey("Loop/ReactivateId/")
	KeyLoopHypothesisRatio        = MetricKey("Loop/Hypothesis_ratio/")
)

// Memory management metrics.
const (
	KeyMemoryWorkingMemorySize   = MetricKey("Memory/Working_memory_size/")
	KeyMemoryShortTimeMemorySize = MetricKey("Memory/Short_time_memory_size/")
	KeyMemorySignaturesRemoved   = MetricKey("Memory/Signatures_removed/")
	KeyMemorySignaturesRetrieved = MetricKey("Memory/Signatures_retrieved/")
	KeyMemoryImagesBuffered      = MetricKey("Memory/Images_buffered/")
)

// Per-stage timings, milliseconds.
const (
	KeyTimingMemoryUpdate          = MetricKey("Timing/Memory_update/ms")
	KeyTimingCleaningNeighbors     = MetricKey("Timing/Cleaning_neighbors/ms")
	KeyTimingReactivation          = MetricKey("Timing/Reactivation/ms")
	KeyTimingAddLoopClosureLink    = MetricKey("Timing/Add_loop_closure_link/ms")
	KeyTimingLikelihoodComputation = MetricKey("Timing/Likelihood_computation/ms")
	KeyTimingPosteriorComputation  = MetricKey("Timing/Posterior_computation/ms")
	KeyTimingHypothesesCreation    = MetricKey("Timing/Hypotheses_creation/ms")
	KeyTimingHypothesesValidation  = MetricKey("Timing/Hypotheses_validation/ms")
	KeyTimingStatisticsCreation    = MetricKey("Timing/Statistics_creation/ms")
	KeyTimingMemoryCleanup         = MetricKey("Timing/Memory_cleanup/ms")
	KeyTimingTotal                 = MetricKey("Timing/Total/ms")
	KeyTimingForgetting            = MetricKey("Timing/Forgetting/ms")
	KeyTimingJoiningTrash          = MetricKey("Timing/Joining_trash/ms")
	KeyTimingEmptyingTrash         = MetricKey("Timing/Emptying_trash/ms")
)

// Ungrouped and keypoint metrics.
const (
	KeyHypothesisReactivated     = MetricKey("/Hypothesis_reactivated/")
	KeyKeypointDictionarySize    = MetricKey("Keypoint/Dictionary_size/words")
	KeyKeypointResponseThreshold = MetricKey("Keypoint/Response_threshold/")
)

// builtinDeclarations is the ordered list of metrics every pipeline build
// knows about. Order only matters for readability; registration is
// idempotent and the catalog is unordered.
var builtinDeclarations = []Declaration{
	{KeyLoopRejectedHypothesis, 0},
	{KeyLoopHighestHypothesisID, 0},
	{KeyLoopHighestHypothesisValue, 0},
	{KeyLoopVpHypothesis, 0},
	{KeyLoopReactivateID, 0},
	{KeyLoopHypothesisRatio, 0},

	{KeyMemoryWorkingMemorySize, 0},
	{KeyMemoryShortTimeMemorySize, 0},
	{KeyMemorySignaturesRemoved, 0},
	{KeyMemorySignaturesRetrieved, 0},
	{KeyMemoryImagesBuffered, 0},

	{KeyTimingMemoryUpdate, 0},
	{KeyTimingCleaningNeighbors, 0},
	{KeyTimingReactivation, 0},
	{KeyTimingAddLoopClosureLink, 0},
	{KeyTimingLikelihoodComputation, 0},
	{KeyTimingPosteriorComputation, 0},
	{KeyTimingHypothesesCreation, 0},
	{KeyTimingHypothesesValidation, 0},
	{KeyTimingStatisticsCreation, 0},
	{KeyTimingMemoryCleanup, 0},
	{KeyTimingTotal, 0},
	{KeyTimingForgetting, 0},
	{KeyTimingJoiningTrash, 0},
	{KeyTimingEmptyingTrash, 0},

	{KeyHypothesisReactivated, 0},

	{KeyKeypointDictionarySize, 0},
	{KeyKeypointResponseThreshold, 0},
}

// BuiltinDeclarations returns a copy of the built-in declaration list.
func BuiltinDeclarations() []Declaration {
	out := make([]Declaration, len(builtinDeclarations))
	copy(out, builtinDeclarations)
	return out
}
