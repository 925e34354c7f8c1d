// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// LogCapture collects lines written through monitoring.Logf.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the captured lines.
func (c *LogCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// CaptureLogs redirects monitoring.Logf for the duration of the test.
func CaptureLogs(t *testing.T) *LogCapture {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })

	c := &LogCapture{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, fmt.Sprintf(format, v...))
	})
	return c
}

// ExtendedSnapshot returns an extended-mode snapshot with every field
// populated, including a metric that is not in the catalog.
func ExtendedSnapshot() *stats.Snapshot {
	s := stats.NewSnapshot()
	s.SetExtended(true)
	s.SetRefImageID(120)
	s.SetLoopClosureID(37)
	s.SetLocalLoopClosureID(36)

	ref := stats.NewImage(4, 6, 1)
	for i := range ref.Pix {
		ref.Pix[i] = byte(i * 10)
	}
	loop := stats.NewImage(2, 2, 3)
	for i := range loop.Pix {
		loop.Pix[i] = byte(255 - i)
	}
	s.SetRefImage(ref)
	s.SetLoopImage(loop)

	s.SetWeights(map[int]int{35: 2, 36: 1, 37: 5})
	s.SetPosterior(map[int]float64{-1: 0.05, 35: 0.1, 36: 0.15, 37: 0.7})
	s.SetLikelihood(map[int]float64{35: 1.1, 36: 1.4, 37: 3.2})
	s.SetRawLikelihood(map[int]float64{35: 0.3, 36: 0.35, 37: 0.8})

	var refWords, loopWords stats.Words
	refWords.Add(5, stats.KeyPoint{X: 1, Y: 2, Size: 7, Angle: 30, Response: 0.4})
	refWords.Add(5, stats.KeyPoint{X: 3, Y: 1, Size: 9, Angle: 60, Response: 0.2})
	refWords.Add(11, stats.KeyPoint{X: 5, Y: 3, Size: 5, Angle: -1, Response: 0.9, Octave: 2})
	loopWords.Add(5, stats.KeyPoint{X: 2, Y: 2, Size: 7, Angle: 31, Response: 0.5})
	s.SetRefWords(refWords)
	s.SetLoopWords(loopWords)

	s.AddStatistic(stats.KeyTimingTotal, 85)
	s.AddStatistic(stats.KeyLoopHighestHypothesisID, 37)
	s.AddStatistic(stats.KeyLoopHighestHypothesisValue, 0.7)
	s.AddStatistic(stats.KeyMemoryWorkingMemorySize, 112)
	s.AddStatistic("Custom/Not_in_catalog/px", 12.5)
	return s
}
