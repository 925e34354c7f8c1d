package monitor

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loopstats/internal/fsutil"
	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/testutil"
)

func TestPlotDistributions_WritesPNG(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "plots")
	file, err := PlotDistributions(testutil.ExtendedSnapshot(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "distributions_ref_000120.png"), file)

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPlotDistributions_NoDistributions(t *testing.T) {
	t.Parallel()

	_, err := PlotDistributions(stats.NewSnapshot(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoDistributions)
}

func TestPlotDistributions_LikelihoodOnly(t *testing.T) {
	t.Parallel()

	s := stats.NewSnapshot()
	s.SetLikelihood(map[int]float64{3: 1, 4: math.Inf(1)})
	_, err := PlotDistributions(s, t.TempDir())
	assert.NoError(t, err)
}

func TestHighestHypothesis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		dist   map[int]float64
		wantID int
		wantOK bool
	}{
		{"empty", nil, 0, false},
		{"single", map[int]float64{7: 0.2}, 7, true},
		{"max wins", map[int]float64{1: 0.1, 2: 0.8, 3: 0.1}, 2, true},
		{"tie goes to smallest id", map[int]float64{9: 0.5, 4: 0.5}, 4, true},
		{"nan ignored", map[int]float64{1: math.NaN(), 2: 0.1}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _, ok := highestHypothesis(tt.dist)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestPlotWriter_EveryNthExtended(t *testing.T) {
	t.Parallel()

	mem := fsutil.NewMemoryFileSystem()
	pw := NewPlotWriter("/plots")
	pw.Every = 2
	pw.FS = mem

	minimal := stats.NewSnapshot()
	minimal.SetPosterior(map[int]float64{1: 1})
	pw.Consume(minimal)

	for i := 1; i <= 3; i++ {
		s := testutil.ExtendedSnapshot()
		s.SetRefImageID(i)
		pw.Consume(s)
	}

	assert.Equal(t, []string{"/plots/distributions_ref_000001.png", "/plots/distributions_ref_000003.png"}, mem.Files())
}

func TestWriteDistributions_PNGSignature(t *testing.T) {
	t.Parallel()

	mem := fsutil.NewMemoryFileSystem()
	file, err := WriteDistributions(mem, testutil.ExtendedSnapshot(), "out/run")
	require.NoError(t, err)
	assert.Equal(t, "out/run/distributions_ref_000120.png", file)

	data, err := mem.ReadFile(file)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data[:8])
}

func TestToImage(t *testing.T) {
	t.Parallel()

	gray := stats.NewImage(2, 3, 1)
	gray.Pix[4] = 200
	img, err := ToImage(gray)
	require.NoError(t, err)
	assert.Equal(t, color.Gray{Y: 200}, img.At(1, 1))

	bgr := stats.NewImage(1, 1, 3)
	copy(bgr.Pix, []byte{10, 20, 30})
	img, err = ToImage(bgr)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, img.At(0, 0))

	_, err = ToImage(stats.Image{})
	assert.Error(t, err)
	_, err = ToImage(stats.NewImage(1, 1, 2))
	assert.Error(t, err)
}
