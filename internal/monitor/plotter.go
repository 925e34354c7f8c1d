package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/loopstats/internal/fsutil"
	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
)

// ErrNoDistributions is returned by PlotDistributions for snapshots
// without posterior, likelihood or raw likelihood.
var ErrNoDistributions = errors.New("snapshot has no distributions")

var distributionColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// PlotDistributions writes the distributions plot of s to dir on disk.
func PlotDistributions(s *stats.Snapshot, dir string) (string, error) {
	return WriteDistributions(fsutil.OSFileSystem{}, s, dir)
}

// WriteDistributions writes a PNG of the posterior, likelihood and raw
// likelihood of s to dir in fsys, one line per distribution over the
// hypothesis ids, and marks the highest posterior hypothesis. It returns
// the path written.
func WriteDistributions(fsys fsutil.FileSystem, s *stats.Snapshot, dir string) (string, error) {
	series := []struct {
		name string
		dist map[int]float64
	}{
		{"posterior", s.Posterior()},
		{"likelihood", s.Likelihood()},
		{"raw likelihood", s.RawLikelihood()},
	}

	ids := hypothesisIDs(series[0].dist, series[1].dist, series[2].dist)
	if len(ids) == 0 {
		return "", ErrNoDistributions
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Loop closure hypotheses (ref %d)", s.RefImageID())
	p.X.Label.Text = "hypothesis id"
	p.Y.Label.Text = "score"
	p.Legend.Top = true

	for i, sr := range series {
		if len(sr.dist) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(sr.dist))
		for _, id := range ids {
			v, ok := sr.dist[id]
			if !ok {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(id), Y: finiteOrZero(v)})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", err
		}
		line.Color = distributionColors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(sr.name, line)
	}

	if best, score, ok := highestHypothesis(series[0].dist); ok {
		marker, err := plotter.NewScatter(plotter.XYs{{X: float64(best), Y: score}})
		if err != nil {
			return "", err
		}
		marker.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		marker.Radius = vg.Points(4)
		p.Add(marker)
		p.Legend.Add(fmt.Sprintf("highest %d (%.3g)", best, score), marker)
	}

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("failed to render distributions plot: %w", err)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}
	file := filepath.Join(dir, fmt.Sprintf("distributions_ref_%06d.png", s.RefImageID()))
	f, err := fsys.Create(file)
	if err != nil {
		return "", fmt.Errorf("create plot file: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to save distributions plot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to save distributions plot: %w", err)
	}
	return file, nil
}

// highestHypothesis returns the id with the largest finite score. Ties go
// to the smallest id.
func highestHypothesis(dist map[int]float64) (id int, score float64, ok bool) {
	ids := hypothesisIDs(dist)
	if len(ids) == 0 {
		return 0, 0, false
	}
	scores := make([]float64, len(ids))
	for i, id := range ids {
		scores[i] = finiteOrZero(dist[id])
	}
	best := floats.MaxIdx(scores)
	return ids[best], scores[best], true
}

// PlotWriter is a stats.Consumer that plots the distributions of every
// Nth extended snapshot into Dir.
type PlotWriter struct {
	Dir   string
	Every int
	// FS receives the plots. Defaults to the OS filesystem.
	FS fsutil.FileSystem

	mu   sync.Mutex
	seen int
}

var _ stats.Consumer = (*PlotWriter)(nil)

// NewPlotWriter plots every extended snapshot into dir.
func NewPlotWriter(dir string) *PlotWriter {
	return &PlotWriter{Dir: dir, Every: 1, FS: fsutil.OSFileSystem{}}
}

// Consume implements stats.Consumer.
func (pw *PlotWriter) Consume(s *stats.Snapshot) {
	if !s.Extended() {
		return
	}
	pw.mu.Lock()
	pw.seen++
	every := max(pw.Every, 1)
	due := (pw.seen-1)%every == 0
	pw.mu.Unlock()
	if !due {
		return
	}

	fsys := pw.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	file, err := WriteDistributions(fsys, s, pw.Dir)
	switch {
	case errors.Is(err, ErrNoDistributions):
	case err != nil:
		monitoring.Logf("[monitor] failed to plot distributions for ref %d: %v", s.RefImageID(), err)
	default:
		monitoring.Debugf("[monitor] wrote %s", file)
	}
}
