package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/loopstats/internal/httputil"
	"github.com/banshee-data/loopstats/internal/stats"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// groupedMetrics splits the finite metrics of s by key group, keeping
// key order within each group. NaN and ±Inf cannot be rendered and are
// skipped.
func groupedMetrics(s *stats.Snapshot) (groups []string, byGroup map[string][]stats.MetricKey) {
	data := s.Data()
	byGroup = make(map[string][]stats.MetricKey)
	for _, key := range s.SortedKeys() {
		v := data[key]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		g := key.Group()
		if _, ok := byGroup[g]; !ok {
			groups = append(groups, g)
		}
		byGroup[g] = append(byGroup[g], key)
	}
	slices.Sort(groups)
	return groups, byGroup
}

// handleMetricsChart renders one bar chart per metric group of the
// latest snapshot.
func (ws *WebServer) handleMetricsChart(w http.ResponseWriter, r *http.Request) {
	s := ws.Latest()
	if s == nil {
		httputil.NotFound(w, "no snapshot published yet")
		return
	}

	data := s.Data()
	groups, byGroup := groupedMetrics(s)
	if len(groups) == 0 {
		httputil.NotFound(w, "latest snapshot has no metrics")
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)

	for _, g := range groups {
		keys := byGroup[g]
		x := make([]string, 0, len(keys))
		y := make([]opts.BarData, 0, len(keys))
		for _, key := range keys {
			label := key.Name()
			if unit := key.Unit(); unit != "" {
				label = fmt.Sprintf("%s (%s)", label, unit)
			}
			x = append(x, label)
			y = append(y, opts.BarData{Name: string(key), Value: data[key]})
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{
				Title:    g,
				Subtitle: fmt.Sprintf("ref=%d loop=%d extended=%v", s.RefImageID(), s.LoopClosureID(), s.Extended()),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(x).
			AddSeries(g, y,
				charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			)
		page.AddCharts(bar)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// handlePosteriorChart renders posterior and likelihood of the latest
// snapshot side by side, one bar per hypothesis id.
func (ws *WebServer) handlePosteriorChart(w http.ResponseWriter, r *http.Request) {
	s := ws.Latest()
	if s == nil {
		httputil.NotFound(w, "no snapshot published yet")
		return
	}

	posterior := s.Posterior()
	likelihood := s.Likelihood()
	ids := hypothesisIDs(posterior, likelihood)
	if len(ids) == 0 {
		httputil.NotFound(w, "latest snapshot has no distributions")
		return
	}

	x := make([]string, 0, len(ids))
	post := make([]opts.BarData, 0, len(ids))
	like := make([]opts.BarData, 0, len(ids))
	for _, id := range ids {
		x = append(x, strconv.Itoa(id))
		post = append(post, opts.BarData{Value: finiteOrZero(posterior[id])})
		like = append(like, opts.BarData{Value: finiteOrZero(likelihood[id])})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Loop closure hypotheses",
			Subtitle: fmt.Sprintf("ref=%d loop=%d hypotheses=%d", s.RefImageID(), s.LoopClosureID(), len(ids)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "id"}),
	)
	bar.SetXAxis(x).
		AddSeries("posterior", post).
		AddSeries("likelihood", like)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// hypothesisIDs returns the sorted union of the ids in the given
// distributions.
func hypothesisIDs(dists ...map[int]float64) []int {
	seen := make(map[int]struct{})
	for _, d := range dists {
		for id := range d {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
