package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showShakeTrace renders the recent cursor trace and detected shakes with
// go-echarts. Debugging only. ?format=json returns the raw trace.
func (s *Server) showShakeTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	td, err := s.engine.TraceSnapshot(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, http.StatusOK, td)
		return
	}
	if len(td.Samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no samples recorded yet")
		return
	}

	base := td.Samples[0].TimestampMs
	xAxis := make([]string, 0, len(td.Samples))
	xs := make([]opts.LineData, 0, len(td.Samples))
	ys := make([]opts.LineData, 0, len(td.Samples))
	for _, smp := range td.Samples {
		xAxis = append(xAxis, strconv.FormatInt(smp.TimestampMs-base, 10))
		xs = append(xs, opts.LineData{Value: smp.X})
		ys = append(ys, opts.LineData{Value: smp.Y})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Shake trace", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cursor position", Subtitle: fmt.Sprintf("samples=%d shakes=%d", len(td.Samples), len(td.Shakes))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("x", xs).
		AddSeries("y", ys)

	shakes := make([]opts.ScatterData, 0, len(td.Shakes))
	for _, ev := range td.Shakes {
		shakes = append(shakes, opts.ScatterData{Value: []interface{}{ev.TimestampMs - base, ev.Intensity, ev.DirectionChanges}})
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detected shakes", Subtitle: "intensity over time"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "intensity"}),
	)
	scatter.AddSeries("shake", shakes, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	page := components.NewPage()
	page.AddCharts(line, scatter)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
