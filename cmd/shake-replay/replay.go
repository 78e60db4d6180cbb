package main

import (
	"bufio"
	"errors"
	"fmt"
	"image/color"
	"io"
	"text/tabwriter"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/shelfd/internal/bridge"
	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/engine"
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/shake"
	"github.com/banshee-data/shelfd/internal/source"
)

// report is the outcome of one replay.
type report struct {
	Lines    int
	Skipped  int
	Samples  []pointer.Sample
	Batches  int
	Drags    int
	Shakes   []shake.Event
	Detector shake.Config
}

// replay feeds every position through a batcher and detector configured
// from settings. The detector runs only during drags unless always is set.
func replay(r io.Reader, settings *config.Settings, always bool) (*report, error) {
	batcher := bridge.NewBatcher(engine.BatcherConfig(settings))
	det := shake.NewDetector(engine.DetectorConfig(settings))
	rep := &report{Detector: det.Config()}
	if always {
		det.Start()
	}

	feed := func(b pointer.Batch, ok bool) {
		if !ok {
			return
		}
		rep.Batches++
		if ev, ok := det.Feed(b); ok {
			rep.Shakes = append(rep.Shakes, ev)
		}
	}

	scan := bufio.NewScanner(r)
	for scan.Scan() {
		rep.Lines++
		msg, err := source.ParseLine(scan.Text())
		if errors.Is(err, source.ErrSkipLine) {
			continue
		}
		if err != nil {
			rep.Skipped++
			continue
		}
		switch msg.Type {
		case source.MsgPosition:
			rep.Samples = append(rep.Samples, msg.Sample)
			feed(batcher.Add(msg.Sample, time.UnixMilli(msg.Sample.TimestampMs)))
		case source.MsgDragStart:
			feed(batcher.Flush())
			rep.Drags++
			det.Start()
		case source.MsgDragEnd:
			feed(batcher.Flush())
			if !always {
				det.Stop()
			}
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	feed(batcher.Flush())
	return rep, nil
}

// Print writes a summary and one row per shake.
func (r *report) Print(w io.Writer) {
	fmt.Fprintf(w, "lines=%d skipped=%d samples=%d batches=%d drags=%d shakes=%d\n",
		r.Lines, r.Skipped, len(r.Samples), r.Batches, r.Drags, len(r.Shakes))
	if len(r.Shakes) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "t_ms\tchanges\tdistance\tvelocity\tintensity\tat")
	for _, ev := range r.Shakes {
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%.0f\t%.2f\t(%.0f, %.0f)\n",
			ev.TimestampMs, ev.DirectionChanges, ev.Distance, ev.Velocity, ev.Intensity, ev.X, ev.Y)
	}
	tw.Flush()
}

// Plot draws x and y over time with the detected shakes marked.
func (r *report) Plot(path string) error {
	if len(r.Samples) == 0 {
		return errors.New("no samples to plot")
	}
	base := r.Samples[0].TimestampMs
	xs := make(plotter.XYs, 0, len(r.Samples))
	ys := make(plotter.XYs, 0, len(r.Samples))
	for _, s := range r.Samples {
		t := float64(s.TimestampMs - base)
		xs = append(xs, plotter.XY{X: t, Y: s.X})
		ys = append(ys, plotter.XY{X: t, Y: s.Y})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Shake replay: %d samples, %d shakes", len(r.Samples), len(r.Shakes))
	p.X.Label.Text = "t (ms)"
	p.Y.Label.Text = "px"

	xLine, err := plotter.NewLine(xs)
	if err != nil {
		return err
	}
	xLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	xLine.Width = vg.Points(1)
	p.Add(xLine)
	p.Legend.Add("x", xLine)

	yLine, err := plotter.NewLine(ys)
	if err != nil {
		return err
	}
	yLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	yLine.Width = vg.Points(1)
	p.Add(yLine)
	p.Legend.Add("y", yLine)

	if len(r.Shakes) > 0 {
		marks := make(plotter.XYs, 0, len(r.Shakes))
		for _, ev := range r.Shakes {
			marks = append(marks, plotter.XY{X: float64(ev.TimestampMs - base), Y: ev.X})
		}
		sc, err := plotter.NewScatter(marks)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("shake", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
