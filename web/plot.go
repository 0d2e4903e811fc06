package web

import (
	"bytes"
	"html/template"
	"io"
	"math"

	"github.com/JuanCldCmt/ML-mini-project/nnet"
	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// resolution used to convert the plot size from pixels
const dpi = 96

// PlotSeries lists the scalar tags drawn on each of the plots served by the monitor.
var PlotSeries = map[string][]string{
	"loss":     {nnet.TagTrainLoss, nnet.TagEvalLoss, TagSmoothedLoss},
	"accuracy": {nnet.TagTrainAcc, nnet.TagEvalAcc},
	"lr":       {nnet.TagRate},
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	return p
}

// render the plot in SVG format with the size given in pixels
func writePlot(p *plot.Plot, out io.Writer, w, h int) error {
	writer, err := p.WriterTo(vg.Inch*vg.Length(w)/dpi, vg.Inch*vg.Length(h)/dpi, "svg")
	if err != nil {
		return errors.Wrap(err, "error writing plot")
	}
	_, err = writer.WriteTo(out)
	return err
}

// line plot of the finite values in pts, a diverging run can record NaN or Inf
func newLinePlot(pts []Point, ix int) (linePlot, bool, error) {
	xys := make(plotter.XYs, 0, len(pts))
	xmax, ymax := 1.0, 0.0
	for _, pt := range pts {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			continue
		}
		x := float64(pt.Step + 1)
		xys = append(xys, plotter.XY{X: x, Y: pt.Value})
		xmax = max(xmax, x)
		ymax = max(ymax, pt.Value)
	}
	if len(xys) == 0 {
		return linePlot{}, false, nil
	}
	l, err := plotter.NewLine(xys)
	if err != nil {
		return linePlot{}, false, errors.Wrap(err, "error plotting line")
	}
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: 0, ymax: ymax}, true, nil
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}

// HistoryPlot draws one line per tag with the recorded values against epoch.
func (m *Monitor) HistoryPlot(out io.Writer, name string, width, height int) error {
	tags, ok := PlotSeries[name]
	if !ok {
		return errors.Errorf("unknown plot %q", name)
	}
	p := newPlot()
	p.X.Label.Text = "epoch"
	for i, tag := range tags {
		line, ok, err := newLinePlot(m.Scalars(tag), i)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p.Add(line)
		p.Legend.Add(tag+" ", line)
	}
	return writePlot(p, out, width, height)
}

// PlotHTML returns the plot as inline SVG for use in a template.
func (m *Monitor) PlotHTML(name string, width, height int) template.HTML {
	var buf bytes.Buffer
	if err := m.HistoryPlot(&buf, name, width, height); err != nil {
		return template.HTML(template.HTMLEscapeString(err.Error()))
	}
	return template.HTML(buf.String())
}

// CurvePlot draws a ROC or precision-recall curve with both axes scaled from 0 to 1. If diagonal
// is set then the line for a random classifier is added.
func CurvePlot(out io.Writer, c stats.Curve, title, xlabel, ylabel string, diagonal bool, width, height int) error {
	p := newPlot()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.01
	l, err := plotter.NewLine(c)
	if err != nil {
		return errors.Wrap(err, "error plotting curve")
	}
	l.Width = 2
	l.Color = plotutil.Color(0)
	p.Add(l)
	if diagonal {
		fn := plotter.NewFunction(func(x float64) float64 { return x })
		fn.Color = plotutil.Color(1)
		fn.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(fn)
	}
	return writePlot(p, out, width, height)
}
