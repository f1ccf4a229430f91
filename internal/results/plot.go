package results

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nvandessel/connectome/internal/config"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	colorDarkRed   = color.RGBA{R: 139, A: 255}
	colorSteelBlue = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	colorGoldenrod = color.RGBA{R: 218, G: 165, B: 32, A: 255}
)

// PlotOptions controls Render.
type PlotOptions struct {
	MinY     float64 // lower bound for the shared firing-rate ceiling
	Headroom float64 // added above the ceiling
	XMin     float64 // seconds
	XMax     float64
	XStep    float64
	WidthCm  float64
	RowCm    float64
}

// DefaultPlotOptions matches the reference figures: a 3 to 5 s window and a
// ceiling of at least 100 Hz plus 20 Hz headroom.
func DefaultPlotOptions() PlotOptions {
	return PlotOptionsFromConfig(config.Default().Plot)
}

// PlotOptionsFromConfig converts the plot section of the configuration.
func PlotOptionsFromConfig(c config.PlotConfig) PlotOptions {
	return PlotOptions{
		MinY:     c.MinY,
		Headroom: c.Headroom,
		XMin:     c.XMin,
		XMax:     c.XMax,
		XStep:    c.XStep,
		WidthCm:  c.Width,
		RowCm:    c.RowCm,
	}
}

// YLimit returns the shared firing-rate ceiling for region id across traces.
// NaN and infinite samples are ignored.
func YLimit(traces []Trace, id int, opts PlotOptions) (float64, error) {
	ceiling := opts.MinY
	for i := range traces {
		s, err := traces[i].Region(id)
		if err != nil {
			return 0, err
		}
		for _, v := range s.Inh {
			ceiling = maxFinite(ceiling, v)
		}
		for _, v := range s.Exc {
			ceiling = maxFinite(ceiling, v)
		}
	}
	return ceiling + opts.Headroom, nil
}

func maxFinite(a, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return a
	}
	return math.Max(a, v)
}

// Ticks returns the fixed x ticks from XMin to XMax.
func (o PlotOptions) Ticks() []plot.Tick {
	var ticks []plot.Tick
	n := int(math.Round((o.XMax - o.XMin) / o.XStep))
	for i := 0; i <= n; i++ {
		v := o.XMin + float64(i)*o.XStep
		ticks = append(ticks, plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'g', -1, 64)})
	}
	return ticks
}

// Render draws one row per trace for region id as PNG: firing rates
// (inhibitory and excitatory) on the left, adaptation on the right.
func Render(w io.Writer, traces []Trace, region string, id int, opts PlotOptions) error {
	if len(traces) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	if opts.XStep <= 0 || opts.XMax <= opts.XMin {
		return fmt.Errorf("invalid x window [%g, %g] step %g", opts.XMin, opts.XMax, opts.XStep)
	}
	ylim, err := YLimit(traces, id, opts)
	if err != nil {
		return err
	}

	plots := make([][]*plot.Plot, len(traces))
	for i := range traces {
		s, err := traces[i].Region(id)
		if err != nil {
			return err
		}
		fr, err := firingRatePlot(s, region, traces[i].Run.Amplitudes, ylim, opts)
		if err != nil {
			return err
		}
		ad, err := adaptationPlot(s, opts)
		if err != nil {
			return err
		}
		plots[i] = []*plot.Plot{fr, ad}
	}

	img := vgimg.New(vg.Length(opts.WidthCm)*vg.Centimeter, vg.Length(opts.RowCm*float64(len(traces)))*vg.Centimeter)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(traces),
		Cols:      2,
		PadX:      vg.Centimeter,
		PadY:      vg.Centimeter,
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(4),
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("writing png: %w", err)
	}
	return nil
}

func firingRatePlot(s Series, region string, amps []float64, ylim float64, opts PlotOptions) (*plot.Plot, error) {
	p := newAxes(opts)
	p.Title.Text = fmt.Sprintf("%s with stimval %s", region, formatAmplitudes(amps))
	p.Y.Label.Text = "Firing rate (Hz)"

	inh, err := windowLine(s.Time, s.Inh, opts, colorDarkRed)
	if err != nil {
		return nil, err
	}
	exc, err := windowLine(s.Time, s.Exc, opts, colorSteelBlue)
	if err != nil {
		return nil, err
	}
	p.Add(inh, exc)
	p.Legend.Add("Inh.", inh)
	p.Legend.Add("Exc.", exc)
	p.Legend.Top = true
	setWindow(p, opts)
	p.Y.Min, p.Y.Max = 0, ylim
	return p, nil
}

func adaptationPlot(s Series, opts PlotOptions) (*plot.Plot, error) {
	p := newAxes(opts)
	p.Y.Label.Text = "Adaptation (nA)"
	ad, err := windowLine(s.Time, s.Adaptation, opts, colorGoldenrod)
	if err != nil {
		return nil, err
	}
	p.Add(ad)
	setWindow(p, opts)
	return p, nil
}

func newAxes(opts PlotOptions) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = "Time (s)"
	p.X.Tick.Marker = plot.ConstantTicks(opts.Ticks())
	return p
}

// setWindow pins the x axis after Add has widened it to the data.
func setWindow(p *plot.Plot, opts PlotOptions) {
	p.X.Min, p.X.Max = opts.XMin, opts.XMax
}

// windowLine keeps the finite samples inside the x window.
func windowLine(t, v []float64, opts PlotOptions, c color.Color) (*plotter.Line, error) {
	xys := make(plotter.XYs, 0, len(t))
	for i := range t {
		if t[i] < opts.XMin || t[i] > opts.XMax {
			continue
		}
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: t[i], Y: v[i]})
	}
	if len(xys) == 0 {
		return nil, fmt.Errorf("no samples in [%g, %g] s", opts.XMin, opts.XMax)
	}
	l, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	l.Color = c
	return l, nil
}

func formatAmplitudes(amps []float64) string {
	parts := make([]string, len(amps))
	for i, a := range amps {
		parts[i] = strconv.FormatFloat(a, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}
