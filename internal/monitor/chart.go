package monitor

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidarloc/internal/localization"
	"github.com/banshee-data/lidarloc/internal/trajectory"
)

// RenderTrajectoryChart writes an HTML page with an interactive top-down
// trajectory chart and, when acc has error points, a position error chart.
func RenderTrajectoryChart(w io.Writer, title string, est []localization.Sample, truth []trajectory.TruthSample, acc Accuracy) error {
	truthPts := make([]opts.ScatterData, 0, len(truth))
	for _, t := range truth {
		truthPts = append(truthPts, opts.ScatterData{Value: []interface{}{t.Position[0], t.Position[1]}})
	}
	predictPts := make([]opts.ScatterData, 0, len(est))
	correctPts := make([]opts.ScatterData, 0, len(est))
	for _, s := range est {
		pt := opts.ScatterData{Value: []interface{}{s.Position[0], s.Position[1]}}
		if s.Kind == localization.SampleCorrect {
			correctPts = append(correctPts, pt)
		} else {
			predictPts = append(predictPts, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("estimates=%d truth=%d", len(est), len(truth))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("truth", truthPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("odometry predict", predictPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("correct", correctPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(scatter)

	if len(acc.Errors) > 0 {
		t0 := acc.Errors[0].Stamp
		xs := make([]string, len(acc.Errors))
		ys := make([]opts.LineData, len(acc.Errors))
		for i, e := range acc.Errors {
			xs[i] = fmt.Sprintf("%.2f", e.Stamp.Sub(t0).Seconds())
			ys[i] = opts.LineData{Value: e.Error}
		}
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{
				Title:    "Position error",
				Subtitle: fmt.Sprintf("rmse=%.3fm max=%.3fm n=%d since %s", acc.RMSE, acc.MaxError, acc.Samples, t0.Format(time.RFC3339)),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "error (m)"}),
		)
		line.SetXAxis(xs).AddSeries("error", ys)
		page.AddCharts(line)
	}

	return page.Render(w)
}
