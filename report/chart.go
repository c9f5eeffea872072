package report

import (
	"fmt"
	"io"

	"github.com/LdDl/mot-counter/pipeline"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"
)

// Chart collects running total per frame and renders HTML line chart on Close
type Chart struct {
	w      io.Writer
	title  string
	frames []int
	totals []opts.LineData
}

// NewChart creates Chart. If w implements io.Closer it is closed after rendering.
func NewChart(w io.Writer, title string) *Chart {
	return &Chart{w: w, title: title}
}

func (chart *Chart) Consume(result pipeline.FrameResult) error {
	chart.frames = append(chart.frames, result.Frame)
	chart.totals = append(chart.totals, opts.LineData{Value: result.Total})
	return nil
}

func (chart *Chart) Close() error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Object count", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: chart.title, Subtitle: fmt.Sprintf("frames=%d", len(chart.frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "total", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(chart.frames).
		AddSeries("total", chart.totals)

	err := line.Render(chart.w)
	if closer, ok := chart.w.(io.Closer); ok {
		if closeErr := closer.Close(); err == nil {
			err = closeErr
		}
	}
	return errors.Wrap(err, "Can't render chart")
}
