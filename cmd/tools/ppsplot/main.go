// Command ppsplot renders an offline PPS offset/jitter series from the
// daemon's state database, for field debugging: a static PNG (gonum/plot)
// and an interactive HTML chart (go-echarts), mirroring the pcap-analyse
// tool's offline-analysis-then-render shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gnssd/internal/store"
)

func main() {
	dbPath := flag.String("db-path", "gnssd.db", "Path to sqlite state database")
	devicePath := flag.String("device", "/dev/ttyUSB0", "Device path to plot offset history for")
	limit := flag.Int("limit", 2000, "Maximum number of recent samples to plot")
	outputDir := flag.String("output", ".", "Directory to write rendered chart files into")
	flag.Parse()

	db, err := store.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open state database %s: %v", *dbPath, err)
	}
	defer db.Close()

	samples, err := db.RecentPPSOffsets(*devicePath, *limit)
	if err != nil {
		log.Fatalf("failed to read PPS offset history: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("no PPS offset samples recorded for %s", *devicePath)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	pngPath := fmt.Sprintf("%s/pps-jitter.png", *outputDir)
	if err := renderPNG(samples, pngPath); err != nil {
		log.Fatalf("failed to render PNG: %v", err)
	}
	fmt.Printf("PNG jitter plot: %s\n", pngPath)

	htmlPath := fmt.Sprintf("%s/pps-jitter.html", *outputDir)
	if err := renderHTML(samples, htmlPath, *devicePath); err != nil {
		log.Fatalf("failed to render HTML chart: %v", err)
	}
	fmt.Printf("Interactive chart: %s\n", htmlPath)
}

// renderPNG draws a static offset-over-time line plot, one point per
// sample, offset expressed in microseconds for readability.
func renderPNG(samples []store.PPSOffsetSample, path string) error {
	p := plot.New()
	p.Title.Text = "PPS offset (microseconds)"
	p.X.Label.Text = "sample index"
	p.Y.Label.Text = "offset (µs)"

	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i] = plotter.XY{X: float64(i), Y: float64(s.OffsetNanos) / 1000.0}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build line plotter: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// renderHTML renders the same series as an interactive go-echarts line
// chart, with the sample's occurred-at timestamp on the x-axis.
func renderHTML(samples []store.PPSOffsetSample, path, devicePath string) error {
	xs := make([]string, len(samples))
	ys := make([]opts.LineData, len(samples))
	for i, s := range samples {
		xs[i] = s.OccurredAt.Format("15:04:05")
		ys[i] = opts.LineData{Value: float64(s.OffsetNanos) / 1000.0}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "PPS offset jitter", Subtitle: devicePath}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset (µs)"}),
	)
	line.SetXAxis(xs).AddSeries("offset", ys)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	return line.Render(f)
}
