package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/gogf/gf/v2/os/gproc"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"imu_apiserver/internal/sensor"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCount    = 1000
	DefaultInterval = 10 * time.Millisecond
	DefaultOutput   = "imu_data.csv"

	// CSVPlaceholder in an exec command is replaced by the csv path
	CSVPlaceholder = "{csv}"
)

// CSVHeader is the column layout of recorded files
var CSVHeader = []string{"index", "roll", "pitch", "yaw", "accx", "accy", "accz", "gyrox", "gyroy", "gyroz"}

// SampleSource is anything that can hand out the latest sample
type SampleSource interface {
	Latest() sensor.Sample
}

type Options struct {
	Count    int
	Interval time.Duration
	Output   string
	// Plot is the path prefix of the rendered png files, empty to skip plotting
	Plot string
	// Exec is a shell command run after recording, empty to skip
	Exec string
}

// Collect polls src count times, one sample per interval
func Collect(ctx context.Context, src SampleSource, count int, interval time.Duration) ([]sensor.Sample, error) {
	if count <= 0 {
		return nil, nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	samples := make([]sensor.Sample, 0, count)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for len(samples) < count {
		s := src.Latest()
		samples = append(samples, s)
		log.Debugf("roll: %.3f pitch: %.3f yaw: %.3f", s.Euler[0], s.Euler[1], s.Euler[2])
		if len(samples) == count {
			break
		}
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		case <-ticker.C:
		}
	}
	return samples, nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// WriteCSV writes samples with CSVHeader
func WriteCSV(w io.Writer, samples []sensor.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	row := make([]string, len(CSVHeader))
	for i, s := range samples {
		row[0] = strconv.Itoa(i)
		for j, v := range [9]float32{
			s.Euler[0], s.Euler[1], s.Euler[2],
			s.Acc[0], s.Acc[1], s.Acc[2],
			s.Gyro[0], s.Gyro[1], s.Gyro[2],
		} {
			row[j+1] = formatFloat(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type plotGroup struct {
	kind   sensor.TripleKind
	title  string
	labels [3]string
}

var plotGroups = []plotGroup{
	{sensor.KindEuler, "Euler angles", [3]string{"roll", "pitch", "yaw"}},
	{sensor.KindAcc, "Acceleration", [3]string{"accx", "accy", "accz"}},
	{sensor.KindGyro, "Angular velocity", [3]string{"gyrox", "gyroy", "gyroz"}},
}

// Plot renders one png per triple as <prefix>_<kind>.png and returns the paths
func Plot(samples []sensor.Sample, prefix string) ([]string, error) {
	paths := make([]string, 0, len(plotGroups))
	for _, g := range plotGroups {
		p := plot.New()
		p.Title.Text = g.title
		p.X.Label.Text = "index"

		lines := make([]interface{}, 0, 2*len(g.labels))
		for axis, label := range g.labels {
			pts := make(plotter.XYs, len(samples))
			for i := range samples {
				pts[i].X = float64(i)
				pts[i].Y = float64(samples[i].Triple(g.kind)[axis])
			}
			lines = append(lines, label, pts)
		}
		if err := plotutil.AddLines(p, lines...); err != nil {
			return paths, err
		}

		path := fmt.Sprintf("%s_%s.png", prefix, g.kind)
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RunExec runs command through the shell with CSVPlaceholder expanded
func RunExec(ctx context.Context, command string, csvPath string) (string, error) {
	command = strings.ReplaceAll(command, CSVPlaceholder, csvPath)
	log.Infof("exec: %s", command)
	return gproc.ShellExec(ctx, command)
}

// Record collects samples from src, writes them to opt.Output and runs the
// optional plot and exec steps
func Record(ctx context.Context, src SampleSource, opt Options) error {
	if opt.Output == "" {
		opt.Output = DefaultOutput
	}
	samples, err := Collect(ctx, src, opt.Count, opt.Interval)
	if err != nil && len(samples) == 0 {
		return err
	}

	f, err := os.Create(opt.Output)
	if err != nil {
		return err
	}
	if err = WriteCSV(f, samples); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	log.Infof("%d samples written to %s", len(samples), opt.Output)

	if opt.Plot != "" {
		paths, err := Plot(samples, opt.Plot)
		if err != nil {
			return err
		}
		log.Infof("plots written to %s", strings.Join(paths, ", "))
	}

	if opt.Exec != "" {
		out, err := RunExec(ctx, opt.Exec, opt.Output)
		if out != "" {
			log.Infoln(strings.TrimSpace(out))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
