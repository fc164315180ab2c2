// Package export writes offline snapshots of the flow data.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/stirandas/nfd-visualizations/internal/flows"
)

// ErrNoOutputs is returned when Options names no file.
var ErrNoOutputs = errors.New("at least one of --csv, --png, --parquet or --json must be provided")

// Header is the CSV column order, identical to the JSON field names.
var Header = []string{
	"RUN_DT", "DII_BUY", "DII_SELL", "DII_NET", "FII_BUY", "FII_SELL", "FII_NET",
	"U_TS", "I_TS", "I_TS_IST", "U_TS_IST", "LATENCY_HOURS", "AVAILABILITY_SECONDS",
}

// Options select the files to produce.
type Options struct {
	CSVPath     string
	PNGPath     string
	ParquetPath string
	JSONPath    string
	MaxPoints   int
	Compression string
}

func (o Options) empty() bool {
	return o.CSVPath == "" && o.PNGPath == "" && o.ParquetPath == "" && o.JSONPath == ""
}

// Uploader receives every file written by an export.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Exporter writes snapshots and optionally uploads them.
type Exporter struct {
	uploader Uploader
	logger   zerolog.Logger
}

// New constructs an exporter. uploader may be nil.
func New(uploader Uploader, logger zerolog.Logger) *Exporter {
	return &Exporter{uploader: uploader, logger: logger.With().Str("component", "export").Logger()}
}

// Export writes the requested files and returns their paths. CSV and PNG are
// downsampled to MaxPoints; Parquet and JSON carry every record.
func (e *Exporter) Export(ctx context.Context, records []flows.FlowRecord, opts Options) ([]string, error) {
	if opts.empty() {
		return nil, ErrNoOutputs
	}

	sampled := Downsample(records, opts.MaxPoints)
	e.logger.Info().Int("total", len(records)).Int("sampled", len(sampled)).Msg("exporting records")

	var written []string
	steps := []struct {
		path  string
		write func(io.Writer) error
	}{
		{opts.CSVPath, func(w io.Writer) error { return WriteCSV(w, sampled) }},
		{opts.PNGPath, func(w io.Writer) error { return RenderChart(w, sampled) }},
		{opts.ParquetPath, func(w io.Writer) error {
			data, err := EncodeParquet(records, opts.Compression)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		}},
		{opts.JSONPath, func(w io.Writer) error { return WriteJSON(w, records) }},
	}
	for _, step := range steps {
		if step.path == "" {
			continue
		}
		if err := writeFile(step.path, step.write); err != nil {
			return written, fmt.Errorf("write %s: %w", step.path, err)
		}
		written = append(written, step.path)
	}

	if e.uploader == nil {
		return written, nil
	}
	for _, path := range written {
		key, err := e.uploader.Upload(ctx, path)
		if err != nil {
			return written, err
		}
		e.logger.Info().Str("file", path).Str("key", key).Msg("snapshot uploaded")
	}
	return written, nil
}

// Downsample keeps at most max evenly spaced records, always including both ends.
func Downsample(records []flows.FlowRecord, max int) []flows.FlowRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]flows.FlowRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

// WriteCSV writes the header and one row per record. NULL becomes an empty cell.
func WriteCSV(w io.Writer, records []flows.FlowRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.RunDate,
			exact(rec.DIIBuy), exact(rec.DIISell), exact(rec.DIINet),
			exact(rec.FIIBuy), exact(rec.FIISell), exact(rec.FIINet),
			deref(rec.UpdatedAt), deref(rec.InsertedAt),
			deref(rec.InsertedAtIST), deref(rec.UpdatedAtIST),
			number(rec.LatencyHours), number(rec.AvailabilitySeconds),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON writes the same array /data serves.
func WriteJSON(w io.Writer, records []flows.FlowRecord) error {
	if records == nil {
		records = []flows.FlowRecord{}
	}
	return json.NewEncoder(w).Encode(records)
}

// RenderChart draws DII and FII net flows by run date as a PNG.
func RenderChart(w io.Writer, records []flows.FlowRecord) error {
	if len(records) < 2 {
		return fmt.Errorf("chart needs at least 2 records, got %d", len(records))
	}

	x := make([]time.Time, len(records))
	dii := make([]float64, len(records))
	fii := make([]float64, len(records))
	for i, rec := range records {
		day, err := time.Parse(flows.DateLayout, rec.RunDate)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		x[i] = day
		dii[i] = rec.DIINet.Float()
		fii[i] = rec.FIINet.Float()
	}

	crore := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net flow (INR cr)",
			ValueFormatter: crore,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "DII net",
				XValues: x,
				YValues: dii,
			},
			chart.TimeSeries{
				Name:    "FII net",
				XValues: x,
				YValues: fii,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func exact(a flows.Amount) string {
	if !a.Valid {
		return ""
	}
	return a.Decimal.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func number(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
