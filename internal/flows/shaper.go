// Package flows turns warehouse result sets into the records served by /data.
package flows

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

const (
	// DateLayout is the RUN_DT wire format.
	DateLayout = "2006-01-02"
	// TimestampLayout renders zoned U_TS/I_TS values, always in UTC.
	TimestampLayout = "2006-01-02 15:04:05-0700"
	// NaiveTimestampLayout renders U_TS/I_TS values that carry no zone.
	NaiveTimestampLayout = "2006-01-02 15:04:05"
	// DisplayLayout renders the *_IST columns.
	DisplayLayout = "02-Jan-2006 15:04"
)

var (
	zonedLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05-0700",
		"2006-01-02 15:04:05-07",
		"2006-01-02T15:04:05-0700",
	}
	naiveLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
	}
)

// ErrMissingColumn reports a result set without a required column.
var ErrMissingColumn = errors.New("missing column")

// Shaper converts result sets into records. Location and MarketClose drive the
// derived columns when the source did not compute them.
type Shaper struct {
	Location    *time.Location
	MarketClose time.Duration
}

// NewShaper builds a Shaper; a nil location falls back to UTC.
func NewShaper(loc *time.Location, marketClose time.Duration) *Shaper {
	if loc == nil {
		loc = time.UTC
	}
	return &Shaper{Location: loc, MarketClose: marketClose}
}

type fullIndex struct {
	runDate, diiBuy, diiSell, diiNet, fiiBuy, fiiSell, fiiNet, updatedAt, insertedAt int
	insertedIST, updatedIST, latency, availability                                  int
}

// ShapeFull converts a full projection. Row order is preserved.
func (s *Shaper) ShapeFull(rs *warehouse.ResultSet) ([]FlowRecord, error) {
	if rs == nil {
		rs = &warehouse.ResultSet{}
	}
	idx, err := resolveFull(rs)
	if err != nil {
		return nil, err
	}

	records := make([]FlowRecord, 0, rs.Len())
	for i, row := range rs.Rows {
		rec, err := s.shapeFullRow(idx, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ShapeMinimal converts a minimal (or full) projection into net-only records.
func (s *Shaper) ShapeMinimal(rs *warehouse.ResultSet) ([]NetFlowRecord, error) {
	if rs == nil {
		rs = &warehouse.ResultSet{}
	}
	idx := make([]int, len(warehouse.MinimalColumns))
	for i, col := range warehouse.MinimalColumns {
		pos, err := required(rs, col)
		if err != nil {
			return nil, err
		}
		idx[i] = pos
	}

	records := make([]NetFlowRecord, 0, rs.Len())
	for i, row := range rs.Rows {
		var rec NetFlowRecord
		var err error
		if rec.RunDate, err = formatDate(cell(row, idx[0])); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i, warehouse.ColRunDate, err)
		}
		if rec.DIINet, err = toAmount(cell(row, idx[1])); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i, warehouse.ColDIINet, err)
		}
		if rec.FIINet, err = toAmount(cell(row, idx[2])); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i, warehouse.ColFIINet, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func resolveFull(rs *warehouse.ResultSet) (fullIndex, error) {
	var idx fullIndex
	var err error
	targets := []struct {
		col string
		dst *int
	}{
		{warehouse.ColRunDate, &idx.runDate},
		{warehouse.ColDIIBuy, &idx.diiBuy},
		{warehouse.ColDIISell, &idx.diiSell},
		{warehouse.ColDIINet, &idx.diiNet},
		{warehouse.ColFIIBuy, &idx.fiiBuy},
		{warehouse.ColFIISell, &idx.fiiSell},
		{warehouse.ColFIINet, &idx.fiiNet},
		{warehouse.ColUpdatedAt, &idx.updatedAt},
		{warehouse.ColInsertedAt, &idx.insertedAt},
	}
	for _, t := range targets {
		if *t.dst, err = required(rs, t.col); err != nil {
			return idx, err
		}
	}
	idx.insertedIST = rs.Index(warehouse.ColInsertedAtIST)
	idx.updatedIST = rs.Index(warehouse.ColUpdatedAtIST)
	idx.latency = rs.Index(warehouse.ColLatencyHours)
	idx.availability = rs.Index(warehouse.ColAvailabilitySeconds)
	return idx, nil
}

func required(rs *warehouse.ResultSet, col string) (int, error) {
	i := rs.Index(col)
	if i < 0 {
		return -1, fmt.Errorf("%w %s", ErrMissingColumn, col)
	}
	return i, nil
}

func (s *Shaper) shapeFullRow(idx fullIndex, row []any) (FlowRecord, error) {
	var rec FlowRecord

	runDate, err := toDate(cell(row, idx.runDate))
	if err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColRunDate, err)
	}
	rec.RunDate = runDate.Format(DateLayout)

	amounts := []struct {
		col string
		pos int
		dst *Amount
	}{
		{warehouse.ColDIIBuy, idx.diiBuy, &rec.DIIBuy},
		{warehouse.ColDIISell, idx.diiSell, &rec.DIISell},
		{warehouse.ColDIINet, idx.diiNet, &rec.DIINet},
		{warehouse.ColFIIBuy, idx.fiiBuy, &rec.FIIBuy},
		{warehouse.ColFIISell, idx.fiiSell, &rec.FIISell},
		{warehouse.ColFIINet, idx.fiiNet, &rec.FIINet},
	}
	for _, a := range amounts {
		if *a.dst, err = toAmount(cell(row, a.pos)); err != nil {
			return rec, fmt.Errorf("%s: %w", a.col, err)
		}
	}

	updated, err := toTimestamp(cell(row, idx.updatedAt))
	if err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColUpdatedAt, err)
	}
	inserted, err := toTimestamp(cell(row, idx.insertedAt))
	if err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColInsertedAt, err)
	}
	rec.UpdatedAt = updated.format()
	rec.InsertedAt = inserted.format()

	if rec.InsertedAtIST, err = s.display(row, idx.insertedIST, inserted); err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColInsertedAtIST, err)
	}
	if rec.UpdatedAtIST, err = s.display(row, idx.updatedIST, updated); err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColUpdatedAtIST, err)
	}

	if idx.latency >= 0 {
		rec.LatencyHours, err = toFloat(cell(row, idx.latency))
	} else {
		rec.LatencyHours = s.latencyHours(runDate, inserted)
	}
	if err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColLatencyHours, err)
	}

	if idx.availability >= 0 {
		rec.AvailabilitySeconds, err = toFloat(cell(row, idx.availability))
	} else {
		rec.AvailabilitySeconds = s.availabilitySeconds(inserted)
	}
	if err != nil {
		return rec, fmt.Errorf("%s: %w", warehouse.ColAvailabilitySeconds, err)
	}

	return rec, nil
}

func (s *Shaper) display(row []any, pos int, ts timestamp) (*string, error) {
	if pos >= 0 {
		v := cell(row, pos)
		if v == nil {
			return nil, nil
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected %T", v)
		}
		return &str, nil
	}
	if !ts.valid {
		return nil, nil
	}
	out := ts.instant().In(s.Location).Format(DisplayLayout)
	return &out, nil
}

// LatencyHours is the number of hours between market close on runDate and
// insertedAt, both taken in loc.
func LatencyHours(loc *time.Location, marketClose time.Duration, runDate, insertedAt time.Time) float64 {
	closeAt := time.Date(runDate.Year(), runDate.Month(), runDate.Day(),
		int(marketClose/time.Hour), int((marketClose%time.Hour)/time.Minute), 0, 0, loc)
	return insertedAt.Sub(closeAt).Hours()
}

// AvailabilitySeconds is the time of day of insertedAt in loc, in seconds.
func AvailabilitySeconds(loc *time.Location, insertedAt time.Time) float64 {
	local := insertedAt.In(loc)
	whole := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return float64(whole) + float64(local.Nanosecond())/1e9
}

func (s *Shaper) latencyHours(runDate time.Time, inserted timestamp) *float64 {
	if !inserted.valid {
		return nil
	}
	v := LatencyHours(s.Location, s.MarketClose, runDate, inserted.instant())
	return &v
}

func (s *Shaper) availabilitySeconds(inserted timestamp) *float64 {
	if !inserted.valid {
		return nil
	}
	v := AvailabilitySeconds(s.Location, inserted.instant())
	return &v
}

func cell(row []any, pos int) any {
	if pos < 0 || pos >= len(row) {
		return nil
	}
	return row[pos]
}

func formatDate(v any) (string, error) {
	d, err := toDate(v)
	if err != nil {
		return "", err
	}
	return d.Format(DateLayout), nil
}

func toDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, errors.New("date is null")
	case time.Time:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case []byte:
		return toDate(string(t))
	case string:
		s := strings.TrimSpace(t)
		if len(s) < len(DateLayout) {
			return time.Time{}, fmt.Errorf("unparseable date %q", t)
		}
		d, err := time.Parse(DateLayout, s[:len(DateLayout)])
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable date %q", t)
		}
		return d, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected date type %T", v)
	}
}

func toAmount(v any) (Amount, error) {
	switch t := v.(type) {
	case nil:
		return Amount{}, nil
	case decimal.Decimal:
		return NewAmount(t), nil
	case decimal.NullDecimal:
		return Amount{t}, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return Amount{}, fmt.Errorf("unparseable amount %q", t)
		}
		return NewAmount(d), nil
	case []byte:
		return toAmount(string(t))
	case float64:
		return NewAmount(decimal.NewFromFloat(t)), nil
	case float32:
		return NewAmount(decimal.NewFromFloat32(t)), nil
	case int64:
		return NewAmount(decimal.NewFromInt(t)), nil
	case int:
		return NewAmount(decimal.NewFromInt(int64(t))), nil
	default:
		return Amount{}, fmt.Errorf("unexpected amount type %T", v)
	}
}

func toFloat(v any) (*float64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	case decimal.Decimal:
		f = t.InexactFloat64()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable number %q", t)
		}
		f = parsed
	case []byte:
		return toFloat(string(t))
	default:
		return nil, fmt.Errorf("unexpected number type %T", v)
	}
	return &f, nil
}

// timestamp remembers whether the source value carried zone information.
type timestamp struct {
	t     time.Time
	zoned bool
	valid bool
}

// instant interprets naive values as UTC.
func (ts timestamp) instant() time.Time {
	if ts.zoned {
		return ts.t
	}
	return time.Date(ts.t.Year(), ts.t.Month(), ts.t.Day(), ts.t.Hour(), ts.t.Minute(), ts.t.Second(), ts.t.Nanosecond(), time.UTC)
}

func (ts timestamp) format() *string {
	if !ts.valid {
		return nil
	}
	var out string
	if ts.zoned {
		out = ts.t.UTC().Format(TimestampLayout)
	} else {
		out = ts.t.Format(NaiveTimestampLayout)
	}
	return &out
}

func toTimestamp(v any) (timestamp, error) {
	switch t := v.(type) {
	case nil:
		return timestamp{}, nil
	case time.Time:
		return timestamp{t: t, zoned: true, valid: true}, nil
	case []byte:
		return toTimestamp(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range zonedLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return timestamp{t: parsed, zoned: true, valid: true}, nil
			}
		}
		for _, layout := range naiveLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return timestamp{t: parsed, valid: true}, nil
			}
		}
		return timestamp{}, fmt.Errorf("unparseable timestamp %q", t)
	default:
		return timestamp{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
