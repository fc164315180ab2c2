// Package warehouse defines the data source adapter shared by every backend
// that can serve the FII/DII flow table.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotConfigured indicates the backend has no live handle.
	ErrNotConfigured = errors.New("warehouse: backend not configured")
	// ErrUnknownProjection is returned by ParseProjection.
	ErrUnknownProjection = errors.New("warehouse: unknown projection")
)

// Projection selects which SELECT list is executed against the flow table.
type Projection int

const (
	// ProjectionFull returns every raw column plus the derived display columns.
	ProjectionFull Projection = iota
	// ProjectionMinimal returns RUN_DT, DII_NET and FII_NET.
	ProjectionMinimal
)

func (p Projection) String() string {
	switch p {
	case ProjectionFull:
		return "full"
	case ProjectionMinimal:
		return "minimal"
	default:
		return fmt.Sprintf("projection(%d)", int(p))
	}
}

// ParseProjection maps a configuration value to a Projection.
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ProjectionFull, nil
	case "minimal":
		return ProjectionMinimal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProjection, s)
	}
}

// Column names of the flow table. Derived columns only exist in query results.
const (
	ColRunDate             = "RUN_DT"
	ColDIIBuy              = "DII_BUY"
	ColDIISell             = "DII_SELL"
	ColDIINet              = "DII_NET"
	ColFIIBuy              = "FII_BUY"
	ColFIISell             = "FII_SELL"
	ColFIINet              = "FII_NET"
	ColUpdatedAt           = "U_TS"
	ColInsertedAt          = "I_TS"
	ColInsertedAtIST       = "I_TS_IST"
	ColUpdatedAtIST        = "U_TS_IST"
	ColLatencyHours        = "LATENCY_HOURS"
	ColAvailabilitySeconds = "AVAILABILITY_SECONDS"
)

// RawColumns lists the stored columns in contract order.
var RawColumns = []string{
	ColRunDate,
	ColDIIBuy, ColDIISell, ColDIINet,
	ColFIIBuy, ColFIISell, ColFIINet,
	ColUpdatedAt, ColInsertedAt,
}

// MinimalColumns lists the minimal projection.
var MinimalColumns = []string{ColRunDate, ColDIINet, ColFIINet}

// Columns returns the raw columns a projection needs from the table.
func (p Projection) Columns() []string {
	if p == ProjectionMinimal {
		return MinimalColumns
	}
	return RawColumns
}

// ResultSet is a tabular query result with named columns.
// Column names are reported as the driver returns them.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Index returns the position of a column, matched case-insensitively, or -1.
func (r *ResultSet) Index(name string) int {
	for i, col := range r.Columns {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Column describes a table column as reported by the warehouse catalogue.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Backend opens connections to one warehouse.
type Backend interface {
	Name() string
	Connect(ctx context.Context) (Conn, error)
	Close()
}

// Conn is a single warehouse connection scoped to one request.
type Conn interface {
	QueryFlowRows(ctx context.Context, projection Projection) (*ResultSet, error)
	DescribeTable(ctx context.Context) ([]Column, error)
	SampleRows(ctx context.Context, limit int) (*ResultSet, error)
	Close(ctx context.Context) error
}

// NaiveTimestampLayout renders timestamps that carry no zone at the source.
// Backends report such values as strings so the zone is not invented later.
const NaiveTimestampLayout = "2006-01-02 15:04:05.999999999"

// NaiveTimestamp formats a zone-less timestamp using its wall clock.
func NaiveTimestamp(t time.Time) string {
	return t.Format(NaiveTimestampLayout)
}

// SplitTable returns the schema (if any) and table name of a possibly
// qualified identifier such as db.schema.table.
func SplitTable(ident string) (schema, table string) {
	parts := strings.Split(ident, ".")
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
