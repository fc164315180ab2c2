// Package memory serves the flow table from an in-process result set, either
// built directly or loaded from a CSV fixture.
package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

var derivedColumns = []string{
	warehouse.ColInsertedAtIST,
	warehouse.ColUpdatedAtIST,
	warehouse.ColLatencyHours,
	warehouse.ColAvailabilitySeconds,
}

// Backend holds a table in memory. ConnectErr and QueryErr inject failures.
type Backend struct {
	name string

	mu         sync.Mutex
	table      *warehouse.ResultSet
	connects   int
	releases   int
	ConnectErr error
	QueryErr   error
}

// New wraps a result set as a backend. The table is not copied.
func New(table *warehouse.ResultSet) *Backend {
	if table == nil {
		table = &warehouse.ResultSet{}
	}
	return &Backend{name: "memory", table: table}
}

// FromCSV loads a fixture whose header row names the columns. Empty cells become NULL.
func FromCSV(path string) (*Backend, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	table, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	b := New(table)
	b.name = "csv"
	return b, nil
}

// ReadCSV parses CSV text into a result set of strings and nils.
func ReadCSV(r io.Reader) (*warehouse.ResultSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, err
	}

	table := &warehouse.ResultSet{Columns: make([]string, len(header))}
	for i, h := range header {
		table.Columns[i] = strings.TrimSpace(h)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]any, len(record))
		for i, cell := range record {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			row[i] = cell
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Name identifies the backend in logs.
func (b *Backend) Name() string { return b.name }

// Connect hands out a connection unless ConnectErr is set.
func (b *Backend) Connect(ctx context.Context) (warehouse.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConnectErr != nil {
		return nil, b.ConnectErr
	}
	b.connects++
	return &conn{backend: b}, nil
}

// Close is a no-op.
func (b *Backend) Close() {}

// Stats reports how many connections were opened and released.
func (b *Backend) Stats() (connects, releases int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.releases
}

type conn struct {
	backend *Backend
	closed  bool
}

func (c *conn) QueryFlowRows(ctx context.Context, projection warehouse.Projection) (*warehouse.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.QueryErr != nil {
		return nil, b.QueryErr
	}

	wanted := append([]string(nil), projection.Columns()...)
	if projection == warehouse.ProjectionFull {
		for _, col := range derivedColumns {
			if b.table.Index(col) >= 0 {
				wanted = append(wanted, col)
			}
		}
	}

	indexes := make([]int, len(wanted))
	for i, col := range wanted {
		idx := b.table.Index(col)
		if idx < 0 {
			return nil, fmt.Errorf("column %q does not exist", strings.ToLower(col))
		}
		indexes[i] = idx
	}

	out := &warehouse.ResultSet{Columns: make([]string, len(wanted)), Rows: make([][]any, 0, len(b.table.Rows))}
	for i, col := range wanted {
		out.Columns[i] = strings.ToLower(col)
	}
	for _, src := range b.table.Rows {
		row := make([]any, len(indexes))
		for i, idx := range indexes {
			if idx < len(src) {
				row[i] = src[idx]
			}
		}
		out.Rows = append(out.Rows, row)
	}

	// ORDER BY run_dt ASC
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return sortKey(out.Rows[i][0]) < sortKey(out.Rows[j][0])
	})
	return out, nil
}

func (c *conn) DescribeTable(ctx context.Context) ([]warehouse.Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	cols := make([]warehouse.Column, len(b.table.Columns))
	for i, name := range b.table.Columns {
		cols[i] = warehouse.Column{Name: strings.ToLower(name), DataType: columnType(b.table, i), Nullable: true}
	}
	return cols, nil
}

func (c *conn) SampleRows(ctx context.Context, limit int) (*warehouse.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.QueryErr != nil {
		return nil, b.QueryErr
	}

	n := len(b.table.Rows)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := &warehouse.ResultSet{Columns: append([]string(nil), b.table.Columns...)}
	for _, row := range b.table.Rows[:n] {
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out, nil
}

func (c *conn) Close(context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.backend.mu.Lock()
	c.backend.releases++
	c.backend.mu.Unlock()
	return nil
}

func sortKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02")
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func columnType(table *warehouse.ResultSet, idx int) string {
	for _, row := range table.Rows {
		if idx < len(row) && row[idx] != nil {
			return reflect.TypeOf(row[idx]).String()
		}
	}
	return "unknown"
}

var _ warehouse.Backend = (*Backend)(nil)
var _ warehouse.Conn = (*conn)(nil)
