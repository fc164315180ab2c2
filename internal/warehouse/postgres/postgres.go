// Package postgres serves the flow table from PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

const (
	fullProjectionSQL = `SELECT
        run_dt,
        dii_buy,
        dii_sell,
        dii_net,
        fii_buy,
        fii_sell,
        fii_net,
        u_ts,
        i_ts,
        to_char(i_ts AT TIME ZONE %[2]s, 'DD-Mon-YYYY HH24:MI') AS i_ts_ist,
        to_char(u_ts AT TIME ZONE %[2]s, 'DD-Mon-YYYY HH24:MI') AS u_ts_ist,
        EXTRACT(EPOCH FROM (i_ts - ((run_dt::timestamp + time %[3]s) AT TIME ZONE %[2]s))) / 3600 AS latency_hours,
        EXTRACT(EPOCH FROM (i_ts AT TIME ZONE %[2]s)::time) AS availability_seconds
    FROM %[1]s
    ORDER BY run_dt ASC;`

	minimalProjectionSQL = `SELECT
        run_dt,
        dii_net,
        fii_net
    FROM %[1]s
    ORDER BY run_dt ASC;`

	describeTableSQL = `SELECT
        column_name,
        data_type,
        is_nullable = 'YES'
    FROM information_schema.columns
    WHERE table_name = $1
      AND ($2 = '' OR table_schema = $2)
    ORDER BY ordinal_position;`

	sampleRowsSQL = `SELECT * FROM %[1]s LIMIT $1;`
)

// Options parameterise the PostgreSQL backend.
type Options struct {
	Table       string
	Timezone    string
	MarketClose time.Duration
}

// Backend hands out pooled connections, one per request.
type Backend struct {
	pool   *pgxpool.Pool
	opts   Options
	logger zerolog.Logger
}

// New wires a pgx pool into a Backend.
func New(pool *pgxpool.Pool, opts Options, logger zerolog.Logger) *Backend {
	return &Backend{
		pool:   pool,
		opts:   opts,
		logger: logger.With().Str("component", "postgres").Logger(),
	}
}

// Name identifies the backend in logs.
func (b *Backend) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (b *Backend) Close() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.Close()
}

func (b *Backend) getPool() (*pgxpool.Pool, error) {
	if b == nil || b.pool == nil {
		return nil, warehouse.ErrNotConfigured
	}
	return b.pool, nil
}

// Connect acquires one connection from the pool.
func (b *Backend) Connect(ctx context.Context) (warehouse.Conn, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, err
	}
	c, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{conn: c, opts: b.opts, logger: b.logger}, nil
}

// QuerySQL renders the statement executed for a projection.
func QuerySQL(projection warehouse.Projection, opts Options) string {
	if projection == warehouse.ProjectionMinimal {
		return fmt.Sprintf(minimalProjectionSQL, opts.Table)
	}
	return fmt.Sprintf(fullProjectionSQL, opts.Table, quoteLiteral(opts.Timezone), quoteLiteral(clock(opts.MarketClose)))
}

type conn struct {
	conn   *pgxpool.Conn
	opts   Options
	logger zerolog.Logger
}

func (c *conn) QueryFlowRows(ctx context.Context, projection warehouse.Projection) (*warehouse.ResultSet, error) {
	query := QuerySQL(projection, c.opts)
	c.logger.Debug().Str("projection", projection.String()).Msg("executing flow query")

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute %s projection: %w", projection, err)
	}
	return collect(rows)
}

func (c *conn) DescribeTable(ctx context.Context) ([]warehouse.Column, error) {
	schema, table := warehouse.SplitTable(c.opts.Table)
	rows, err := c.conn.Query(ctx, describeTableSQL, strings.ToLower(table), strings.ToLower(schema))
	if err != nil {
		return nil, fmt.Errorf("describe table: %w", err)
	}
	defer rows.Close()

	cols := make([]warehouse.Column, 0)
	for rows.Next() {
		var col warehouse.Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cols, nil
}

func (c *conn) SampleRows(ctx context.Context, limit int) (*warehouse.ResultSet, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf(sampleRowsSQL, c.opts.Table), limit)
	if err != nil {
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	return collect(rows)
}

func (c *conn) Close(context.Context) error {
	c.conn.Release()
	return nil
}

func collect(rows pgx.Rows) (*warehouse.ResultSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &warehouse.ResultSet{Columns: make([]string, len(fields)), Rows: make([][]any, 0)}
	for i, fd := range fields {
		rs.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rs.Rows), err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			nv, convErr := normalizeValue(fields[i].DataTypeOID, v)
			if convErr != nil {
				return nil, fmt.Errorf("row %d column %s: %w", len(rs.Rows), fields[i].Name, convErr)
			}
			row[i] = nv
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// normalizeValue converts pgx driver values into the types the shaper understands.
func normalizeValue(oid uint32, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case pgtype.Numeric:
		return numericToDecimal(t)
	case time.Time:
		if oid == pgtype.TimestampOID {
			return warehouse.NaiveTimestamp(t), nil
		}
		return t, nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return v, nil
	}
}

func numericToDecimal(n pgtype.Numeric) (any, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("numeric value is not finite")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func clock(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%02d:%02d", h, m)
}

var _ warehouse.Backend = (*Backend)(nil)
var _ warehouse.Conn = (*conn)(nil)
