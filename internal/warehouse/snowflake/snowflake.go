// Package snowflake serves the flow table from a Snowflake warehouse.
//
// Only raw columns are selected; the display and latency columns are derived
// by the shaper so both warehouses produce identical records.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/stirandas/nfd-visualizations/internal/config"
	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

const (
	flowRowsSQL = `SELECT
        %[2]s
    FROM %[1]s
    ORDER BY RUN_DT ASC`

	describeTableSQL = `SELECT
        COLUMN_NAME,
        DATA_TYPE,
        IS_NULLABLE = 'YES'
    FROM INFORMATION_SCHEMA.COLUMNS
    WHERE TABLE_NAME = ?
      AND (? = '' OR TABLE_SCHEMA = ?)
    ORDER BY ORDINAL_POSITION`

	sampleRowsSQL = `SELECT * FROM %[1]s LIMIT %[2]d`
)

// Backend opens database/sql connections through the gosnowflake driver.
type Backend struct {
	db     *sql.DB
	table  string
	logger zerolog.Logger
}

// DSN renders the driver connection string from configuration.
func DSN(cfg config.SnowflakeConfig) (string, error) {
	auth, err := authenticator(cfg.Authenticator)
	if err != nil {
		return "", err
	}
	return sf.DSN(&sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Password:      cfg.Password,
		Role:          cfg.Role,
		Warehouse:     cfg.Warehouse,
		Database:      cfg.Database,
		Schema:        cfg.Schema,
		Authenticator: auth,
		LoginTimeout:  cfg.LoginTimeout,
	})
}

func authenticator(name string) (sf.AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snowflake":
		return sf.AuthTypeSnowflake, nil
	case "externalbrowser":
		return sf.AuthTypeExternalBrowser, nil
	case "oauth":
		return sf.AuthTypeOAuth, nil
	case "snowflake_jwt":
		return sf.AuthTypeJwt, nil
	case "username_password_mfa":
		return sf.AuthTypeUsernamePasswordMFA, nil
	default:
		return 0, fmt.Errorf("unsupported snowflake authenticator %q", name)
	}
}

// Open prepares a handle without dialing; the first Connect authenticates.
func Open(cfg config.SnowflakeConfig, table string, logger zerolog.Logger) (*Backend, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	return New(db, table, logger), nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB, table string, logger zerolog.Logger) *Backend {
	return &Backend{
		db:     db,
		table:  table,
		logger: logger.With().Str("component", "snowflake").Logger(),
	}
}

// Name identifies the backend in logs.
func (b *Backend) Name() string { return "snowflake" }

// Close releases the handle.
func (b *Backend) Close() {
	if b == nil || b.db == nil {
		return
	}
	if err := b.db.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("close snowflake handle")
	}
}

// Connect takes one dedicated connection.
func (b *Backend) Connect(ctx context.Context) (warehouse.Conn, error) {
	if b == nil || b.db == nil {
		return nil, warehouse.ErrNotConfigured
	}
	c, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}
	return &conn{conn: c, table: b.table, logger: b.logger}, nil
}

// QuerySQL renders the statement executed for a projection.
func QuerySQL(projection warehouse.Projection, table string) string {
	return fmt.Sprintf(flowRowsSQL, table, strings.Join(projection.Columns(), ",\n        "))
}

type conn struct {
	conn   *sql.Conn
	table  string
	logger zerolog.Logger
}

func (c *conn) QueryFlowRows(ctx context.Context, projection warehouse.Projection) (*warehouse.ResultSet, error) {
	c.logger.Debug().Str("projection", projection.String()).Msg("executing flow query")
	rows, err := c.conn.QueryContext(ctx, QuerySQL(projection, c.table))
	if err != nil {
		return nil, fmt.Errorf("execute %s projection: %w", projection, err)
	}
	return collect(rows)
}

func (c *conn) DescribeTable(ctx context.Context) ([]warehouse.Column, error) {
	schema, table := warehouse.SplitTable(c.table)
	schema, table = strings.ToUpper(schema), strings.ToUpper(table)

	rows, err := c.conn.QueryContext(ctx, describeTableSQL, table, schema, schema)
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
	return cols, rows.Err()
}

func (c *conn) SampleRows(ctx context.Context, limit int) (*warehouse.ResultSet, error) {
	rows, err := c.conn.QueryContext(ctx, fmt.Sprintf(sampleRowsSQL, c.table, limit))
	if err != nil {
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	return collect(rows)
}

func (c *conn) Close(context.Context) error {
	return c.conn.Close()
}

func collect(rows *sql.Rows) (*warehouse.ResultSet, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	rs := &warehouse.ResultSet{Columns: make([]string, len(types)), Rows: make([][]any, 0)}
	for i, ct := range types {
		rs.Columns[i] = ct.Name()
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rs.Rows), err)
		}
		for i, v := range values {
			values[i] = normalizeValue(types[i].DatabaseTypeName(), v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func normalizeValue(dbType string, v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		if strings.EqualFold(dbType, "TIMESTAMP_NTZ") {
			return warehouse.NaiveTimestamp(t)
		}
		return t
	default:
		return v
	}
}

var _ warehouse.Backend = (*Backend)(nil)
var _ warehouse.Conn = (*conn)(nil)
