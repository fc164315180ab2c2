// Package service runs the request-scoped connect, query and shape cycle behind /data.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stirandas/nfd-visualizations/internal/flows"
	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

// ErrDataUnavailable matches every DataUnavailableError via errors.Is.
var ErrDataUnavailable = errors.New("data unavailable")

// Failure stages reported by DataUnavailableError.
const (
	StageConnect = "connect"
	StageQuery   = "query"
	StageShape   = "shape"
)

// DataUnavailableError is the single failure kind surfaced to callers.
type DataUnavailableError struct {
	Stage string
	Err   error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// Is reports true for ErrDataUnavailable.
func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

func unavailable(stage string, err error) error {
	return &DataUnavailableError{Stage: stage, Err: err}
}

// Service reads flow rows from one backend.
type Service struct {
	backend    warehouse.Backend
	shaper     *flows.Shaper
	projection warehouse.Projection
	logger     zerolog.Logger
}

// New constructs the service. A nil shaper uses UTC and no market close offset.
func New(backend warehouse.Backend, shaper *flows.Shaper, projection warehouse.Projection, logger zerolog.Logger) *Service {
	if shaper == nil {
		shaper = flows.NewShaper(time.UTC, 0)
	}
	return &Service{
		backend:    backend,
		shaper:     shaper,
		projection: projection,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Projection returns the projection served by Data.
func (s *Service) Projection() warehouse.Projection {
	return s.projection
}

// Data returns []flows.FlowRecord or []flows.NetFlowRecord depending on the
// configured projection.
func (s *Service) Data(ctx context.Context) (any, error) {
	if s.projection == warehouse.ProjectionMinimal {
		return s.Net(ctx)
	}
	return s.Full(ctx)
}

// Full reads every record with the full projection.
func (s *Service) Full(ctx context.Context) ([]flows.FlowRecord, error) {
	rs, err := s.query(ctx, warehouse.ProjectionFull)
	if err != nil {
		return nil, err
	}
	records, err := s.shaper.ShapeFull(rs)
	if err != nil {
		return nil, unavailable(StageShape, err)
	}
	return records, nil
}

// Net reads every record with the minimal projection.
func (s *Service) Net(ctx context.Context) ([]flows.NetFlowRecord, error) {
	rs, err := s.query(ctx, warehouse.ProjectionMinimal)
	if err != nil {
		return nil, err
	}
	records, err := s.shaper.ShapeMinimal(rs)
	if err != nil {
		return nil, unavailable(StageShape, err)
	}
	return records, nil
}

func (s *Service) query(ctx context.Context, projection warehouse.Projection) (*warehouse.ResultSet, error) {
	if s.backend == nil {
		return nil, unavailable(StageConnect, warehouse.ErrNotConfigured)
	}

	start := time.Now()
	conn, err := s.backend.Connect(ctx)
	if err != nil {
		return nil, unavailable(StageConnect, err)
	}
	defer s.release(conn)

	rs, err := conn.QueryFlowRows(ctx, projection)
	if err != nil {
		return nil, unavailable(StageQuery, err)
	}

	s.logger.Debug().
		Str("backend", s.backend.Name()).
		Str("projection", projection.String()).
		Int("rows", rs.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("flow rows fetched")
	return rs, nil
}

// release uses a fresh context so a cancelled request still returns its connection.
func (s *Service) release(conn warehouse.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release connection")
	}
}

// Inspection describes the flow table and a few of its rows.
type Inspection struct {
	Backend string
	Columns []warehouse.Column
	Sample  *warehouse.ResultSet
}

// Inspect reports the table columns and up to sample rows.
func (s *Service) Inspect(ctx context.Context, sample int) (Inspection, error) {
	var out Inspection
	if s.backend == nil {
		return out, unavailable(StageConnect, warehouse.ErrNotConfigured)
	}
	out.Backend = s.backend.Name()

	conn, err := s.backend.Connect(ctx)
	if err != nil {
		return out, unavailable(StageConnect, err)
	}
	defer s.release(conn)

	if out.Columns, err = conn.DescribeTable(ctx); err != nil {
		return out, unavailable(StageQuery, fmt.Errorf("describe table: %w", err))
	}
	if sample > 0 {
		if out.Sample, err = conn.SampleRows(ctx, sample); err != nil {
			return out, unavailable(StageQuery, fmt.Errorf("sample rows: %w", err))
		}
	}
	return out, nil
}
