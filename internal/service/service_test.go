package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/stirandas/nfd-visualizations/internal/flows"
	"github.com/stirandas/nfd-visualizations/internal/warehouse"
	"github.com/stirandas/nfd-visualizations/internal/warehouse/memory"
)

func newFixtureService(t *testing.T, projection warehouse.Projection) (*Service, *memory.Backend) {
	t.Helper()
	backend, err := memory.FromCSV(filepath.Join("testdata", "flows.csv"))
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	shaper := flows.NewShaper(loc, 15*time.Hour+30*time.Minute)
	return New(backend, shaper, projection, zerolog.Nop()), backend
}

func TestFullOrderedAndUnique(t *testing.T) {
	svc, backend := newFixtureService(t, warehouse.ProjectionFull)

	records, err := svc.Full(context.Background())
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	seen := make(map[string]struct{})
	for i, rec := range records {
		if _, ok := seen[rec.RunDate]; ok {
			t.Fatalf("duplicate RUN_DT %s", rec.RunDate)
		}
		seen[rec.RunDate] = struct{}{}
		if i > 0 && records[i-1].RunDate >= rec.RunDate {
			t.Fatalf("records not ascending at %d: %s then %s", i, records[i-1].RunDate, rec.RunDate)
		}
	}

	first := records[0]
	if first.RunDate != "2024-01-15" || first.DIINet.String() != "120.50" || first.FIINet.String() != "-45.25" {
		t.Fatalf("unexpected first record %+v", first)
	}
	if first.LatencyHours == nil || *first.LatencyHours != 1.5 {
		t.Fatalf("expected 1.5h latency, got %v", first.LatencyHours)
	}
	if records[3].InsertedAt != nil || records[3].LatencyHours != nil {
		t.Fatal("null I_TS should leave derived fields null")
	}

	connects, releases := backend.Stats()
	if connects != 1 || releases != 1 {
		t.Fatalf("expected exactly one connection per call, got %d/%d", connects, releases)
	}
}

func TestDataFollowsProjection(t *testing.T) {
	svc, _ := newFixtureService(t, warehouse.ProjectionMinimal)

	data, err := svc.Data(context.Background())
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	net, ok := data.([]flows.NetFlowRecord)
	if !ok {
		t.Fatalf("minimal projection should yield NetFlowRecord, got %T", data)
	}
	body, _ := json.Marshal(net[0])
	if string(body) != `{"RUN_DT":"2024-01-15","DII_NET":120.5,"FII_NET":-45.25}` {
		t.Fatalf("unexpected record %s", body)
	}

	svc, _ = newFixtureService(t, warehouse.ProjectionFull)
	data, err = svc.Data(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := data.([]flows.FlowRecord); !ok {
		t.Fatalf("full projection should yield FlowRecord, got %T", data)
	}
}

func TestDataUnavailableStages(t *testing.T) {
	boom := errors.New("password authentication failed")

	cases := []struct {
		name  string
		setup func(*memory.Backend)
		stage string
	}{
		{"connect", func(b *memory.Backend) { b.ConnectErr = boom }, StageConnect},
		{"query", func(b *memory.Backend) { b.QueryErr = boom }, StageQuery},
	}
	for _, tc := range cases {
		svc, backend := newFixtureService(t, warehouse.ProjectionFull)
		tc.setup(backend)

		records, err := svc.Full(context.Background())
		if records != nil {
			t.Fatalf("%s: no partial records expected", tc.name)
		}
		var unavailableErr *DataUnavailableError
		if !errors.As(err, &unavailableErr) || unavailableErr.Stage != tc.stage {
			t.Fatalf("%s: expected stage %s, got %v", tc.name, tc.stage, err)
		}
		if !errors.Is(err, ErrDataUnavailable) || !errors.Is(err, boom) {
			t.Fatalf("%s: error chain broken: %v", tc.name, err)
		}
		connects, releases := backend.Stats()
		if connects != releases {
			t.Fatalf("%s: connection leaked (%d/%d)", tc.name, connects, releases)
		}
	}
}

func TestShapeFailureIsUnavailable(t *testing.T) {
	table := &warehouse.ResultSet{
		Columns: []string{"RUN_DT", "DII_BUY", "DII_SELL", "DII_NET", "FII_BUY", "FII_SELL", "FII_NET", "U_TS", "I_TS"},
		Rows:    [][]any{{"2024-01-15", "1", "1", "0", "1", "1", "0", "not a time", nil}},
	}
	svc := New(memory.New(table), nil, warehouse.ProjectionFull, zerolog.Nop())

	_, err := svc.Full(context.Background())
	var unavailableErr *DataUnavailableError
	if !errors.As(err, &unavailableErr) || unavailableErr.Stage != StageShape {
		t.Fatalf("expected shape failure, got %v", err)
	}
}

func TestEmptyTable(t *testing.T) {
	table := &warehouse.ResultSet{Columns: append([]string(nil), warehouse.RawColumns...)}
	svc := New(memory.New(table), nil, warehouse.ProjectionFull, zerolog.Nop())

	data, err := svc.Data(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(data)
	if string(body) != "[]" {
		t.Fatalf("empty table should encode as [], got %s", body)
	}
}

func TestNilBackend(t *testing.T) {
	svc := New(nil, nil, warehouse.ProjectionFull, zerolog.Nop())
	if _, err := svc.Data(context.Background()); !errors.Is(err, warehouse.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	svc, backend := newFixtureService(t, warehouse.ProjectionFull)

	report, err := svc.Inspect(context.Background(), 2)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.Backend != "csv" || len(report.Columns) != 9 || report.Sample.Len() != 2 {
		t.Fatalf("unexpected inspection %+v", report)
	}

	backend.QueryErr = errors.New("denied")
	if _, err := svc.Inspect(context.Background(), 1); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
}
