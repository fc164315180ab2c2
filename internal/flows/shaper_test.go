package flows

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"github.com/stirandas/nfd-visualizations/internal/warehouse"
)

var contractFields = []string{
	"RUN_DT", "DII_BUY", "DII_SELL", "DII_NET", "FII_BUY", "FII_SELL", "FII_NET",
	"U_TS", "I_TS", "I_TS_IST", "U_TS_IST", "LATENCY_HOURS", "AVAILABILITY_SECONDS",
}

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load Asia/Kolkata: %v", err)
	}
	return loc
}

func testShaper(t *testing.T) *Shaper {
	return NewShaper(ist(t), 15*time.Hour+30*time.Minute)
}

func rawResult(rows ...[]any) *warehouse.ResultSet {
	return &warehouse.ResultSet{
		Columns: []string{"run_dt", "dii_buy", "dii_sell", "dii_net", "fii_buy", "fii_sell", "fii_net", "u_ts", "i_ts"},
		Rows:    rows,
	}
}

func TestShapeMinimalRoundTrip(t *testing.T) {
	rs := &warehouse.ResultSet{
		Columns: []string{"run_dt", "dii_net", "fii_net"},
		Rows: [][]any{
			{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("120.50"), decimal.RequireFromString("-45.25")},
		},
	}

	records, err := testShaper(t).ShapeMinimal(rs)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	body, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}

	var got []map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"RUN_DT": "2024-01-15", "DII_NET": 120.50, "FII_NET": -45.25}
	if len(got) != 1 || len(got[0]) != len(want) {
		t.Fatalf("unexpected payload %s", body)
	}
	for k, v := range want {
		if got[0][k] != v {
			t.Fatalf("%s: want %v, got %v (%s)", k, v, got[0][k], body)
		}
	}
}

func TestShapeFullLatencyAndAvailability(t *testing.T) {
	inserted, err := time.Parse(time.RFC3339, "2024-01-15T17:00:00+05:30")
	if err != nil {
		t.Fatal(err)
	}
	rs := rawResult([]any{
		"2024-01-15", "200.50", "80.00", "120.50", "100.00", "145.25", "-45.25",
		inserted.Add(30 * time.Minute), inserted,
	})

	records, err := testShaper(t).ShapeFull(rs)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	rec := records[0]
	if rec.LatencyHours == nil || *rec.LatencyHours != 1.5 {
		t.Fatalf("latency should be 1.5h, got %v", rec.LatencyHours)
	}
	if rec.AvailabilitySeconds == nil || *rec.AvailabilitySeconds != 17*3600 {
		t.Fatalf("availability should be 61200s, got %v", rec.AvailabilitySeconds)
	}
	if rec.InsertedAtIST == nil || *rec.InsertedAtIST != "15-Jan-2024 17:00" {
		t.Fatalf("unexpected I_TS_IST %v", rec.InsertedAtIST)
	}
	if rec.UpdatedAtIST == nil || *rec.UpdatedAtIST != "15-Jan-2024 17:30" {
		t.Fatalf("unexpected U_TS_IST %v", rec.UpdatedAtIST)
	}
	if rec.InsertedAt == nil || *rec.InsertedAt != "2024-01-15 11:30:00+0000" {
		t.Fatalf("unexpected I_TS %v", rec.InsertedAt)
	}
	if !rec.DIINet.Valid || rec.DIINet.Decimal.String() != "120.5" {
		t.Fatalf("unexpected DII_NET %v", rec.DIINet)
	}
}

func TestShapeFullPrefersSourceDerivedColumns(t *testing.T) {
	rs := rawResult([]any{
		"2024-01-15", "1", "1", "0", "1", "1", "0",
		"2024-01-15 12:00:00+00", "2024-01-15 11:30:00+00",
	})
	rs.Columns = append(rs.Columns, "i_ts_ist", "u_ts_ist", "latency_hours", "availability_seconds")
	rs.Rows[0] = append(rs.Rows[0], "15-Jan-2024 17:00", "15-Jan-2024 17:30", decimal.RequireFromString("1.5"), decimal.RequireFromString("61200.000000"))

	records, err := testShaper(t).ShapeFull(rs)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	rec := records[0]
	if *rec.LatencyHours != 1.5 || *rec.AvailabilitySeconds != 61200 {
		t.Fatalf("source values not used: %v %v", *rec.LatencyHours, *rec.AvailabilitySeconds)
	}
	if *rec.InsertedAtIST != "15-Jan-2024 17:00" {
		t.Fatalf("unexpected I_TS_IST %s", *rec.InsertedAtIST)
	}
}

func TestShapeFullFieldSet(t *testing.T) {
	rs := rawResult(
		[]any{"2024-01-15", "1", "1", "0", "1", "1", "0", nil, nil},
	)
	records, err := testShaper(t).ShapeFull(rs)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	body, _ := json.Marshal(records)

	var got []map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0, len(got[0]))
	for k := range got[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := append([]string(nil), contractFields...)
	sort.Strings(want)
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("field set mismatch:\n got %v\nwant %v", keys, want)
	}
	for _, k := range []string{"U_TS", "I_TS", "I_TS_IST", "LATENCY_HOURS", "AVAILABILITY_SECONDS"} {
		if got[0][k] != nil {
			t.Fatalf("%s should be null when I_TS/U_TS are null, got %v", k, got[0][k])
		}
	}
}

func TestShapeFullNaiveTimestamps(t *testing.T) {
	rs := rawResult([]any{
		"2024-01-15", "1", "1", "0", "1", "1", "0",
		warehouse.NaiveTimestamp(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)),
		"2024-01-15 11:30:00",
	})
	records, err := testShaper(t).ShapeFull(rs)
	if err != nil {
		t.Fatalf("naive timestamps must not fail: %v", err)
	}
	rec := records[0]
	if *rec.InsertedAt != "2024-01-15 11:30:00" || *rec.UpdatedAt != "2024-01-15 12:00:00" {
		t.Fatalf("naive timestamps should be rendered without offset: %s %s", *rec.InsertedAt, *rec.UpdatedAt)
	}
	if *rec.LatencyHours != 1.5 {
		t.Fatalf("naive I_TS is read as UTC, latency want 1.5 got %v", *rec.LatencyHours)
	}
}

func TestShapePreservesOrderAndEmpty(t *testing.T) {
	rs := rawResult(
		[]any{"2024-01-15", "1", "1", "0", "1", "1", "0", nil, nil},
		[]any{"2024-01-16", "1", "1", "0", "1", "1", "0", nil, nil},
		[]any{"2024-01-17", "1", "1", "0", "1", "1", "0", nil, nil},
	)
	records, err := testShaper(t).ShapeFull(rs)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i, rec := range records {
		if seen[rec.RunDate] {
			t.Fatalf("duplicate RUN_DT %s", rec.RunDate)
		}
		seen[rec.RunDate] = true
		if i > 0 && records[i-1].RunDate > rec.RunDate {
			t.Fatalf("order not preserved at %d", i)
		}
	}

	empty, err := testShaper(t).ShapeFull(rawResult())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(empty)
	if string(body) != "[]" {
		t.Fatalf("empty result should encode as [], got %s", body)
	}
}

func TestShapeFailures(t *testing.T) {
	s := testShaper(t)

	missing := &warehouse.ResultSet{Columns: []string{"run_dt", "dii_net"}}
	if _, err := s.ShapeMinimal(missing); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if _, err := s.ShapeFull(missing); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}

	cases := map[string][]any{
		"bad timestamp": {"2024-01-15", "1", "1", "0", "1", "1", "0", "yesterday", nil},
		"bad amount":    {"2024-01-15", "lots", "1", "0", "1", "1", "0", nil, nil},
		"null date":     {nil, "1", "1", "0", "1", "1", "0", nil, nil},
		"bad date type": {true, "1", "1", "0", "1", "1", "0", nil, nil},
	}
	for name, row := range cases {
		ok := []any{"2024-01-14", "1", "1", "0", "1", "1", "0", nil, nil}
		if records, err := s.ShapeFull(rawResult(ok, row)); err == nil || records != nil {
			t.Fatalf("%s: whole shape must fail without partial records", name)
		}
	}
}

func TestDerivationHelpers(t *testing.T) {
	loc := ist(t)
	runDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	inserted := time.Date(2024, 1, 16, 9, 15, 30, 500_000_000, loc)

	latency := LatencyHours(loc, 15*time.Hour+30*time.Minute, runDate, inserted)
	if math.Abs(latency-(17.75+30.5/3600)) > 1e-9 {
		t.Fatalf("unexpected latency %v", latency)
	}
	if got := AvailabilitySeconds(loc, inserted); got != 9*3600+15*60+30.5 {
		t.Fatalf("unexpected availability %v", got)
	}
}

func TestAmountJSON(t *testing.T) {
	body, _ := json.Marshal([]Amount{NewAmount(decimal.RequireFromString("-45.25")), {}})
	if string(body) != "[-45.25,null]" {
		t.Fatalf("unexpected encoding %s", body)
	}
	if NewAmount(decimal.RequireFromString("120.5")).String() != "120.50" {
		t.Fatal("String should render two decimals")
	}
}
