package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stirandas/nfd-visualizations/internal/service"
	"github.com/stirandas/nfd-visualizations/internal/warehouse"
	"github.com/stirandas/nfd-visualizations/internal/warehouse/memory"
)

const fixture = `RUN_DT,DII_BUY,DII_SELL,DII_NET,FII_BUY,FII_SELL,FII_NET,U_TS,I_TS
2024-01-16,10,5,5,8,9,-1,2024-01-16T12:00:00Z,2024-01-16T11:45:00Z
2024-01-15,200.50,80.00,120.50,100.00,145.25,-45.25,2024-01-15T12:00:00Z,2024-01-15T11:30:00Z
`

type panicSource struct{}

func (panicSource) Data(context.Context) (any, error) { panic("boom") }

func newTestServer(t *testing.T, backend *memory.Backend, projection warehouse.Projection, expose bool) *Server {
	t.Helper()
	svc := service.New(backend, nil, projection, zerolog.Nop())
	return New(svc, Options{Host: "127.0.0.1", Port: 8000, ExposeErrors: expose}, zerolog.Nop())
}

func fixtureBackend(t *testing.T) *memory.Backend {
	t.Helper()
	table, err := memory.ReadCSV(strings.NewReader(fixture))
	if err != nil {
		t.Fatal(err)
	}
	return memory.New(table)
}

func do(t *testing.T, s *Server, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestHealthDoesNotTouchSource(t *testing.T) {
	backend := fixtureBackend(t)
	backend.ConnectErr = errors.New("database is down")
	s := newTestServer(t, backend, warehouse.ProjectionFull, true)

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}
	if connects, _ := backend.Stats(); connects != 0 {
		t.Fatalf("health must not connect, got %d connects", connects)
	}
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, fixtureBackend(t), warehouse.ProjectionFull, true)

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || payload["message"] != WelcomeMessage {
		t.Fatalf("unexpected root response %d %s", resp.StatusCode, body)
	}
}

func TestDataFull(t *testing.T) {
	backend := fixtureBackend(t)
	s := newTestServer(t, backend, warehouse.ProjectionFull, true)

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/data", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %s", ct)
	}

	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[0]["RUN_DT"] != "2024-01-15" || records[1]["RUN_DT"] != "2024-01-16" {
		t.Fatalf("unexpected records %s", body)
	}
	if len(records[0]) != 13 {
		t.Fatalf("expected 13 fields, got %d", len(records[0]))
	}
	if records[0]["DII_NET"] != 120.5 || records[0]["FII_NET"] != -45.25 {
		t.Fatalf("unexpected amounts %v %v", records[0]["DII_NET"], records[0]["FII_NET"])
	}

	connects, releases := backend.Stats()
	if connects != 1 || releases != 1 {
		t.Fatalf("expected one connection per request, got %d/%d", connects, releases)
	}
}

func TestDataMinimal(t *testing.T) {
	s := newTestServer(t, fixtureBackend(t), warehouse.ProjectionMinimal, true)

	_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/data", nil))
	want := `[{"RUN_DT":"2024-01-15","DII_NET":120.5,"FII_NET":-45.25},{"RUN_DT":"2024-01-16","DII_NET":5,"FII_NET":-1}]`
	if string(body) != want {
		t.Fatalf("unexpected body\n got %s\nwant %s", body, want)
	}
}

func TestDataEmpty(t *testing.T) {
	backend := memory.New(&warehouse.ResultSet{Columns: warehouse.RawColumns})
	s := newTestServer(t, backend, warehouse.ProjectionFull, true)

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/data", nil))
	if resp.StatusCode != http.StatusOK || string(body) != "[]" {
		t.Fatalf("empty table should be 200 [], got %d %s", resp.StatusCode, body)
	}
}

func TestDataFailure(t *testing.T) {
	cases := []struct {
		name   string
		expose bool
		setup  func(*memory.Backend)
		detail string
	}{
		{"connect exposed", true, func(b *memory.Backend) { b.ConnectErr = errors.New("password authentication failed") }, "connect: password authentication failed"},
		{"query exposed", true, func(b *memory.Backend) { b.QueryErr = errors.New("relation does not exist") }, "query: relation does not exist"},
		{"query redacted", false, func(b *memory.Backend) { b.QueryErr = errors.New("relation does not exist") }, redactedDetail},
	}
	for _, tc := range cases {
		backend := fixtureBackend(t)
		tc.setup(backend)
		s := newTestServer(t, backend, warehouse.ProjectionFull, tc.expose)

		resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/data", nil))
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", tc.name, resp.StatusCode)
		}
		if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
			t.Fatalf("%s: failure must not return an array: %s", tc.name, body)
		}
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("%s: body is not JSON: %s", tc.name, body)
		}
		if payload["detail"] != tc.detail {
			t.Fatalf("%s: unexpected detail %q", tc.name, payload["detail"])
		}
	}
}

func TestPanicRecovered(t *testing.T) {
	s := New(panicSource{}, Options{ExposeErrors: false}, zerolog.Nop())

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/data", nil))
	if resp.StatusCode != http.StatusInternalServerError || strings.Contains(string(body), "boom") {
		t.Fatalf("panic should become a redacted 500, got %d %s", resp.StatusCode, body)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, fixtureBackend(t), warehouse.ProjectionFull, true)

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), `"detail"`) {
		t.Fatalf("unexpected 404 response %d %s", resp.StatusCode, body)
	}
}

func TestCORSAndRequestID(t *testing.T) {
	s := newTestServer(t, fixtureBackend(t), warehouse.ProjectionFull, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	resp, _ := do(t, s, req)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected permissive origin, got %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/data", nil)
	preflight.Header.Set("Origin", "https://dashboard.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	preflight.Header.Set("Access-Control-Request-Headers", "X-Custom-Header")
	resp, _ = do(t, s, preflight)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.EqualFold(got, "X-Custom-Header") {
		t.Fatalf("requested headers should be allowed, got %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), http.MethodGet) {
		t.Fatalf("GET should be allowed, got %q", resp.Header.Get("Access-Control-Allow-Methods"))
	}
}
