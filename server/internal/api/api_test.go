package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
	"github.com/speedscope/speedscope/server/internal/alerts"
	"github.com/speedscope/speedscope/server/internal/api"
	"github.com/speedscope/speedscope/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

var base = time.Date(2024, 6, 3, 9, 0, 0, 0, time.Local)

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active() []*alerts.Alert { return f }

func record(source string, offset time.Duration, m health.Measurement, probe bool) types.Record {
	r := types.Record{
		Timestamp: types.Timestamp{Time: base.Add(offset)},
		Source:    source,
		Download:  m.DownloadMbps,
		Upload:    m.UploadMbps,
		Ping:      m.PingMs,
	}
	if probe {
		r.Jitter = types.Float(m.JitterMs)
		r.PacketLoss = types.Float(m.PacketLossPct)
	}
	return r
}

// newStore holds three records:
//
//	home   +0    100/50/10 healthy
//	office +30m  50/25/50 without probe data, unscored
//	home   +1h   5/3/150 critical, ISP Orange
func newStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	ctx := context.Background()

	good := health.Measurement{DownloadMbps: 100, UploadMbps: 50, PingMs: 10, JitterMs: 1}
	poor := health.Measurement{DownloadMbps: 5, UploadMbps: 3, PingMs: 150, JitterMs: 40, PacketLossPct: 5}

	goodRep := health.Evaluate(good)
	poorRep := health.Evaluate(poor)
	poorRec := record("home", time.Hour, poor, true)
	poorRec.SetISP(types.ISPInfo{ISP: "Orange", Location: "Paris, France", ASN: "AS3215"})

	for _, in := range []struct {
		rec types.Record
		rep *health.Report
	}{
		{record("home", 0, good, true), &goodRep},
		{record("office", 30*time.Minute, health.Measurement{DownloadMbps: 50, UploadMbps: 25, PingMs: 50}, false), nil},
		{poorRec, &poorRep},
	} {
		if _, err := st.Append(ctx, in.rec, in.rep); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return st
}

func newHandler(t *testing.T, st *store.Store, al api.AlertLister) *api.Handler {
	t.Helper()
	return api.New(st, al, api.Options{Recent: 2, TrendWindow: 2})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := newHandler(t, store.New(), nil)
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)

	if resp.State != health.StateUnknown {
		t.Errorf("state: got %q, want unknown", resp.State)
	}
	if resp.Latest != nil || resp.RecordCount != 0 || len(resp.Sources) != 0 {
		t.Errorf("empty store response: %+v", resp)
	}
}

func TestHealth_LatestRecord(t *testing.T) {
	al := fakeAlerts{
		{RuleName: "slow", State: alerts.StateFiring},
		{RuleName: "old", State: alerts.StateResolved},
	}
	h := newHandler(t, newStore(t), al)
	rr := get(t, h, "/api/v1/health")

	var resp api.HealthResponse
	decode(t, rr, &resp)

	if resp.Source != "home" || resp.Score != 28.45 || resp.State != health.StateCritical {
		t.Errorf("latest: got source=%q score=%v state=%q", resp.Source, resp.Score, resp.State)
	}
	if len(resp.Advisories) != 5 {
		t.Errorf("advisories: got %d, want 5", len(resp.Advisories))
	}
	if resp.Factors == nil || resp.Latest == nil || resp.Latest.Download != 5 {
		t.Errorf("factors/latest missing: %+v", resp)
	}
	if resp.RecordCount != 3 {
		t.Errorf("record_count: got %d, want 3", resp.RecordCount)
	}
	if resp.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1", resp.AlertCount)
	}

	if len(resp.Sources) != 2 {
		t.Fatalf("sources: got %d, want 2", len(resp.Sources))
	}
	if s := resp.Sources[0]; s.Source != "home" || s.State != health.StateCritical {
		t.Errorf("sources[0]: got %+v", s)
	}
	if s := resp.Sources[1]; s.Source != "office" || s.State != health.StateUnknown {
		t.Errorf("sources[1]: got %+v", s)
	}
}

// --- /api/v1/history --------------------------------------------------------

func TestHistory(t *testing.T) {
	h := newHandler(t, newStore(t), nil)

	tests := []struct {
		path      string
		wantCount int
		wantFirst float64
	}{
		{"/api/v1/history", 3, 100},
		{"/api/v1/history?source=home", 2, 100},
		{"/api/v1/history?source=home&limit=1", 1, 5},
		{"/api/v1/history?limit=0", 3, 100},
		{"/api/v1/history?source=nowhere", 0, 0},
	}
	for _, tc := range tests {
		rr := get(t, h, tc.path)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status %d", tc.path, rr.Code)
			continue
		}
		var got []api.HistoryEntry
		decode(t, rr, &got)
		if len(got) != tc.wantCount {
			t.Errorf("%s: got %d entries, want %d", tc.path, len(got), tc.wantCount)
			continue
		}
		if tc.wantCount > 0 && got[0].Download != tc.wantFirst {
			t.Errorf("%s: first download got %v, want %v", tc.path, got[0].Download, tc.wantFirst)
		}
	}
}

func TestHistory_EntryReport(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var got []api.HistoryEntry
	decode(t, get(t, h, "/api/v1/history"), &got)

	if got[1].Score != nil || got[1].State != health.StateUnknown {
		t.Errorf("unscored entry: score=%v state=%q", got[1].Score, got[1].State)
	}
	if got[2].Score == nil || *got[2].Score != 28.45 || got[2].State != health.StateCritical {
		t.Errorf("scored entry: %+v", got[2])
	}
	if got[2].ISP != "Orange" {
		t.Errorf("isp: got %q", got[2].ISP)
	}
}

func TestHistory_BadLimit(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	for _, path := range []string{"/api/v1/history?limit=abc", "/api/v1/history?limit=-1"} {
		if rr := get(t, h, path); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}
}

func TestHistoryRecent(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var got []api.HistoryEntry
	decode(t, get(t, h, "/api/v1/history/recent"), &got)

	if len(got) != 2 {
		t.Fatalf("recent: got %d, want 2", len(got))
	}
	if got[0].Source != "office" || got[1].Download != 5 {
		t.Errorf("recent order: got %s then %v", got[0].Source, got[1].Download)
	}
}

// --- /api/v1/trends ---------------------------------------------------------

func TestTrends(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var resp api.TrendsResponse
	decode(t, get(t, h, "/api/v1/trends?source=home"), &resp)

	if resp.Window != 2 || len(resp.Points) != 2 {
		t.Fatalf("trends: window=%d points=%d", resp.Window, len(resp.Points))
	}
	if resp.Points[0].DownloadMA != nil {
		t.Errorf("first MA: got %v, want nil", *resp.Points[0].DownloadMA)
	}
	if ma := resp.Points[1].DownloadMA; ma == nil || *ma != 52.5 {
		t.Errorf("second MA: got %v, want 52.5", ma)
	}
}

func TestTrends_Window(t *testing.T) {
	h := newHandler(t, newStore(t), nil)

	var resp api.TrendsResponse
	decode(t, get(t, h, "/api/v1/trends?window=1"), &resp)
	if resp.Window != 1 || len(resp.Points) != 3 || resp.Points[0].DownloadMA == nil {
		t.Errorf("window=1: %+v", resp)
	}

	for _, path := range []string{"/api/v1/trends?window=0", "/api/v1/trends?window=x"} {
		if rr := get(t, h, path); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}
}

// --- /api/v1/isp ------------------------------------------------------------

func TestISP(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var resp api.ISPResponse
	decode(t, get(t, h, "/api/v1/isp"), &resp)

	if resp.ISP.ISP != "Orange" || resp.ISP.ASN != "AS3215" {
		t.Errorf("isp: got %+v", resp.ISP)
	}
	if resp.Metrics.Count != 3 || resp.Metrics.AvgDownload != 51.67 {
		t.Errorf("metrics: got %+v", resp.Metrics)
	}
	if resp.Metrics.Consistency == nil {
		t.Error("consistency: got nil")
	}
}

func TestISP_UnknownWithoutLookup(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var resp api.ISPResponse
	decode(t, get(t, h, "/api/v1/isp?source=office"), &resp)

	if resp.ISP != types.UnknownISPInfo {
		t.Errorf("isp: got %+v, want unknown", resp.ISP)
	}
	if resp.Metrics.Count != 1 || resp.Metrics.Consistency != nil {
		t.Errorf("metrics: got %+v", resp.Metrics)
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts(t *testing.T) {
	var got []map[string]interface{}

	decode(t, get(t, newHandler(t, newStore(t), nil), "/api/v1/alerts"), &got)
	if len(got) != 0 {
		t.Errorf("nil lister: got %d alerts, want 0", len(got))
	}

	al := fakeAlerts{{RuleName: "slow", Source: "home", State: alerts.StateFiring}}
	decode(t, get(t, newHandler(t, newStore(t), al), "/api/v1/alerts"), &got)
	if len(got) != 1 || got[0]["rule_name"] != "slow" {
		t.Errorf("alerts: got %v", got)
	}
}

// --- /api/v1/snapshot -------------------------------------------------------

func TestSnapshot(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	var resp api.SnapshotResponse
	decode(t, get(t, h, "/api/v1/snapshot"), &resp)

	if resp.Health.State != health.StateCritical {
		t.Errorf("health.state: got %q", resp.Health.State)
	}
	if len(resp.Recent) != 2 {
		t.Errorf("recent: got %d, want 2", len(resp.Recent))
	}
	if resp.ISP.ISP.ISP != "Orange" {
		t.Errorf("isp: got %+v", resp.ISP.ISP)
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at %q: %v", resp.GeneratedAt, err)
	}
}

// --- POST /api/v1/score -----------------------------------------------------

func TestScore(t *testing.T) {
	h := newHandler(t, store.New(), nil)
	rr := post(t, h, "/api/v1/score",
		`{"download_mbps":50,"upload_mbps":25,"ping_ms":50,"jitter_ms":10,"packet_loss_pct":0}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep health.Report
	decode(t, rr, &rep)
	if rep.Score != 68.25 || rep.State != health.StateHealthy || len(rep.Advisories) != 0 {
		t.Errorf("report: got %+v", rep)
	}
}

func TestScore_HugeNegativeThroughput(t *testing.T) {
	h := newHandler(t, store.New(), nil)
	rr := post(t, h, "/api/v1/score",
		`{"download_mbps":-1e307,"upload_mbps":25,"ping_ms":50,"jitter_ms":10,"packet_loss_pct":0}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep health.Report
	decode(t, rr, &rep)
	if rep.Score >= 0 || rep.State != health.StateCritical {
		t.Errorf("report: got score=%v state=%q", rep.Score, rep.State)
	}
}

func TestScore_CustomWeights(t *testing.T) {
	w := health.Weights{Download: 1}
	h := api.New(store.New(), nil, api.Options{Scorer: health.NewScorer(w)})
	rr := post(t, h, "/api/v1/score",
		`{"download_mbps":50,"upload_mbps":0,"ping_ms":200,"jitter_ms":50,"packet_loss_pct":100}`)

	var rep health.Report
	decode(t, rr, &rep)
	if rep.Score != 50 {
		t.Errorf("score: got %v, want 50", rep.Score)
	}
}

func TestScore_BadRequests(t *testing.T) {
	h := newHandler(t, store.New(), nil)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"download_mbps":`},
		{"wrong type", `{"download_mbps":"fast"}`},
		{"missing field", `{"download_mbps":50,"upload_mbps":25,"ping_ms":50,"jitter_ms":10}`},
		{"unknown field", `{"download_mbps":50,"upload_mbps":25,"ping_ms":50,"jitter_ms":10,"packet_loss_pct":0,"x":1}`},
	}
	for _, tc := range tests {
		rr := post(t, h, "/api/v1/score", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", tc.name, rr.Code)
			continue
		}
		var e map[string]string
		decode(t, rr, &e)
		if e["error"] == "" {
			t.Errorf("%s: empty error body", tc.name)
		}
	}
}

// --- method handling --------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(t, newStore(t), nil)
	for _, path := range []string{
		"/api/v1/health", "/api/v1/history", "/api/v1/history/recent",
		"/api/v1/trends", "/api/v1/isp", "/api/v1/alerts", "/api/v1/snapshot",
	} {
		rr := post(t, h, path, "{}")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
	if rr := get(t, h, "/api/v1/score"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/v1/score: got %d, want 405", rr.Code)
	}
}
