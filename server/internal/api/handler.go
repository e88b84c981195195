package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/speedscope/speedscope/pkg/analysis"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
	"github.com/speedscope/speedscope/server/internal/alerts"
	"github.com/speedscope/speedscope/server/internal/store"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 64 << 10

// AlertLister is the part of the alert engine the API reads.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Options configures what the dashboard endpoints return.
type Options struct {
	// Recent is the number of records in /history/recent and the snapshot.
	Recent int

	// TrendWindow is the default moving-average window for /trends.
	TrendWindow int

	// Scorer evaluates POST /api/v1/score bodies.
	Scorer health.Scorer
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads the speed-test history from the store and returns JSON responses.
type Handler struct {
	store  *store.Store
	alerts AlertLister
	opts   Options
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler wired to the given store and registers all routes.
// al may be nil, in which case /alerts is always empty.
func New(st *store.Store, al AlertLister, opts Options) *Handler {
	if opts.Recent <= 0 {
		opts.Recent = analysis.DefaultRecent
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = analysis.DefaultTrendWindow
	}
	if opts.Scorer.Weights().IsZero() {
		opts.Scorer = health.NewScorer(health.DefaultWeights)
	}
	h := &Handler{store: st, alerts: al, opts: opts, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/history", h.history)
	h.mux.HandleFunc("/api/v1/history/recent", h.recent)
	h.mux.HandleFunc("/api/v1/trends", h.trends)
	h.mux.HandleFunc("/api/v1/isp", h.isp)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/score", h.score)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Snapshot returns the current dashboard view: health, the newest records
// and the ISP summary.
func (h *Handler) Snapshot() SnapshotResponse {
	return SnapshotResponse{
		Health:      h.buildHealth(),
		Recent:      toHistory(h.recentEntries("")),
		ISP:         h.buildISP(""),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.buildHealth())
}

// history returns GET /api/v1/history?source=&limit=.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := h.store.List(r.URL.Query().Get("source"))
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	jsonResp(w, http.StatusOK, toHistory(entries))
}

// recent returns GET /api/v1/history/recent.
func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, toHistory(h.recentEntries(r.URL.Query().Get("source"))))
}

// trends returns GET /api/v1/trends?source=&window=.
func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	window, err := intParam(r, "window", h.opts.TrendWindow)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if window < 1 {
		jsonErr(w, http.StatusBadRequest, "window must be at least 1")
		return
	}
	source := r.URL.Query().Get("source")
	jsonResp(w, http.StatusOK, TrendsResponse{
		Source: source,
		Window: window,
		Points: analysis.Trends(h.store.Records(source), window),
	})
}

// isp returns GET /api/v1/isp?source=.
func (h *Handler) isp(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.buildISP(r.URL.Query().Get("source")))
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// score evaluates POST /api/v1/score.
func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req scoreRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	m, err := req.measurement()
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, h.opts.Scorer.Evaluate(m))
}

// --- builders ---------------------------------------------------------------

func (h *Handler) buildHealth() HealthResponse {
	resp := HealthResponse{
		State:       health.StateUnknown,
		Advisories:  []health.Advisory{},
		Sources:     []SourceHealth{},
		RecordCount: h.store.Count(),
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}

	for _, src := range h.store.Sources() {
		e, ok := h.store.Latest(src)
		if !ok {
			continue
		}
		sh := SourceHealth{Source: src, State: health.StateUnknown, LastSeen: e.Record.Timestamp}
		if e.Report != nil {
			sh.Score, sh.State = e.Report.Score, e.Report.State
		}
		resp.Sources = append(resp.Sources, sh)
	}

	latest, ok := h.store.Latest("")
	if !ok {
		return resp
	}
	rec := latest.Record
	resp.Source = rec.Source
	resp.Latest = &rec
	if latest.Report != nil {
		f := latest.Report.Factors
		resp.Score = latest.Report.Score
		resp.State = latest.Report.State
		resp.Factors = &f
		if latest.Report.Advisories != nil {
			resp.Advisories = latest.Report.Advisories
		}
	}
	return resp
}

func (h *Handler) buildISP(source string) ISPResponse {
	resp := ISPResponse{
		Source:  source,
		ISP:     types.UnknownISPInfo,
		Metrics: analysis.Summarize(h.store.Records(source)),
	}
	if e, ok := h.store.Latest(source); ok && e.Record.ISP != "" {
		resp.ISP = e.Record.ISPInfo()
	}
	return resp
}

func (h *Handler) recentEntries(source string) []store.Entry {
	entries := h.store.List(source)
	if len(entries) > h.opts.Recent {
		entries = entries[len(entries)-h.opts.Recent:]
	}
	return entries
}

// --- helpers ----------------------------------------------------------------

func (r scoreRequest) measurement() (health.Measurement, error) {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"download_mbps", r.DownloadMbps},
		{"upload_mbps", r.UploadMbps},
		{"ping_ms", r.PingMs},
		{"jitter_ms", r.JitterMs},
		{"packet_loss_pct", r.PacketLossPct},
	} {
		if f.v == nil {
			return health.Measurement{}, fmt.Errorf("missing field %q", f.name)
		}
	}
	return health.Measurement{
		DownloadMbps:  *r.DownloadMbps,
		UploadMbps:    *r.UploadMbps,
		PingMs:        *r.PingMs,
		JitterMs:      *r.JitterMs,
		PacketLossPct: *r.PacketLossPct,
	}, nil
}

func toHistory(entries []store.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		he := HistoryEntry{Record: e.Record, State: health.StateUnknown, Advisories: []health.Advisory{}}
		if e.Report != nil {
			score := e.Report.Score
			he.Score = &score
			he.State = e.Report.State
			if e.Report.Advisories != nil {
				he.Advisories = e.Report.Advisories
			}
		}
		out = append(out, he)
	}
	return out
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// jsonResp encodes v before writing the status so an unencodable value
// (a non-finite float) becomes a 500 instead of an empty 200.
func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("api: encode response", "err", err)
		buf.Reset()
		json.NewEncoder(&buf).Encode(errorResponse{Error: "response not encodable: " + err.Error()}) //nolint:errcheck
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
