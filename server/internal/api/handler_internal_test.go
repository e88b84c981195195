package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONResp_Unencodable(t *testing.T) {
	rr := httptest.NewRecorder()
	jsonResp(rr, http.StatusOK, map[string]float64{"score": math.Inf(-1)})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	var e errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("body is not JSON: %v (%q)", err, rr.Body.String())
	}
	if e.Error == "" {
		t.Error("error message is empty")
	}
}

func TestJSONResp_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	jsonResp(rr, http.StatusCreated, map[string]int{"n": 1})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if got := rr.Body.String(); got != "{\"n\":1}\n" {
		t.Errorf("body: got %q", got)
	}
}
