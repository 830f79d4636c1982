package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alpha-pool/decision-core/internal/opauth"
	"github.com/alpha-pool/decision-core/internal/risk"
	"github.com/alpha-pool/decision-core/internal/statestore"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type fakeRanker struct{ scores []RankedScore }

func (f fakeRanker) TopScores(n int) []RankedScore {
	if n < len(f.scores) {
		return f.scores[:n]
	}
	return f.scores
}

func testServer(t *testing.T) *Server {
	t.Helper()
	operator, err := opauth.NewManager(opauth.Config{JWTSecret: "test", OperatorPassword: "pw"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	state := statestore.New(statestore.RedisConfig{Enabled: false})
	t.Cleanup(state.Close)

	governor := risk.NewGovernor(risk.DefaultConfig())
	ranker := fakeRanker{scores: []RankedScore{{Address: "0x1", Score: 0.9}, {Address: "0x2", Score: 0.5}}}

	return NewServer(Config{Port: 0, Host: "127.0.0.1", AllowedOrigins: "*"}, fakeHealth{}, state, ranker, governor, operator, nil)
}

func TestHealthzReportsOK(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHealthzReportsDegradedOnDBError(t *testing.T) {
	operator, _ := opauth.NewManager(opauth.Config{JWTSecret: "test", OperatorPassword: "pw"})
	state := statestore.New(statestore.RedisConfig{Enabled: false})
	defer state.Close()
	governor := risk.NewGovernor(risk.DefaultConfig())

	s := NewServer(Config{Host: "127.0.0.1"}, fakeHealth{err: context.DeadlineExceeded}, state, fakeRanker{}, governor, operator, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Errorf("status field = %v, want degraded", body["status"])
	}
}

func TestRanksTopReturnsRequestedCount(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ranks/top?n=1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body struct {
		Ranks []RankedScore `json:"ranks"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Ranks) != 1 {
		t.Fatalf("got %d ranks, want 1", len(body.Ranks))
	}
	if body.Ranks[0].Address != "0x1" {
		t.Errorf("top rank = %q, want 0x1", body.Ranks[0].Address)
	}
}

func TestKillSwitchResetRequiresOperatorToken(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/kill-switch/reset", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a bearer token", rec.Code)
	}
}

func TestKillSwitchResetSucceedsWithValidOperatorToken(t *testing.T) {
	s := testServer(t)
	token, err := s.operator.Login("pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/kill-switch/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestOperatorLoginRejectsWrongPassword(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/operator/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMetricsExposesPrometheusFormat(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "decision_core_scores_total") || !strings.Contains(body, "decision_core_kill_switch_active") {
		t.Errorf("metrics body missing expected gauges: %s", body)
	}
}
