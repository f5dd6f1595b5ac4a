package httpapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/httpapi"
	"github.com/freeeve/scoutbook/internal/jobs"
	"github.com/freeeve/scoutbook/internal/query"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	// Remote source fixture: an account with no games.
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"username":"x","count":{"all":0},"perfs":{}}`)
	}))
	t.Cleanup(remote.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := source.NewClient(remote.URL, "", zerolog.Nop())
	machine := jobs.NewMachine(jobs.Config{}, st, src, nil, zerolog.Nop())
	qs := query.NewService(st, nil, zerolog.Nop())

	return httpapi.NewRouter(zerolog.Nop(), "local", "lichess", machine, st, qs, nil)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestImportStartAndStatus(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/import/start?username=magnus", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	var job store.ImportJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != store.StatusRunning || job.Username != "magnus" {
		t.Errorf("job: %+v", job)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/import/status?username=magnus", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: %d", rec.Code)
	}

	// Listing form without username.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/import/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status list: %d", rec.Code)
	}
}

func TestImportStartValidation(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/import/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing username: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/import/start?username=x", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on start: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/import/start?username=x&target_type=sibling", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad target type: %d", rec.Code)
	}
}

func TestMovesEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/moves?username=magnus", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("moves: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Position string           `json:"position"`
		Moves    []query.MoveStat `json:"moves"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode moves: %v", err)
	}
	if len(resp.Moves) != 0 || resp.Position == "" {
		t.Errorf("empty book response: %+v", resp)
	}

	// Sampling an empty book is a 404, not a 500.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/moves/pick?username=magnus", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("pick on empty book: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/moves?username=magnus&rated=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad rated value: %d", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abcd1234")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abcd1234" {
		t.Errorf("supplied request id not echoed: %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rec.Header().Get("X-Request-ID"); len(got) != 8 {
		t.Errorf("generated request id: %q", got)
	}
}

func TestStats(t *testing.T) {
	h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if _, ok := stats["games"]; !ok {
		t.Errorf("stats shape: %v", stats)
	}
}
