// Package httpapi exposes the import control surface and the move-statistics
// query surface over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/jobs"
	"github.com/freeeve/scoutbook/internal/metrics"
	"github.com/freeeve/scoutbook/internal/query"
	"github.com/freeeve/scoutbook/internal/store"
	"github.com/freeeve/scoutbook/internal/supervisor"
)

// Handler serves the import and query endpoints for one local user.
type Handler struct {
	user     string
	platform string
	machine  *jobs.Machine
	st       *store.Store
	qs       *query.Service
	sup      *supervisor.Supervisor
	log      zerolog.Logger
}

// NewRouter builds the full HTTP handler. sup is optional; when present the
// stats endpoint reports the current backoff window.
func NewRouter(log zerolog.Logger, user, platform string, machine *jobs.Machine, st *store.Store, qs *query.Service, sup *supervisor.Supervisor) http.Handler {
	h := &Handler{
		user:     user,
		platform: platform,
		machine:  machine,
		st:       st,
		qs:       qs,
		sup:      sup,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.health))
	mux.Handle("/v1/import/start", post(h.importStart))
	mux.Handle("/v1/import/stop", post(h.importStop))
	mux.Handle("/v1/import/continue", post(h.importContinue))
	mux.Handle("/v1/import/reindex", post(h.importReindex))
	mux.Handle("/v1/import/status", http.HandlerFunc(h.importStatus))
	mux.Handle("/v1/moves", http.HandlerFunc(h.moves))
	mux.Handle("/v1/moves/pick", http.HandlerFunc(h.movesPick))
	mux.Handle("/v1/coverage", http.HandlerFunc(h.coverage))
	mux.Handle("/v1/stats", http.HandlerFunc(h.stats))
	mux.Handle("/metrics", metrics.Handler())

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, metrics.Middleware(mux))))
}

func post(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// importTarget extracts the job identity common to the import endpoints.
func (h *Handler) importTarget(r *http.Request) (platform string, tt store.TargetType, username string, err error) {
	q := r.URL.Query()
	platform = q.Get("platform")
	if platform == "" {
		platform = h.platform
	}
	tt = store.TargetType(q.Get("target_type"))
	if tt == "" {
		tt = store.TargetOpponent
	}
	if tt != store.TargetOpponent && tt != store.TargetSelf {
		return "", "", "", errors.New("target_type must be opponent or self")
	}
	username = q.Get("username")
	if username == "" {
		return "", "", "", errors.New("missing username parameter")
	}
	return platform, tt, username, nil
}

func (h *Handler) importStart(w http.ResponseWriter, r *http.Request) {
	platform, tt, username, err := h.importTarget(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.machine.Start(r.Context(), h.user, platform, tt, username)
	if err != nil {
		h.serverError(w, r, err, "start import")
		return
	}
	writeJSON(w, job)
}

func (h *Handler) importStop(w http.ResponseWriter, r *http.Request) {
	platform, tt, username, err := h.importTarget(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.machine.Stop(r.Context(), h.user, platform, tt, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no such import job", http.StatusNotFound)
			return
		}
		h.serverError(w, r, err, "stop import")
		return
	}
	writeJSON(w, job)
}

func (h *Handler) importContinue(w http.ResponseWriter, r *http.Request) {
	platform, tt, username, err := h.importTarget(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.st.GetJob(r.Context(), h.user, platform, tt, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no such import job", http.StatusNotFound)
			return
		}
		h.serverError(w, r, err, "load job")
		return
	}
	job, err = h.machine.Continue(r.Context(), job)
	if err != nil {
		// Progress up to the failure is committed; report both.
		writeJSON(w, map[string]any{"job": job, "error": err.Error()})
		return
	}
	writeJSON(w, job)
}

func (h *Handler) importReindex(w http.ResponseWriter, r *http.Request) {
	platform, tt, username, err := h.importTarget(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.st.GetJob(r.Context(), h.user, platform, tt, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no such import job", http.StatusNotFound)
			return
		}
		h.serverError(w, r, err, "load job")
		return
	}
	job, err = h.machine.Reindex(r.Context(), job)
	if err != nil {
		h.serverError(w, r, err, "reindex")
		return
	}
	writeJSON(w, job)
}

func (h *Handler) importStatus(w http.ResponseWriter, r *http.Request) {
	if username := r.URL.Query().Get("username"); username != "" {
		platform, tt, username, err := h.importTarget(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		job, err := h.st.GetJob(r.Context(), h.user, platform, tt, username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "no such import job", http.StatusNotFound)
				return
			}
			h.serverError(w, r, err, "load job")
			return
		}
		writeJSON(w, job)
		return
	}
	list, err := h.st.ListJobs(r.Context(), h.user)
	if err != nil {
		h.serverError(w, r, err, "list jobs")
		return
	}
	writeJSON(w, map[string]any{"jobs": list})
}

// queryParams parses the shared position/filter parameters of the query
// endpoints.
func (h *Handler) queryParams(r *http.Request) (username string, pos graph.PositionKey, f query.Filters, err error) {
	q := r.URL.Query()
	username = q.Get("username")
	if username == "" {
		return "", "", f, errors.New("missing username parameter")
	}

	fen := q.Get("fen")
	if fen == "" {
		pos = graph.StartingKey
	} else {
		pos = graph.Normalize(fen)
	}

	switch q.Get("bucket") {
	case "", string(query.BucketOpponent):
		f.Bucket = query.BucketOpponent
	case string(query.BucketAgainst):
		f.Bucket = query.BucketAgainst
	default:
		return "", "", f, errors.New("bucket must be opponent or against")
	}

	if v := q.Get("rated"); v != "" {
		rated, perr := strconv.ParseBool(v)
		if perr != nil {
			return "", "", f, errors.New("rated must be true or false")
		}
		f.Rated = &rated
	}
	if v := q.Get("speeds"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Speeds = append(f.Speeds, s)
			}
		}
	}
	if v := q.Get("since"); v != "" {
		if f.SinceMs, err = strconv.ParseInt(v, 10, 64); err != nil {
			return "", "", f, errors.New("since must be epoch milliseconds")
		}
	}
	if v := q.Get("until"); v != "" {
		if f.UntilMs, err = strconv.ParseInt(v, 10, 64); err != nil {
			return "", "", f, errors.New("until must be epoch milliseconds")
		}
	}
	f.ECO = q.Get("eco")
	return username, pos, f, nil
}

func (h *Handler) moves(w http.ResponseWriter, r *http.Request) {
	username, pos, f, err := h.queryParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	moves, err := h.qs.GetMoves(r.Context(), h.user, h.platform, username, pos, f)
	if err != nil {
		h.serverError(w, r, err, "query moves")
		return
	}
	writeJSON(w, map[string]any{
		"position": string(pos),
		"moves":    moves,
	})
}

func (h *Handler) movesPick(w http.ResponseWriter, r *http.Request) {
	username, pos, f, err := h.queryParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := query.ParseSampleMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	moves, err := h.qs.GetMoves(r.Context(), h.user, h.platform, username, pos, f)
	if err != nil {
		h.serverError(w, r, err, "query moves")
		return
	}
	pick, err := query.PickMove(moves, mode, nil)
	if err != nil {
		if errors.Is(err, query.ErrNoMoves) {
			http.Error(w, "no moves recorded for position", http.StatusNotFound)
			return
		}
		h.serverError(w, r, err, "pick move")
		return
	}
	writeJSON(w, map[string]any{
		"position": string(pos),
		"mode":     string(mode),
		"move":     pick,
	})
}

func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	username, pos, f, err := h.queryParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cov, err := h.qs.CoverageDepth(r.Context(), h.user, h.platform, username, pos, f)
	if err != nil {
		h.serverError(w, r, err, "coverage walk")
		return
	}
	writeJSON(w, cov)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.st.Stats(r.Context())
	if err != nil {
		h.serverError(w, r, err, "store stats")
		return
	}
	resp := map[string]any{
		"games":        st.Games,
		"move_events":  st.MoveEvents,
		"graph_nodes":  st.GraphNodes,
		"import_jobs":  st.ImportJobs,
		"total_reads":  st.TotalReads,
		"total_writes": st.TotalWrites,
	}
	if h.sup != nil {
		resp["backoff_seconds"] = h.sup.Backoff().Seconds()
	}
	writeJSON(w, resp)
}

// serverError maps a failure to a response. Schema drift gets its own
// status so clients can distinguish "rebuild the database" from a bug.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, store.ErrSchemaMigration) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"migration_required": true,
			"error":              err.Error(),
		})
		return
	}
	h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Server wraps the router in an http.Server with sane timeouts.
func Server(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
