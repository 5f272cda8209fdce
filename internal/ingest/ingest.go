// Package ingest exposes the HTTP surface of the tally service: an event
// intake endpoint fed by the host dispatcher, plus read endpoints for
// ranked views and rank-change reports.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/access"
	"github.com/tallystack/tally/internal/aggregate"
	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/delta"
	"github.com/tallystack/tally/internal/merger"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/models"
	"github.com/tallystack/tally/internal/resolver"
	"github.com/tallystack/tally/internal/store"
)

// Server is the HTTP intake and query server.
type Server struct {
	httpServer *http.Server
	store      store.Store
	merger     *merger.Merger
	delta      *delta.Engine
	checker    *access.Checker
	resolver   resolver.Resolver
	cfg        *config.Config
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *zap.Logger
}

// NewServer creates the intake server. res may be nil when no name
// resolution capability is available; display names then fall back to raw
// identifiers.
func NewServer(
	st store.Store,
	mg *merger.Merger,
	de *delta.Engine,
	checker *access.Checker,
	res resolver.Resolver,
	cfg *config.Config,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:    st,
		merger:   mg,
		delta:    de,
		checker:  checker,
		resolver: res,
		cfg:      cfg,
		metrics:  m,
		clock:    clk,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/rankings", s.handleRankings)
	mux.HandleFunc("/v1/delta", s.handleDelta)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Ingest.Port),
		Handler: mux,
	}
	return s
}

// Start begins serving HTTP requests. ErrServerClosed is not returned.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// eventsResponse is returned by the intake endpoint.
type eventsResponse struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Denied   int `json:"denied"`
}

// handleEvents accepts a single event object or an array of events. Events
// rejected by the access rules are counted but not recorded; a single
// denied or invalid event yields 4xx, a batch always yields 200 with
// per-outcome counts.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.metrics.IngestRequestsTotal.WithLabelValues("method_not_allowed").Inc()
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.IngestRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "reading request body failed", http.StatusBadRequest)
		return
	}

	// Accept either an array of events or a single event object.
	var batch []models.RawEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		var single models.RawEvent
		if err := json.Unmarshal(body, &single); err != nil {
			s.metrics.IngestRequestsTotal.WithLabelValues("bad_request").Inc()
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		batch = []models.RawEvent{single}
	}

	resp := eventsResponse{}
	allowed := batch[:0]
	for _, ev := range batch {
		if !s.checker.Allowed(ev.Platform, ev.Scope, ev.UserID) {
			s.metrics.IngestDeniedTotal.WithLabelValues(ev.Platform).Inc()
			resp.Denied++
			continue
		}
		// Fill in display names when the event did not carry them and a
		// resolver is available; failures degrade to raw identifiers,
		// which the name reconciler then treats as absent.
		if ev.UserName == "" {
			ev.UserName = resolver.UserNameOr(r.Context(), s.resolver, ev.Platform, ev.Scope, ev.UserID)
		}
		if ev.ScopeName == "" && ev.Scope != "" && ev.Scope != models.ScopePrivate {
			ev.ScopeName = resolver.ScopeNameOr(r.Context(), s.resolver, ev.Platform, ev.Scope)
		}
		if ev.Time.IsZero() {
			ev.Time = s.clock.Now().UTC()
		}
		if ev.Increment == 0 {
			ev.Increment = 1
		}
		allowed = append(allowed, ev)
	}

	switch len(allowed) {
	case 0:
		// Everything denied.
	case 1:
		if err := s.merger.Merge(r.Context(), allowed[0]); err != nil {
			if errors.Is(err, merger.ErrInvalidEvent) {
				s.metrics.IngestRequestsTotal.WithLabelValues("bad_request").Inc()
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.metrics.IngestRequestsTotal.WithLabelValues("error").Inc()
			s.logger.Error("live merge failed", zap.Error(err))
			http.Error(w, "merge failed", http.StatusInternalServerError)
			return
		}
		resp.Imported = 1
	default:
		result := s.merger.MergeBatch(r.Context(), allowed)
		resp.Imported = result.Imported
		resp.Failed = result.Failed
		resp.Skipped = result.Skipped
	}

	s.metrics.IngestRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// rankingsResponse is returned by the rankings endpoint.
type rankingsResponse struct {
	Items      []aggregate.Group `json:"items"`
	Rows       []string          `json:"rows,omitempty"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalItems int               `json:"total_items"`
}

// handleRankings serves ranked, paginated views over the counters table.
//
// Query parameters: platform, scope, group_by (user|scope|activity),
// sort_by (count|time|key), page, merge (activity prefix merge), rows
// (include fixed-width text rows).
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.metrics.IngestRequestsTotal.WithLabelValues("method_not_allowed").Inc()
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	q := store.CounterQuery{
		Platform: params.Get("platform"),
		Scope:    params.Get("scope"),
	}

	groupBy := aggregate.GroupBy(params.Get("group_by"))
	if groupBy == aggregate.GroupByActivity {
		q.ExcludeActivity = models.ActivityMessage
	} else {
		q.Activity = models.ActivityMessage
	}

	counters, err := s.store.ListCounters(q)
	if err != nil {
		s.metrics.IngestRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error("listing counters for ranking failed", zap.Error(err))
		http.Error(w, "ranking unavailable", http.StatusInternalServerError)
		return
	}

	page, _ := strconv.Atoi(params.Get("page"))
	result := aggregate.Aggregate(counters, aggregate.Options{
		GroupBy:     groupBy,
		SortBy:      aggregate.SortBy(params.Get("sort_by")),
		MergePrefix: params.Get("merge") == "true",
		Page:        page,
		PageSize:    s.cfg.Ranking.PageSize,
		Limit:       s.cfg.Ranking.MaxItems,
	})

	resp := rankingsResponse{
		Items:      result.Items,
		Page:       result.Page,
		TotalPages: result.TotalPages,
		TotalItems: result.TotalItems,
	}
	if params.Get("rows") == "true" {
		resp.Rows = aggregate.FormatRows(result.Items, aggregate.FormatConfig{
			NameWidth:  s.cfg.Ranking.NameWidth,
			CountWidth: s.cfg.Ranking.CountWidth,
			Now:        s.clock.Now().UTC(),
		})
	}

	s.metrics.IngestRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// handleDelta serves rank-change reports.
//
// Query parameters: platform, scope, window_hours, limit. A malformed
// window resolves to the engine's default rather than an error.
func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.metrics.IngestRequestsTotal.WithLabelValues("method_not_allowed").Inc()
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	window, _ := strconv.Atoi(params.Get("window_hours"))
	limit, _ := strconv.Atoi(params.Get("limit"))

	entries, err := s.delta.Compute(r.Context(), delta.Query{
		Platform:    params.Get("platform"),
		Scope:       params.Get("scope"),
		WindowHours: window,
		Limit:       limit,
	})
	if err != nil {
		s.metrics.IngestRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error("delta report failed", zap.Error(err))
		http.Error(w, "delta report unavailable", http.StatusInternalServerError)
		return
	}

	s.metrics.IngestRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, entries)
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
