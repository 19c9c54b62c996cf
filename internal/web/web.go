package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lcarsvoice/internal/agenda"
	"lcarsvoice/internal/battery"
	"lcarsvoice/internal/briefing"
	"lcarsvoice/internal/config"
	"lcarsvoice/internal/ics"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/metrics"
)

const (
	eventsCacheTTL  = 30 * time.Second
	batteryCacheTTL = 30 * time.Second

	// maxWindowDays bounds both days and backfill of /api/events.
	maxWindowDays = 366
	// maxEventsCacheEntries bounds the number of cached windows.
	maxEventsCacheEntries = 32
)

// Server provides the HTTP API used by the terminal UI and for monitoring.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux
	loc *time.Location

	load     agenda.Loader
	agent    *agenda.Agent
	composer *briefing.Composer
	// detectBattery finds a battery reader; nil result means none.
	detectBattery func(ctx context.Context) (battery.Reader, error)
	now           func() time.Time

	// Expanded /api/events responses keyed by query, to avoid parsing and
	// expanding the calendar on every request.
	eventsMu    sync.Mutex
	eventsCache map[string]eventsCache

	batteryMu     sync.Mutex
	batteryReader battery.Reader
	batteryCache  *batteryCache
}

// NewServer constructs a Server reading the calendar cache file from cfg.
func NewServer(cfg *config.Config) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	path := cfg.Calendar.CacheFile
	s := &Server{
		cfg:           cfg,
		mux:           http.NewServeMux(),
		loc:           loc,
		load:          func() ([]ics.ParsedEvent, error) { return ics.Load(path) },
		agent:         agenda.New(path, loc),
		composer:      briefing.NewComposer(cfg),
		detectBattery: battery.Detect,
		now:           time.Now,
		eventsCache:   make(map[string]eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="LCARS", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config) error {
	s := NewServer(cfg)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/agenda/{mode}", s.handleAgenda)
	s.mux.HandleFunc("GET /api/briefing", s.handleBriefing)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleBattery exposes the battery status. The reader is detected on first
// use and readings are cached briefly; battery levels do not need
// sub-second precision.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()

	s.batteryMu.Lock()
	defer s.batteryMu.Unlock()

	if bc := s.batteryCache; bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, batteryResponse(bc.status))
		return
	}

	if s.batteryReader == nil {
		br, err := s.detectBattery(ctx)
		if err != nil || br == nil {
			appLog.Debug("battery unavailable", "err", errString(err))
			writeError(w, http.StatusServiceUnavailable, "battery unavailable")
			return
		}
		s.batteryReader = br
	}

	status, err := s.batteryReader.Read(ctx)
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	writeJSON(w, http.StatusOK, batteryResponse(status))
}

// handleAgenda answers a calendar question in the same words the voice
// agent would speak.
//
// GET /api/agenda/{mode}?q=term&q=term
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	mode := r.PathValue("mode")
	args := r.URL.Query()["q"]

	text, err := s.agent.Report(mode, args)
	resp := agendaResponse{Mode: mode, Text: text}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ics.ErrNoCalendar):
		resp.Error = err.Error()
		writeJSON(w, http.StatusNotFound, resp)
	default:
		appLog.Error("api agenda failed", err, "mode", mode)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// handleBriefing returns the briefing text without speaking it.
func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, briefingResponse{Text: s.composer.Compose(r.Context())})
}

type agendaResponse struct {
	Mode  string `json:"mode"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type briefingResponse struct {
	Text string `json:"text"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

type batteryResponse struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns expanded occurrences from the calendar cache within
// a requested window.
//
// GET /api/events?days=7&backfill=1
//   - days:     days ahead to include (default 7)
//   - backfill: days back to include (default 1)
//
// A calendar that has not been synced yet yields an empty list.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	days = min(days, maxWindowDays)
	backfill := min(max(parseIntDefault(q.Get("backfill"), 1), 0), maxWindowDays)

	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)
	cacheNow := s.now()

	s.eventsMu.Lock()
	ec, ok := s.eventsCache[key]
	s.eventsMu.Unlock()
	if ok && cacheNow.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	now := cacheNow.In(s.loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	resp := eventsResponse{
		Occurrences:     []occurrenceDTO{},
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	}

	events, err := s.load()
	switch {
	case errors.Is(err, ics.ErrNoCalendar):
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		appLog.Error("api events: load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}

	res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation:        s.loc,
		RangeStart:             rangeStart,
		RangeEnd:               rangeEnd,
		MaxOccurrencesPerEvent: 5000,
	})
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	for _, occ := range res.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			SourceID:    occ.SourceID,
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Description: occ.Description,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}
	resp.TruncatedUIDs = res.TruncatedEvents

	s.eventsMu.Lock()
	s.pruneEventsCache(cacheNow)
	s.eventsCache[key] = eventsCache{resp: resp, updatedAt: cacheNow}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// pruneEventsCache drops expired windows and, if the cache is still full,
// the oldest one. Callers hold eventsMu.
func (s *Server) pruneEventsCache(now time.Time) {
	oldestKey := ""
	var oldest time.Time
	for k, ec := range s.eventsCache {
		if now.Sub(ec.updatedAt) >= eventsCacheTTL {
			delete(s.eventsCache, k)
			continue
		}
		if oldestKey == "" || ec.updatedAt.Before(oldest) {
			oldestKey, oldest = k, ec.updatedAt
		}
	}
	if len(s.eventsCache) >= maxEventsCacheEntries {
		delete(s.eventsCache, oldestKey)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
