package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"visitical/internal/config"
	"visitical/internal/ics"
	appLog "visitical/internal/log"
	"visitical/internal/model"
	"visitical/internal/refresh"
)

// maxBodyBytes caps request bodies for the conversion endpoints.
const maxBodyBytes = 1 << 20

// Server provides the HTTP API over the codec and the visit store.
type Server struct {
	cfg     *config.Config
	encoder *ics.Encoder
	decoder *ics.Decoder
	store   *refresh.Store
	zones   ics.ZoneResolver
	now     func() time.Time
	router  chi.Router
}

// Deps are the collaborators a Server needs. Store may be nil when no
// sources are configured.
type Deps struct {
	Encoder *ics.Encoder
	Decoder *ics.Decoder
	Store   *refresh.Store
	Zones   ics.ZoneResolver
	Now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Store == nil {
		deps.Store = refresh.NewStore()
	}
	if deps.Zones == nil {
		deps.Zones = ics.SystemZones
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:     cfg,
		encoder: deps.Encoder,
		decoder: deps.Decoder,
		store:   deps.Store,
		zones:   deps.Zones,
		now:     deps.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}
		r.Route("/api", func(r chi.Router) {
			r.Post("/encode", s.handleEncode)
			r.Post("/decode", s.handleDecode)
			r.Post("/inspect", s.handleInspect)
			r.Post("/occurrences", s.handleOccurrences)
			r.Get("/visits", s.handleVisits)
			r.Get("/visits/occurrences", s.handleVisitOccurrences)
		})
	})
	return r
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="visitical", charset="UTF-8"`)
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

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).String(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// encodeResponse is returned by /api/encode?format=json.
type encodeResponse struct {
	Payload  string          `json:"payload"`
	Visitors []model.Visitor `json:"visitors"`
}

// handleEncode converts a JSON VisitRequest into a payload.
//
// POST /api/encode[?format=json]
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req model.VisitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	payload, visitors, err := s.encoder.Encode(req)
	if err != nil {
		writeCodecError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, encodeResponse{Payload: payload, Visitors: visitors})
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, payload)
}

// handleDecode converts a payload into a JSON VisitRequest.
//
// POST /api/decode
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := s.decoder.Decode(body)
	if err != nil {
		writeCodecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleInspect reports what a strict calendar parser sees in a payload.
//
// POST /api/inspect
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := ics.Inspect(body)
	if err != nil {
		writeCodecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// occurrencesResponse is the JSON response shape for occurrence queries.
type occurrencesResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	Truncated       bool               `json:"truncated,omitempty"`
	TruncatedIDs    []string           `json:"truncated_ids,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// handleOccurrences expands a posted VisitRequest.
//
// POST /api/occurrences?days=30
//   - days: window length from now (default horizon_days)
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	var req model.VisitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cfg := s.expandConfig(r)
	res, err := ics.Occurrences(req, cfg)
	if err != nil {
		writeCodecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences:     orEmpty(res.Occurrences),
		Truncated:       res.Truncated,
		RangeStart:      cfg.RangeStart,
		RangeEnd:        cfg.RangeEnd,
		DisplayTimeZone: cfg.DisplayLocation.String(),
	})
}

// handleVisits lists the visits decoded from configured sources.
//
// GET /api/visits
func (s *Server) handleVisits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Visits())
}

// handleVisitOccurrences expands every stored visit.
//
// GET /api/visits/occurrences?days=30
func (s *Server) handleVisitOccurrences(w http.ResponseWriter, r *http.Request) {
	cfg := s.expandConfig(r)
	res := s.store.Occurrences(cfg)
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences:     res.Occurrences,
		Truncated:       len(res.TruncatedIDs) > 0,
		TruncatedIDs:    res.TruncatedIDs,
		RangeStart:      cfg.RangeStart,
		RangeEnd:        cfg.RangeEnd,
		DisplayTimeZone: cfg.DisplayLocation.String(),
	})
}

// expandConfig builds the window [now, now+days) in the display timezone.
func (s *Server) expandConfig(r *http.Request) ics.ExpandConfig {
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.HorizonDays)
	if days <= 0 || days > 366 {
		days = s.cfg.HorizonDays
	}
	loc := s.resolveLocationOrUTC(s.cfg.Timezone)
	start := s.now().In(loc)
	return ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      start,
		RangeEnd:        start.AddDate(0, 0, days),
		Zones:           s.zones,
	}
}

func (s *Server) resolveLocationOrUTC(name string) *time.Location {
	loc, err := s.zones.Resolve(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
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

func orEmpty(o []model.Occurrence) []model.Occurrence {
	if o == nil {
		return []model.Occurrence{}
	}
	return o
}

func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return "", false
	}
	return string(data), true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeCodecError maps validation failures to 422 and format failures to
// 400.
func writeCodecError(w http.ResponseWriter, err error) {
	var cerr *ics.Error
	if !errors.As(err, &cerr) {
		appLog.Error("unexpected codec error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusBadRequest
	if cerr.Kind == ics.KindValidation {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errResp{
		Error:  cerr.Error(),
		Kind:   cerr.Kind.String(),
		Field:  cerr.Field,
		Reason: cerr.Reason,
	})
}
