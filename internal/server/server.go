package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/marketdata"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// Server is the HTTP surface over a marketdata.Service
type Server struct {
	Router *chi.Mux
	svc    *marketdata.Service
}

type response struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	DataSource market.DataSource `json:"dataSource,omitempty"`
	AsOf       *time.Time        `json:"asOf,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func New(svc *marketdata.Service, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, svc: svc}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", observ.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/stocks", s.handleSearch)
		r.Get("/stocks/batch", s.handleBatch)
		r.Get("/stocks/{symbol}", s.handleDetails)
		r.Get("/stocks/{symbol}/historical", s.handleHistorical)
		r.Get("/stocks/{symbol}/news", s.handleNews)

		r.Get("/market/summary", s.handleSummary)
		r.Get("/market/movers", s.handleMovers)
		r.Get("/market/most-watched", s.handleMostWatched)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("req_id", chimw.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("http_request")
	observ.RecordDuration("http_request", d, map[string]string{"status": strconv.Itoa(status)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health(r.Context()))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Search(r.Context(), r.URL.Query().Get("query"), intParam(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, part := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			symbols = append(symbols, part)
		}
	}
	res, err := s.svc.BatchDetails(r.Context(), symbols)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data := make(map[string]market.StockDetails, len(res))
	sources := make(map[string]market.DataSource, len(res))
	overall := market.SourceLive
	for sym, rr := range res {
		data[sym] = rr.Data
		sources[sym] = rr.DataSource
		overall = worse(overall, rr.DataSource)
	}
	writeJSON(w, http.StatusOK, struct {
		response
		Sources map[string]market.DataSource `json:"sources"`
	}{
		response: response{Success: true, Data: data, DataSource: overall},
		Sources:  sources,
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.StockDetails(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Historical(r.Context(), chi.URLParam(r, "symbol"), r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.News(r.Context(), chi.URLParam(r, "symbol"), intParam(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.MarketSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.MarketMovers(r.Context(), intParam(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, res.Data, res.DataSource, res.AsOf)
}

func (s *Server) handleMostWatched(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.MostWatched(r.Context(), intParam(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]market.StockDetails, 0, len(res))
	overall := market.SourceLive
	for _, rr := range res {
		data = append(data, rr.Data)
		overall = worse(overall, rr.DataSource)
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: data, DataSource: overall})
}

// worse ranks live < stale < mock
func worse(a, b market.DataSource) market.DataSource {
	rank := map[market.DataSource]int{market.SourceLive: 0, market.SourceStale: 1, market.SourceMock: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// intParam returns 0 for a missing or unparsable value, which the service
// treats as "use the default"
func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func writeResult(w http.ResponseWriter, data any, src market.DataSource, asOf time.Time) {
	resp := response{Success: true, Data: data, DataSource: src}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, marketdata.ErrNoSymbols):
		status, msg = http.StatusBadRequest, "No symbols provided"
	case errors.Is(err, market.ErrInvalidSymbol),
		errors.Is(err, market.ErrInvalidTimeframe),
		errors.Is(err, marketdata.ErrInvalidQuery):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request_failed")
	}
	writeJSON(w, status, response{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Error("http_encode_failed", err, nil)
	}
}
