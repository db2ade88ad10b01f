// Package routes wires the local HTTP surface: token counting plus cache
// administration.
package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"github.com/tokengauge/tokengauge/cache"
	"github.com/tokengauge/tokengauge/tokenizer"
)

type Server struct {
	Router       *chi.Mux
	Worker       *tokenizer.Worker
	Registry     *tokenizer.Registry
	Storage      *cache.Storage
	DefaultModel string
}

type ServerOptions struct {
	Worker       *tokenizer.Worker
	Registry     *tokenizer.Registry
	Storage      *cache.Storage
	DefaultModel string
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:       r,
		Worker:       opts.Worker,
		Registry:     opts.Registry,
		Storage:      opts.Storage,
		DefaultModel: opts.DefaultModel,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Post("/count", s.handleCount)
	r.Get("/models", s.handleModels)
	r.Get("/caches", s.handleCaches)
	r.Get("/caches/{name}/keys", s.handleCacheKeys)
	r.Delete("/caches/{name}", s.handleCacheDelete)

	return s
}

type countRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type countResponse struct {
	Model     string `json:"model"`
	Tokens    int    `json:"tokens"`
	Limit     int    `json:"limit"`
	Within    bool   `json:"within"`
	Estimated bool   `json:"estimated"`
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	model := req.Model
	if model == "" {
		model = s.DefaultModel
	}

	result, err := s.Worker.Count(r.Context(), model, req.Text)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("model", model).Msg("count failed")
		http.Error(w, "count failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, countResponse{
		Model:     result.Model,
		Tokens:    result.Tokens,
		Limit:     result.Limit,
		Within:    result.Within(),
		Estimated: result.Estimated,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.Registry.Names())
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	names, err := s.Storage.Names(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list caches failed")
		http.Error(w, "list caches failed", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, r, http.StatusOK, names)
}

type cacheKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := s.Storage.Has(r.Context(), name)
	if err == nil && !ok {
		http.Error(w, "cache not found", http.StatusNotFound)
		return
	}
	var keys []*cache.Request
	if err == nil {
		var c *cache.Cache
		c, err = s.Storage.Open(r.Context(), name)
		if err == nil {
			keys, err = c.Keys(r.Context(), nil, nil)
		}
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("cache", name).Msg("list cache keys failed")
		http.Error(w, "list cache keys failed", http.StatusInternalServerError)
		return
	}
	out := make([]cacheKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, cacheKey{Method: k.Method, URL: k.URL})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	existed, err := s.Storage.Delete(r.Context(), name)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("cache", name).Msg("delete cache failed")
		http.Error(w, "delete cache failed", http.StatusInternalServerError)
		return
	}
	if !existed {
		http.Error(w, "cache not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}
