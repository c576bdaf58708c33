// Package api exposes the HTTP surface: compound search, suggestions,
// ingestion, and resource access. Authentication happens upstream; the
// handlers trust the tenant and user headers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/quarrylabs/quarry/pkg/ingest"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/store"
	"github.com/quarrylabs/quarry/pkg/suggest"
)

// API holds the handler dependencies.
type API struct {
	executor    *search.Executor
	suggestions *suggest.Index
	pipeline    *ingest.Pipeline
	store       *store.Store
	log         hclog.Logger
}

// New wires the API handlers.
func New(executor *search.Executor, suggestions *suggest.Index, pipeline *ingest.Pipeline, st *store.Store, log hclog.Logger) *API {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &API{
		executor:    executor,
		suggestions: suggestions,
		pipeline:    pipeline,
		store:       st,
		log:         log.Named("api"),
	}
}

// Register attaches all routes to the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /resources/compound-search", a.handleCompoundSearch)
	mux.HandleFunc("GET /search/suggestions", a.handleSuggestions)
	mux.HandleFunc("POST /resources", a.handleIngest)
	mux.HandleFunc("GET /resources/{id}", a.handleGetResource)
	mux.HandleFunc("DELETE /resources/{id}", a.handleDeleteResource)
	mux.HandleFunc("GET /health", a.handleHealth)
}

type compoundSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (a *API) handleCompoundSearch(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	var req compoundSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resultSet, err := a.executor.CompoundSearch(r.Context(), req.Query, tenantID, req.Limit)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrBadRequest):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, search.ErrForbidden):
			respondError(w, http.StatusUnauthorized, "missing tenant")
		case errors.Is(err, search.ErrSearchUnavailable):
			respondError(w, http.StatusServiceUnavailable, "search unavailable")
		default:
			a.log.Error("compound search failed", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusOK, resultSet)
}

// handleSuggestions never fails outward: backing store hiccups produce
// an empty list.
func (a *API) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondJSON(w, http.StatusOK, []suggest.Suggestion{})
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	suggestions, err := a.suggestions.Suggest(r.Context(), tenantID, r.URL.Query().Get("q"), limit)
	if err != nil {
		a.log.Warn("suggestion lookup failed", "error", err)
		suggestions = []suggest.Suggestion{}
	}
	respondJSON(w, http.StatusOK, suggestions)
}

type ingestRequest struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mime_type"`
	Content     []byte   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
}

type ingestResponse struct {
	ResourceID        string   `json:"resource_id"`
	ChunksCreated     int      `json:"chunks_created"`
	EmbeddingDegraded bool     `json:"embedding_degraded,omitempty"`
	SideEffectErrors  []string `json:"side_effect_errors,omitempty"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}
	ownerID := userFrom(r)
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.pipeline.Ingest(r.Context(), ingest.Request{
		TenantID:    tenantID,
		OwnerID:     ownerID,
		URI:         req.URI,
		Name:        req.Name,
		Description: req.Description,
		MimeType:    req.MimeType,
		Bytes:       req.Content,
		Tags:        req.Tags,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBadRequest):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingest.ErrConflict):
			w.Header().Set("Retry-After", "5")
			respondError(w, http.StatusConflict, "ingestion already in progress")
		case errors.Is(err, ingest.ErrUnsupportedMimeType):
			respondError(w, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, ingest.ErrParseFailed):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			a.log.Error("ingestion failed", "uri", req.URI, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusCreated, ingestResponse{
		ResourceID:        result.ResourceID,
		ChunksCreated:     result.ChunksCreated,
		EmbeddingDegraded: result.EmbeddingDegraded,
		SideEffectErrors:  result.SideEffectErrors,
	})
}

func (a *API) handleGetResource(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	resource, err := a.store.GetByID(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resource)
}

func (a *API) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	if err := a.pipeline.Delete(r.Context(), tenantID, r.PathValue("id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := a.store.Healthy(r.Context())
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	respondJSON(w, status, map[string]string{"status": state})
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
