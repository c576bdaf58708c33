package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/database"
	"github.com/quarrylabs/quarry/pkg/extract"
	"github.com/quarrylabs/quarry/pkg/ingest"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/store"
	"github.com/quarrylabs/quarry/pkg/suggest"
	"github.com/quarrylabs/quarry/pkg/suggest/adapters/memory"
)

type stubIndex struct {
	response *search.Response
	err      error
	indexed  int
	deleted  []string
}

func (s *stubIndex) Search(context.Context, *search.Request) (*search.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return &search.Response{}, nil
}

func (s *stubIndex) IndexChunks(_ context.Context, _ *models.Resource, chunks []*models.Chunk) error {
	s.indexed += len(chunks)
	return nil
}

func (s *stubIndex) DeleteByResource(_ context.Context, _, resourceID string) error {
	s.deleted = append(s.deleted, resourceID)
	return nil
}

func (s *stubIndex) Healthy(context.Context) bool { return true }
func (s *stubIndex) Close() error                 { return nil }

type testEnv struct {
	api   *API
	store *store.Store
	index *stubIndex
}

func newTestEnv(t *testing.T, idx *stubIndex) *testEnv {
	t.Helper()

	db, err := database.Connect(database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "api_test.db"),
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	st := store.New(db, hclog.NewNullLogger())

	embedder, err := llm.NewEmbeddingClient(llm.EmbeddingClientConfig{
		Generator: &llm.MockGenerator{},
		TextModel: "test-embed",
		TextDims:  8,
	})
	require.NoError(t, err)

	suggestions := suggest.NewIndex(memory.NewStore(), suggest.Config{})
	pipeline := ingest.NewPipeline(st, idx, suggestions, embedder, nil, &extract.Extractor{}, ingest.Config{})
	executor := search.NewExecutor(idx, st, embedder, search.ExecutorConfig{})

	return &testEnv{
		api:   New(executor, suggestions, pipeline, st, hclog.NewNullLogger()),
		store: st,
		index: idx,
	}
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	e.api.Register(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target string, payload interface{}) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCompoundSearchHandler(t *testing.T) {
	t.Run("missing tenant returns unauthorized", func(t *testing.T) {
		env := newTestEnv(t, &stubIndex{})

		req := jsonRequest(http.MethodPost, "/resources/compound-search", compoundSearchRequest{Query: "acme"})
		w := env.serve(req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("empty query returns bad request", func(t *testing.T) {
		env := newTestEnv(t, &stubIndex{})

		req := jsonRequest(http.MethodPost, "/resources/compound-search", compoundSearchRequest{Query: "   "})
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body returns bad request", func(t *testing.T) {
		env := newTestEnv(t, &stubIndex{})

		req := httptest.NewRequest(http.MethodPost, "/resources/compound-search", bytes.NewReader([]byte("{not json")))
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns result set", func(t *testing.T) {
		idx := &stubIndex{response: &search.Response{
			Hits: []search.Hit{{
				ChunkID:    "chunk-1",
				ResourceID: "res-1",
				Score:      9,
				Fields: map[string]interface{}{
					search.FieldResourceID: "res-1",
					search.FieldFileName:   "invoice.pdf",
					search.FieldFileType:   models.FileTypePDF,
				},
			}},
			Total: 1,
		}}
		env := newTestEnv(t, idx)

		req := jsonRequest(http.MethodPost, "/resources/compound-search", compoundSearchRequest{Query: "acme invoice"})
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)

		var resultSet search.ResultSet
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resultSet))
		assert.Equal(t, search.StrategyCompound, resultSet.Strategy)
		require.Len(t, resultSet.Results, 1)
		assert.Equal(t, "res-1", resultSet.Results[0].ResourceID)
		assert.Equal(t, "/resources/res-1", resultSet.Results[0].OpenURL)
	})

	t.Run("index down with empty store falls back empty", func(t *testing.T) {
		env := newTestEnv(t, &stubIndex{err: errors.New("index offline")})

		req := jsonRequest(http.MethodPost, "/resources/compound-search", compoundSearchRequest{Query: "acme"})
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)

		var resultSet search.ResultSet
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resultSet))
		assert.Equal(t, search.StrategyKeywordFallback, resultSet.Strategy)
		assert.Empty(t, resultSet.Results)
	})
}

func TestSuggestionsHandler(t *testing.T) {
	env := newTestEnv(t, &stubIndex{})

	ingestReq := ingestRequest{
		URI:      "s3://docs/google cloud invoice.pdf",
		Name:     "google cloud invoice.pdf",
		MimeType: "text/plain",
		Content:  []byte("Google Cloud invoice for March"),
	}
	req := jsonRequest(http.MethodPost, "/resources", ingestReq)
	req.Header.Set(tenantHeader, "tenant-a")
	req.Header.Set(userHeader, "user-1")
	require.Equal(t, http.StatusCreated, env.serve(req).Code)

	t.Run("prefix match", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=goo", nil)
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)
		var suggestions []suggest.Suggestion
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suggestions))
		assert.NotEmpty(t, suggestions)
	})

	t.Run("missing tenant returns empty list not an error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=goo", nil)
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("other tenant sees nothing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=goo", nil)
		req.Header.Set(tenantHeader, "tenant-b")
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})
}

func TestIngestHandler(t *testing.T) {
	env := newTestEnv(t, &stubIndex{})

	base := ingestRequest{
		URI:      "s3://docs/note.txt",
		Name:     "note.txt",
		MimeType: "text/plain",
		Content:  []byte("hello world"),
	}

	t.Run("creates resource", func(t *testing.T) {
		req := jsonRequest(http.MethodPost, "/resources", base)
		req.Header.Set(tenantHeader, "tenant-a")
		req.Header.Set(userHeader, "user-1")
		w := env.serve(req)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp ingestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ResourceID)
		assert.Equal(t, 1, resp.ChunksCreated)
	})

	t.Run("missing user returns unauthorized", func(t *testing.T) {
		req := jsonRequest(http.MethodPost, "/resources", base)
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unsupported mime type", func(t *testing.T) {
		bad := base
		bad.URI = "s3://docs/app.bin"
		bad.MimeType = "application/octet-stream"
		req := jsonRequest(http.MethodPost, "/resources", bad)
		req.Header.Set(tenantHeader, "tenant-a")
		req.Header.Set(userHeader, "user-1")
		w := env.serve(req)

		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("missing content returns bad request", func(t *testing.T) {
		bad := base
		bad.Content = nil
		req := jsonRequest(http.MethodPost, "/resources", bad)
		req.Header.Set(tenantHeader, "tenant-a")
		req.Header.Set(userHeader, "user-1")
		w := env.serve(req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResourceHandlers(t *testing.T) {
	env := newTestEnv(t, &stubIndex{})
	ctx := context.Background()

	resource := &models.Resource{
		TenantID: "tenant-a",
		OwnerID:  "user-1",
		URI:      "s3://docs/a.txt",
		Name:     "a.txt",
		FileType: models.FileTypeText,
	}
	require.NoError(t, env.store.CreateResource(ctx, resource))

	t.Run("get returns resource", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resources/"+resource.ID, nil)
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		require.Equal(t, http.StatusOK, w.Code)
		var got models.Resource
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, resource.ID, got.ID)
	})

	t.Run("cross tenant get is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resources/"+resource.ID, nil)
		req.Header.Set(tenantHeader, "tenant-b")
		w := env.serve(req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resources/no-such-id", nil)
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete removes resource and index entries", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/resources/"+resource.ID, nil)
		req.Header.Set(tenantHeader, "tenant-a")
		w := env.serve(req)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, env.index.deleted, resource.ID)

		_, err := env.store.GetByID(ctx, "tenant-a", resource.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, &stubIndex{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := env.serve(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
