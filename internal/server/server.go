// Package server wires configuration into running components: database,
// search index, suggestion store, embedding backend, ingestion pipeline,
// and the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/quarrylabs/quarry/internal/api"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/pkg/database"
	"github.com/quarrylabs/quarry/pkg/extract"
	"github.com/quarrylabs/quarry/pkg/ingest"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/search"
	bleveadapter "github.com/quarrylabs/quarry/pkg/search/adapters/bleve"
	"github.com/quarrylabs/quarry/pkg/store"
	"github.com/quarrylabs/quarry/pkg/suggest"
	"github.com/quarrylabs/quarry/pkg/suggest/adapters/memory"
	"github.com/quarrylabs/quarry/pkg/suggest/adapters/redis"
	"github.com/quarrylabs/quarry/pkg/vision"
)

// reindexInterval is how often the background reconciler retries chunks
// whose embeddings are still missing.
const reindexInterval = 5 * time.Minute

// Server holds the composed components.
type Server struct {
	// Config is the config for the server.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Store is the resource store, the system of record.
	Store *store.Store

	// Index is the compound search index.
	Index search.Index

	// Executor runs compound searches against the index with lexical
	// fallback through the store.
	Executor *search.Executor

	// Suggestions is the typeahead suggestion index.
	Suggestions *suggest.Index

	// Pipeline is the ingestion pipeline.
	Pipeline *ingest.Pipeline

	// Pool fans HTTP ingestion out to background workers.
	Pool *ingest.WorkerPool

	// Consumer consumes upload events from Kafka; nil when Kafka is not
	// configured.
	Consumer *ingest.Consumer

	// Logger is the logger for the server.
	Logger hclog.Logger

	suggestStore suggest.Store
}

// New builds a Server from configuration. Optional backends (embeddings,
// vision, Kafka, Redis) are wired only when configured; the rest of the
// system degrades around their absence.
func New(ctx context.Context, cfg *config.Config, log hclog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	db, err := database.Connect(databaseConfig(cfg.Database), log)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	st := store.New(db, log)

	embedder, err := buildEmbedder(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		log.Warn("no embedding model configured, running lexical-only")
	}

	index, err := buildIndex(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("error opening search index: %w", err)
	}

	suggestStore, err := buildSuggestStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting suggestion store: %w", err)
	}
	maxTerms := 0
	if cfg.Suggestions != nil {
		maxTerms = cfg.Suggestions.MaxTermsPerResource
	}
	suggestions := suggest.NewIndex(suggestStore, suggest.Config{
		MaxTermsPerResource: maxTerms,
		Logger:              log,
	})

	visionProc := buildVision(cfg, embedder, log)

	extractor := &extract.Extractor{VendorAliases: cfg.VendorAliases}

	ingestCfg := ingest.Config{Logger: log}
	workerConcurrency := 0
	if cfg.Ingest != nil {
		ingestCfg.ChunkSizeChars = cfg.Ingest.ChunkSizeChars
		ingestCfg.ChunkOverlapChars = cfg.Ingest.ChunkOverlapChars
		ingestCfg.PerTenantConcurrency = cfg.Ingest.PerTenantConcurrency
		workerConcurrency = cfg.Ingest.WorkerConcurrency
	}
	pipeline := ingest.NewPipeline(st, index, suggestions, embedder, visionProc, extractor, ingestCfg)
	pool := ingest.NewWorkerPool(pipeline, workerConcurrency, log)

	var queryEmbedder search.Embedder
	if embedder != nil {
		queryEmbedder = embedder
	}
	executor := search.NewExecutor(index, st, queryEmbedder, executorConfig(cfg, log))

	var consumer *ingest.Consumer
	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		consumer, err = ingest.NewConsumer(pipeline, ingest.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating kafka consumer: %w", err)
		}
	}

	return &Server{
		Config:       cfg,
		DB:           db,
		Store:        st,
		Index:        index,
		Executor:     executor,
		Suggestions:  suggestions,
		Pipeline:     pipeline,
		Pool:         pool,
		Consumer:     consumer,
		Logger:       log,
		suggestStore: suggestStore,
	}, nil
}

// Run starts the HTTP listener, worker pool, optional Kafka consumer, and
// the embedding backfill loop, then blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := ":8000"
	if s.Config.Server != nil && s.Config.Server.Addr != "" {
		addr = s.Config.Server.Addr
	}

	mux := http.NewServeMux()
	api.New(s.Executor, s.Suggestions, s.Pipeline, s.Store, s.Logger).Register(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.Logger.Info("component health at startup",
		"store", s.Store.Healthy(ctx),
		"index", s.Index.Healthy(ctx),
	)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.Logger.Info("starting HTTP server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		return s.Pool.Run(ctx)
	})

	if s.Consumer != nil {
		group.Go(func() error {
			err := s.Consumer.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		return s.reindexLoop(ctx)
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reindexLoop periodically backfills embeddings for chunks that were
// ingested while the embedding backend was unavailable.
func (s *Server) reindexLoop(ctx context.Context) error {
	ticker := time.NewTicker(reindexInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			backfilled, err := s.Pipeline.ReindexPending(ctx, 100)
			if err != nil {
				s.Logger.Warn("embedding backfill incomplete", "backfilled", backfilled, "error", err)
			} else if backfilled > 0 {
				s.Logger.Info("backfilled chunk embeddings", "count", backfilled)
			}
		}
	}
}

// Close releases the index, suggestion store, and database connections.
func (s *Server) Close() error {
	if s.Consumer != nil {
		s.Consumer.Stop()
	}
	if s.Index != nil {
		if err := s.Index.Close(); err != nil {
			s.Logger.Warn("error closing search index", "error", err)
		}
	}
	if s.suggestStore != nil {
		if err := s.suggestStore.Close(); err != nil {
			s.Logger.Warn("error closing suggestion store", "error", err)
		}
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}

func databaseConfig(cfg *config.Database) database.Config {
	if cfg == nil {
		return database.Config{Driver: "sqlite"}
	}
	return database.Config{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Path:     cfg.Path,
	}
}

func buildEmbedder(ctx context.Context, cfg *config.Config, log hclog.Logger) (*llm.EmbeddingClient, error) {
	if cfg.Embedding == nil || cfg.Embedding.Model == "" {
		return nil, nil
	}

	factory := llm.NewGeneratorFactory(llm.GeneratorFactoryConfig{
		OpenAIAPIKey:  cfg.Embedding.APIKey,
		OpenAIBaseURL: cfg.Embedding.BaseURL,
		Logger:        log,
	})
	generator, err := factory.GetGenerator(ctx, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("error creating embeddings backend: %w", err)
	}

	clientCfg := llm.EmbeddingClientConfig{
		Generator:    generator,
		TextModel:    cfg.Embedding.Model,
		TextDims:     cfg.Embedding.DimText,
		CaptionModel: cfg.Embedding.CaptionModel,
		CaptionDims:  cfg.Embedding.DimCaption,
	}
	if cfg.Deadlines != nil && cfg.Deadlines.EmbedMS > 0 {
		clientCfg.Deadline = time.Duration(cfg.Deadlines.EmbedMS) * time.Millisecond
	}
	return llm.NewEmbeddingClient(clientCfg)
}

func buildIndex(cfg *config.Config, log hclog.Logger) (search.Index, error) {
	adapterCfg := &bleveadapter.Config{Logger: log}
	if cfg.Search != nil {
		adapterCfg.IndexPath = cfg.Search.IndexPath
		adapterCfg.VectorPath = cfg.Search.VectorPath
	}
	return bleveadapter.NewAdapter(adapterCfg)
}

func buildSuggestStore(ctx context.Context, cfg *config.Config) (suggest.Store, error) {
	if cfg.Suggestions != nil && cfg.Suggestions.Backend == "redis" {
		return redis.NewStore(ctx, redis.Config{
			Addr:     cfg.Suggestions.RedisAddr,
			Password: cfg.Suggestions.RedisPassword,
			DB:       cfg.Suggestions.RedisDB,
		})
	}
	return memory.NewStore(), nil
}

func buildVision(cfg *config.Config, embedder *llm.EmbeddingClient, log hclog.Logger) *vision.Processor {
	if cfg.Vision == nil || (cfg.Vision.OCRURL == "" && cfg.Vision.CaptionURL == "") {
		return nil
	}

	procCfg := vision.ProcessorConfig{
		Embeddings: embedder,
		Logger:     log,
	}
	if cfg.Deadlines != nil {
		if cfg.Deadlines.OCRMS > 0 {
			procCfg.OCRDeadline = time.Duration(cfg.Deadlines.OCRMS) * time.Millisecond
		}
		if cfg.Deadlines.CaptionMS > 0 {
			procCfg.CaptionDeadline = time.Duration(cfg.Deadlines.CaptionMS) * time.Millisecond
		}
	}

	if cfg.Vision.OCRURL != "" {
		ocr, err := vision.NewHTTPOCRClient(vision.HTTPOCRConfig{BaseURL: cfg.Vision.OCRURL, Logger: log})
		if err != nil {
			log.Warn("invalid OCR configuration, skipping OCR", "error", err)
		} else {
			procCfg.OCR = ocr
		}
	}
	if cfg.Vision.CaptionURL != "" {
		captioner, err := vision.NewHTTPCaptioner(vision.HTTPCaptionerConfig{BaseURL: cfg.Vision.CaptionURL, Logger: log})
		if err != nil {
			log.Warn("invalid captioner configuration, skipping captions", "error", err)
		} else {
			procCfg.Captioner = captioner
		}
	}

	return vision.NewProcessor(procCfg)
}

func executorConfig(cfg *config.Config, log hclog.Logger) search.ExecutorConfig {
	out := search.ExecutorConfig{Logger: log}
	if cfg.Search != nil {
		out.MoneyTolerance = cfg.Search.MoneyTolerance
		out.ScoreCeiling = cfg.Search.ScoreCeiling
		out.SemanticStrongThreshold = cfg.Search.SemanticStrongThreshold
		out.OverFetchFactor = cfg.Search.OverFetchFactor
	}
	if cfg.Deadlines != nil && cfg.Deadlines.SearchMS > 0 {
		out.SearchDeadline = time.Duration(cfg.Deadlines.SearchMS) * time.Millisecond
	}
	return out
}
