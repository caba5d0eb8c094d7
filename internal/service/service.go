// Package service wires the whole pipeline together: introspection,
// document synthesis, index population, retrieval, generation, and
// execution, behind one request-oriented API.
package service

import (
	"context"
	"strings"

	"github.com/dbwhisper/dbwhisper/internal/config"
	"github.com/dbwhisper/dbwhisper/internal/database"
	"github.com/dbwhisper/dbwhisper/internal/database/mysql"
	"github.com/dbwhisper/dbwhisper/internal/database/postgres"
	"github.com/dbwhisper/dbwhisper/internal/docs"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/executor"
	"github.com/dbwhisper/dbwhisper/internal/llm"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/schema"
	"github.com/dbwhisper/dbwhisper/internal/vector"
)

// Service is the application core. One Service serves many concurrent
// question/answer cycles; the schema cache is its only shared mutable
// state, and that is replaced wholesale on refresh.
type Service struct {
	cfg       *config.Config
	db        database.DB
	cache     *schema.Cache
	index     vector.Index
	embedder  vector.Embedder
	retriever *vector.Coordinator
	generator *llm.Generator
	executor  *executor.Adapter
	log       *logger.Logger
}

// New builds a fully wired Service from cfg. All construction-time
// misconfiguration (unknown driver or provider, missing credential,
// unreachable database) surfaces here, before any request is served.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Service, error) {
	db, intro, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	extractor := schema.NewExtractor(db, intro, cfg.Database.QueryTimeout.Std(), log)
	cache := schema.NewCache(extractor, cfg.Database.Schema)

	embedder := vector.NewHTTPEmbedder(cfg.Vector.EmbedEndpoint, cfg.Vector.EmbedModel, cfg.Vector.EmbedTimeout.Std())

	index, err := vector.NewSQLiteIndex(cfg.Vector.Dir, embedder, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	completer, err := llm.NewCompleter(cfg.LLM.Provider, llm.Options{
		Model:       cfg.LLM.Model,
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		db.Close()
		_ = index.Close()
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		db:        db,
		cache:     cache,
		index:     index,
		embedder:  embedder,
		retriever: vector.NewCoordinator(index, cfg.Vector.MaxResults, log),
		generator: llm.NewGenerator(completer, log),
		executor:  executor.New(db, cfg.Database.QueryTimeout.Std(), log),
		log:       log,
	}, nil
}

// openDatabase dispatches on the configured driver tag. The set is
// closed; validation in config catches unknown tags first, this switch
// is the backstop.
func openDatabase(ctx context.Context, cfg *config.Config) (database.DB, schema.Introspector, error) {
	dbCfg := database.DefaultConfig(cfg.Database.DSN)
	dbCfg.MaxConns = cfg.Database.MaxConns
	dbCfg.MinConns = cfg.Database.MinConns
	dbCfg.ConnectTimeout = cfg.Database.ConnectTimeout.Std()
	dbCfg.QueryTimeout = cfg.Database.QueryTimeout.Std()

	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.New(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		return db, schema.NewPgIntrospector(), nil
	case "mysql":
		db, err := mysql.New(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		return db, schema.NewMyIntrospector(), nil
	default:
		return nil, nil, errs.New(errs.ErrKindConfiguration, "unknown database driver "+cfg.Database.Driver)
	}
}

// Ready verifies every external capability the pipeline depends on: the
// database and the embedding backend. Model loading on the embedding
// side happens here, at a predictable point, not on the first question.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return err
	}
	return s.embedder.Ping(ctx)
}

// Close releases the database pool and the index store.
func (s *Service) Close() {
	s.db.Close()
	if err := s.index.Close(); err != nil {
		s.log.Errorf("closing index: %v", err)
	}
}

// ExtractMetadata returns the (cached) schema. With force set, a fresh
// extraction replaces the cached value.
func (s *Service) ExtractMetadata(ctx context.Context, force bool) (*schema.Schema, error) {
	return s.cache.Get(ctx, force)
}

// BuildIndex populates the retrieval index from the current schema. When
// the index is already populated and force is unset this is a no-op;
// with force set the index is cleared and rebuilt from a forced
// re-extraction. Returns the number of units now indexed.
func (s *Service) BuildIndex(ctx context.Context, force bool) (int, error) {
	populated, err := vector.Populated(ctx, s.index)
	if err != nil {
		return 0, err
	}

	if populated && !force {
		n, err := s.index.Count(ctx)
		if err != nil {
			return 0, err
		}
		s.log.Infof("index already populated with %d units", n)
		return n, nil
	}

	if populated {
		if err := s.index.Reset(ctx); err != nil {
			return 0, err
		}
	}

	meta, err := s.ExtractMetadata(ctx, force)
	if err != nil {
		return 0, err
	}

	units := docs.Synthesize(meta)
	if err := s.index.Add(ctx, units); err != nil {
		return 0, err
	}
	return len(units), nil
}

// GenerateSQL retrieves context for question and drives the generator.
func (s *Service) GenerateSQL(ctx context.Context, question string) (*llm.SQLGenerationResult, *vector.SearchResult, error) {
	search, err := s.retriever.Retrieve(ctx, question, s.cfg.Vector.MaxResults)
	if err != nil {
		return nil, nil, err
	}

	gen, err := s.generator.GenerateSQL(ctx, question, contextText(search), search.Tables)
	if err != nil {
		return nil, nil, err
	}
	return gen, search, nil
}

// contextText concatenates retrieved fragments in rank order, separated
// so the model can tell one fragment from the next.
func contextText(search *vector.SearchResult) string {
	parts := make([]string, len(search.Context))
	for i, frag := range search.Context {
		parts[i] = frag.Body + "\n---"
	}
	return strings.Join(parts, "\n\n")
}

// ExecuteQuery runs sql against the target database. Execution faults
// come back inside the result, never as an error.
func (s *Service) ExecuteQuery(ctx context.Context, sql string) *executor.QueryResult {
	return s.executor.Execute(ctx, sql)
}

// Answer is the full outcome of one natural-language question.
type Answer struct {
	Question    string                `json:"question"`
	SQL         string                `json:"sql"`
	Explanation string                `json:"explanation"`
	Result      *executor.QueryResult `json:"result"`
	Tables      []string              `json:"tables"`
	Context     []vector.Fragment     `json:"context"`
}

// Ask runs the full cycle: retrieve, generate, execute, explain. A
// failing generated statement yields an Answer whose Result reports the
// failure; only retrieval and generation failures propagate as errors.
func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	gen, search, err := s.GenerateSQL(ctx, question)
	if err != nil {
		return nil, err
	}

	result := s.ExecuteQuery(ctx, gen.SQL)
	explanation := s.generator.ExplainSQL(ctx, gen.SQL, question)

	return &Answer{
		Question:    question,
		SQL:         gen.SQL,
		Explanation: explanation,
		Result:      result,
		Tables:      gen.Tables,
		Context:     search.Context,
	}, nil
}
