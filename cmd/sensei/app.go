package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/sensei/internal/ai"
	"github.com/suPer8Hu/sensei/internal/chat"
	"github.com/suPer8Hu/sensei/internal/config"
	"github.com/suPer8Hu/sensei/internal/db"
	"github.com/suPer8Hu/sensei/internal/knowledge"
	"github.com/suPer8Hu/sensei/internal/memory"
	"github.com/suPer8Hu/sensei/internal/retrieval"
	"github.com/suPer8Hu/sensei/internal/store/rabbitmq"
	"github.com/suPer8Hu/sensei/internal/store/redisstore"
	"github.com/suPer8Hu/sensei/internal/synth"
	"github.com/suPer8Hu/sensei/internal/tagging"
)

// app holds the wired service graph shared by serve and worker.
type app struct {
	db    *gorm.DB
	index *knowledge.Index
	svc   *chat.Service

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// openIndex opens the database and the knowledge index; ingest needs only this.
func openIndex(ctx context.Context, cfg config.Config, log *zap.Logger) (*gorm.DB, *knowledge.Index, error) {
	if len(cfg.GeminiAPIKeys) == 0 {
		return nil, nil, errors.New("GEMINI_API_KEYS is empty")
	}

	gdb, err := db.Connect(cfg.DBDSN, append(knowledge.Models(), chat.Models()...)...)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := knowledge.NewGenAIEmbedder(ctx, cfg.GeminiAPIKeys[0], cfg.GeminiEmbedModel)
	if err != nil {
		return nil, nil, err
	}
	return gdb, knowledge.NewIndex(gdb, embedder, log), nil
}

// wireOptions selects the parts of the graph a command needs.
type wireOptions struct {
	// Publisher may be nil, in which case events run inline.
	Publisher chat.JobPublisher
	// Conversations opens the durable conversation store. The worker never
	// chats and leaves the store to serve.
	Conversations bool
}

// wireApp builds the full service.
func wireApp(ctx context.Context, cfg config.Config, log *zap.Logger, opts wireOptions) (*app, error) {
	gdb, index, err := openIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{db: gdb, index: index}

	reg := ai.DefaultRegistry(cfg.FastBaseURL)
	clientCfg := func(provider, model string) ai.ClientConfig {
		return ai.ClientConfig{
			Provider:           provider,
			Model:              model,
			Timeout:            cfg.ProviderTimeout,
			Backoff:            cfg.UnavailableBackoff,
			UnavailableRetries: cfg.UnavailableRetries,
		}
	}

	mainPool, err := ai.NewCredentialPool(cfg.GeminiAPIKeys)
	if err != nil {
		return nil, err
	}
	mainGen := ai.NewResilientClient(mainPool, reg, clientCfg("gemini", cfg.GeminiModel), log)

	// synthesizer and tag router run on the fast provider when it has keys
	fastGen := mainGen
	if fastPool, err := ai.NewCredentialPool(cfg.FastAPIKeys); err == nil {
		fastGen = ai.NewResilientClient(fastPool, reg, clientCfg(cfg.FastProvider, cfg.FastModel), log)
	} else {
		log.Warn("no fast provider keys, using main provider for synthesis and routing")
	}

	retriever := retrieval.NewRetriever(index, retrieval.NewHTTPCrossEncoder(cfg.RerankerURL),
		cfg.RerankThreshold, cfg.RetrievalTopK, log)

	terms, err := tagging.LoadGlossary(cfg.GlossaryPath)
	if err != nil {
		log.Warn("glossary not loaded, router has no tags", zap.String("path", cfg.GlossaryPath), zap.Error(err))
	}
	tagger := tagging.NewRouter(fastGen, terms, log)

	var cache synth.Cache
	if cfg.RedisAddr != "" {
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			log.Warn("redis unreachable, synth cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rs.Close()
		} else {
			cache = synth.RedisCache{Store: rs, TTL: cfg.SynthCacheTTL}
			a.closers = append(a.closers, rs.Close)
		}
	}
	synthesizer := synth.New(fastGen, cache, log)

	var persister memory.Persister = memory.NopPersister{}
	if opts.Conversations {
		p, closeMem, err := openMemory(cfg, gdb, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if closeMem != nil {
			a.closers = append(a.closers, closeMem)
		}
		persister = p
	}
	mem := memory.Open(ctx, persister, log)

	a.svc = chat.NewService(chat.Deps{
		Gen:         mainGen,
		Retriever:   retriever,
		Memory:      mem,
		Tagger:      tagger,
		Synthesizer: synthesizer,
		Repo:        chat.NewRepo(gdb),
		Publisher:   opts.Publisher,
		TopK:        cfg.RetrievalTopK,
		Log:         log,
	})
	return a, nil
}

// openMemory opens the configured conversation store. A store that cannot be
// opened degrades to in-process memory; only a bad MEMORY_BACKEND is an error.
func openMemory(cfg config.Config, gdb *gorm.DB, log *zap.Logger) (memory.Persister, func() error, error) {
	switch cfg.MemoryBackend {
	case "sql":
		p, err := memory.NewSQLPersister(gdb)
		if err != nil {
			log.Error("sql conversation store unavailable, history is in-process only", zap.Error(err))
			return memory.NopPersister{}, nil, nil
		}
		return p, nil, nil
	case "", "bolt":
		p, err := memory.OpenBolt(cfg.MemoryBoltPath, cfg.MemoryBoltTimeout)
		if err != nil {
			log.Error("bolt conversation store unavailable, history is in-process only",
				zap.String("path", cfg.MemoryBoltPath), zap.Error(err))
			return memory.NopPersister{}, nil, nil
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported MEMORY_BACKEND=%q", cfg.MemoryBackend)
	}
}

// publisher connects to RabbitMQ, or returns nil so events run inline.
func publisher(cfg config.Config, log *zap.Logger) *rabbitmq.Publisher {
	if cfg.RabbitURL == "" {
		return nil
	}
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unavailable, events run inline", zap.Error(err))
		return nil
	}
	return pub
}
