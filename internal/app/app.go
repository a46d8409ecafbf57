// Package app wires the configured collaborators into a running story core.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/generators"
	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/llm"
	"bedtime-stories/server/internal/prompts"
	"bedtime-stories/server/internal/rag"
	"bedtime-stories/server/internal/storage"
)

// App holds the story manager and the optional services around it.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Manager *engine.Manager
	Store   *rag.StoryStore

	Redis       *storage.RedisStore
	MySQL       *storage.MySQLStore
	Narrator    *generators.NarrationService
	Illustrator *generators.IllustrationService

	queue   *generators.RenderQueue
	closers []func() error
}

// New builds the app. Redis, MySQL, Qdrant, GPT-SoVITS and ComfyUI are only
// used when enabled; a store that cannot be reached is logged and skipped.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	completer, err := llm.NewCompleter(cfg.AI, log)
	if err != nil {
		return nil, err
	}
	summarizer, err := llm.NewSummarizer(cfg.AI, log)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedder(cfg.AI, log)
	if err != nil {
		return nil, err
	}

	index, err := a.vectorIndex(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = rag.NewStoryStore(
		index,
		rag.NewCachedEmbedder(embedder, cfg.AI.Embedding.CacheTTL, cfg.Cache.MaxEntries),
		summarizer,
		rag.StoreOptions{SummaryMaxTokens: cfg.Story.SummaryMaxTokens, ListTopK: cfg.Story.ListTopK},
		log.Named("store"),
	)

	templates := prompts.NewDefaultEngine()
	deps := engine.Dependencies{
		Generator: engine.NewSegmentGenerator(completer, templates, log.Named("segments")),
		Prompts:   templates,
		Estimator: engine.NewEstimator(cfg.Story.WordsPerMinute),
		Settings: engine.Settings{
			SegmentMaxTokens: cfg.Story.SegmentMaxTokens,
			MaxTurns:         cfg.Story.MaxTurns,
			ConcludeRatio:    cfg.Story.ConcludeRatio,
		},
		Logger: log.Named("session"),
	}

	opts := []engine.ManagerOption{engine.WithRetention(cfg.Story.Retention)}
	if cfg.Database.Redis.Enabled {
		if store, err := storage.NewRedisStore(cfg.Database.Redis); err != nil {
			log.Warn("Failed to connect to Redis, sessions stay in memory", zap.Error(err))
		} else {
			a.Redis = store
			a.closers = append(a.closers, store.Close)
			opts = append(opts, engine.WithCheckpointer(store))
			log.Info("Redis connected")
		}
	}
	if cfg.Database.MySQL.Enabled {
		if store, err := storage.NewMySQLStore(cfg.Database.MySQL, log.Named("mysql")); err != nil {
			log.Warn("Failed to connect to MySQL, finished stories are not archived", zap.Error(err))
		} else {
			a.MySQL = store
			a.closers = append(a.closers, store.Close)
			opts = append(opts, engine.WithArchiver(store))
			log.Info("MySQL connected")
		}
	}
	a.Manager = engine.NewManager(deps, a.Store, opts...)

	if err := a.assets(ctx, templates); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases every connection the app opened.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) vectorIndex(ctx context.Context) (interfaces.VectorIndex, error) {
	qcfg := a.Config.Database.Qdrant
	if !qcfg.Enabled {
		a.Log.Info("Qdrant disabled, saved stories are kept in memory")
		return rag.NewMemoryIndex(), nil
	}
	index, err := rag.NewQdrantIndex(ctx, qcfg, a.Log.Named("qdrant"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	a.closers = append(a.closers, index.Close)
	a.Log.Info("Qdrant connected", zap.String("collection", qcfg.Collection))
	return index, nil
}

func (a *App) assets(ctx context.Context, templates *prompts.TemplateEngine) error {
	cfg := a.Config
	if cfg.AI.SoVITS.Enabled {
		cache := generators.NewAudioCache(filepath.Join(cfg.Cache.Dir, "audio_cache"), cfg.Cache.MaxEntries, cfg.Cache.TTL, a.Log)
		if err := cache.Load(); err != nil {
			return err
		}
		client := generators.NewSoVITSClient(cfg.AI.SoVITS.BaseURL, cfg.AI.SoVITS.Language, cfg.AI.SoVITS.Timeout)
		if err := client.HealthCheck(ctx); err != nil {
			a.Log.Warn("GPT-SoVITS is not answering yet", zap.Error(err))
		}
		a.Narrator = generators.NewNarrationService(client, generators.NewVoiceLibrary(cfg.AI.SoVITS.VoiceDir), cache, a.Log.Named("narrator"))
	}

	if cfg.AI.ComfyUI.Enabled {
		cache := generators.NewImageCache(filepath.Join(cfg.Cache.Dir, "image_cache"), cfg.Cache.MaxEntries, cfg.Cache.TTL, a.Log)
		if err := cache.Load(); err != nil {
			return err
		}
		client := generators.NewComfyUIClient(cfg.AI.ComfyUI.BaseURL, cfg.AI.ComfyUI.Timeout, a.Log.Named("comfyui"))
		if err := client.HealthCheck(ctx); err != nil {
			a.Log.Warn("ComfyUI is not answering yet", zap.Error(err))
		}
		a.queue = generators.NewRenderQueue(cfg.Queue.MaxWorkers, cfg.Queue.MaxQueueSize, a.Log.Named("render"))
		a.queue.Start(context.Background())
		a.Illustrator = generators.NewIllustrationService(client, cache, a.queue, templates, cfg.AI.ComfyUI.Checkpoint, a.Log.Named("illustrator"))
	}
	return nil
}
