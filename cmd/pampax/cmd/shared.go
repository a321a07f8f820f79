package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pampax/pampax/internal/config"
	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/interaction"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/retrieval"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/turn"
)

// environment bundles the pieces every subcommand opens against: the
// project root and its .pampax data directory, loaded config, storage
// facade, and (when not offline) an embedder. Close releases the
// storage lock and embedder connection.
type environment struct {
	Root     string
	DataDir  string
	Config   *config.Config
	Storage  *store.Storage
	Embedder embed.Embedder
}

func (e *environment) Close() {
	if e.Embedder != nil {
		_ = e.Embedder.Close()
	}
	if e.Storage != nil {
		_ = e.Storage.Close()
	}
}

// openEnvironment resolves path to its project root, loads config, and
// opens the storage facade. When offline is true Embedder is the static
// 768-dimension embedder. Otherwise the configured provider is built;
// if that fails Embedder is left nil, which degrades every command that
// uses it to lexical-only behavior rather than failing outright.
func openEnvironment(ctx context.Context, path string, offline bool) (*environment, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".pampax")

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	storage, err := store.Open(store.StorageConfig{
		DataDir:     dataDir,
		BM25Backend: cfg.Search.BM25Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	env := &environment{Root: root, DataDir: dataDir, Config: cfg, Storage: storage}

	if offline {
		env.Embedder = embed.NewStaticEmbedder768()
		return env, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
	if err != nil {
		// No embedder available: fall back to lexical-only rather than
		// failing commands that don't strictly need one (graph, token,
		// cache, health all work fine without it).
		env.Embedder = nil
		return env, nil
	}
	env.Embedder = embedder
	return env, nil
}

// buildEngine wires a turn.Engine over env, matching the features
// config.Config declares under [features].
func buildEngine(env *environment) *turn.Engine {
	meter := health.NewInMemoryMeterProvider().Meter("pampax")
	metrics, err := health.NewMetrics(meter, health.DefaultSampleRates())
	if err != nil {
		metrics = nil
	}

	var embedder turn.Embedder
	if env.Embedder != nil {
		embedder = env.Embedder
	}

	return turn.New(turn.Deps{
		Storage:    env.Storage,
		Classifier: intent.New(),
		Gate:       policy.NewGate(),
		Embedder:   embedder,
		Reranker:   retrieval.NoOpReranker{},
		Recorder:   interaction.New(env.Storage.Meta()),
		Cache:      interaction.NewSignatureCache(1000, interaction.DefaultCacheTTL),
		Metrics:    metrics,
		Features: turn.Features{
			GraphExpansion:      env.Config.Features.GraphExpansion,
			Reranking:           env.Config.Features.Reranking,
			InteractionLearning: env.Config.Features.InteractionLearning,
		},
	})
}
