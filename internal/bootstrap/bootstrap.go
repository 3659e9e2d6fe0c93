// Package bootstrap builds the shared services of the server, the worker
// and the CLI from environment variables.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/answer"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/executor"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/folio/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/folio/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const DefaultCollection = "portfolio"

// AIClient is a chat and embedding client with usage metrics.
type AIClient interface {
	ai.Client
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
	GetMetrics() ai.ModelMetrics
	ResetMetrics()
}

// NewAIClient returns the client selected by AI_ADAPTER.
func NewAIClient() (AIClient, error) {
	parallel := util.GetEnvInt("AI_PARALLEL_REQ", 4)
	timeout := util.GetEnvDuration("AI_TIMEOUT", 2*time.Minute)
	dim := util.GetEnvInt("AI_EMBED_DIM", 0)

	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		client, err := oai.NewClient(oai.NewClientParams{
			ChatModel:      util.GetEnv("AI_ANSWER_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   dim,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			APIKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(parallel),
			Timeout:               timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	case "openai", "":
		return gai.NewClient(gai.NewClientParams{
			ChatModel:      util.GetEnv("AI_ANSWER_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   dim,

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			Parallel: parallel,
			Timeout:  timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// ConnectDB opens a pool with the pgvector types registered on every
// connection.
func ConnectDB(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// The database may still be starting next to us.
	err = util.RetryErrWithContext(ctx, util.GetEnvInt("DATABASE_CONNECT_TRIES", 5), time.Second, pool.Ping)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// NewIngestLock returns the lease that serializes ingests of a collection
// across servers and workers. Callers wait for a busy lease.
func NewIngestLock(pool *pgxpool.Pool) *leaselock.Locker {
	host, _ := os.Hostname()
	return leaselock.New(pool, leaselock.Options{
		TTL:        util.GetEnvDuration("INGEST_LEASE_TTL", 5*time.Minute),
		Wait:       true,
		WaitJitter: 250 * time.Millisecond,
		Holder:     host + "-",
	})
}

// LoadRules reads PIPELINE_RULES_PATH, or returns the built-in tables.
func LoadRules() (*rules.Rules, error) {
	path := util.GetEnv("PIPELINE_RULES_PATH")
	if path == "" {
		return rules.Default(), nil
	}
	r, err := rules.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded pipeline rules", "path", path)
	return r, nil
}

// NewScorer returns the cross-encoder at RERANK_URL, or the token overlap
// scorer when none is configured.
func NewScorer() rank.Scorer {
	url := util.GetEnv("RERANK_URL")
	if url == "" {
		return rank.OverlapScorer{}
	}
	timeout := util.GetEnvDuration("STAGE_TIMEOUT", 10*time.Second)
	return rank.NewPooledScorer(
		rank.NewHTTPScorer(url, timeout),
		util.GetEnvInt("RERANK_PARALLEL", 2),
		timeout,
	)
}

// TokenCounter counts with the cl100k encoding and falls back to the
// character estimate when the encoding cannot be loaded.
func TokenCounter() rank.TokenCounter {
	count, err := rank.Tiktoken("cl100k_base")
	if err != nil {
		logger.Warn("Falling back to approximate token counts", "err", err)
		return rank.ApproxTokens
	}
	return count
}

// AgentParams wires NewAgent. Client may be nil, in which case every
// question gets the default search plan and the rendered facts as answer.
type AgentParams struct {
	Client     ai.Client
	Rules      *rules.Rules
	Graph      *graph.Holder
	Retriever  executor.Retriever
	Cache      agent.Cache
	Collection string
	// Counter sizes packed evidence. Nil loads the tiktoken encoding.
	Counter rank.TokenCounter
}

func NewAgent(p AgentParams) *agent.Service {
	if p.Counter == nil {
		p.Counter = TokenCounter()
	}
	cfg := agent.Config{
		Rules: p.Rules,
		Graph: p.Graph,
		Cache: p.Cache,
		Search: executor.SearchTool{
			Retriever: p.Retriever,
			Scorer:    NewScorer(),
			Rules:     p.Rules,
			Counter:   p.Counter,
		},
		Collection: p.Collection,
		Timeout:    util.GetEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
	}
	if p.Client != nil {
		cfg.Planner = plan.NewPlanner(p.Client, plan.WithModel(util.GetEnv("AI_PLANNER_MODEL")))
		cfg.Critic = executor.NewCritic(p.Client, util.GetEnv("AI_CRITIC_MODEL"))
		cfg.Answer = answer.NewGenerator(p.Client, util.GetEnv("AI_ANSWER_MODEL"), p.Rules)
	}
	return agent.NewService(cfg)
}
