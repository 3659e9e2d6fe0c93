package main

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/folio/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"
	"github.com/OFFIS-RIT/folio/backend/pkg/store/memory"
)

const hashDim = 256

// local is an in-memory pipeline over one export file.
type local struct {
	agent  *agent.Service
	result ingest.Result
}

func readExport(path string) (*export.Payload, []byte, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("--export is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := export.Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, data, nil
}

// newLocal indexes the export at path. With useLLM the configured model
// plans, answers and embeds; otherwise documents are embedded by hashing
// and answers are the rendered facts.
func newLocal(ctx context.Context, path, collection string, useLLM bool) (*local, error) {
	p, _, err := readExport(path)
	if err != nil {
		return nil, err
	}

	var (
		client   ai.Client
		embedder retrieval.Embedder  = retrieval.HashEmbedder{Dim: hashDim}
		batch    store.BatchEmbedder = store.Batched(retrieval.HashEmbedder{Dim: hashDim})
		counter  rank.TokenCounter   = rank.ApproxTokens
	)
	if useLLM {
		c, err := bootstrap.NewAIClient()
		if err != nil {
			return nil, err
		}
		client, embedder, batch = c, c, c
		counter = bootstrap.TokenCounter()
	}

	pipelineRules, err := bootstrap.LoadRules()
	if err != nil {
		return nil, err
	}
	docs := memory.NewStorage(embedder)
	lexical := retrieval.NewBM25Index()
	holder := graph.NewHolder(pipelineRules, graph.BuildOptions{})

	res, err := ingest.NewService(ingest.Config{
		Store:    docs,
		Embedder: batch,
		Lexical:  lexical,
		Graph:    holder,
	}).Ingest(ctx, collection, p)
	if err != nil {
		return nil, err
	}

	return &local{
		agent: bootstrap.NewAgent(bootstrap.AgentParams{
			Client:     client,
			Rules:      pipelineRules,
			Graph:      holder,
			Retriever:  retrieval.NewHybridRetriever(docs.Collection(collection), lexical, collection),
			Collection: collection,
			Counter:    counter,
		}),
		result: res,
	}, nil
}
