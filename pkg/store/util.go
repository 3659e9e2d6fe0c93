package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// BatchEmbedder embeds several inputs per call. ai.Client satisfies it.
type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds inputs in batches of batchSize, running at most
// parallel batches at once. Output order matches input order.
func GenerateEmbeddings(
	ctx context.Context,
	client BatchEmbedder,
	inputs [][]byte,
	batchSize int,
	parallel int,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	out := make([][]float32, len(inputs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	err := ChunkRange(len(inputs), batchSize, func(start, end int) error {
		eg.Go(func() error {
			vecs, err := client.GenerateEmbeddings(ectx, inputs[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch %d-%d returned %d vectors", start, end, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// Embedder embeds one input per call.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

type batched struct {
	e Embedder
}

// Batched adapts a single-input embedder to BatchEmbedder.
func Batched(e Embedder) BatchEmbedder {
	return batched{e: e}
}

func (b batched) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := b.e.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
