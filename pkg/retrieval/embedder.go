package retrieval

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder is a deterministic bag-of-words embedder: every token is
// hashed into one of Dim buckets and the vector is L2 normalized. It needs
// no model and backs offline runs and tests.
type HashEmbedder struct {
	Dim int
}

func (e HashEmbedder) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)
	for _, tok := range Tokenize(string(input)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}
