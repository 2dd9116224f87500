package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/contentforge/corpus/internal/config"
)

// FakeEmbedder produces deterministic embeddings without a provider: each
// word hashes into one dimension of a bag-of-words vector, normalized to
// unit length. Texts sharing words get high cosine similarity, which is
// enough signal for ranking assertions. Set Err to simulate provider
// failures.
type FakeEmbedder struct {
	mu    sync.Mutex
	Err   error
	calls int
}

// Embed implements the embedding client contract.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vec := make([]float32, config.VectorDimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(config.VectorDimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Calls reports how many times Embed was invoked.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Fail makes subsequent Embed calls return err; nil restores success.
func (f *FakeEmbedder) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}
