package embedder

import (
	"context"
	"hash/fnv"

	"kbetl/internal/model"
)

func init() {
	Register("local", NewLocal(model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256, Normalized: true}))
}

// localProvider is a hash-based 3-gram embedder with no external call -
// the reference Provider every workspace can use without provisioning a
// real embedding service. Each byte 3-gram hashes through fnv64a to a
// signed weight scattered across the vector; L2 normalization here is
// left to Embedder.embedBatch since the profile's Normalized flag, not
// the provider, decides whether it happens.
type localProvider struct {
	profile model.EmbeddingProfile
}

// NewLocal builds a local Provider bound to profile's dimension.
func NewLocal(profile model.EmbeddingProfile) Provider {
	if profile.Dimension <= 0 {
		profile.Dimension = 256
	}
	return &localProvider{profile: profile}
}

func (l *localProvider) Profile() model.EmbeddingProfile { return l.profile }

func (l *localProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedOne(t, l.profile.Dimension)
	}
	return out, nil
}

func embedOne(s string, dim int) []float32 {
	v := make([]float32, dim)
	b := []byte(s)
	if len(b) < 3 {
		addGram(b, v)
		return v
	}
	for i := 0; i <= len(b)-3; i++ {
		addGram(b[i:i+3], v)
	}
	return v
}

func addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
