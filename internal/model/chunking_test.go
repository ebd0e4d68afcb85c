package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkingConfigValidateBounds(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ChunkingConfig
		wantErr bool
	}{
		{"minimum legal size", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 100, Overlap: 0, PreserveStructure: true}, false},
		{"maximum legal size with half overlap", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 8000, Overlap: 4000}, false},
		{"too small", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 99}, true},
		{"too large", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 8001}, true},
		{"overlap equals target", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 500, Overlap: 500}, true},
		{"negative overlap", ChunkingConfig{Strategy: StrategyRecursive, TargetSize: 500, Overlap: -1}, true},
		{"unknown strategy", ChunkingConfig{Strategy: "nonsense", TargetSize: 500}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultChunkingConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultChunkingConfig().Validate())
}
