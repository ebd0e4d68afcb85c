package orchestrator

import (
	"sync"

	"kbetl/internal/model"
)

// progressTracker accumulates weighted stage progress and run counters
// across concurrently-running sources: Progress.Pct is the sum of each
// completed stage's model.StageWeights share, averaged across all
// documents seen so far.
type progressTracker struct {
	mu           sync.Mutex
	docsTotal    int
	docsDone     int
	docsFailed   int
	chunksMade   int
	vectorsMade  int
	stageCounts  map[model.Stage]int
	docsAdmitted int
}

func newProgressTracker(sourceCount int) *progressTracker {
	return &progressTracker{stageCounts: map[model.Stage]int{}}
}

// stageUnit records that one document (or, for embed/index, `units`
// chunks/vectors) crossed stage.
func (t *progressTracker) stageUnit(stage model.Stage, units int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch stage {
	case model.StageIngest:
		t.docsAdmitted++
	case model.StageEmbed:
		t.chunksMade += units
	case model.StageIndex:
		t.vectorsMade += units
	}
	t.stageCounts[stage]++
}

func (t *progressTracker) documentDone(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docsDone++
	if failed {
		t.docsFailed++
	}
}

// snapshot computes the current weighted Progress and RunCounters.
// Pct is the fraction of admitted documents that have crossed each
// stage, weighted by model.StageWeights - an approximation that treats
// every document as contributing equally regardless of size.
func (t *progressTracker) snapshot() (model.Progress, model.RunCounters) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	total := t.docsAdmitted
	if total == 0 {
		total = 1
	}
	current := model.StageIngest
	for _, stage := range []model.Stage{model.StageIngest, model.StageParse, model.StageChunk, model.StageEmbed, model.StageIndex} {
		share := float64(t.stageCounts[stage]) / float64(total)
		pct += share * model.StageWeights[stage]
		if t.stageCounts[stage] > 0 {
			current = stage
		}
	}
	counters := model.RunCounters{
		DocsTotal: total, DocsDone: t.docsDone, DocsFailed: t.docsFailed,
		ChunksCreated: t.chunksMade, VectorsIndexed: t.vectorsMade,
	}
	return model.Progress{Stage: current, Pct: pct}, counters
}
