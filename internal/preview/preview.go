// Package preview wires the Source Adapters (C3), Parser (C4), and
// Chunker (C5) together into the Draft Store's (C6) Previewer: it fetches
// a bounded number of pages per source, parses them into
// StructuredDocuments, and samples chunks under the resolved chunking
// config. Nothing here touches the Catalog or Vector Index - a draft has
// no durable footprint until finalize hands it to the Orchestrator.
package preview

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kbetl/internal/adapters"
	"kbetl/internal/chunker"
	"kbetl/internal/model"
	"kbetl/internal/parser"
)

// fetchBuffer bounds how many RawDocuments an adapter may push ahead of
// the preview loop before Accept blocks; generous enough that no adapter
// stalls mid-batch while pages are still within the preview limit.
const fetchBuffer = 32

// Service implements draft.Previewer.
type Service struct{}

// New builds a preview Service. It has no state: every call is
// self-contained, so one Service is shared across every draft.
func New() *Service { return &Service{} }

// Preview computes a PreviewBundle for sources, best-effort per source:
// if a source cannot be fetched its slot carries the error and the rest
// of the draft remains usable.
func (s *Service) Preview(ctx context.Context, workspaceID string, sources []model.Source, overrides map[string]model.ChunkingConfig, maxPages, maxChunks int) (model.PreviewBundle, error) {
	bundle := model.PreviewBundle{Sources: make([]model.SourcePreview, 0, len(sources))}
	for _, src := range sources {
		bundle.Sources = append(bundle.Sources, s.previewOne(ctx, src, overrides, maxPages, maxChunks))
	}
	return bundle, nil
}

func (s *Service) previewOne(ctx context.Context, src model.Source, overrides map[string]model.ChunkingConfig, maxPages, maxChunks int) model.SourcePreview {
	sp := model.SourcePreview{SourceID: src.ID}

	if err := adapters.Validate(ctx, src); err != nil {
		sp.Err = err.Error()
		return sp
	}

	rawDocs, fetchErr := s.fetchBounded(ctx, src, maxPages)
	if len(rawDocs) == 0 {
		if fetchErr != nil {
			sp.Err = fetchErr.Error()
		} else {
			sp.Err = "source produced no content"
		}
		return sp
	}

	cfg := resolveChunkingConfig(src, overrides)
	var stats model.DocumentStats
	for i, raw := range rawDocs {
		structured, err := parser.Parse(ctx, raw)
		if err != nil {
			sp.Pages = append(sp.Pages, model.Page{URI: raw.URI, Title: raw.URI, Content: fmt.Sprintf("parse error: %v", err)})
			continue
		}
		sp.Pages = append(sp.Pages, model.Page{
			URI:             pageURI(raw),
			Title:           pageTitle(structured, raw),
			StructuralStats: structured.Stats,
			Content:         renderText(structured),
		})
		stats = mergeStats(stats, structured.Stats)

		if len(sp.SampleChunks) >= maxChunks {
			continue
		}
		docID := fmt.Sprintf("%s-preview-%d", src.ID, i)
		chunks, err := chunker.Chunk(structured, cfg, docID, "", src.Annotations)
		if err != nil {
			continue
		}
		sp.SampleChunks = append(sp.SampleChunks, chunks...)
	}
	if len(sp.SampleChunks) > maxChunks {
		sp.SampleChunks = sp.SampleChunks[:maxChunks]
	}
	sp.Stats = stats
	return sp
}

// fetchBounded runs src's adapter and collects up to maxPages
// RawDocuments, cancelling the fetch once that limit is reached so an
// unbounded crawl never fetches more than the caller asked to preview.
// The fetch goroutine's sink keeps draining afterward so it can observe
// the cancellation and exit instead of blocking on a full channel
// forever.
func (s *Service) fetchBounded(ctx context.Context, src model.Source, maxPages int) ([]model.RawDocument, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := newBoundedSink(fetchBuffer)
	fetchDone := make(chan error, 1)
	go func() {
		_, err := adapters.Fetch(fetchCtx, src, sink, "")
		sink.close()
		fetchDone <- err
	}()

	var docs []model.RawDocument
	for doc := range sink.docs() {
		docs = append(docs, doc)
		if len(docs) >= maxPages {
			cancel()
			break
		}
	}
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for range sink.docs() {
		}
	}()
	err := <-fetchDone
	drainWG.Wait()
	return docs, err
}

// boundedSink is a minimal model.Sink, the preview package's own copy of
// the orchestrator's channelSink idiom (internal/orchestrator/sink.go) -
// duplicated rather than exported across packages since neither owns the
// other and the type is a few lines.
type boundedSink struct {
	ch        chan model.RawDocument
	closeOnce sync.Once
}

func newBoundedSink(buffer int) *boundedSink {
	return &boundedSink{ch: make(chan model.RawDocument, buffer)}
}

func (b *boundedSink) Accept(doc model.RawDocument, _ model.CheckpointToken) error {
	b.ch <- doc
	return nil
}

func (b *boundedSink) docs() <-chan model.RawDocument { return b.ch }

func (b *boundedSink) close() { b.closeOnce.Do(func() { close(b.ch) }) }

func resolveChunkingConfig(src model.Source, overrides map[string]model.ChunkingConfig) model.ChunkingConfig {
	if cfg, ok := overrides[src.ID]; ok {
		return cfg
	}
	if src.Config.ChunkingOverride != nil {
		return *src.Config.ChunkingOverride
	}
	return model.DefaultChunkingConfig()
}

func mergeStats(a, b model.DocumentStats) model.DocumentStats {
	return model.DocumentStats{
		HeadingCount: a.HeadingCount + b.HeadingCount,
		TableCount:   a.TableCount + b.TableCount,
		WordCount:    a.WordCount + b.WordCount,
		CharCount:    a.CharCount + b.CharCount,
	}
}

func pageURI(raw model.RawDocument) string {
	if raw.URI != "" {
		return raw.URI
	}
	return raw.ExternalID
}

// pageTitle takes the first heading in the document as its title, falling
// back to the raw document's URI when no heading was parsed.
func pageTitle(doc model.StructuredDocument, raw model.RawDocument) string {
	for _, el := range doc.Elements {
		if el.Kind == model.ElementHeading && strings.TrimSpace(el.Text) != "" {
			return el.Text
		}
	}
	return pageURI(raw)
}

// renderText linearizes a StructuredDocument back into full text for the
// draft's page view - the full extracted content, no truncation. It is
// intentionally simpler than internal/chunker's
// flatten(): that function tracks indivisibility and heading trails for
// splitting purposes the page view doesn't need, just reading order.
func renderText(doc model.StructuredDocument) string {
	var b strings.Builder
	var walk func(els []model.Element)
	walk = func(els []model.Element) {
		for _, el := range els {
			switch el.Kind {
			case model.ElementHeading:
				b.WriteString(strings.Repeat("#", maxInt(el.HeadingLevel, 1)) + " " + el.Text + "\n\n")
			case model.ElementParagraph:
				b.WriteString(el.Text + "\n\n")
			case model.ElementListItem:
				b.WriteString(strings.Repeat("  ", el.ListDepth) + "- " + el.Text + "\n")
			case model.ElementCodeBlock:
				b.WriteString("```" + el.CodeLanguage + "\n" + el.Text + "\n```\n\n")
			case model.ElementTable:
				for _, row := range el.TableRows {
					cells := make([]string, len(row))
					for i, c := range row {
						cells[i] = c.Text
					}
					b.WriteString(strings.Join(cells, " | ") + "\n")
				}
				b.WriteString("\n")
			case model.ElementImageRef:
				txt := strings.TrimSpace(el.Caption + " " + el.OCRText)
				if txt != "" {
					b.WriteString("[image] " + txt + "\n\n")
				}
			case model.ElementFigure:
				if el.Caption != "" {
					b.WriteString(el.Caption + "\n")
				}
				walk(el.Children)
			default:
				walk(el.Children)
			}
		}
	}
	walk(doc.Elements)
	return strings.TrimRight(b.String(), "\n")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
