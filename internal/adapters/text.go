package adapters

import (
	"context"
	"time"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() { Register(model.SourceText, textAdapter{}) }

// textAdapter hands the inline SourceConfig.Text payload straight to the
// sink as a single RawDocument - the source kind with no fetch at all,
// grounded in the "text" source being already-resident content.
type textAdapter struct{}

func (textAdapter) Validate(ctx context.Context, src model.Source) error {
	if len(src.Config.Text) == 0 {
		return kberr.Newf(kberr.InvalidArgument, "text source requires non-empty content")
	}
	if len(src.Config.Text) > model.MaxTextSourceBytes {
		return kberr.Newf(kberr.InvalidArgument, "text source exceeds %d bytes", model.MaxTextSourceBytes)
	}
	return nil
}

func (textAdapter) Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	return model.ProbeResult{EstimatedPages: 1, EstimatedBytes: int64(len(src.Config.Text)), ContentKind: "text/plain"}, nil
}

func (textAdapter) Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	if checkpoint != "" {
		return model.FetchResult{}, nil
	}
	doc := model.RawDocument{
		SourceID:   src.ID,
		ExternalID: src.ID,
		URI:        "text:" + src.ID,
		MIME:       "text/plain",
		Bytes:      []byte(src.Config.Text),
		FetchedAt:  time.Now(),
	}
	if err := sink.Accept(doc, model.CheckpointToken(src.ID)); err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "text adapter: sink rejected %s", src.ID)
	}
	return model.FetchResult{DocumentsFetched: 1, LastCheckpoint: model.CheckpointToken(src.ID)}, nil
}
