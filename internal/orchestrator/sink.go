package orchestrator

import (
	"sync"

	"kbetl/internal/model"
)

// channelSink bridges an adapter's push-based Fetch to the orchestrator's
// per-document processing loop: Accept blocks while the channel's buffer
// is full, so the reader drains Docs until Close (runSource keeps draining
// after an early return), and Close is safe to call exactly once after the
// fetch goroutine returns.
type channelSink struct {
	ch        chan model.RawDocument
	closeOnce sync.Once
}

func newChannelSink(buffer int) *channelSink {
	return &channelSink{ch: make(chan model.RawDocument, buffer)}
}

func (s *channelSink) Accept(doc model.RawDocument, checkpoint model.CheckpointToken) error {
	s.ch <- doc
	return nil
}

func (s *channelSink) Docs() <-chan model.RawDocument { return s.ch }

func (s *channelSink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
