package model

import "time"

// DocumentStatus tracks a Document through the per-document stage machine
//: pending -> parsing -> chunking -> embedding -> indexed,
// with failed reachable from any non-terminal state and disabled reachable
// by explicit admin action.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentParsing   DocumentStatus = "parsing"
	DocumentChunking  DocumentStatus = "chunking"
	DocumentEmbedding DocumentStatus = "embedding"
	DocumentIndexed   DocumentStatus = "indexed"
	DocumentFailed    DocumentStatus = "failed"
	DocumentDisabled  DocumentStatus = "disabled"
)

// ActiveDocumentStatuses is the set stats.documents.active counts over.
var ActiveDocumentStatuses = map[DocumentStatus]bool{
	DocumentIndexed:   true,
	DocumentEmbedding: true,
	DocumentChunking:  true,
	DocumentParsing:   true,
	DocumentPending:   true,
}

// Document is the durable record of one ingested input. It is unique per
// (kb_id, checksum): re-ingesting identical content is a no-op at document
// scope, detected by the orchestrator's unchanged-content check.
type Document struct {
	ID            string         `json:"id"`
	KBID          string         `json:"kb_id"`
	SourceID      string         `json:"source_id"`
	Title         string         `json:"title,omitempty"`
	URI           string         `json:"uri"`
	Checksum      string         `json:"checksum"`
	Status        DocumentStatus `json:"status"`
	WordCount     int            `json:"word_count"`
	CharCount     int            `json:"char_count"`
	ChunkCount    int            `json:"chunk_count"`
	ParseMetadata map[string]any `json:"parse_metadata,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
