package domain

import "time"

// PageRange is the inclusive page span a chunk was cut from.
type PageRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Chunk is an immutable unit of ingested corpus text. Chunks are created
// once at ingestion and never mutated; the only way to remove them is a
// corpus rebuild.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Pages      PageRange `json:"pages"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// IngestRecord is one page of clean text handed over by the upstream
// document-parsing collaborator. No format assumptions beyond UTF-8 and
// stable page numbers.
type IngestRecord struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
}

type ChunkStatus string

const (
	ChunkPending ChunkStatus = "pending"
	ChunkIndexed ChunkStatus = "indexed"
	ChunkFailed  ChunkStatus = "failed"
)
