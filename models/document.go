package models

// DocumentChunk is the unit stored in and retrieved from the vector store:
// one contiguous span of extracted text plus its provenance metadata.
type DocumentChunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata ties a chunk back to the upload it came from. Source is the
// generated filename of the upload, which is what delete-by-source matches on.
type ChunkMetadata struct {
	Source     string `json:"source"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

// ScoredChunk is a retrieval result: a chunk plus its similarity score,
// ordered nearest-first by the store. Never persisted.
type ScoredChunk struct {
	DocumentChunk
	Score float64 `json:"score"`
}
