package types

import (
	"path/filepath"
	"strings"
)

const (
	FileTypePDF  = "pdf"
	FileTypeDOCX = "docx"
	FileTypeTXT  = "txt"
	FileTypeJSON = "json"
)

// SupportedFileTypes lists the extensions accepted for ingestion.
var SupportedFileTypes = []string{FileTypePDF, FileTypeDOCX, FileTypeTXT, FileTypeJSON}

func IsSupportedFileType(fileType string) bool {
	for _, ft := range SupportedFileTypes {
		if ft == fileType {
			return true
		}
	}
	return false
}

// FileTypeFromName derives the file type from a declared filename.
// Anything outside SupportedFileTypes is rejected with ErrUnsupportedFormat.
func FileTypeFromName(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !IsSupportedFileType(ext) {
		return "", NewUnsupportedFormatError(ext)
	}
	return ext, nil
}

// NumericSummary holds extraction-time statistics of one numeric JSON field.
type NumericSummary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// AggregationMetadata is derived from a JSON array of objects at extraction time.
type AggregationMetadata struct {
	NumericFields     map[string]NumericSummary `json:"numeric_fields"`
	CategoricalFields map[string]map[string]int `json:"categorical_fields"`
}

// DocumentMetadata is denormalized onto every chunk of a document.
type DocumentMetadata struct {
	FileType       string               `json:"file_type"`
	Filename       string               `json:"filename,omitempty"`
	ChunkCount     int                  `json:"chunk_count"`
	Truncated      bool                 `json:"truncated,omitempty"`
	DegradedChunks int                  `json:"degraded_chunks,omitempty"`
	StructuredData any                  `json:"structured_data,omitempty"`
	Aggregation    *AggregationMetadata `json:"aggregation_metadata,omitempty"`
}

// DocumentInfo is what the store knows about a document, read from its first chunk.
type DocumentInfo struct {
	DocumentID string           `json:"document_id"`
	FileType   string           `json:"file_type"`
	Metadata   DocumentMetadata `json:"metadata"`
}

// ChunkInput is one chunk ready to be stored.
type ChunkInput struct {
	Content  string
	Vector   []float32
	Degraded bool
}

// ChunkBatch carries every chunk of one document revision.
// Chunk indexes are assigned from the order of Chunks.
type ChunkBatch struct {
	DocumentID string
	Revision   string
	FileType   string
	Metadata   DocumentMetadata
	Chunks     []ChunkInput
}

// ChunkMatch is a chunk returned by a similarity query.
type ChunkMatch struct {
	ChunkID           string            `json:"chunk_id"`
	DocumentID        string            `json:"document_id"`
	ChunkIndex        int               `json:"chunk_index"`
	Content           string            `json:"content"`
	FileType          string            `json:"file_type"`
	Certainty         float64           `json:"certainty"`
	EmbeddingDegraded bool              `json:"embedding_degraded"`
	Metadata          *DocumentMetadata `json:"metadata,omitempty"`
}

// Embedding is one vector produced for a text. Degraded marks a zero-vector
// substitute used after every attempt for the text failed.
type Embedding struct {
	Vector   []float32
	Degraded bool
}

type UploadResult struct {
	DocumentID string           `json:"document_id"`
	Metadata   DocumentMetadata `json:"metadata"`
	ChunkIDs   []string         `json:"chunk_ids,omitempty"`
}

type QueryResult struct {
	DocumentID string        `json:"document_id"`
	Matches    []ChunkMatch  `json:"matches"`
	Metadata   *DocumentInfo `json:"metadata,omitempty"`
}

type DocumentMatches struct {
	DocumentID string       `json:"document_id"`
	Matches    []ChunkMatch `json:"matches"`
}

const (
	AggregationSourcePrecomputed = "precomputed"
	AggregationSourceComputed    = "computed"
)

type AggregationResult struct {
	DocumentID string  `json:"document_id"`
	Field      string  `json:"field"`
	Operation  string  `json:"operation"`
	Result     float64 `json:"result"`
	Source     string  `json:"source"`
}
