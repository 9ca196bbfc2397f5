package types

import "time"

const (
	TypeWebsocketPing     = "ping"
	TypeWebsocketPong     = "pong"
	TypeWebsocketProgress = "progress"
	TypeWebsocketError    = "error"
)

// Pipeline stages reported through progress events.
const (
	StageStaged    = "staged"
	StageExtracted = "extracted"
	StageEmbedded  = "embedded"
	StageStored    = "stored"
	StageDeleted   = "deleted"
	StageFailed    = "failed"
)

type WebsocketRequest struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type WebSocketResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressEvent describes one pipeline step for one document.
type ProgressEvent struct {
	DocumentID string    `json:"document_id"`
	Operation  string    `json:"operation"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message,omitempty"`
	Progress   float64   `json:"progress"`
	Time       time.Time `json:"time"`
}

const (
	OperationUpload = "upload"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// IngestionRecord is one entry of a document's ingestion history.
type IngestionRecord struct {
	ID             string `json:"id" bson:"_id,omitempty"`
	DocumentID     string `json:"document_id" bson:"document_id"`
	Operation      string `json:"operation" bson:"operation"`
	Filename       string `json:"filename,omitempty" bson:"filename,omitempty"`
	FileType       string `json:"file_type,omitempty" bson:"file_type,omitempty"`
	Revision       string `json:"revision,omitempty" bson:"revision,omitempty"`
	ChunkCount     int    `json:"chunk_count" bson:"chunk_count"`
	DegradedChunks int    `json:"degraded_chunks" bson:"degraded_chunks"`
	Truncated      bool   `json:"truncated" bson:"truncated"`
	Status         string `json:"status" bson:"status"`
	Error          string `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms" bson:"duration_ms"`
	CreatedAt      int64  `json:"created_at" bson:"created_at"`
}

const (
	IngestionStatusSucceeded = "succeeded"
	IngestionStatusFailed    = "failed"
)
