package types

const (
	DefaultQueryLimit = 5
	MaxQueryLimit     = 20
)

type QueryRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id"`
	Limit      int    `json:"limit,omitempty"`
}

type CrossQueryRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

type AggregationRequest struct {
	DocumentID string `json:"document_id"`
	Field      string `json:"field"`
	Operation  string `json:"operation"`
}
