package types

type DataResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type DocumentResponse struct {
	DocumentID string           `json:"document_id"`
	Message    string           `json:"message"`
	Metadata   DocumentMetadata `json:"metadata"`
}

type DocumentListResponse struct {
	Documents []DocumentInfo `json:"documents"`
}

type CrossQueryResponse struct {
	Results []DocumentMatches `json:"results"`
}
