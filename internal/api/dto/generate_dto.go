package dto

import "encoding/json"

type GenerateRequest struct {
	ContentType   string   `json:"content_type" binding:"required"`
	Subject       string   `json:"subject"`
	Topics        []string `json:"topics,omitempty"`
	ExamType      string   `json:"examType,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Count         int      `json:"count,omitempty"`
	SaveToLibrary bool     `json:"saveToLibrary"`
	Tags          []string `json:"tags,omitempty"`
}

type GenerateResponse struct {
	Success     bool            `json:"success"`
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
	SavedID     string          `json:"savedId,omitempty"`
	TokensUsed  int             `json:"tokensUsed"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
