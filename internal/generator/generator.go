// Package generator turns a content request into one validated, typed study
// item by prompting the LLM gateway, and optionally files it in the library.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/cuongbtq/tutor-be/internal/llm"
)

const (
	DefaultCount = 10
	MaxCount     = 50
)

var (
	ErrSubjectRequired   = errors.New("subject is required")
	ErrUnsupportedType   = errors.New("unsupported content type")
	ErrMalformedResponse = errors.New("malformed generation response")
)

// Completer is the LLM call the generator needs
type Completer interface {
	CompleteJSON(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
}

// ItemSaver persists generated items
type ItemSaver interface {
	Save(ctx context.Context, item *library.Item) (string, error)
}

// Request describes one generation call
type Request struct {
	OwnerID     string
	ContentType ContentType
	Subject     string
	Topics      []string
	ExamType    string
	Difficulty  string
	Count       int
	Save        bool
	Tags        []string
}

// Result is one generated item
type Result struct {
	ContentType ContentType     `json:"contentType"`
	Content     json.RawMessage `json:"content"`
	SavedID     string          `json:"savedId,omitempty"`
	TokensUsed  int             `json:"tokensUsed"`
}

// Service is the Content Item Generator
type Service struct {
	completer Completer
	saver     ItemSaver
	logger    *slog.Logger
}

// NewService wires a generator; saver may be nil when nothing is persisted
func NewService(completer Completer, saver ItemSaver, logger *slog.Logger) *Service {
	return &Service{
		completer: completer,
		saver:     saver,
		logger:    logger.With(slog.String("component", "generator")),
	}
}

// Normalize validates req and fills defaults
func Normalize(req Request) (Request, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		return req, ErrSubjectRequired
	}

	ct, err := ParseContentType(string(req.ContentType))
	if err != nil {
		return req, err
	}
	req.ContentType = ct

	switch {
	case req.Count <= 0:
		req.Count = DefaultCount
	case req.Count > MaxCount:
		req.Count = MaxCount
	}

	topics := make([]string, 0, len(req.Topics))
	for _, topic := range req.Topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics = append(topics, topic)
		}
	}
	req.Topics = topics
	req.ExamType = strings.TrimSpace(req.ExamType)
	req.Difficulty = strings.TrimSpace(req.Difficulty)

	return req, nil
}

// Generate produces one item. Upstream failures come back as *llm.Error;
// unparseable output wraps ErrMalformedResponse.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	if req.Save && s.saver == nil {
		return nil, errors.New("library store is not configured")
	}

	completion, err := s.completer.CompleteJSON(ctx, buildMessages(req))
	if err != nil {
		s.logger.Warn("Generation call failed",
			slog.String("content_type", string(req.ContentType)),
			slog.String("kind", string(llm.Classify(err))),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to generate %s: %w", req.ContentType, err)
	}

	content, err := decodeContent(req.ContentType, completion.Text)
	if err != nil {
		s.logger.Warn("Generation response rejected",
			slog.String("content_type", string(req.ContentType)),
			slog.Int("response_len", len(completion.Text)),
			slog.Any("error", err),
		)
		return nil, err
	}

	result := &Result{
		ContentType: req.ContentType,
		Content:     content,
		TokensUsed:  completion.TokensUsed,
	}

	if !req.Save {
		return result, nil
	}

	item := &library.Item{
		UserID:      req.OwnerID,
		ContentType: string(req.ContentType),
		Subject:     req.Subject,
		Topic:       strings.Join(req.Topics, ", "),
		Tags:        req.Tags,
		Difficulty:  req.Difficulty,
		Content:     string(content),
	}

	savedID, err := s.saver.Save(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to save generated %s: %w", req.ContentType, err)
	}
	result.SavedID = savedID

	s.logger.Info("Content generated",
		slog.String("content_type", string(req.ContentType)),
		slog.String("item_id", savedID),
		slog.Int("tokens_used", completion.TokensUsed),
	)

	return result, nil
}
