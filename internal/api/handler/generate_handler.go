package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/cuongbtq/tutor-be/internal/llm"
	"github.com/gin-gonic/gin"
)

// GenerateHandler serves single-item generation
type GenerateHandler struct {
	logger    *slog.Logger
	generator ContentGenerator
}

func NewGenerateHandler(deps *Dependencies) *GenerateHandler {
	return &GenerateHandler{logger: deps.Logger, generator: deps.Generator}
}

// Generate handles POST /api/v1/generate
func (h *GenerateHandler) Generate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	contentType, err := generator.ParseContentType(req.ContentType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	result, err := h.generator.Generate(c.Request.Context(), generator.Request{
		OwnerID:     userID,
		ContentType: contentType,
		Subject:     req.Subject,
		Topics:      req.Topics,
		ExamType:    req.ExamType,
		Difficulty:  req.Difficulty,
		Count:       req.Count,
		Save:        req.SaveToLibrary,
		Tags:        req.Tags,
	})
	if err != nil {
		status, body := generationError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Generation failed",
				slog.String("content_type", req.ContentType),
				slog.String("error", err.Error()),
			)
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, dto.GenerateResponse{
		Success:     true,
		ContentType: string(result.ContentType),
		Content:     result.Content,
		SavedID:     result.SavedID,
		TokensUsed:  result.TokensUsed,
	})
}

// generationError maps a generator failure to a status and a user-facing body
func generationError(err error) (int, dto.ErrorResponse) {
	switch {
	case errors.Is(err, generator.ErrSubjectRequired), errors.Is(err, generator.ErrUnsupportedType):
		return http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()}
	case errors.Is(err, library.ErrUnauthenticated):
		return http.StatusUnauthorized, dto.ErrorResponse{Error: "authentication required"}
	case errors.Is(err, generator.ErrMalformedResponse):
		return http.StatusBadGateway, dto.ErrorResponse{
			Error: "The AI returned content we could not read. Please try again.",
			Kind:  "malformed_response",
		}
	}

	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		return http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to generate content"}
	}

	body := dto.ErrorResponse{Error: llm.UserMessage(llmErr.Kind), Kind: string(llmErr.Kind)}
	switch llmErr.Kind {
	case llm.KindRateLimit:
		return http.StatusTooManyRequests, body
	case llm.KindPaymentRequired:
		return http.StatusPaymentRequired, body
	default:
		return http.StatusBadGateway, body
	}
}
