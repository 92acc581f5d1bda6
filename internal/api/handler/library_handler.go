package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/cuongbtq/tutor-be/internal/pagination"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LibraryHandler serves the caller's saved items
type LibraryHandler struct {
	logger *slog.Logger
	store  LibraryStore
}

func NewLibraryHandler(deps *Dependencies) *LibraryHandler {
	return &LibraryHandler{logger: deps.Logger, store: deps.Library}
}

func itemIDParam(c *gin.Context) (string, bool) {
	itemID := c.Param("item_id")
	if _, err := uuid.Parse(itemID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "item_id must be a valid UUID",
		})
		return "", false
	}
	return itemID, true
}

func (h *LibraryHandler) replyItemError(c *gin.Context, itemID, action string, err error) {
	if errors.Is(err, library.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Library item not found",
		})
		return
	}
	h.logger.Error("Failed to "+action,
		slog.String("item_id", itemID),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to " + action,
	})
}

// ListItems handles GET /api/v1/library
func (h *LibraryHandler) ListItems(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.ListItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	req.PageSize = pagination.ClampPageSize(req.PageSize)

	cursor, err := pagination.Decode(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	items, err := h.store.List(c.Request.Context(), userID, library.Filter{
		ContentType:   req.ContentType,
		Subject:       req.Subject,
		FavoritesOnly: req.FavoritesOnly,
		PageSize:      req.PageSize,
		Cursor:        cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list library items", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list library items",
		})
		return
	}

	hasMore := len(items) > req.PageSize
	if hasMore {
		items = items[:req.PageSize]
	}

	resp := dto.ListItemsResponse{Items: make([]dto.ItemDTO, len(items))}
	for i := range items {
		resp.Items[i] = dto.NewItemDTO(&items[i])
	}
	if hasMore {
		last := items[len(items)-1]
		resp.NextCursor = pagination.Encode(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ItemID})
	}

	c.JSON(http.StatusOK, resp)
}

// GetItem handles GET /api/v1/library/:item_id
func (h *LibraryHandler) GetItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	item, err := h.store.Get(c.Request.Context(), userID, itemID)
	if err != nil {
		h.replyItemError(c, itemID, "get library item", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewItemDTO(item))
}

// DeleteItem handles DELETE /api/v1/library/:item_id
func (h *LibraryHandler) DeleteItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), userID, itemID); err != nil {
		h.replyItemError(c, itemID, "delete library item", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ToggleFavorite handles POST /api/v1/library/:item_id/favorite/toggle
func (h *LibraryHandler) ToggleFavorite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	favorite, err := h.store.ToggleFavorite(c.Request.Context(), userID, itemID)
	if err != nil {
		h.replyItemError(c, itemID, "toggle favorite", err)
		return
	}

	c.JSON(http.StatusOK, dto.FavoriteResponse{ItemID: itemID, IsFavorite: favorite})
}

// SetFavorite handles PUT /api/v1/library/:item_id/favorite
func (h *LibraryHandler) SetFavorite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	var req dto.SetFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "is_favorite is required",
		})
		return
	}

	if err := h.store.SetFavorite(c.Request.Context(), userID, itemID, *req.IsFavorite); err != nil {
		h.replyItemError(c, itemID, "set favorite", err)
		return
	}

	c.JSON(http.StatusOK, dto.FavoriteResponse{ItemID: itemID, IsFavorite: *req.IsFavorite})
}

// UpdateTags handles PUT /api/v1/library/:item_id/tags
func (h *LibraryHandler) UpdateTags(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	tags, err := h.store.UpdateTags(c.Request.Context(), userID, itemID, req.Tags)
	if err != nil {
		h.replyItemError(c, itemID, "update tags", err)
		return
	}

	c.JSON(http.StatusOK, dto.TagsResponse{ItemID: itemID, Tags: tags})
}
