package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/tutor-be/internal/library"
)

type ListItemsRequest struct {
	ContentType   string `form:"content_type"`
	Subject       string `form:"subject"`
	FavoritesOnly bool   `form:"favorites"`
	PageSize      int    `form:"page_size"`
	Cursor        string `form:"cursor"`
}

type ListItemsResponse struct {
	Items      []ItemDTO `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type ItemDTO struct {
	ItemID      string          `json:"item_id"`
	ContentType string          `json:"content_type"`
	Subject     string          `json:"subject"`
	Topic       string          `json:"topic,omitempty"`
	Tags        []string        `json:"tags"`
	Difficulty  string          `json:"difficulty,omitempty"`
	IsFavorite  bool            `json:"is_favorite"`
	Content     json.RawMessage `json:"content"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func NewItemDTO(item *library.Item) ItemDTO {
	tags := []string(item.Tags)
	if tags == nil {
		tags = []string{}
	}

	content := json.RawMessage(item.Content)
	if !json.Valid(content) {
		content = json.RawMessage("null")
	}

	return ItemDTO{
		ItemID:      item.ItemID,
		ContentType: item.ContentType,
		Subject:     item.Subject,
		Topic:       item.Topic,
		Tags:        tags,
		Difficulty:  item.Difficulty,
		IsFavorite:  item.IsFavorite,
		Content:     content,
		CreatedAt:   item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.Format(time.RFC3339),
	}
}

type SetFavoriteRequest struct {
	IsFavorite *bool `json:"is_favorite" binding:"required"`
}

type FavoriteResponse struct {
	ItemID     string `json:"item_id"`
	IsFavorite bool   `json:"is_favorite"`
}

type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

type TagsResponse struct {
	ItemID string   `json:"item_id"`
	Tags   []string `json:"tags"`
}
