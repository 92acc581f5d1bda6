package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/tutor-be/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const itemColumns = `
	item_id, user_id, content_type, subject, topic, tags,
	difficulty, is_favorite, content, created_at, updated_at`

// Storage is the owner-scoped library_items repository
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Save inserts item for its owner and returns the new id
func (s *Storage) Save(ctx context.Context, item *Item) (string, error) {
	if strings.TrimSpace(item.UserID) == "" {
		return "", ErrUnauthenticated
	}

	now := time.Now().UTC()
	item.ItemID = uuid.New().String()
	item.Tags = NormalizeTags(item.Tags)
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO library_items (
			item_id, user_id, content_type, subject, topic, tags,
			difficulty, is_favorite, content, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		item.ItemID,
		item.UserID,
		item.ContentType,
		item.Subject,
		item.Topic,
		item.Tags,
		item.Difficulty,
		item.IsFavorite,
		item.Content,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save library item: %w", err)
	}

	s.logger.Debug("Library item saved",
		slog.String("item_id", item.ItemID),
		slog.String("user_id", item.UserID),
		slog.String("content_type", item.ContentType),
	)

	return item.ItemID, nil
}

// Get returns one item owned by ownerID
func (s *Storage) Get(ctx context.Context, ownerID, itemID string) (*Item, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}

	query := `SELECT ` + itemColumns + `
		FROM library_items
		WHERE item_id = $1 AND user_id = $2
	`

	var item Item
	if err := s.db.GetContext(ctx, &item, query, itemID, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get library item: %w", err)
	}

	return &item, nil
}

// List returns ownerID's items newest first. It fetches PageSize+1 rows so the
// caller can tell whether another page exists.
func (s *Storage) List(ctx context.Context, ownerID string, filter Filter) ([]Item, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}

	query := `SELECT ` + itemColumns + `
		FROM library_items
		WHERE user_id = $1`
	args := []interface{}{ownerID}
	argIdx := 2

	if filter.ContentType != "" {
		query += fmt.Sprintf(" AND content_type = $%d", argIdx)
		args = append(args, filter.ContentType)
		argIdx++
	}

	if filter.Subject != "" {
		query += fmt.Sprintf(" AND subject = $%d", argIdx)
		args = append(args, filter.Subject)
		argIdx++
	}

	if filter.FavoritesOnly {
		query += " AND is_favorite = TRUE"
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, item_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, item_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list library items: %w", err)
	}

	return items, nil
}

// Delete removes an item. A row owned by someone else is left alone and
// reported as ErrItemNotFound.
func (s *Storage) Delete(ctx context.Context, ownerID, itemID string) error {
	if ownerID == "" {
		return ErrUnauthenticated
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM library_items WHERE item_id = $1 AND user_id = $2`,
		itemID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete library item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Warn("Library delete matched no rows",
			slog.String("item_id", itemID),
			slog.String("user_id", ownerID),
		)
		return ErrItemNotFound
	}

	return nil
}

// ToggleFavorite flips is_favorite and returns the new value
func (s *Storage) ToggleFavorite(ctx context.Context, ownerID, itemID string) (bool, error) {
	if ownerID == "" {
		return false, ErrUnauthenticated
	}

	query := `
		UPDATE library_items
		SET is_favorite = NOT is_favorite,
		    updated_at = NOW()
		WHERE item_id = $1 AND user_id = $2
		RETURNING is_favorite
	`

	var favorite bool
	if err := s.db.QueryRowContext(ctx, query, itemID, ownerID).Scan(&favorite); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrItemNotFound
		}
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}

	return favorite, nil
}

// SetFavorite stores an explicit favorite value
func (s *Storage) SetFavorite(ctx context.Context, ownerID, itemID string, favorite bool) error {
	if ownerID == "" {
		return ErrUnauthenticated
	}

	query := `
		UPDATE library_items
		SET is_favorite = $1,
		    updated_at = NOW()
		WHERE item_id = $2 AND user_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, favorite, itemID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set favorite: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrItemNotFound
	}

	return nil
}

// UpdateTags replaces the tag set and returns the stored value
func (s *Storage) UpdateTags(ctx context.Context, ownerID, itemID string, tags []string) ([]string, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}

	normalized := NormalizeTags(tags)

	query := `
		UPDATE library_items
		SET tags = $1,
		    updated_at = NOW()
		WHERE item_id = $2 AND user_id = $3
		RETURNING tags
	`

	var stored pq.StringArray
	if err := s.db.QueryRowContext(ctx, query, pq.StringArray(normalized), itemID, ownerID).Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}

	return []string(stored), nil
}
