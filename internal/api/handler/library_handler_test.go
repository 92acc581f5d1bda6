package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func libraryRoutes(userID string, deps *Dependencies) *gin.Engine {
	r := newTestEngine(userID)
	h := NewLibraryHandler(deps)
	r.GET("/library", h.ListItems)
	r.GET("/library/:item_id", h.GetItem)
	r.DELETE("/library/:item_id", h.DeleteItem)
	r.POST("/library/:item_id/favorite/toggle", h.ToggleFavorite)
	r.PUT("/library/:item_id/favorite", h.SetFavorite)
	r.PUT("/library/:item_id/tags", h.UpdateTags)
	return r
}

func ownedItem() library.Item {
	return library.Item{
		ItemID:      testItem,
		UserID:      testUser,
		ContentType: "quiz",
		Subject:     "Biology",
		Content:     `{"questions":[]}`,
		CreatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestToggleFavorite_TwiceRestoresOriginal(t *testing.T) {
	deps := testDeps()
	lib := newMemoryLibrary(ownedItem())
	deps.Library = lib
	r := libraryRoutes(testUser, deps)

	var first, second dto.FavoriteResponse
	w := doJSON(t, r, http.MethodPost, "/library/"+testItem+"/favorite/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, r, http.MethodPost, "/library/"+testItem+"/favorite/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	assert.True(t, first.IsFavorite)
	assert.False(t, second.IsFavorite)
	assert.False(t, lib.items[testItem].IsFavorite)
}

func TestDeleteItem_NotOwned(t *testing.T) {
	deps := testDeps()
	lib := newMemoryLibrary(ownedItem())
	deps.Library = lib

	w := doJSON(t, libraryRoutes("intruder", deps), http.MethodDelete, "/library/"+testItem, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, lib.items, testItem)

	w = doJSON(t, libraryRoutes(testUser, deps), http.MethodDelete, "/library/"+testItem, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, lib.items, testItem)
}

func TestGetItem(t *testing.T) {
	deps := testDeps()
	deps.Library = newMemoryLibrary(ownedItem())

	w := doJSON(t, libraryRoutes(testUser, deps), http.MethodGet, "/library/"+testItem, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got dto.ItemDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Biology", got.Subject)
	assert.Equal(t, []string{}, got.Tags)
	assert.JSONEq(t, `{"questions":[]}`, string(got.Content))

	assert.Equal(t, http.StatusBadRequest, doJSON(t, libraryRoutes(testUser, deps), http.MethodGet, "/library/xyz", nil).Code)
}

func TestSetFavorite(t *testing.T) {
	deps := testDeps()
	lib := newMemoryLibrary(ownedItem())
	deps.Library = lib
	r := libraryRoutes(testUser, deps)

	w := doJSON(t, r, http.MethodPut, "/library/"+testItem+"/favorite", `{"is_favorite":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, lib.items[testItem].IsFavorite)

	// Idempotent
	w = doJSON(t, r, http.MethodPut, "/library/"+testItem+"/favorite", `{"is_favorite":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, lib.items[testItem].IsFavorite)

	w = doJSON(t, r, http.MethodPut, "/library/"+testItem+"/favorite", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateTags(t *testing.T) {
	deps := testDeps()
	deps.Library = newMemoryLibrary(ownedItem())
	r := libraryRoutes(testUser, deps)

	w := doJSON(t, r, http.MethodPut, "/library/"+testItem+"/tags", dto.UpdateTagsRequest{Tags: []string{"exam", " cells", "exam", ""}})
	require.Equal(t, http.StatusOK, w.Code)

	var got dto.TagsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []string{"cells", "exam"}, got.Tags)

	w = doJSON(t, libraryRoutes("intruder", deps), http.MethodPut, "/library/"+testItem+"/tags", dto.UpdateTagsRequest{Tags: []string{"x"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListItems(t *testing.T) {
	deps := testDeps()
	lib := newMemoryLibrary()
	first, second := ownedItem(), ownedItem()
	second.ItemID = "other"
	lib.list = []library.Item{first, second}
	deps.Library = lib

	w := doJSON(t, libraryRoutes(testUser, deps), http.MethodGet, "/library?page_size=1&favorites=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListItemsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, testItem, resp.Items[0].ItemID)
	assert.NotEmpty(t, resp.NextCursor)
}
