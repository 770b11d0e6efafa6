package library

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/auth"
)

func newTestRouter(svc *Service, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api", func(c *gin.Context) {
		c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: userID})
	})
	NewHandler(svc, nil).RegisterRoutes(g)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RatingValues(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc, "u1")

	w := do(r, http.MethodPost, "/api/ratings", `{"manga_id":"md-berserk","rating":"7.5"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/ratings", `{"manga_id":"md-frieren","rating":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/ratings", `{"manga_id":"One Piece","rating":9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, body := range []string{
		`{"manga_id":"md-berserk","rating":"abc"}`,
		`{"manga_id":"md-berserk","rating":10.1}`,
		`{"manga_id":"md-berserk","rating":7.55}`,
		`not json`,
	} {
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/ratings", body).Code, body)
	}

	var m RatingsMap
	w = do(r, http.MethodGet, "/api/ratings/map", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.NotNil(t, m.Items["Berserk"])
	assert.Equal(t, 7.5, *m.Items["Berserk"])
	require.NotNil(t, m.Items["One Piece"])
	assert.Equal(t, 9.0, *m.Items["One Piece"])
	assert.Contains(t, m.ByID, "md-frieren")
	assert.Nil(t, m.ByID["md-frieren"])

	var list struct {
		Items []struct {
			MangaID string   `json:"manga_id"`
			Rating  *float64 `json:"rating"`
		} `json:"items"`
	}
	w = do(r, http.MethodGet, "/api/ratings?sort=rating_desc", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 3)
	assert.Equal(t, "md-onepiece", list.Items[0].MangaID)
}

func TestHandler_CatchAllDeletes(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc, "u1")
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-onepiece", ptr(8.0), false, false)
	require.NoError(t, err)
	require.NoError(t, svc.AddToDnr(ctx, "u1", "md-berserk"))

	// mal:13 resolves to md-onepiece
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/ratings/mal:13", "").Code)
	locs, err := svc.GetLocations(ctx, "u1", "md-onepiece")
	require.NoError(t, err)
	assert.Empty(t, locs)

	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/dnr/md-berserk", "").Code)
	// second delete is a no-op
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/dnr/md-berserk", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/reading-list/md-berserk", "").Code)

	// ids containing slashes survive the catch-all
	require.NoError(t, svc.AddToDnr(ctx, "u1", "site/series/42"))
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/dnr/site/series/42", "").Code)
	ids, err := svc.CollectionIDs(ctx, "u1", "dnr")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHandler_ReadingListStatus(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc, "u1")

	w := do(r, http.MethodPut, "/api/reading-list/md-frieren", `{"status":"In Progress"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/reading-list", `{"manga_id":"md-frieren"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/api/reading-list/md-frieren", `{"status":"Someday"}`).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/reading-list/md-frieren", `{"status":"In Progress"}`).Code)

	var list struct {
		Items []struct {
			MangaID string `json:"manga_id"`
			Status  string `json:"status"`
		} `json:"items"`
	}
	w = do(r, http.MethodGet, "/api/reading-list", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "In Progress", list.Items[0].Status)
}

func TestHandler_LocationsAndState(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc, "u1")

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/dnr", `{"manga_id":"One Piece"}`).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/ratings", `{"manga_id":"md-berserk","rating":9}`).Code)

	var locs struct {
		Locations []string `json:"locations"`
	}
	w := do(r, http.MethodGet, "/api/library/locations?manga_id=One%20Piece", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &locs))
	assert.Equal(t, []string{"DNR"}, locs.Locations)

	var st State
	w = do(r, http.MethodGet, "/api/library/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, []string{"md-onepiece"}, st.Dnr)
	assert.Empty(t, st.ReadingList)
	require.NotNil(t, st.Ratings["md-berserk"])
	assert.Equal(t, 9.0, *st.Ratings["md-berserk"])
}

func TestState_DegradesFailedDnrRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(9.0), false, false)
	require.NoError(t, err)
	require.NoError(t, svc.AddToReadingList(ctx, "u1", "md-frieren", ""))

	_, err = svc.Repo.DB.Exec(`DROP TABLE user_dnr`)
	require.NoError(t, err)

	st, err := svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{}, st.Dnr)
	assert.Equal(t, []string{"md-frieren"}, st.ReadingList)
	require.NotNil(t, st.Ratings["md-berserk"])
	assert.Equal(t, 9.0, *st.Ratings["md-berserk"])
}

func TestState_FailedRatingsReadFails(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Repo.DB.Exec(`DROP TABLE user_ratings`)
	require.NoError(t, err)

	_, err = svc.State(context.Background(), "u1")
	require.Error(t, err)
}
