package events

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
	"mangashelf/pkg/database"
	"mangashelf/pkg/models"
)

type countingSignals struct{ calls int }

func (s *countingSignals) RecomputeSignals(context.Context, string) error {
	s.calls++
	return nil
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, username, password_hash) VALUES ('u1', 'alice', 'x')`)
	require.NoError(t, err)
	mal := int64(13)
	_, err = catalog.NewRepo(db).Upsert(ctx, []models.Title{
		{ID: "md-onepiece", MalID: &mal, Title: "One Piece"},
	})
	require.NoError(t, err)
	return db
}

func TestRecord_ResolvesAndRefreshesSignals(t *testing.T) {
	db := setupDB(t)
	sig := &countingSignals{}
	svc := NewService(NewRepo(db), catalog.NewRepo(db), sig)
	ctx := context.Background()

	e, err := svc.Record(ctx, "u1", "Details", "mal:13", "")
	require.NoError(t, err)
	assert.Equal(t, "md-onepiece", e.MangaID)
	assert.Equal(t, TypeDetails, e.Type)
	assert.Equal(t, 1, sig.calls)

	_, err = svc.Record(ctx, "u1", TypeSearch, "", "one piece")
	require.NoError(t, err)
	assert.Equal(t, 1, sig.calls)

	items, err := svc.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, TypeSearch, items[0].Type)
	assert.Equal(t, "one piece", items[0].Value)
	assert.Equal(t, "md-onepiece", items[1].MangaID)
}

func TestRecord_RequiresType(t *testing.T) {
	db := setupDB(t)
	_, err := NewService(NewRepo(db), nil, nil).Record(context.Background(), "u1", " ", "", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestHandler_AcceptsEvenWhenStorageFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupDB(t)
	svc := NewService(NewRepo(db), nil, nil)

	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: "ghost"})
	})
	NewHandler(svc).RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodPost, "/api/events",
		bytes.NewBufferString(`{"event_type":"clicked","manga_id":"md-onepiece"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// ghost has no users row, so the foreign key rejects the insert.
	assert.Equal(t, http.StatusAccepted, w.Code)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_events`).Scan(&n))
	assert.Equal(t, 0, n)
}
