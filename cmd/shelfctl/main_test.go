package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/scraper"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Username", "Rated"}, [][]string{{"alice", "12"}, {"bob"}}, 2)
	// the rounded style upper-cases headers
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "<nil>")
}

func TestMirrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	good := filepath.Join(dir, "mirror.json")
	b, err := json.Marshal([]scraper.MirrorTitle{{Slug: "berserk", Name: "Berserk"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(good, b, 0o644))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o644))

	r := gin.New()
	r.GET("/good", mirrorHandler(good))
	r.GET("/bad", mirrorHandler(bad))
	r.GET("/missing", mirrorHandler(filepath.Join(dir, "nope.json")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/good", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []scraper.MirrorTitle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Equal(t, "berserk", rows[0].Slug)

	for _, path := range []string{"/bad", "/missing"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
	}
}

func TestWriteOutput_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, writeOutput(path, func(w io.Writer) error {
		_, err := w.Write([]byte("manga_id,rating\n"))
		return err
	}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "manga_id,rating\n", string(b))
}
