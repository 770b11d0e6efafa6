package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/auth"
	"mangashelf/pkg/database"
	"mangashelf/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func setupRepo(t *testing.T) (*Repo, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepo(db)
	n, err := repo.Upsert(ctx, []models.Title{
		{ID: "md-berserk", MalID: ptr(int64(2)), Title: "Berserk", ItemType: "Manga", Score: ptr(9.4),
			PublishedYear: ptr(1989), Genres: []string{"Action", "Drama"}, Themes: []string{"Gore"}, Members: ptr(int64(900))},
		{ID: "md-vagabond", Title: "Vagabond", ItemType: "Manga", Score: ptr(9.2),
			PublishedYear: ptr(1998), Genres: []string{"Action"}, Themes: []string{"Historical", "Samurai"}},
		{ID: "md-solo", Title: "Na Honjaman Level-Up", EnglishName: "Solo Leveling", ItemType: "Manhwa", Score: ptr(8.6),
			PublishedYear: ptr(2018), Genres: []string{"Action", "Fantasy"}, Synonyms: []string{"Only I Level Up"}},
		{ID: "md-noscore", Title: "Obscure Action Story", ItemType: "Manga", Genres: []string{"Action"}},
		{ID: "mal:2", MalID: ptr(int64(2)), Title: "Berserk", Score: ptr(9.5)},
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)
	return repo, db
}

func TestParseList(t *testing.T) {
	cases := map[string][]string{
		``:                          {},
		`[]`:                        {},
		`nan`:                       {},
		`["Action", "Drama"]`:       {"Action", "Drama"},
		`['Action', 'Sci-Fi']`:      {"Action", "Sci-Fi"},
		`Action, Drama , `:          {"Action", "Drama"},
		`[Action, 'Slice of Life']`: {"Action", "Slice of Life"},
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseList(raw), "raw=%q", raw)
	}
}

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "series name", SeriesKey("Series Name (2020)"))
	assert.Equal(t, "series name", SeriesKey("Series Name: Part 2"))
	assert.Equal(t, "series name", SeriesKey("  SERIES  name — Final Arc"))
	assert.Equal(t, "", SeriesKey("   "))
}

func TestCollapse(t *testing.T) {
	items := []models.Title{
		{ID: "a", MalID: ptr(int64(123)), Title: "Alpha"},
		{ID: "b", MalID: ptr(int64(123)), Title: "Alpha Deluxe"},
		{ID: "c", Title: "Series Name (2020)"},
		{ID: "d", Title: "Series Name: Part 2"},
		{ID: "e", MalID: ptr(int64(0)), Title: "Gamma"},
		{ID: ""},
		{ID: ""},
	}
	got := Collapse(items)
	ids := make([]string, 0, len(got))
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"a", "c", "e", "", ""}, ids)
}

func TestSearch(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	got, err := repo.Search(ctx, SearchQuery{Q: "berserk"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "md-berserk", got[0].ID)

	got, err = repo.Search(ctx, SearchQuery{Q: "only i level"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "md-solo", got[0].ID)

	got, err = repo.Search(ctx, SearchQuery{Q: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "md-noscore", got[len(got)-1].ID)

	got, err = repo.Search(ctx, SearchQuery{Q: "berserk", ExcludeIDs: []string{"md-berserk"}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.Search(ctx, SearchQuery{Q: "  "})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBrowseFilters(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ids := func(q BrowseQuery) []string {
		items, err := repo.Browse(ctx, q)
		require.NoError(t, err)
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}

	assert.Equal(t, []string{"md-berserk", "md-vagabond", "md-solo", "md-noscore"}, ids(BrowseQuery{Genres: []string{"Action"}}))
	assert.Equal(t, []string{"md-berserk"}, ids(BrowseQuery{Genres: []string{"Action", "Drama"}}))
	assert.Equal(t, []string{"md-vagabond"}, ids(BrowseQuery{Themes: []string{"Samurai", "Historical"}}))
	assert.Equal(t, []string{"md-solo"}, ids(BrowseQuery{ContentTypes: []string{"Manhwa", "Manhua"}}))
	assert.Equal(t, []string{"md-berserk", "md-vagabond"}, ids(BrowseQuery{MinScore: ptr(9.0)}))
	assert.Equal(t, []string{"md-solo"}, ids(BrowseQuery{MinYear: ptr(2000)}))
	assert.Equal(t, []string{"md-solo", "md-vagabond", "md-berserk", "md-noscore"}, ids(BrowseQuery{Sort: "year"}))
	assert.Equal(t, []string{"md-vagabond"}, ids(BrowseQuery{Limit: 1, Offset: 1}))

	total, err := repo.Count(ctx, BrowseQuery{Genres: []string{"Action"}})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestResolveRef(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	for ref, want := range map[string]string{
		"md-berserk":    "md-berserk",
		"mal:2":         "md-berserk",
		"MAL:999":       "mal:999",
		"Solo Leveling": "md-solo",
		"Unknown Title": "Unknown Title",
	} {
		got, err := repo.ResolveRef(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ref=%q", ref)
	}

	// "Berserk" names two rows, so it is not a unique match.
	got, err := repo.ResolveRef(ctx, "Berserk")
	require.NoError(t, err)
	assert.Equal(t, "Berserk", got)
}

func TestOptions_ResetByUpsert(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	opts, err := repo.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Action", "Drama", "Fantasy"}, opts.Genres)
	assert.Equal(t, []string{"Manga", "Manhwa"}, opts.ContentTypes)

	_, err = repo.Upsert(ctx, []models.Title{{ID: "md-yotsuba", Title: "Yotsuba&!", Genres: []string{"Comedy"}}})
	require.NoError(t, err)
	opts, err = repo.Options(ctx)
	require.NoError(t, err)
	assert.Contains(t, opts.Genres, "Comedy")
}

func TestNormalizeStoredLists(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	_, err := db.Exec(`UPDATE manga SET genres = ?, themes = ? WHERE manga_id = 'md-vagabond'`,
		`['Action', 'Drama']`, `Historical, Samurai`)
	require.NoError(t, err)

	n, err := repo.NormalizeStoredLists(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var genres string
	require.NoError(t, db.QueryRow(`SELECT genres FROM manga WHERE manga_id = 'md-vagabond'`).Scan(&genres))
	assert.Equal(t, `["Action","Drama"]`, genres)
}

type fixedExclusions map[string][]string

func (f fixedExclusions) CollectionIDs(_ context.Context, _ string, collection string) ([]string, error) {
	return f[collection], nil
}

func newTestRouter(repo *Repo, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/manga", func(c *gin.Context) {
		if userID != "" {
			c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: userID})
		}
	})
	NewHandler(repo, fixedExclusions{"dnr": {"md-berserk"}}).RegisterRoutes(g)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_SearchExcludeAndCollapse(t *testing.T) {
	repo, _ := setupRepo(t)

	var body struct {
		Items []models.Title `json:"items"`
	}
	w := get(newTestRouter(repo, "u1"), "/api/manga/search?q=berserk&exclude=dnr")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Items)

	// anonymous callers cannot exclude anything
	w = get(newTestRouter(repo, ""), "/api/manga/search?q=berserk&exclude=dnr")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Items, 1)
}

func TestHandler_Browse(t *testing.T) {
	repo, _ := setupRepo(t)

	w := get(newTestRouter(repo, ""), "/api/manga/browse?genres=Action,Drama&limit=500")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total int            `json:"total"`
		Limit int            `json:"limit"`
		Items []models.Title `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 100, body.Limit)
	require.Len(t, body.Items, 1)

	w = get(newTestRouter(repo, ""), "/api/manga/browse?min_score=high")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Details(t *testing.T) {
	repo, _ := setupRepo(t)
	r := newTestRouter(repo, "")

	w := get(r, "/api/manga/details?title=Solo%20Leveling")
	require.Equal(t, http.StatusOK, w.Code)
	var d Details
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "md-solo", d.Item.ID)
	assert.Equal(t, "Manhwa", d.Display["Type"])
	assert.Equal(t, "n/a", d.Display["Chapters"])
	assert.Equal(t, "n/a", d.Display["Themes"])

	w = get(r, "/api/manga/details?id=nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"manga not found"}`, w.Body.String())

	w = get(r, "/api/manga/details")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDedupKey_FirstTitleOnly(t *testing.T) {
	assert.Equal(t, "", DedupKey(nil, "(Oneshot)", "Real Name"))
	assert.Equal(t, "title:real name", DedupKey(nil, "  ", "Real Name"))
	assert.Equal(t, "mal:7", DedupKey(ptr(int64(7)), "(Oneshot)"))

	got := Collapse([]models.Title{
		{ID: "x", Title: "(Oneshot)", EnglishName: "Same"},
		{ID: "y", Title: "(Oneshot)", EnglishName: "Same"},
	})
	assert.Len(t, got, 2)
}

func TestUpsert_LinksRoundTrip(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	links := map[string]string{"al": "30002", "mal": "2", "mu": "abc"}
	_, err := repo.Upsert(ctx, []models.Title{
		{ID: "md-linked", Title: "Linked", Links: links},
		{ID: "md-unlinked", Title: "Unlinked"},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "md-linked")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, links, got.Links)

	var raw string
	require.NoError(t, repo.DB.QueryRow(`SELECT links FROM manga WHERE manga_id = 'md-unlinked'`).Scan(&raw))
	assert.Equal(t, "{}", raw)

	got, err = repo.GetByID(ctx, "md-unlinked")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Links)
}
