package library

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/apperr"
	"mangashelf/internal/catalog"
	"mangashelf/pkg/database"
	"mangashelf/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LibraryEvent
}

func (p *recordingPublisher) Publish(_ string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v.(models.LibraryEvent))
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingSignals struct{ calls int }

func (s *countingSignals) RecomputeSignals(context.Context, string) error {
	s.calls++
	return nil
}

func ptr[T any](v T) *T { return &v }

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, username, password_hash) VALUES ('u1', 'alice', 'x'), ('u2', 'bob', 'x')`)
	require.NoError(t, err)

	_, err = catalog.NewRepo(db).Upsert(ctx, []models.Title{
		{ID: "md-berserk", Title: "Berserk", Score: ptr(9.4), Genres: []string{"Action", "Drama"}},
		{ID: "md-onepiece", MalID: ptr(int64(13)), Title: "One Piece", EnglishName: "One Piece", Genres: []string{"Adventure"}},
		{ID: "md-frieren", Title: "Sousou no Frieren", EnglishName: "Frieren: Beyond Journey's End"},
	})
	require.NoError(t, err)
	return db
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	db := setupDB(t)
	pub := &recordingPublisher{}
	return NewService(NewRepo(db), catalog.NewRepo(db), pub), pub
}

func TestAddToDnr_LocationsReportDNR(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddToDnr(ctx, "u1", "One Piece"))

	locs, err := svc.GetLocations(ctx, "u1", "One Piece")
	require.NoError(t, err)
	assert.Equal(t, []string{models.CollectionDnr}, locs)

	// stored under the canonical id
	locs, err = svc.GetLocations(ctx, "u1", "md-onepiece")
	require.NoError(t, err)
	assert.Equal(t, []string{models.CollectionDnr}, locs)
}

func TestCollectionsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(8.0), false, false)
	require.NoError(t, err)
	require.NoError(t, svc.AddToDnr(ctx, "u1", "md-berserk"))
	require.NoError(t, svc.AddToReadingList(ctx, "u1", "md-berserk", ""))

	locs, err := svc.GetLocations(ctx, "u1", "md-berserk")
	require.NoError(t, err)
	assert.Equal(t, []string{models.CollectionRatings, models.CollectionReadingList, models.CollectionDnr}, locs)

	require.NoError(t, svc.RemoveFromReadingList(ctx, "u1", "md-berserk"))
	locs, err = svc.GetLocations(ctx, "u1", "md-berserk")
	require.NoError(t, err)
	assert.Equal(t, []string{models.CollectionRatings, models.CollectionDnr}, locs)

	// other users are unaffected
	locs, err = svc.GetLocations(ctx, "u2", "md-berserk")
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestRemoveIsIdempotent(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddToDnr(ctx, "u1", "md-berserk"))
	require.NoError(t, svc.RemoveFromDnr(ctx, "u1", "md-berserk"))
	require.NoError(t, svc.RemoveFromDnr(ctx, "u1", "md-berserk"))
	require.NoError(t, svc.RemoveRating(ctx, "u1", "never-rated"))
	require.NoError(t, svc.RemoveFromReadingList(ctx, "u1", "never-listed"))

	assert.Equal(t, []string{"dnr.update", "dnr.delete"}, pub.types())
}

func TestAddRating_Bounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(10.0), false, false)
	assert.NoError(t, err)
	_, err = svc.AddRating(ctx, "u1", "md-berserk", ptr(0.0), false, false)
	assert.NoError(t, err)

	for _, bad := range []float64{10.1, -0.1, 7.55} {
		_, err = svc.AddRating(ctx, "u1", "md-berserk", ptr(bad), false, false)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%v", bad)
	}
}

func TestAddRating_RoundTripsOneDecimal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-frieren", ptr(7.5), true, false)
	require.NoError(t, err)

	items, err := svc.ListRatings(ctx, "u1", "chron", models.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Rating)
	assert.Equal(t, 7.5, *items[0].Rating)
	assert.True(t, items[0].RecommendedByUs)
	assert.Equal(t, "Frieren: Beyond Journey's End", items[0].DisplayTitle)

	jp, err := svc.ListRatings(ctx, "u1", "chron", models.LanguageJapanese)
	require.NoError(t, err)
	assert.Equal(t, "Sousou no Frieren", jp[0].DisplayTitle)
}

func TestAddRating_NilKeepsStoredValue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(6.0), false, false)
	require.NoError(t, err)
	saved, err := svc.AddRating(ctx, "u1", "md-berserk", nil, false, true)
	require.NoError(t, err)

	require.NotNil(t, saved.Rating)
	assert.Equal(t, 6.0, *saved.Rating)
	assert.True(t, saved.FinishedReading)
}

func TestRatingsMap_KeyedByTitle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "Berserk", ptr(9.0), false, false)
	require.NoError(t, err)

	m, err := svc.RatingsMap(ctx, "u1", models.LanguageEnglish)
	require.NoError(t, err)
	require.Contains(t, m.Items, "Berserk")
	assert.Equal(t, 9.0, *m.Items["Berserk"])
	require.Contains(t, m.ByID, "md-berserk")
}

func TestUnknownReferenceStoredRaw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "Some Unlisted Oneshot", ptr(5.0), false, false)
	require.NoError(t, err)

	m, err := svc.RatingsMap(ctx, "u1", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Contains(t, m.Items, "Some Unlisted Oneshot")
	assert.Contains(t, m.ByID, "Some Unlisted Oneshot")
}

func TestMalReferenceResolves(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddToReadingList(ctx, "u1", "mal:13", models.StatusInProgress))
	items, err := svc.ListReadingList(ctx, "u1", "chron", models.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "md-onepiece", items[0].MangaID)
	assert.Equal(t, models.StatusInProgress, items[0].Status)
}

func TestReadingList_StatusRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.AddToReadingList(ctx, "u1", "md-berserk", "Dropped")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = svc.UpdateReadingStatus(ctx, "u1", "md-berserk", models.StatusInProgress)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, svc.AddToReadingList(ctx, "u1", "md-berserk", ""))
	require.NoError(t, svc.UpdateReadingStatus(ctx, "u1", "md-berserk", models.StatusInProgress))

	items, err := svc.ListReadingList(ctx, "u1", "alpha", models.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusInProgress, items[0].Status)
}

func TestListRatings_Sorts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-onepiece", ptr(6.0), false, false)
	require.NoError(t, err)
	_, err = svc.AddRating(ctx, "u1", "md-berserk", ptr(9.0), false, false)
	require.NoError(t, err)
	_, err = svc.AddRating(ctx, "u1", "md-frieren", nil, false, false)
	require.NoError(t, err)

	ids := func(items []models.Rating) []string {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.MangaID)
		}
		return out
	}

	desc, err := svc.ListRatings(ctx, "u1", "rating_desc", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, []string{"md-berserk", "md-onepiece", "md-frieren"}, ids(desc))

	asc, err := svc.ListRatings(ctx, "u1", "rating_asc", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, []string{"md-onepiece", "md-berserk", "md-frieren"}, ids(asc))

	alpha, err := svc.ListRatings(ctx, "u1", "alpha", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, []string{"md-berserk", "md-onepiece", "md-frieren"}, ids(alpha))

	chron, err := svc.ListRatings(ctx, "u1", "bogus", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, []string{"md-frieren", "md-berserk", "md-onepiece"}, ids(chron))
}

func TestStateAndExcludedIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(9.0), false, false)
	require.NoError(t, err)
	require.NoError(t, svc.AddToReadingList(ctx, "u1", "md-frieren", ""))
	require.NoError(t, svc.AddToDnr(ctx, "u1", "md-onepiece"))

	st, err := svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 9.0, *st.Ratings["md-berserk"])
	assert.Equal(t, []string{"md-frieren"}, st.ReadingList)
	assert.Equal(t, []string{"md-onepiece"}, st.Dnr)

	ex, err := svc.ExcludedIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ex, 3)
	assert.Contains(t, ex, "md-onepiece")
}

func TestMutationsRefreshSignals(t *testing.T) {
	svc, _ := newTestService(t)
	sig := &countingSignals{}
	svc.Signals = sig
	ctx := context.Background()

	require.NoError(t, svc.AddToDnr(ctx, "u1", "md-berserk"))
	_, err := svc.AddRating(ctx, "u1", "md-berserk", ptr(3.0), false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, sig.calls)
}

func TestImportExportRatingsCSV(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.ImportRatingsCSV(ctx, "u1", strings.NewReader("manga_id,rating\nmd-berserk,9.5\nOne Piece,7\nmd-frieren,\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var out strings.Builder
	require.NoError(t, svc.ExportRatingsCSV(ctx, "u1", &out))
	assert.Contains(t, out.String(), "manga_id,rating\n")
	assert.Contains(t, out.String(), "md-berserk,9.5\n")
	assert.Contains(t, out.String(), "md-onepiece,7\n")
	assert.Contains(t, out.String(), "md-frieren,\n")

	_, err = svc.ImportRatingsCSV(ctx, "u1", strings.NewReader("md-berserk,11\n"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
