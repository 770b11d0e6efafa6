package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
	"mangashelf/internal/profile"
	"mangashelf/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func fixtureCatalog() []models.Title {
	return []models.Title{
		{ID: "berserk", Title: "Berserk", ItemType: "Manga", Score: ptr(9.4), PublishedYear: ptr(1989),
			Genres: []string{"Action", "Drama"}, Themes: []string{"Gore"}, Members: ptr(int64(700000))},
		{ID: "vagabond", Title: "Vagabond", ItemType: "Manga", Score: ptr(9.2), PublishedYear: ptr(1998),
			Genres: []string{"Action"}, Themes: []string{"Samurai"}, Members: ptr(int64(400000))},
		{ID: "yotsuba", Title: "Yotsuba&!", ItemType: "Manga", Score: ptr(8.9), PublishedYear: ptr(2003),
			Genres: []string{"Comedy"}, Themes: []string{"Childcare"}, Members: ptr(int64(200000))},
		{ID: "solo", Title: "Solo Leveling", ItemType: "Manhwa", Score: ptr(8.6), PublishedYear: ptr(2018),
			Genres: []string{"Action", "Fantasy"}, Members: ptr(int64(900000))},
		{ID: "lewd", Title: "Spicy Story", ItemType: "Manga", Score: ptr(7.0),
			Genres: []string{"Ecchi", "Comedy"}},
		{ID: "mal:1", Title: "Stats Only", Score: ptr(9.9), Genres: []string{"Action"}},
	}
}

func ids(items []Scored) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func plain(c Criteria) Input {
	if c.Limit == 0 {
		c.Limit = 10
	}
	return Input{Criteria: c}
}

func TestCriteria_SimpleModeCaps(t *testing.T) {
	_, err := Request{Genres: []string{"A", "B", "C", "D"}}.Criteria()
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "genres", ve.Errors[0].Field)

	_, err = Request{Themes: []string{"A", "B", "C"}, Mode: "simple"}.Criteria()
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	c, err := Request{Genres: []string{"A", "B", "C", "D"}, Mode: "advanced"}.Criteria()
	require.NoError(t, err)
	assert.Len(t, c.Genres, 4)

	// duplicates and blanks do not count against the cap
	c, err = Request{Genres: []string{"A", "A", " ", "B", "C"}}.Criteria()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, c.Genres)

	_, err = Request{Mode: "expert"}.Criteria()
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestCriteria_Defaults(t *testing.T) {
	c, err := Request{}.Criteria()
	require.NoError(t, err)
	assert.True(t, c.Diversify)
	assert.True(t, c.Personalize)
	assert.Equal(t, 20, c.Limit)

	c, err = Request{Limit: 500, Diversify: ptr(false)}.Criteria()
	require.NoError(t, err)
	assert.Equal(t, 50, c.Limit)
	assert.False(t, c.Diversify)
}

func TestRank_RequestedGenreFirst(t *testing.T) {
	res := Rank(fixtureCatalog(), plain(Criteria{Genres: []string{"Comedy"}}), nil)
	require.NotEmpty(t, res.Items)
	assert.True(t, res.UsedCurrent)
	assert.Equal(t, "yotsuba", res.Items[0].ID)
	assert.NotContains(t, ids(res.Items), "mal:1")

	for i := 1; i < len(res.Items); i++ {
		assert.GreaterOrEqual(t, res.Items[i-1].CombinedScore, res.Items[i].CombinedScore)
	}
}

func TestRank_NoMatchRenormalizes(t *testing.T) {
	res := Rank(fixtureCatalog(), plain(Criteria{Genres: []string{"Horror"}}), nil)
	assert.False(t, res.UsedCurrent)
	// without any taste data, ordering falls back to catalog score
	assert.Equal(t, []string{"berserk", "vagabond", "yotsuba", "solo", "lewd"}, ids(res.Items))
	for _, it := range res.Items {
		assert.InDelta(t, 0, it.MatchScore, 1e-9)
		assert.InDelta(t, *it.Score*0.1*(1-matchWeight), it.CombinedScore, 1e-9)
	}
}

func TestRank_Filters(t *testing.T) {
	all := fixtureCatalog()

	res := Rank(all, plain(Criteria{BlacklistGenres: []string{"Action"}}), nil)
	assert.ElementsMatch(t, []string{"yotsuba", "lewd"}, ids(res.Items))

	res = Rank(all, plain(Criteria{BlacklistThemes: []string{"Gore"}}), nil)
	assert.NotContains(t, ids(res.Items), "berserk")

	minor := Input{Criteria: Criteria{Limit: 10}, Taste: Taste{Age: ptr(16)}}
	assert.NotContains(t, ids(Rank(all, minor, nil).Items), "lewd")

	adult := Input{Criteria: Criteria{Limit: 10}, Taste: Taste{Age: ptr(30)}}
	assert.Contains(t, ids(Rank(all, adult, nil).Items), "lewd")

	excluded := Input{Criteria: Criteria{Limit: 10}, Taste: Taste{ExcludedIDs: []string{"berserk", "solo"}}}
	assert.ElementsMatch(t, []string{"vagabond", "yotsuba", "lewd"}, ids(Rank(all, excluded, nil).Items))

	res = Rank(all, plain(Criteria{ContentTypes: []string{"Manhwa"}}), nil)
	assert.Equal(t, []string{"solo"}, ids(res.Items))

	// a content type nothing carries leaves the pool untouched
	res = Rank(all, plain(Criteria{ContentTypes: []string{"Novel"}}), nil)
	assert.Len(t, res.Items, 5)
}

func TestRank_RatingAffinityLiftsSimilarTitles(t *testing.T) {
	all := fixtureCatalog()
	in := Input{
		Criteria: Criteria{Limit: 10},
		Taste: Taste{
			Ratings:     map[string]*float64{"berserk": ptr(10.0)},
			ExcludedIDs: []string{"berserk"},
		},
	}
	res := Rank(all, in, nil)
	byID := map[string]Scored{}
	for _, it := range res.Items {
		byID[it.ID] = it
	}
	assert.Greater(t, byID["vagabond"].MatchScore, byID["yotsuba"].MatchScore)
}

func TestRank_EarliestYearPenalty(t *testing.T) {
	res := Rank(fixtureCatalog(), plain(Criteria{MinYear: ptr(2020)}), nil)
	byID := map[string]Scored{}
	for _, it := range res.Items {
		byID[it.ID] = it
	}
	// 31 years early caps at 25%, two years early costs 2%
	assert.InDelta(t, 0.94*(1-matchWeight)*0.75, byID["berserk"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.86*(1-matchWeight)*0.98, byID["solo"].CombinedScore, 1e-9)
	assert.Equal(t, "solo", res.Items[0].ID)
}

func TestPersonalizationStrength(t *testing.T) {
	assert.Equal(t, 0.0, personalizationStrength(9, true))
	assert.Equal(t, 0.0, personalizationStrength(10, true))
	assert.Equal(t, 0.5, personalizationStrength(20, true))
	assert.Equal(t, 1.0, personalizationStrength(45, true))
	assert.Equal(t, 0.0, personalizationStrength(45, false))
}

func bigCatalog(n int) []models.Title {
	genres := []string{"Action", "Comedy", "Drama", "Romance", "Horror", "Mystery"}
	out := make([]models.Title, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Title{
			ID:     fmt.Sprintf("t%02d", i),
			Title:  fmt.Sprintf("Title %02d", i),
			Score:  ptr(9.9 - float64(i)*0.05),
			Genres: []string{genres[i%len(genres)]},
		})
	}
	return out
}

func TestRank_RerollIsValid(t *testing.T) {
	all := bigCatalog(60)
	base := Rank(all, plain(Criteria{Limit: 10}), nil)
	require.Len(t, base.Items, 10)

	for seed := uint64(1); seed <= 5; seed++ {
		in := plain(Criteria{Limit: 10, Reroll: true, Diversify: true, Seed: ptr(seed)})
		res := Rank(all, in, nil)
		require.Len(t, res.Items, 10)

		seen := map[string]struct{}{}
		for _, it := range res.Items {
			_, dup := seen[it.ID]
			assert.False(t, dup, "duplicate %s", it.ID)
			seen[it.ID] = struct{}{}
		}
		// the top three are anchors and always survive a reroll
		assert.Equal(t, []string{"t00", "t01", "t02"}, ids(res.Items[:3]))

		again := Rank(all, in, nil)
		assert.Equal(t, ids(res.Items), ids(again.Items), "same seed, same result")
	}
}

func TestRank_RerollWithoutDiversify(t *testing.T) {
	all := bigCatalog(40)
	res := Rank(all, plain(Criteria{Limit: 8, Reroll: true, Seed: ptr(uint64(7))}), nil)
	require.Len(t, res.Items, 8)
	valid := map[string]struct{}{}
	for _, t := range all[:24] {
		valid[t.ID] = struct{}{}
	}
	for _, it := range res.Items {
		_, ok := valid[it.ID]
		assert.True(t, ok, "%s is outside the reroll pool", it.ID)
	}
}

func TestSelectDiverse_Caps(t *testing.T) {
	mk := func(id, title string, genres ...string) candidate {
		return candidate{title: models.Title{ID: id, Title: title, Genres: genres}}
	}
	ranked := []candidate{
		mk("a1", "Alpha", "Action"),
		mk("a2", "Alpha: Part 2", "Action"),
		mk("b", "Bravo", "Action"),
		mk("c", "Charlie", "Action"),
		mk("d", "Delta", "Action"),
		mk("e", "Echo", "Comedy"),
	}
	got := selectDiverse(ranked, 5, nil)
	var picked []string
	for _, c := range got {
		picked = append(picked, c.title.ID)
	}
	// one per series, three per genre, then skipped titles backfill
	assert.Equal(t, []string{"a1", "b", "c", "e", "a2"}, picked)
}

func TestWeightedSample_NoReplacement(t *testing.T) {
	cands := make([]candidate, 0, 10)
	for i := 0; i < 10; i++ {
		cands = append(cands, candidate{title: models.Title{ID: fmt.Sprint(i)}, combined: float64(i) / 10})
	}
	got := weightedSample(cands, 10, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, got, 10)
	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.title.ID])
		seen[c.title.ID] = true
	}
}

func TestRemoteEngine_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := NewRemoteEngine(RemoteConfig{URL: srv.URL, Timeout: time.Second, Failures: 2, OpenDelay: time.Minute})
	for i := 0; i < 4; i++ {
		_, err := eng.Recommend(context.Background(), Input{})
		assert.True(t, errors.Is(err, apperr.ErrUpstream))
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestRemoteEngine_DecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in Input
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Result{
			Items:       []Scored{{ID: "x", Title: "X", Genres: in.Criteria.Genres, CombinedScore: 0.5}},
			UsedCurrent: true,
		})
	}))
	defer srv.Close()

	res, err := NewRemoteEngine(RemoteConfig{URL: srv.URL}).Recommend(context.Background(),
		Input{Criteria: Criteria{Genres: []string{"Action"}}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, []string{"Action"}, res.Items[0].Genres)
	assert.True(t, res.UsedCurrent)
}

type fakeProfiles struct {
	snap       profile.Snapshot
	prefs      [][]string
	blacklists [][]string
}

func (f *fakeProfiles) Snapshot(context.Context, string) (*profile.Snapshot, error) {
	s := f.snap
	return &s, nil
}

func (f *fakeProfiles) IncrementPreferences(_ context.Context, _ string, g, th []string) error {
	f.prefs = append(f.prefs, append(append([]string{}, g...), th...))
	return nil
}

func (f *fakeProfiles) IncrementBlacklist(_ context.Context, _ string, g, th []string) error {
	f.blacklists = append(f.blacklists, append(append([]string{}, g...), th...))
	return nil
}

type fakeLibrary struct {
	ratings  map[string]*float64
	excluded map[string]struct{}
}

func (f fakeLibrary) RatingsByID(context.Context, string) (map[string]*float64, error) {
	return f.ratings, nil
}

func (f fakeLibrary) ExcludedIDs(context.Context, string) (map[string]struct{}, error) {
	return f.excluded, nil
}

type staticEngine struct {
	res Result
	err error
	got Input
}

func (e *staticEngine) Recommend(_ context.Context, in Input) (Result, error) {
	e.got = in
	return e.res, e.err
}

func TestService_AnnotatesAndRemembers(t *testing.T) {
	profiles := &fakeProfiles{snap: profile.Snapshot{Profile: models.Profile{Language: models.LanguageEnglish}}}
	lib := fakeLibrary{
		ratings:  map[string]*float64{"frieren": ptr(9.5)},
		excluded: map[string]struct{}{"frieren": {}, "dropped": {}},
	}
	eng := &staticEngine{res: Result{Items: []Scored{
		{ID: "frieren", Title: "Sousou no Frieren", EnglishName: "Frieren", MatchScore: 0.123456, CombinedScore: 0.98765},
		{ID: "kagurabachi", Title: "Kagurabachi"},
	}}}
	svc := NewService(eng, profiles, lib)

	resp, err := svc.Recommend(context.Background(), "u1",
		Request{Genres: []string{"Action"}, BlacklistThemes: []string{"Gore"}}, true)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Action"}}, profiles.prefs)
	assert.Equal(t, [][]string{{"Gore"}}, profiles.blacklists)
	assert.ElementsMatch(t, []string{"frieren", "dropped"}, eng.got.Taste.ExcludedIDs)

	require.Len(t, resp.Items, 2)
	assert.Equal(t, "Frieren", resp.Items[0].DisplayTitle)
	assert.Equal(t, 0.123, resp.Items[0].MatchScore)
	assert.Equal(t, 0.988, resp.Items[0].CombinedScore)
	require.NotNil(t, resp.Items[0].YourRating)
	assert.Equal(t, "9.5", resp.Items[0].RatingLabel)
	assert.Nil(t, resp.Items[1].YourRating)
	assert.Equal(t, "not rated", resp.Items[1].RatingLabel)

	_, err = svc.Recommend(context.Background(), "u1", Request{}, false)
	require.NoError(t, err)
	assert.Len(t, profiles.prefs, 1)
}

type fixedOptions struct{}

func (fixedOptions) Options(context.Context) (catalog.Options, error) {
	return catalog.Options{Genres: []string{"Action"}, Themes: []string{"Gore"}}, nil
}

func TestHandler_UpstreamFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	eng := &staticEngine{err: apperr.Upstream(errors.New("connection refused"))}
	svc := NewService(eng, &fakeProfiles{}, fakeLibrary{})

	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: "u1"})
	})
	h := NewHandler(svc, fixedOptions{})
	h.RegisterRoutes(api)
	h.RegisterPublicRoutes(api)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewBufferString(`{"genres":["Action"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"recommendation engine unavailable","items":[]}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/recommendations",
		bytes.NewBufferString(`{"genres":["A","B","C","D"]}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/recommendations/options", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"genres":["Action"]`)
}

func TestService_FailedEngineLeavesHistory(t *testing.T) {
	profiles := &fakeProfiles{snap: profile.Snapshot{Profile: models.Profile{
		PreferredGenres: map[string]int{"Action": 2},
	}}}
	eng := &staticEngine{err: apperr.Upstream(errors.New("breaker open"))}
	svc := NewService(eng, profiles, fakeLibrary{})

	_, err := svc.Recommend(context.Background(), "u1",
		Request{Genres: []string{"Action", "Drama"}, BlacklistGenres: []string{"Horror"}}, true)
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Empty(t, profiles.prefs)
	assert.Empty(t, profiles.blacklists)

	// the engine still scored with this request counted in
	assert.Equal(t, map[string]int{"Action": 3, "Drama": 1}, eng.got.Taste.PreferredGenres)
	assert.Equal(t, map[string]int{"Action": 2}, profiles.snap.Profile.PreferredGenres)
}
