package recommend

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"mangashelf/internal/apperr"
	"mangashelf/internal/profile"
	"mangashelf/pkg/models"
)

const (
	defaultLimit = 20
	maxLimit     = 50

	ModeSimple   = "simple"
	ModeAdvanced = "advanced"

	simpleMaxGenres = 3
	simpleMaxThemes = 2

	notRatedLabel = "not rated"
)

type Profiles interface {
	Snapshot(ctx context.Context, userID string) (*profile.Snapshot, error)
	IncrementPreferences(ctx context.Context, userID string, genres, themes []string) error
	IncrementBlacklist(ctx context.Context, userID string, genres, themes []string) error
}

type Library interface {
	RatingsByID(ctx context.Context, userID string) (map[string]*float64, error)
	ExcludedIDs(ctx context.Context, userID string) (map[string]struct{}, error)
}

type Service struct {
	Engine   Engine
	Profiles Profiles
	Library  Library
}

func NewService(engine Engine, profiles Profiles, lib Library) *Service {
	return &Service{Engine: engine, Profiles: profiles, Library: lib}
}

// Request is the body of POST /recommendations. Diversify and Personalize
// default to true when omitted.
type Request struct {
	Genres          []string `json:"genres"`
	Themes          []string `json:"themes"`
	BlacklistGenres []string `json:"blacklist_genres"`
	BlacklistThemes []string `json:"blacklist_themes"`
	Diversify       *bool    `json:"diversify"`
	Novelty         bool     `json:"novelty"`
	Personalize     *bool    `json:"personalize"`
	MinYear         *int     `json:"min_year"`
	ContentTypes    []string `json:"content_types"`
	Mode            string   `json:"mode"`
	Reroll          bool     `json:"reroll"`
	Limit           int      `json:"limit"`
	Seed            *uint64  `json:"seed"`
}

// Item is a ranked title annotated for the requesting user.
type Item struct {
	Scored
	DisplayTitle string   `json:"display_title"`
	YourRating   *float64 `json:"your_rating"`
	RatingLabel  string   `json:"rating_label"`
}

type Response struct {
	Items       []Item `json:"items"`
	UsedCurrent bool   `json:"used_current"`
}

func cleanList(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Criteria validates the request and fills in defaults.
func (r Request) Criteria() (Criteria, error) {
	c := Criteria{
		Genres:          cleanList(r.Genres),
		Themes:          cleanList(r.Themes),
		BlacklistGenres: cleanList(r.BlacklistGenres),
		BlacklistThemes: cleanList(r.BlacklistThemes),
		ContentTypes:    cleanList(r.ContentTypes),
		MinYear:         r.MinYear,
		Diversify:       r.Diversify == nil || *r.Diversify,
		Novelty:         r.Novelty,
		Personalize:     r.Personalize == nil || *r.Personalize,
		Reroll:          r.Reroll,
		Limit:           r.Limit,
		Seed:            r.Seed,
	}

	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case "", ModeSimple:
		if len(c.Genres) > simpleMaxGenres {
			return c, apperr.Validation("genres", "simple mode allows at most 3 genres")
		}
		if len(c.Themes) > simpleMaxThemes {
			return c, apperr.Validation("themes", "simple mode allows at most 2 themes")
		}
	case ModeAdvanced:
	default:
		return c, apperr.Validation("mode", "must be simple or advanced")
	}

	switch {
	case c.Limit <= 0:
		c.Limit = defaultLimit
	case c.Limit > maxLimit:
		c.Limit = maxLimit
	}
	return c, nil
}

// Recommend ranks titles for userID. With remember set, the requested tags
// are counted into the profile history after the engine succeeds.
func (s *Service) Recommend(ctx context.Context, userID string, req Request, remember bool) (*Response, error) {
	c, err := req.Criteria()
	if err != nil {
		return nil, err
	}

	var (
		snap     *profile.Snapshot
		ratings  map[string]*float64
		excluded map[string]struct{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.Profiles.Snapshot(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		ratings, err = s.Library.RatingsByID(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		excluded, err = s.Library.ExcludedIDs(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := snap.Profile
	prefGenres, prefThemes := p.PreferredGenres, p.PreferredThemes
	if remember {
		// score with this request already counted; it is persisted only
		// once the engine answers
		prefGenres = withCounts(prefGenres, c.Genres)
		prefThemes = withCounts(prefThemes, c.Themes)
	}
	in := Input{
		Criteria: c,
		Taste: Taste{
			Age:             p.Age,
			PreferredGenres: prefGenres,
			PreferredThemes: prefThemes,
			SignalGenres:    p.SignalGenres,
			SignalThemes:    p.SignalThemes,
			Ratings:         ratings,
			ExcludedIDs:     make([]string, 0, len(excluded)),
		},
	}
	for id := range excluded {
		in.Taste.ExcludedIDs = append(in.Taste.ExcludedIDs, id)
	}

	res, err := s.Engine.Recommend(ctx, in)
	if err != nil {
		return nil, err
	}

	if remember {
		if err := s.Profiles.IncrementPreferences(ctx, userID, c.Genres, c.Themes); err != nil {
			return nil, err
		}
		if err := s.Profiles.IncrementBlacklist(ctx, userID, c.BlacklistGenres, c.BlacklistThemes); err != nil {
			return nil, err
		}
	}

	out := &Response{Items: make([]Item, 0, len(res.Items)), UsedCurrent: res.UsedCurrent}
	for _, sc := range res.Items {
		sc.MatchScore = round3(sc.MatchScore)
		sc.InternalScore = round3(sc.InternalScore)
		sc.CombinedScore = round3(sc.CombinedScore)
		rating := ratings[sc.ID]
		out.Items = append(out.Items, Item{
			Scored:       sc,
			DisplayTitle: models.DisplayName(p.Language, sc.Title, sc.EnglishName, sc.JapaneseName, sc.ID),
			YourRating:   rating,
			RatingLabel:  ratingLabel(rating),
		})
	}
	return out, nil
}

// withCounts returns a copy of m with each name counted once more.
func withCounts(m map[string]int, names []string) map[string]int {
	out := make(map[string]int, len(m)+len(names))
	for k, v := range m {
		out[k] = v
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out[n]++
		}
	}
	return out
}

func ratingLabel(r *float64) string {
	if r == nil {
		return notRatedLabel
	}
	return strconv.FormatFloat(*r, 'f', 1, 64)
}
