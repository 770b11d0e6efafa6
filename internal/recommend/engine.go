package recommend

import (
	"context"

	"mangashelf/pkg/models"
)

// Criteria are the request knobs the engine sees after validation.
type Criteria struct {
	Genres          []string `json:"genres"`
	Themes          []string `json:"themes"`
	BlacklistGenres []string `json:"blacklist_genres"`
	BlacklistThemes []string `json:"blacklist_themes"`
	ContentTypes    []string `json:"content_types"`
	MinYear         *int     `json:"min_year,omitempty"`
	Diversify       bool     `json:"diversify"`
	Novelty         bool     `json:"novelty"`
	Personalize     bool     `json:"personalize"`
	Reroll          bool     `json:"reroll"`
	Limit           int      `json:"limit"`
	Seed            *uint64  `json:"seed,omitempty"`
}

// Taste is what the engine knows about the requesting user.
type Taste struct {
	Age             *int                `json:"age,omitempty"`
	PreferredGenres map[string]int      `json:"preferred_genres"`
	PreferredThemes map[string]int      `json:"preferred_themes"`
	SignalGenres    map[string]float64  `json:"signal_genres"`
	SignalThemes    map[string]float64  `json:"signal_themes"`
	Ratings         map[string]*float64 `json:"ratings"`
	ExcludedIDs     []string            `json:"excluded_ids"`
}

type Input struct {
	Criteria Criteria `json:"criteria"`
	Taste    Taste    `json:"taste"`
}

// Scored is one ranked title. The order of Result.Items is final.
type Scored struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	EnglishName   string   `json:"english_name,omitempty"`
	JapaneseName  string   `json:"japanese_name,omitempty"`
	ItemType      string   `json:"item_type,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	Score         *float64 `json:"score"`
	PublishedYear *int     `json:"published_year,omitempty"`
	Genres        []string `json:"genres"`
	Themes        []string `json:"themes"`
	MatchScore    float64  `json:"match_score"`
	InternalScore float64  `json:"internal_score"`
	CombinedScore float64  `json:"combined_score"`
}

type Result struct {
	Items       []Scored `json:"items"`
	UsedCurrent bool     `json:"used_current"`
}

// Engine ranks catalog titles for one user.
type Engine interface {
	Recommend(ctx context.Context, in Input) (Result, error)
}

func scoredFrom(t models.Title) Scored {
	return Scored{
		ID:            t.ID,
		Title:         t.Title,
		EnglishName:   t.EnglishName,
		JapaneseName:  t.JapaneseName,
		ItemType:      t.ItemType,
		CoverURL:      t.CoverURL,
		Score:         t.Score,
		PublishedYear: t.PublishedYear,
		Genres:        t.Genres,
		Themes:        t.Themes,
	}
}
