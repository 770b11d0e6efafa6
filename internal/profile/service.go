package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
	"mangashelf/pkg/models"
)

// TagSource looks up the genres and themes of catalog titles.
type TagSource interface {
	TagsFor(ctx context.Context, ids []string) (map[string]catalog.Tags, error)
}

type Service struct {
	Repo *Repo
	Tags TagSource
}

func NewService(repo *Repo, tags TagSource) *Service {
	return &Service{Repo: repo, Tags: tags}
}

// View is the profile as the client renders it. The history and signal maps
// are plain objects; Sorted carries the same entries ordered for display.
type View struct {
	Username        string             `json:"username"`
	Age             *int               `json:"age"`
	Gender          string             `json:"gender"`
	Language        string             `json:"language"`
	PreferredGenres map[string]int     `json:"preferred_genres"`
	PreferredThemes map[string]int     `json:"preferred_themes"`
	BlacklistGenres map[string]int     `json:"blacklist_genres"`
	BlacklistThemes map[string]int     `json:"blacklist_themes"`
	SignalGenres    map[string]float64 `json:"signal_genres"`
	SignalThemes    map[string]float64 `json:"signal_themes"`
	Sorted          SortedView         `json:"sorted"`
	RatingsCount    int                `json:"ratings_count"`
}

type SortedView struct {
	PreferredGenres []models.CountEntry  `json:"preferred_genres"`
	PreferredThemes []models.CountEntry  `json:"preferred_themes"`
	BlacklistGenres []models.CountEntry  `json:"blacklist_genres"`
	BlacklistThemes []models.CountEntry  `json:"blacklist_themes"`
	SignalGenres    []models.SignalEntry `json:"signal_genres"`
	SignalThemes    []models.SignalEntry `json:"signal_themes"`
}

// Snapshot is what the recommender needs from a profile.
type Snapshot struct {
	Profile      models.Profile
	RatingsCount int
}

// SignalsView exposes the derived affinities with the event tallies behind them.
type SignalsView struct {
	Genres      []models.SignalEntry `json:"genres"`
	Themes      []models.SignalEntry `json:"themes"`
	EventCounts map[string]int       `json:"event_counts"`
}

func (s *Service) load(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.Repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("user")
	}
	return p, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*View, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := snap.Profile
	return &View{
		Username:        p.Username,
		Age:             p.Age,
		Gender:          p.Gender,
		Language:        p.Language,
		PreferredGenres: orEmpty(p.PreferredGenres),
		PreferredThemes: orEmpty(p.PreferredThemes),
		BlacklistGenres: orEmpty(p.BlacklistGenres),
		BlacklistThemes: orEmpty(p.BlacklistThemes),
		SignalGenres:    orEmpty(p.SignalGenres),
		SignalThemes:    orEmpty(p.SignalThemes),
		Sorted: SortedView{
			PreferredGenres: SortedCounts(p.PreferredGenres),
			PreferredThemes: SortedCounts(p.PreferredThemes),
			BlacklistGenres: SortedCounts(p.BlacklistGenres),
			BlacklistThemes: SortedCounts(p.BlacklistThemes),
			SignalGenres:    SortedSignals(p.SignalGenres),
			SignalThemes:    SortedSignals(p.SignalThemes),
		},
		RatingsCount: snap.RatingsCount,
	}, nil
}

func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	p, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	n, err := s.Repo.RatingsCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Profile: *p, RatingsCount: n}, nil
}

// Update carries the editable profile fields. Age is raw JSON so that a
// number, a numeric string and an empty value are all accepted.
type Update struct {
	Username string          `json:"username"`
	Age      json.RawMessage `json:"age"`
	Gender   string          `json:"gender"`
	Language string          `json:"language"`
}

func parseAge(raw json.RawMessage) (*int, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.Validation("age", "must be a number")
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || s == "null" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 150 || f != float64(int(f)) {
		return nil, apperr.Validation("age", "must be a whole number between 0 and 150")
	}
	v := int(f)
	return &v, nil
}

func normalizeLanguage(lang string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "english":
		return models.LanguageEnglish, nil
	case "japanese":
		return models.LanguageJapanese, nil
	}
	return "", apperr.Validation("language", "must be English or Japanese")
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, u Update) (*View, error) {
	current, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	username := current.Username
	if strings.TrimSpace(u.Username) != "" {
		username = auth.NormalizeUsername(u.Username)
		if len(username) < 3 || len(username) > 30 {
			return nil, apperr.Validation("username", "must be 3-30 characters")
		}
	}
	age, err := parseAge(u.Age)
	if err != nil {
		return nil, err
	}
	lang := current.Language
	if strings.TrimSpace(u.Language) != "" {
		if lang, err = normalizeLanguage(u.Language); err != nil {
			return nil, err
		}
	}

	if err := s.Repo.UpdateBasics(ctx, userID, username, age, strings.TrimSpace(u.Gender), lang); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if _, err := s.load(ctx, userID); err != nil {
		return err
	}
	return s.Repo.ClearHistory(ctx, userID)
}

// IncrementPreferences adds one to every requested genre and theme.
func (s *Service) IncrementPreferences(ctx context.Context, userID string, genres, themes []string) error {
	if len(genres) == 0 && len(themes) == 0 {
		return nil
	}
	p, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	return s.Repo.SetPreferences(ctx, userID,
		increment(p.PreferredGenres, genres), increment(p.PreferredThemes, themes))
}

func (s *Service) IncrementBlacklist(ctx context.Context, userID string, genres, themes []string) error {
	if len(genres) == 0 && len(themes) == 0 {
		return nil
	}
	p, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	return s.Repo.SetBlacklist(ctx, userID,
		increment(p.BlacklistGenres, genres), increment(p.BlacklistThemes, themes))
}

// RecomputeSignals rebuilds signal_genres and signal_themes from the
// user's library and interaction events.
func (s *Service) RecomputeSignals(ctx context.Context, userID string) error {
	in, err := s.Repo.SignalInputs(ctx, userID)
	if err != nil {
		return err
	}
	tags := map[string]catalog.Tags{}
	if s.Tags != nil {
		if tags, err = s.Tags.TagsFor(ctx, in.ids()); err != nil {
			return fmt.Errorf("load signal tags: %w", err)
		}
	}
	genres, themes := ComputeSignals(in, tags)
	return s.Repo.SetSignals(ctx, userID, genres, themes)
}

func (s *Service) Signals(ctx context.Context, userID string) (*SignalsView, error) {
	p, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.Repo.EventCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SignalsView{
		Genres:      SortedSignals(p.SignalGenres),
		Themes:      SortedSignals(p.SignalThemes),
		EventCounts: counts,
	}, nil
}

func (s *Service) UIPrefs(ctx context.Context, userID string) (map[string]any, error) {
	raw, err := s.Repo.UIPrefs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// SetUIPrefs replaces the stored object wholesale.
func (s *Service) SetUIPrefs(ctx context.Context, userID string, prefs map[string]any) error {
	if prefs == nil {
		prefs = map[string]any{}
	}
	b, err := json.Marshal(prefs)
	if err != nil {
		return apperr.Validation("ui_prefs", "must be an object")
	}
	return s.Repo.SetUIPrefs(ctx, userID, string(b))
}
