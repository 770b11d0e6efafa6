package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// Get returns (nil, nil) for an unknown user.
func (r *Repo) Get(ctx context.Context, userID string) (*models.Profile, error) {
	var (
		p                                  models.Profile
		age                                sql.NullInt64
		prefG, prefT, blG, blT, sigG, sigT string
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, username, age, gender, language,
		       preferred_genres, preferred_themes, blacklist_genres, blacklist_themes,
		       signal_genres, signal_themes
		FROM users
		WHERE id = ?
	`, userID).Scan(&p.UserID, &p.Username, &age, &p.Gender, &p.Language,
		&prefG, &prefT, &blG, &blT, &sigG, &sigT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if p.Language == "" {
		p.Language = models.LanguageEnglish
	}
	p.PreferredGenres = parseCounts(prefG)
	p.PreferredThemes = parseCounts(prefT)
	p.BlacklistGenres = parseCounts(blG)
	p.BlacklistThemes = parseCounts(blT)
	p.SignalGenres = parseWeights(sigG)
	p.SignalThemes = parseWeights(sigT)
	return &p, nil
}

// Language satisfies library.Languages.
func (r *Repo) Language(ctx context.Context, userID string) (string, error) {
	var lang string
	err := r.DB.QueryRowContext(ctx, `SELECT language FROM users WHERE id = ?`, userID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LanguageEnglish, nil
	}
	if err != nil {
		return "", fmt.Errorf("get language: %w", err)
	}
	return lang, nil
}

func (r *Repo) UpdateBasics(ctx context.Context, userID, username string, age *int, gender, language string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE users SET username = ?, age = ?, gender = ?, language = ?
		WHERE id = ?
	`, username, age, gender, language, userID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.Conflict("username already exists")
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *Repo) SetPreferences(ctx context.Context, userID string, genres, themes map[string]int) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE users SET preferred_genres = ?, preferred_themes = ? WHERE id = ?
	`, encodeMap(genres), encodeMap(themes), userID)
	if err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return nil
}

func (r *Repo) SetBlacklist(ctx context.Context, userID string, genres, themes map[string]int) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE users SET blacklist_genres = ?, blacklist_themes = ? WHERE id = ?
	`, encodeMap(genres), encodeMap(themes), userID)
	if err != nil {
		return fmt.Errorf("set blacklist: %w", err)
	}
	return nil
}

// ClearHistory resets preference and blacklist counts. Ratings and lists stay.
func (r *Repo) ClearHistory(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE users
		SET preferred_genres = '{}', preferred_themes = '{}',
		    blacklist_genres = '{}', blacklist_themes = '{}'
		WHERE id = ?
	`, userID)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (r *Repo) SetSignals(ctx context.Context, userID string, genres, themes map[string]float64) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE users SET signal_genres = ?, signal_themes = ? WHERE id = ?
	`, encodeMap(genres), encodeMap(themes), userID)
	if err != nil {
		return fmt.Errorf("set signals: %w", err)
	}
	return nil
}

func (r *Repo) UIPrefs(ctx context.Context, userID string) (string, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT ui_prefs FROM users WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "{}", nil
	}
	if err != nil {
		return "", fmt.Errorf("get ui prefs: %w", err)
	}
	return raw, nil
}

func (r *Repo) SetUIPrefs(ctx context.Context, userID, raw string) error {
	if _, err := r.DB.ExecContext(ctx, `UPDATE users SET ui_prefs = ? WHERE id = ?`, raw, userID); err != nil {
		return fmt.Errorf("set ui prefs: %w", err)
	}
	return nil
}

// RatingsCount counts ratings that carry a value.
func (r *Repo) RatingsCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_ratings WHERE user_id = ? AND rating_tenths IS NOT NULL
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ratings: %w", err)
	}
	return n, nil
}

func (r *Repo) EventCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM user_events WHERE user_id = ? GROUP BY event_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// SignalInputs loads the rows that feed ComputeSignals.
func (r *Repo) SignalInputs(ctx context.Context, userID string) (SignalInputs, error) {
	var in SignalInputs

	rows, err := r.DB.QueryContext(ctx, `
		SELECT manga_id, rating_tenths, recommended_by_us, finished_reading
		FROM user_ratings WHERE user_id = ?
	`, userID)
	if err != nil {
		return in, fmt.Errorf("signal ratings: %w", err)
	}
	for rows.Next() {
		var (
			rt     RatedTitle
			tenths sql.NullInt64
		)
		if err := rows.Scan(&rt.MangaID, &tenths, &rt.Recommended, &rt.Finished); err != nil {
			rows.Close()
			return in, fmt.Errorf("scan signal rating: %w", err)
		}
		if tenths.Valid {
			v := float64(tenths.Int64) / 10
			rt.Rating = &v
		}
		in.Ratings = append(in.Ratings, rt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return in, fmt.Errorf("rows err: %w", err)
	}

	rows, err = r.DB.QueryContext(ctx, `SELECT manga_id, status FROM user_reading_list WHERE user_id = ?`, userID)
	if err != nil {
		return in, fmt.Errorf("signal reading list: %w", err)
	}
	for rows.Next() {
		var rt ReadingTitle
		if err := rows.Scan(&rt.MangaID, &rt.Status); err != nil {
			rows.Close()
			return in, fmt.Errorf("scan signal reading: %w", err)
		}
		in.Reading = append(in.Reading, rt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return in, fmt.Errorf("rows err: %w", err)
	}

	if in.Dnr, err = r.stringColumn(ctx, `SELECT manga_id FROM user_dnr WHERE user_id = ?`, userID); err != nil {
		return in, fmt.Errorf("signal dnr: %w", err)
	}
	if in.Clicked, err = r.stringColumn(ctx, `
		SELECT DISTINCT manga_id FROM user_events
		WHERE user_id = ? AND event_type IN ('clicked', 'details') AND manga_id IS NOT NULL
	`, userID); err != nil {
		return in, fmt.Errorf("signal events: %w", err)
	}
	return in, nil
}

func (r *Repo) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
