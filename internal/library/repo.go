package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mangashelf/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// titleJoin selects the catalog fields shown next to a library row; m is
// LEFT JOINed so rows for unknown ids still come back.
const titleJoin = `COALESCE(m.title, ''), COALESCE(m.english_name, ''), COALESCE(m.japanese_name, ''),
	COALESCE(m.cover_url, ''), m.score, COALESCE(m.item_type, '')`

func scanTitleRef(ref *models.TitleRef, score *sql.NullFloat64) []any {
	return []any{&ref.Title, &ref.EnglishName, &ref.JapaneseName, &ref.CoverURL, score, &ref.ItemType}
}

func applyScore(ref *models.TitleRef, score sql.NullFloat64) {
	if score.Valid {
		v := score.Float64
		ref.Score = &v
	}
}

func ratingOrder(sort string) string {
	switch sort {
	case "alpha":
		return "COALESCE(m.title, r.manga_id) COLLATE NOCASE ASC"
	case "rating_desc":
		return "(r.rating_tenths IS NULL), r.rating_tenths DESC, r.created_at DESC"
	case "rating_asc":
		return "(r.rating_tenths IS NULL), r.rating_tenths ASC, r.created_at DESC"
	default:
		return "r.created_at DESC, r.rowid DESC"
	}
}

func collectionOrder(sort, alias string) string {
	if sort == "alpha" {
		return "COALESCE(m.title, " + alias + ".manga_id) COLLATE NOCASE ASC"
	}
	return alias + ".created_at DESC, " + alias + ".rowid DESC"
}

// UpsertRating writes one rating row. A nil rating keeps the stored value.
func (r *Repo) UpsertRating(ctx context.Context, userID, mangaID string, tenths *int64, recommended, finished bool, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_ratings (user_id, manga_id, rating_tenths, recommended_by_us, finished_reading, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, manga_id) DO UPDATE SET
			rating_tenths = COALESCE(excluded.rating_tenths, user_ratings.rating_tenths),
			recommended_by_us = excluded.recommended_by_us,
			finished_reading = excluded.finished_reading,
			updated_at = excluded.updated_at
	`, userID, mangaID, tenths, recommended, finished, at, at)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

func (r *Repo) GetRating(ctx context.Context, userID, mangaID string) (*models.Rating, error) {
	var (
		it     models.Rating
		tenths sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT manga_id, rating_tenths, recommended_by_us, finished_reading, created_at, updated_at
		FROM user_ratings
		WHERE user_id = ? AND manga_id = ?
	`, userID, mangaID).Scan(&it.MangaID, &tenths, &it.RecommendedByUs, &it.FinishedReading, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}
	it.Rating = fromTenths(tenths)
	return &it, nil
}

func (r *Repo) ListRatings(ctx context.Context, userID, sort string) ([]models.Rating, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT r.manga_id, r.rating_tenths, r.recommended_by_us, r.finished_reading, r.created_at, r.updated_at,
			`+titleJoin+`
		FROM user_ratings r
		LEFT JOIN manga m ON m.manga_id = r.manga_id
		WHERE r.user_id = ?
		ORDER BY `+ratingOrder(sort), userID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := []models.Rating{}
	for rows.Next() {
		var (
			it     models.Rating
			tenths sql.NullInt64
			score  sql.NullFloat64
		)
		dest := append([]any{&it.MangaID, &tenths, &it.RecommendedByUs, &it.FinishedReading, &it.CreatedAt, &it.UpdatedAt},
			scanTitleRef(&it.TitleRef, &score)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan rating row: %w", err)
		}
		it.Rating = fromTenths(tenths)
		applyScore(&it.TitleRef, score)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) DeleteRating(ctx context.Context, userID, mangaID string) (bool, error) {
	return r.delete(ctx, "user_ratings", userID, mangaID)
}

func (r *Repo) UpsertReadingList(ctx context.Context, userID, mangaID, status string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_reading_list (user_id, manga_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, manga_id) DO UPDATE SET
			status = excluded.status
	`, userID, mangaID, status, at)
	if err != nil {
		return fmt.Errorf("upsert reading list: %w", err)
	}
	return nil
}

// UpdateReadingStatus reports false when the title is not on the list.
func (r *Repo) UpdateReadingStatus(ctx context.Context, userID, mangaID, status string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE user_reading_list SET status = ?
		WHERE user_id = ? AND manga_id = ?
	`, status, userID, mangaID)
	if err != nil {
		return false, fmt.Errorf("update reading status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repo) ListReadingList(ctx context.Context, userID, sort string) ([]models.ReadingListEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT l.manga_id, l.status, l.created_at, `+titleJoin+`
		FROM user_reading_list l
		LEFT JOIN manga m ON m.manga_id = l.manga_id
		WHERE l.user_id = ?
		ORDER BY `+collectionOrder(sort, "l"), userID)
	if err != nil {
		return nil, fmt.Errorf("list reading list: %w", err)
	}
	defer rows.Close()

	out := []models.ReadingListEntry{}
	for rows.Next() {
		var (
			it    models.ReadingListEntry
			score sql.NullFloat64
		)
		dest := append([]any{&it.MangaID, &it.Status, &it.CreatedAt}, scanTitleRef(&it.TitleRef, &score)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan reading list row: %w", err)
		}
		applyScore(&it.TitleRef, score)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) DeleteReadingList(ctx context.Context, userID, mangaID string) (bool, error) {
	return r.delete(ctx, "user_reading_list", userID, mangaID)
}

func (r *Repo) UpsertDnr(ctx context.Context, userID, mangaID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_dnr (user_id, manga_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, manga_id) DO NOTHING
	`, userID, mangaID, at)
	if err != nil {
		return fmt.Errorf("upsert dnr: %w", err)
	}
	return nil
}

func (r *Repo) ListDnr(ctx context.Context, userID, sort string) ([]models.DnrEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT d.manga_id, d.created_at, `+titleJoin+`
		FROM user_dnr d
		LEFT JOIN manga m ON m.manga_id = d.manga_id
		WHERE d.user_id = ?
		ORDER BY `+collectionOrder(sort, "d"), userID)
	if err != nil {
		return nil, fmt.Errorf("list dnr: %w", err)
	}
	defer rows.Close()

	out := []models.DnrEntry{}
	for rows.Next() {
		var (
			it    models.DnrEntry
			score sql.NullFloat64
		)
		dest := append([]any{&it.MangaID, &it.CreatedAt}, scanTitleRef(&it.TitleRef, &score)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan dnr row: %w", err)
		}
		applyScore(&it.TitleRef, score)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) DeleteDnr(ctx context.Context, userID, mangaID string) (bool, error) {
	return r.delete(ctx, "user_dnr", userID, mangaID)
}

// table is one of the three fixed collection tables, never user input.
func (r *Repo) delete(ctx context.Context, table, userID, mangaID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ? AND manga_id = ?`, userID, mangaID)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IDs returns the manga ids in one collection table.
func (r *Repo) IDs(ctx context.Context, table, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT manga_id FROM `+table+` WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", table, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Memberships reports which collection tables hold mangaID for the user.
func (r *Repo) Memberships(ctx context.Context, userID, mangaID string) (rated, reading, dnr bool, err error) {
	err = r.DB.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM user_ratings WHERE user_id = ? AND manga_id = ?),
			EXISTS(SELECT 1 FROM user_reading_list WHERE user_id = ? AND manga_id = ?),
			EXISTS(SELECT 1 FROM user_dnr WHERE user_id = ? AND manga_id = ?)
	`, userID, mangaID, userID, mangaID, userID, mangaID).Scan(&rated, &reading, &dnr)
	if err != nil {
		return false, false, false, fmt.Errorf("memberships: %w", err)
	}
	return rated, reading, dnr, nil
}

func fromTenths(n sql.NullInt64) *float64 {
	if !n.Valid {
		return nil
	}
	v := float64(n.Int64) / 10
	return &v
}
