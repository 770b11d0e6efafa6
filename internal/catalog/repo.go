package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"mangashelf/pkg/models"
)

var titleColumns = []string{
	"manga_id", "mal_id", "title", "english_name", "japanese_name", "synonyms",
	"item_type", "score", "status", "publishing_date", "published_year",
	"volumes", "chapters", "genres", "themes", "demographic", "authors",
	"serialization", "cover_url", "links", "link", "original_language",
	"content_rating", "description", "members", "updated_at",
}

type Repo struct {
	DB *sql.DB

	mu      sync.Mutex
	options *Options
}

type SearchQuery struct {
	Q          string
	Limit      int
	ExcludeIDs []string
}

type BrowseQuery struct {
	Genres       []string // all must match
	Themes       []string // all must match
	ContentTypes []string // any
	MinScore     *float64
	Status       string
	MinYear      *int
	Sort         string // score | title | year | members
	Limit        int
	Offset       int
}

// Options lists the values a user can pick from when browsing or asking for
// recommendations.
type Options struct {
	Genres       []string `json:"genres"`
	Themes       []string `json:"themes"`
	ContentTypes []string `json:"content_types"`
}

// Tags are the genre and theme lists of one title.
type Tags struct {
	Genres []string
	Themes []string
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTitle(row scanner) (models.Title, error) {
	var (
		t                                              models.Title
		malID, year, volumes, chapters, members        sql.NullInt64
		english, japanese, itemType, status, published sql.NullString
		demographic, serialization, cover, link        sql.NullString
		origLang, contentRating, description           sql.NullString
		synonyms, genres, themes, authors, links       sql.NullString
		score                                          sql.NullFloat64
	)
	if err := row.Scan(
		&t.ID, &malID, &t.Title, &english, &japanese, &synonyms,
		&itemType, &score, &status, &published, &year,
		&volumes, &chapters, &genres, &themes, &demographic, &authors,
		&serialization, &cover, &links, &link, &origLang,
		&contentRating, &description, &members, &t.UpdatedAt,
	); err != nil {
		return t, err
	}

	t.MalID = nullInt64(malID)
	t.EnglishName = english.String
	t.JapaneseName = japanese.String
	t.Synonyms = ParseList(synonyms.String)
	t.ItemType = itemType.String
	if score.Valid {
		v := score.Float64
		t.Score = &v
	}
	t.Status = status.String
	t.PublishingDate = published.String
	t.PublishedYear = nullInt(year)
	t.Volumes = nullInt(volumes)
	t.Chapters = nullInt(chapters)
	t.Genres = ParseList(genres.String)
	t.Themes = ParseList(themes.String)
	t.Demographic = demographic.String
	t.Authors = ParseList(authors.String)
	t.Serialization = serialization.String
	t.CoverURL = cover.String
	t.Links = ParseLinks(links.String)
	t.Link = link.String
	t.OriginalLanguage = origLang.String
	t.ContentRating = contentRating.String
	t.Description = description.String
	t.Members = nullInt64(members)
	return t, nil
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func (r *Repo) queryTitles(ctx context.Context, b sq.SelectBuilder) ([]models.Title, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query titles: %w", err)
	}
	defer rows.Close()

	out := []models.Title{}
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Search matches q anywhere in the title fields and synonyms. Stats-only
// "mal:" rows are never returned; unscored rows sort last.
func (r *Repo) Search(ctx context.Context, q SearchQuery) ([]models.Title, error) {
	term := strings.TrimSpace(q.Q)
	if term == "" {
		return []models.Title{}, nil
	}
	like := "%" + term + "%"

	b := sq.Select(titleColumns...).From("manga").
		Where(sq.Or{
			sq.Like{"title": like},
			sq.Like{"english_name": like},
			sq.Like{"japanese_name": like},
			sq.Like{"synonyms": like},
		}).
		Where(sq.NotLike{"manga_id": "mal:%"}).
		OrderBy("score IS NULL", "score DESC", "title").
		Limit(uint64(clampLimit(q.Limit, 10, 100)))
	if len(q.ExcludeIDs) > 0 {
		b = b.Where(sq.NotEq{"manga_id": q.ExcludeIDs})
	}
	return r.queryTitles(ctx, b)
}

func browseFilter(q BrowseQuery) sq.And {
	where := sq.And{sq.NotLike{"manga_id": "mal:%"}}
	for _, g := range q.Genres {
		if g = strings.TrimSpace(g); g != "" {
			where = append(where, sq.Like{"genres": `%"` + g + `"%`})
		}
	}
	for _, th := range q.Themes {
		if th = strings.TrimSpace(th); th != "" {
			where = append(where, sq.Like{"themes": `%"` + th + `"%`})
		}
	}
	if types := nonEmpty(q.ContentTypes); len(types) > 0 {
		where = append(where, sq.Eq{"item_type": types})
	}
	if q.MinScore != nil {
		where = append(where, sq.GtOrEq{"score": *q.MinScore})
	}
	if s := strings.TrimSpace(q.Status); s != "" {
		where = append(where, sq.Expr("LOWER(status) = ?", strings.ToLower(s)))
	}
	if q.MinYear != nil {
		where = append(where, sq.GtOrEq{"published_year": *q.MinYear})
	}
	return where
}

func browseOrder(sort string) []string {
	switch sort {
	case "title":
		return []string{"title COLLATE NOCASE"}
	case "year":
		return []string{"published_year IS NULL", "published_year DESC", "title COLLATE NOCASE"}
	case "members":
		return []string{"members IS NULL", "members DESC", "title COLLATE NOCASE"}
	default:
		return []string{"score IS NULL", "score DESC", "title COLLATE NOCASE"}
	}
}

func (r *Repo) Browse(ctx context.Context, q BrowseQuery) ([]models.Title, error) {
	b := sq.Select(titleColumns...).From("manga").
		Where(browseFilter(q)).
		OrderBy(browseOrder(q.Sort)...).
		Limit(uint64(clampLimit(q.Limit, 20, 100))).
		Offset(uint64(max(q.Offset, 0)))
	return r.queryTitles(ctx, b)
}

func (r *Repo) Count(ctx context.Context, q BrowseQuery) (int, error) {
	sqlStr, args, err := sq.Select("COUNT(*)").From("manga").Where(browseFilter(q)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

// GetByID returns (nil, nil) when the id is unknown.
func (r *Repo) GetByID(ctx context.Context, id string) (*models.Title, error) {
	sqlStr, args, err := sq.Select(titleColumns...).From("manga").Where(sq.Eq{"manga_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build getByID: %w", err)
	}
	t, err := scanTitle(r.DB.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan getByID: %w", err)
	}
	return &t, nil
}

// GetByTitle matches title, english or japanese name exactly.
func (r *Repo) GetByTitle(ctx context.Context, title string) (*models.Title, error) {
	sqlStr, args, err := sq.Select(titleColumns...).From("manga").
		Where(sq.Or{sq.Eq{"title": title}, sq.Eq{"english_name": title}, sq.Eq{"japanese_name": title}}).
		OrderBy("manga_id LIKE 'mal:%'", "score IS NULL", "score DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build getByTitle: %w", err)
	}
	t, err := scanTitle(r.DB.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan getByTitle: %w", err)
	}
	return &t, nil
}

// All returns every title that can be recommended or exported.
func (r *Repo) All(ctx context.Context) ([]models.Title, error) {
	return r.queryTitles(ctx, sq.Select(titleColumns...).From("manga").OrderBy("manga_id"))
}

// ResolveRef maps a user supplied reference onto a canonical catalog id:
// an existing id, "mal:<n>" through mal_id, or an exact title matching a
// single row. Anything else is returned unchanged.
func (r *Repo) ResolveRef(ctx context.Context, raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", nil
	}

	if strings.HasPrefix(strings.ToLower(ref), "mal:") {
		n, err := strconv.ParseInt(strings.TrimSpace(ref[4:]), 10, 64)
		if err != nil {
			return ref, nil
		}
		var id string
		err = r.DB.QueryRowContext(ctx, `
			SELECT manga_id FROM manga
			WHERE mal_id = ? AND manga_id NOT LIKE 'mal:%'
			LIMIT 1
		`, n).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "mal:" + strconv.FormatInt(n, 10), nil
		}
		if err != nil {
			return "", fmt.Errorf("resolve mal ref: %w", err)
		}
		return id, nil
	}

	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM manga WHERE manga_id = ?`, ref).Scan(&exists)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve id ref: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT manga_id FROM manga
		WHERE title = ? OR english_name = ? OR japanese_name = ?
		LIMIT 2
	`, ref, ref, ref)
	if err != nil {
		return "", fmt.Errorf("resolve title ref: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan title ref: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows err: %w", err)
	}
	if len(ids) == 1 {
		return ids[0], nil
	}
	return ref, nil
}

// Options is computed once and reused until the next Upsert.
func (r *Repo) Options(ctx context.Context) (Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options != nil {
		return *r.options, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT genres, themes, COALESCE(item_type, '')
		FROM manga
		WHERE manga_id NOT LIKE 'mal:%'
	`)
	if err != nil {
		return Options{}, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	var genres, themes, types []string
	for rows.Next() {
		var g, th, it string
		if err := rows.Scan(&g, &th, &it); err != nil {
			return Options{}, fmt.Errorf("scan options: %w", err)
		}
		genres = append(genres, ParseList(g)...)
		themes = append(themes, ParseList(th)...)
		types = append(types, it)
	}
	if err := rows.Err(); err != nil {
		return Options{}, fmt.Errorf("rows err: %w", err)
	}

	opts := Options{
		Genres:       uniqueSorted(genres),
		Themes:       uniqueSorted(themes),
		ContentTypes: uniqueSorted(types),
	}
	r.options = &opts
	return opts, nil
}

// TagsFor returns the genres and themes of the given ids that exist.
func (r *Repo) TagsFor(ctx context.Context, ids []string) (map[string]Tags, error) {
	out := make(map[string]Tags, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sqlStr, args, err := sq.Select("manga_id", "genres", "themes").From("manga").
		Where(sq.Eq{"manga_id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tags: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, g, th string
		if err := rows.Scan(&id, &g, &th); err != nil {
			return nil, fmt.Errorf("scan tags: %w", err)
		}
		out[id] = Tags{Genres: ParseList(g), Themes: ParseList(th)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Upsert writes titles keyed by manga_id. List columns are always stored in
// their canonical JSON form.
func (r *Repo) Upsert(ctx context.Context, titles []models.Title) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manga (
		  manga_id, mal_id, title, english_name, japanese_name, synonyms,
		  item_type, score, status, publishing_date, published_year,
		  volumes, chapters, genres, themes, demographic, authors,
		  serialization, cover_url, links, link, original_language,
		  content_rating, description, members, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(manga_id) DO UPDATE SET
		  mal_id = excluded.mal_id,
		  title = excluded.title,
		  english_name = excluded.english_name,
		  japanese_name = excluded.japanese_name,
		  synonyms = excluded.synonyms,
		  item_type = excluded.item_type,
		  score = excluded.score,
		  status = excluded.status,
		  publishing_date = excluded.publishing_date,
		  published_year = excluded.published_year,
		  volumes = excluded.volumes,
		  chapters = excluded.chapters,
		  genres = excluded.genres,
		  themes = excluded.themes,
		  demographic = excluded.demographic,
		  authors = excluded.authors,
		  serialization = excluded.serialization,
		  cover_url = excluded.cover_url,
		  links = excluded.links,
		  link = excluded.link,
		  original_language = excluded.original_language,
		  content_rating = excluded.content_rating,
		  description = excluded.description,
		  members = excluded.members,
		  updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, t := range titles {
		if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Title) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.MalID, t.Title, nullString(t.EnglishName), nullString(t.JapaneseName), EncodeList(t.Synonyms),
			nullString(t.ItemType), t.Score, nullString(t.Status), nullString(t.PublishingDate), t.PublishedYear,
			t.Volumes, t.Chapters, EncodeList(t.Genres), EncodeList(t.Themes), nullString(t.Demographic), EncodeList(t.Authors),
			nullString(t.Serialization), nullString(t.CoverURL), encodeLinks(t.Links), nullString(t.Link), nullString(t.OriginalLanguage),
			nullString(t.ContentRating), nullString(t.Description), t.Members, now,
		); err != nil {
			return 0, fmt.Errorf("exec upsert for %s: %w", t.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	r.mu.Lock()
	r.options = nil
	r.mu.Unlock()
	return written, nil
}

// NormalizeStoredLists rewrites list columns left in a legacy format by older
// importers. It returns the number of rows changed.
func (r *Repo) NormalizeStoredLists(ctx context.Context) (int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT manga_id, synonyms, genres, themes, authors FROM manga`)
	if err != nil {
		return 0, fmt.Errorf("query lists: %w", err)
	}

	type fix struct{ id, synonyms, genres, themes, authors string }
	var fixes []fix
	for rows.Next() {
		var f, orig fix
		if err := rows.Scan(&orig.id, &orig.synonyms, &orig.genres, &orig.themes, &orig.authors); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan lists: %w", err)
		}
		f.id = orig.id
		f.synonyms = EncodeList(ParseList(orig.synonyms))
		f.genres = EncodeList(ParseList(orig.genres))
		f.themes = EncodeList(ParseList(orig.themes))
		f.authors = EncodeList(ParseList(orig.authors))
		if f != orig {
			fixes = append(fixes, f)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, fmt.Errorf("rows err: %w", err)
	}

	for _, f := range fixes {
		if _, err := r.DB.ExecContext(ctx, `
			UPDATE manga SET synonyms = ?, genres = ?, themes = ?, authors = ?
			WHERE manga_id = ?
		`, f.synonyms, f.genres, f.themes, f.authors, f.id); err != nil {
			return 0, fmt.Errorf("update lists for %s: %w", f.id, err)
		}
	}
	return len(fixes), nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
