package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mangashelf/pkg/models"
)

var csvColumns = []string{
	"manga_id", "mal_id", "title", "english_name", "japanese_name", "synonyms",
	"item_type", "score", "status", "published_year", "volumes", "chapters",
	"genres", "themes", "demographic", "authors", "cover_url", "description",
}

// ImportCSV upserts titles from a CSV with a header row. Unknown columns are
// ignored and list cells may use any legacy list format.
func (r *Repo) ImportCSV(ctx context.Context, in io.Reader) (int, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1

	header, err := readHeader(cr)
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	if _, ok := header["manga_id"]; !ok {
		return 0, errors.New("csv header needs a manga_id column")
	}

	var titles []models.Title
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := titleFromRow(header, row)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		if t.ID == "" || t.Title == "" {
			continue
		}
		titles = append(titles, t)
	}
	return r.Upsert(ctx, titles)
}

func titleFromRow(header map[string]int, row []string) (models.Title, error) {
	get := func(k string) string { return valueAt(header, row, k) }

	t := models.Title{
		ID:           get("manga_id"),
		Title:        get("title"),
		EnglishName:  get("english_name"),
		JapaneseName: get("japanese_name"),
		Synonyms:     ParseList(get("synonyms")),
		ItemType:     get("item_type"),
		Status:       get("status"),
		Genres:       ParseList(get("genres")),
		Themes:       ParseList(get("themes")),
		Demographic:  get("demographic"),
		Authors:      ParseList(get("authors")),
		CoverURL:     get("cover_url"),
		Description:  get("description"),
	}

	var err error
	if t.MalID, err = parseOptInt64(get("mal_id")); err != nil {
		return t, fmt.Errorf("mal_id: %w", err)
	}
	if raw := get("score"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return t, fmt.Errorf("score: %w", err)
		}
		t.Score = &f
	}
	for col, dst := range map[string]**int{
		"published_year": &t.PublishedYear,
		"volumes":        &t.Volumes,
		"chapters":       &t.Chapters,
	} {
		n, err := parseOptInt64(get(col))
		if err != nil {
			return t, fmt.Errorf("%s: %w", col, err)
		}
		if n != nil {
			v := int(*n)
			*dst = &v
		}
	}
	if t.PublishedYear != nil {
		t.PublishingDate = strconv.Itoa(*t.PublishedYear)
	}
	return t, nil
}

// ExportCSV writes the whole catalog in the ImportCSV column layout.
func (r *Repo) ExportCSV(ctx context.Context, out io.Writer) (int, error) {
	titles, err := r.All(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(csvColumns); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, t := range titles {
		if err := cw.Write([]string{
			t.ID, int64OrEmpty(t.MalID), t.Title, t.EnglishName, t.JapaneseName, EncodeList(t.Synonyms),
			t.ItemType, floatOrEmpty(t.Score), t.Status, intOrEmpty(t.PublishedYear), intOrEmpty(t.Volumes), intOrEmpty(t.Chapters),
			EncodeList(t.Genres), EncodeList(t.Themes), t.Demographic, EncodeList(t.Authors), t.CoverURL, t.Description,
		}); err != nil {
			return 0, fmt.Errorf("write csv row %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return len(titles), cw.Error()
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	return header, nil
}

func valueAt(header map[string]int, row []string, key string) string {
	idx, ok := header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseOptInt64(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// some dumps store whole numbers as "12.0"
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return nil, err
		}
		n = int64(f)
	}
	return &n, nil
}

func int64OrEmpty(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func intOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
