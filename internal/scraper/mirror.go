package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mangashelf/pkg/models"
)

// MirrorTitle is the flat JSON shape served by a catalog mirror at
// GET {BaseURL}/titles. Numbers travel as strings.
type MirrorTitle struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	AltNames      []string `json:"alt_names"`
	Creator       string   `json:"creator"`
	Tags          []string `json:"tags"`
	Themes        []string `json:"themes,omitempty"`
	Type          string   `json:"type,omitempty"`
	MalID         string   `json:"mal_id,omitempty"`
	State         string   `json:"state"`
	TotalChapters string   `json:"total_chapters"`
	Summary       string   `json:"summary"`
	ImageURL      string   `json:"image_url"`
	Year          string   `json:"year"`
}

// Mirror reads a MirrorTitle array, usually produced by `shelfctl export mirror`.
type Mirror struct {
	BaseURL string
	Client  *http.Client
}

func NewMirror(baseURL string, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mirror{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *Mirror) Name() string { return "mirror" }

func (s *Mirror) FetchAll(ctx context.Context) ([]models.Title, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/titles", nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: build request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mirror: status %d: %s", resp.StatusCode, string(body))
	}

	var raw []MirrorTitle
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("mirror: decode json: %w", err)
	}

	result := make([]models.Title, 0, len(raw))
	for _, r := range raw {
		if r.Slug == "" || r.Name == "" {
			continue
		}
		result = append(result, r.Title())
	}
	return result, nil
}

// Title converts a mirror row to a catalog title. The slug becomes the id.
func (r MirrorTitle) Title() models.Title {
	t := models.Title{
		ID:             r.Slug,
		Title:          r.Name,
		Synonyms:       r.AltNames,
		ItemType:       r.Type,
		Genres:         r.Tags,
		Themes:         r.Themes,
		Status:         normalizeStatus(r.State),
		Description:    r.Summary,
		CoverURL:       r.ImageURL,
		PublishingDate: strings.TrimSpace(r.Year),
	}
	if r.Creator != "" {
		t.Authors = []string{r.Creator}
	}
	if n := parseIntOrZero(r.TotalChapters); n > 0 {
		t.Chapters = &n
	}
	if y := parseIntOrZero(r.Year); y > 0 {
		t.PublishedYear = &y
	}
	if id := parseIntOrZero(r.MalID); id > 0 {
		mal := int64(id)
		t.MalID = &mal
	}
	return t
}

// FromTitle builds the mirror row for a catalog title. Titles whose id is an
// opaque uuid get a slug derived from their name.
func FromTitle(t models.Title) MirrorTitle {
	m := MirrorTitle{
		Slug:          toSlug(t.ID, t.Title),
		Name:          t.Title,
		AltNames:      t.Synonyms,
		Tags:          t.Genres,
		Themes:        t.Themes,
		Type:          t.ItemType,
		State:         t.Status,
		TotalChapters: itoaOrEmpty(t.Chapters),
		Summary:       t.Description,
		ImageURL:      t.CoverURL,
		Year:          itoaOrEmpty(t.PublishedYear),
	}
	if len(t.Authors) > 0 {
		m.Creator = t.Authors[0]
	}
	if t.MalID != nil {
		m.MalID = strconv.FormatInt(*t.MalID, 10)
	}
	return m
}

func parseIntOrZero(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func itoaOrEmpty(n *int) string {
	if n == nil || *n <= 0 {
		return ""
	}
	return strconv.Itoa(*n)
}

var (
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)
)

func toSlug(id, title string) string {
	if id != "" && !uuidRe.MatchString(id) && !strings.Contains(id, ":") {
		return id
	}
	if s := slugify(title); s != "" {
		return s
	}
	return id
}

func slugify(s string) string {
	s = nonSlugRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
