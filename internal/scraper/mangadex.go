package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mangashelf/pkg/models"
)

const (
	DefaultMangaDexURL = "https://api.mangadex.org"
	mangadexCoverBase  = "https://uploads.mangadex.org/covers"
)

// MangaDex pages through the public /manga listing.
type MangaDex struct {
	BaseURL string
	Client  *http.Client
	Limit   int // items per request
	Max     int // total items to fetch
}

func NewMangaDex(baseURL string, max int, timeout time.Duration) *MangaDex {
	if baseURL == "" {
		baseURL = DefaultMangaDexURL
	}
	if max <= 0 {
		max = 200
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &MangaDex{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Limit:   min(max, 100),
		Max:     max,
	}
}

func (s *MangaDex) Name() string { return "mangadex" }

type mdTag struct {
	Attributes struct {
		Name  map[string]string `json:"name"`
		Group string            `json:"group"`
	} `json:"attributes"`
}

type mdManga struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Title                  map[string]string   `json:"title"`
		AltTitles              []map[string]string `json:"altTitles"`
		Description            map[string]string   `json:"description"`
		Links                  map[string]string   `json:"links"`
		OriginalLanguage       string              `json:"originalLanguage"`
		LastVolume             string              `json:"lastVolume"`
		LastChapter            string              `json:"lastChapter"`
		PublicationDemographic string              `json:"publicationDemographic"`
		Status                 string              `json:"status"`
		Year                   int                 `json:"year"`
		ContentRating          string              `json:"contentRating"`
		Tags                   []mdTag             `json:"tags"`
		UpdatedAt              string              `json:"updatedAt"`
	} `json:"attributes"`
	Relationships []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Name     string `json:"name"`     // author
			FileName string `json:"fileName"` // cover_art
		} `json:"attributes"`
	} `json:"relationships"`
}

type mdResponse struct {
	Result string    `json:"result"`
	Data   []mdManga `json:"data"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Total  int       `json:"total"`
}

func (s *MangaDex) FetchAll(ctx context.Context) ([]models.Title, error) {
	var all []models.Title

	for offset := 0; len(all) < s.Max; offset += s.Limit {
		md, err := s.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		if len(md.Data) == 0 {
			break
		}
		for _, item := range md.Data {
			t, ok := mapMangaDex(item)
			if !ok {
				continue
			}
			all = append(all, t)
			if len(all) >= s.Max {
				break
			}
		}
		if md.Total > 0 && offset+s.Limit >= md.Total {
			break
		}
	}
	return all, nil
}

func (s *MangaDex) fetchPage(ctx context.Context, offset int) (*mdResponse, error) {
	u, err := url.Parse(s.BaseURL + "/manga")
	if err != nil {
		return nil, fmt.Errorf("mangadex: parse url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.Limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Add("contentRating[]", "safe")
	q.Add("contentRating[]", "suggestive")
	q.Add("includes[]", "author")
	q.Add("includes[]", "cover_art")
	q.Set("order[followedCount]", "desc")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("mangadex: build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mangadex: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mangadex: status %d: %s", resp.StatusCode, string(body))
	}

	var md mdResponse
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("mangadex: decode: %w", err)
	}
	return &md, nil
}

func mapMangaDex(item mdManga) (models.Title, bool) {
	a := item.Attributes
	if item.ID == "" {
		return models.Title{}, false
	}
	title := pickLang(a.Title, "en")
	if title == "" {
		title = anyValue(a.Title)
	}
	if title == "" {
		return models.Title{}, false
	}

	t := models.Title{
		ID:               item.ID,
		Title:            title,
		ItemType:         itemTypeFor(a.OriginalLanguage),
		Status:           normalizeStatus(a.Status),
		Demographic:      capitalize(a.PublicationDemographic),
		OriginalLanguage: a.OriginalLanguage,
		ContentRating:    a.ContentRating,
		Description:      pickLang(a.Description, "en"),
		Link:             "https://mangadex.org/title/" + item.ID,
		Links:            a.Links,
	}
	if a.Year > 0 {
		y := a.Year
		t.PublishedYear = &y
		t.PublishingDate = strconv.Itoa(y)
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(a.LastChapter), 64); err == nil && n > 0 {
		ch := int(n)
		t.Chapters = &ch
	}
	if n, err := strconv.Atoi(strings.TrimSpace(a.LastVolume)); err == nil && n > 0 {
		t.Volumes = &n
	}
	if raw, ok := a.Links["mal"]; ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && id > 0 {
			t.MalID = &id
		}
	}

	for _, alt := range a.AltTitles {
		if ja := strings.TrimSpace(alt["ja"]); ja != "" && t.JapaneseName == "" {
			t.JapaneseName = ja
			continue
		}
		for _, v := range alt {
			if v = strings.TrimSpace(v); v != "" && v != title {
				t.Synonyms = appendIfMissing(t.Synonyms, v)
			}
		}
	}

	// tags carry their group; only genres and themes are kept
	for _, tag := range a.Tags {
		name := pickLang(tag.Attributes.Name, "en")
		if name == "" {
			continue
		}
		switch tag.Attributes.Group {
		case "genre":
			t.Genres = appendIfMissing(t.Genres, name)
		case "theme":
			t.Themes = appendIfMissing(t.Themes, name)
		}
	}

	coverFile := ""
	for _, rel := range item.Relationships {
		switch rel.Type {
		case "author":
			if rel.Attributes.Name != "" {
				t.Authors = appendIfMissing(t.Authors, rel.Attributes.Name)
			}
		case "cover_art":
			if coverFile == "" && rel.Attributes.FileName != "" {
				coverFile = rel.Attributes.FileName
			}
		}
	}
	if coverFile != "" {
		t.CoverURL = fmt.Sprintf("%s/%s/%s", mangadexCoverBase, item.ID, coverFile)
	}
	return t, true
}

func pickLang(m map[string]string, lang string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[lang])
}

func anyValue(m map[string]string) string {
	for _, v := range m {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func itemTypeFor(lang string) string {
	switch strings.ToLower(lang) {
	case "ja":
		return "Manga"
	case "ko":
		return "Manhwa"
	case "zh", "zh-hk", "zh-cn":
		return "Manhua"
	default:
		return ""
	}
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "finished", "end":
		return "completed"
	case "ongoing", "publishing", "running":
		return "ongoing"
	case "hiatus", "on hiatus":
		return "hiatus"
	case "cancelled", "canceled", "discontinued":
		return "cancelled"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}
