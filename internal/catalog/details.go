package catalog

import (
	"strconv"
	"strings"

	"mangashelf/pkg/models"
)

const missingValue = "n/a"

var languageNames = map[string]string{
	"ja":    "Japanese",
	"en":    "English",
	"ko":    "Korean",
	"zh":    "Chinese",
	"zh-hk": "Chinese (HK)",
	"zh-cn": "Chinese (CN)",
}

type ExternalLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Details is the payload of the details drawer.
type Details struct {
	Item          models.Title      `json:"item"`
	Display       map[string]string `json:"display"`
	ExternalLinks []ExternalLink    `json:"external_links"`
}

func BuildDetails(t models.Title) Details {
	display := map[string]string{
		"Type":              orMissing(t.ItemType),
		"Status":            orMissing(t.Status),
		"Publishing":        orMissing(t.PublishingDate),
		"Volumes":           intOrMissing(t.Volumes),
		"Chapters":          intOrMissing(t.Chapters),
		"Score":             missingValue,
		"Content rating":    orMissing(t.ContentRating),
		"Original language": orMissing(formatLanguage(t.OriginalLanguage)),
		"Demographic":       orMissing(t.Demographic),
		"Serialization":     orMissing(t.Serialization),
		"Genres":            orMissing(strings.Join(t.Genres, ", ")),
		"Themes":            orMissing(strings.Join(t.Themes, ", ")),
		"Authors":           orMissing(strings.Join(t.Authors, ", ")),
		"Updated":           missingValue,
	}
	if t.Score != nil {
		display["Score"] = strconv.FormatFloat(*t.Score, 'f', -1, 64)
	}
	if !t.UpdatedAt.IsZero() {
		display["Updated"] = t.UpdatedAt.Format("2006-01-02")
	}

	return Details{Item: t, Display: display, ExternalLinks: externalLinks(t)}
}

func externalLinks(t models.Title) []ExternalLink {
	out := []ExternalLink{}
	if t.Link != "" {
		out = append(out, ExternalLink{Label: "MangaDex", URL: t.Link})
	}
	if v := t.Links["al"]; v != "" {
		out = append(out, ExternalLink{Label: "AniList", URL: "https://anilist.co/manga/" + v})
	}
	if v := t.Links["kitsu"]; v != "" {
		out = append(out, ExternalLink{Label: "Kitsu", URL: "https://kitsu.io/manga/" + v})
	}
	if v := t.Links["mu"]; v != "" {
		out = append(out, ExternalLink{Label: "MangaUpdates", URL: "https://www.mangaupdates.com/series/" + v})
	}
	if v := t.Links["mal"]; v != "" {
		out = append(out, ExternalLink{Label: "MyAnimeList", URL: "https://myanimelist.net/manga/" + v})
	}
	return out
}

func formatLanguage(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missingValue
	}
	return s
}

func intOrMissing(n *int) string {
	if n == nil {
		return missingValue
	}
	return strconv.Itoa(*n)
}
