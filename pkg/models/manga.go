package models

import "time"

// Title is one catalog entry. List fields are always normalized slices;
// legacy storage formats never leave the catalog repo.
type Title struct {
	ID               string            `json:"manga_id"`
	MalID            *int64            `json:"mal_id,omitempty"`
	Title            string            `json:"title"`
	EnglishName      string            `json:"english_name,omitempty"`
	JapaneseName     string            `json:"japanese_name,omitempty"`
	Synonyms         []string          `json:"synonyms"`
	ItemType         string            `json:"item_type,omitempty"`
	Score            *float64          `json:"score"`
	Status           string            `json:"status,omitempty"`
	PublishingDate   string            `json:"publishing_date,omitempty"`
	PublishedYear    *int              `json:"published_year,omitempty"`
	Volumes          *int              `json:"volumes,omitempty"`
	Chapters         *int              `json:"chapters,omitempty"`
	Genres           []string          `json:"genres"`
	Themes           []string          `json:"themes"`
	Demographic      string            `json:"demographic,omitempty"`
	Authors          []string          `json:"authors"`
	Serialization    string            `json:"serialization,omitempty"`
	CoverURL         string            `json:"cover_url,omitempty"`
	Links            map[string]string `json:"links,omitempty"`
	Link             string            `json:"link,omitempty"`
	OriginalLanguage string            `json:"original_language,omitempty"`
	ContentRating    string            `json:"content_rating,omitempty"`
	Description      string            `json:"description,omitempty"`
	Members          *int64            `json:"members,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

const (
	LanguageEnglish  = "English"
	LanguageJapanese = "Japanese"
)

// DisplayName picks the title shown to a user reading in lang.
func DisplayName(lang, title, english, japanese, fallback string) string {
	preferred := english
	if lang == LanguageJapanese {
		preferred = japanese
	}
	switch {
	case preferred != "":
		return preferred
	case title != "":
		return title
	default:
		return fallback
	}
}

func (t Title) DisplayName(lang string) string {
	return DisplayName(lang, t.Title, t.EnglishName, t.JapaneseName, t.ID)
}
