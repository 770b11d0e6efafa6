package models

import "time"

// Collection names as reported by GetLocations, in their fixed order.
const (
	CollectionRatings     = "Ratings"
	CollectionReadingList = "Reading List"
	CollectionDnr         = "DNR"
)

const (
	StatusPlanToRead = "Plan to Read"
	StatusInProgress = "In Progress"
)

// TitleRef is the catalog data joined onto a library row; empty when the
// stored id is not in the catalog.
type TitleRef struct {
	Title        string   `json:"title"`
	EnglishName  string   `json:"english_name,omitempty"`
	JapaneseName string   `json:"japanese_name,omitempty"`
	DisplayTitle string   `json:"display_title"`
	CoverURL     string   `json:"cover_url,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	ItemType     string   `json:"item_type,omitempty"`
}

type Rating struct {
	MangaID         string    `json:"manga_id"`
	Rating          *float64  `json:"rating"`
	RecommendedByUs bool      `json:"recommended_by_us"`
	FinishedReading bool      `json:"finished_reading"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	TitleRef
}

type ReadingListEntry struct {
	MangaID   string    `json:"manga_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	TitleRef
}

type DnrEntry struct {
	MangaID   string    `json:"manga_id"`
	CreatedAt time.Time `json:"created_at"`
	TitleRef
}

// LibraryEvent is pushed to a user's websocket connections after a mutation.
type LibraryEvent struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	MangaID    string    `json:"manga_id"`
	Collection string    `json:"collection"`
	Rating     *float64  `json:"rating,omitempty"`
	Status     string    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}
