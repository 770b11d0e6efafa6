package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Age          *int      `json:"age"`
	Gender       string    `json:"gender"`
	Language     string    `json:"language"`
	IsAdmin      bool      `json:"is_admin"`
	TokenVersion int       `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds a user's preference counts and derived signal affinities.
type Profile struct {
	UserID          string             `json:"-"`
	Username        string             `json:"username"`
	Age             *int               `json:"age"`
	Gender          string             `json:"gender"`
	Language        string             `json:"language"`
	PreferredGenres map[string]int     `json:"-"`
	PreferredThemes map[string]int     `json:"-"`
	BlacklistGenres map[string]int     `json:"-"`
	BlacklistThemes map[string]int     `json:"-"`
	SignalGenres    map[string]float64 `json:"-"`
	SignalThemes    map[string]float64 `json:"-"`
}

// CountEntry is one row of a preference map in display order.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type SignalEntry struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

type Event struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	MangaID   string    `json:"manga_id,omitempty"`
	Type      string    `json:"event_type"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
