package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"mangashelf/pkg/models"
)

var (
	parenRe    = regexp.MustCompile(`\(.*?\)`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// SeriesKey reduces a title to the part shared by all entries of a series:
// "Series Name (2020)" and "Series Name: Part 2" both give "series name".
func SeriesKey(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	if s == "" {
		return ""
	}
	s = parenRe.ReplaceAllString(s, " ")
	if i := strings.IndexAny(s, ":-–—"); i >= 0 {
		s = s[:i]
	}
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DedupKey is "mal:<id>" for a known MAL id, else "title:<series key>" of the
// first non-empty candidate title. Empty when neither exists, or when that
// title reduces to an empty series key such as "(Oneshot)".
func DedupKey(malID *int64, titles ...string) string {
	if malID != nil && *malID != 0 {
		return "mal:" + strconv.FormatInt(*malID, 10)
	}
	for _, t := range titles {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if k := SeriesKey(t); k != "" {
			return "title:" + k
		}
		return ""
	}
	return ""
}

func TitleKey(t models.Title) string {
	return DedupKey(t.MalID, t.Title, t.EnglishName, t.JapaneseName, t.ID)
}

// CollapseBy keeps the first item for each key. Items whose key is empty are
// always kept.
func CollapseBy[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

func Collapse(items []models.Title) []models.Title {
	return CollapseBy(items, TitleKey)
}
