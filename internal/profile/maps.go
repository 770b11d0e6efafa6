package profile

import (
	"encoding/json"
	"sort"
	"strings"

	"mangashelf/pkg/models"
)

// parseCounts reads a stored count map. Older rows hold python-literal dicts
// or plain lists; a list becomes a count of 1 per entry.
func parseCounts(raw string) map[string]int {
	out := map[string]int{}
	for _, s := range []string{raw, strings.ReplaceAll(raw, "'", `"`)} {
		s = strings.TrimSpace(s)
		if s == "" {
			return out
		}
		var m map[string]float64
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			for k, v := range m {
				out[k] = int(v)
			}
			return out
		}
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			for _, k := range list {
				if k = strings.TrimSpace(k); k != "" {
					out[k] = 1
				}
			}
			return out
		}
	}
	return out
}

func parseWeights(raw string) map[string]float64 {
	out := map[string]float64{}
	for _, s := range []string{raw, strings.ReplaceAll(raw, "'", `"`)} {
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err == nil {
			return out
		}
	}
	return map[string]float64{}
}

func encodeMap[V int | float64](m map[string]V) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// orEmpty keeps nil maps from rendering as JSON null.
func orEmpty[V int | float64](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// SortedCounts orders entries by count descending, then name.
func SortedCounts(m map[string]int) []models.CountEntry {
	out := make([]models.CountEntry, 0, len(m))
	for k, v := range m {
		out = append(out, models.CountEntry{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SortedSignals orders entries by absolute weight descending, then name.
func SortedSignals(m map[string]float64) []models.SignalEntry {
	out := make([]models.SignalEntry, 0, len(m))
	for k, v := range m {
		out = append(out, models.SignalEntry{Name: k, Weight: v})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := abs(out[i].Weight), abs(out[j].Weight)
		if ai != aj {
			return ai > aj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func increment(m map[string]int, names []string) map[string]int {
	if m == nil {
		m = map[string]int{}
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			m[n]++
		}
	}
	return m
}
