package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParseList normalizes a stored list column. Accepted forms: a JSON array,
// a python-literal array with single quotes, a comma separated string, or
// empty. Entries are trimmed and empty ones dropped.
func ParseList(raw string) []string {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "[]", "nan", "none", "null":
		return []string{}
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if out, ok := decodeArray(s); ok {
			return out
		}
		if out, ok := decodeArray(strings.ReplaceAll(s, "'", `"`)); ok {
			return out
		}
		s = s[1 : len(s)-1]
	}
	return splitComma(s)
}

func decodeArray(s string) ([]string, bool) {
	var vals []any
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		if str := strings.TrimSpace(fmt.Sprint(v)); str != "" {
			out = append(out, str)
		}
	}
	return out, true
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EncodeList is the single storage form for list columns.
func EncodeList(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

// encodeLinks is the storage form of the links column; nil is written as {}.
func encodeLinks(links map[string]string) string {
	if len(links) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(links)
	return string(b)
}

// ParseLinks reads the links column (JSON object, or python-literal dict).
func ParseLinks(raw string) map[string]string {
	s := strings.TrimSpace(raw)
	if s == "" || s == "{}" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &out); err == nil {
		return out
	}
	return map[string]string{}
}

// uniqueSorted returns the distinct non-empty values, sorted case-insensitively.
func uniqueSorted(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
