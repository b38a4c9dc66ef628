package oracle

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

var codeFenceRE = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// jsonCandidates returns the substrings of a completion worth trying as
// JSON: fenced blocks first, then the raw text, then the first brace or
// bracket to the end.
func jsonCandidates(raw string) []string {
	var candidates []string
	for _, match := range codeFenceRE.FindAllStringSubmatch(raw, -1) {
		if trimmed := strings.TrimSpace(match[1]); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		candidates = append(candidates, trimmed)
		for _, open := range []string{"{", "["} {
			if idx := strings.Index(trimmed, open); idx > 0 {
				candidates = append(candidates, trimmed[idx:])
			}
		}
	}
	return candidates
}

// decodeJSON tries each candidate substring until one parses.
func decodeJSON(raw string, out any) bool {
	for _, candidate := range jsonCandidates(raw) {
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return true
		}
	}
	return false
}

// suggestionItem tolerates the key aliases the model actually emits.
type suggestionItem struct {
	Title  string          `json:"title"`
	Song   string          `json:"song"`
	Name   string          `json:"name"`
	Artist json.RawMessage `json:"artist"`
	Singer string          `json:"singer"`
}

func (s suggestionItem) toSuggestion() (recommend.Suggestion, bool) {
	title := strings.TrimSpace(firstNonEmpty(s.Title, s.Song, s.Name))
	if title == "" {
		return recommend.Suggestion{}, false
	}
	artist := strings.TrimSpace(decodeArtist(s.Artist))
	if artist == "" {
		artist = strings.TrimSpace(s.Singer)
	}
	return recommend.Suggestion{Title: title, Artist: artist}, true
}

// decodeArtist accepts both a string and an array of names.
func decodeArtist(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return strings.Join(many, ", ")
	}
	return ""
}

// suggestionList tolerates both a bare array and the wrapper objects
// the model sometimes produces.
type suggestionList struct {
	Tracks   []suggestionItem `json:"tracks"`
	Playlist []suggestionItem `json:"playlist"`
	Songs    []suggestionItem `json:"songs"`
}

// parseSuggestions extracts title/artist pairs from a completion. It
// accepts a JSON array, a wrapped JSON object, or "Title - Artist"
// lines, deduplicating case-insensitively.
func parseSuggestions(raw string) []recommend.Suggestion {
	var items []suggestionItem
	if !decodeJSON(raw, &items) {
		var wrapped suggestionList
		if decodeJSON(raw, &wrapped) {
			items = firstNonEmptyItems(wrapped.Tracks, wrapped.Playlist, wrapped.Songs)
		}
	}

	var out []recommend.Suggestion
	seen := make(map[string]struct{})
	add := func(s recommend.Suggestion) {
		key := strings.ToLower(s.Title) + "::" + strings.ToLower(s.Artist)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	for _, item := range items {
		if s, ok := item.toSuggestion(); ok {
			add(s)
		}
	}
	if len(out) > 0 {
		return out
	}

	// Plain-text fallback: one "Title - Artist" per line.
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		title, artist, found := strings.Cut(line, " - ")
		if !found {
			continue
		}
		title = strings.TrimSpace(strings.TrimLeft(title, "0123456789. "))
		if title == "" {
			continue
		}
		add(recommend.Suggestion{Title: title, Artist: strings.TrimSpace(artist)})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyItems(lists ...[]suggestionItem) []suggestionItem {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
