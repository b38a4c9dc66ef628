package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

const maxSeedSuggestions = 5

var _ recommend.Oracle = (*Client)(nil)

// defaultIntent is the neutral intent used when extraction fails.
func defaultIntent() recommend.Intent {
	return recommend.Intent{Mood: "chill", Genre: "pop", Energy: "medium"}
}

// attributesPayload tolerates the key aliases the model emits for the
// intent fields.
type attributesPayload struct {
	Mood        string          `json:"mood"`
	Genre       string          `json:"genre"`
	MusicGenre  string          `json:"music_genre"`
	Energy      string          `json:"energy"`
	EnergyLevel string          `json:"energy_level"`
	Artist      json.RawMessage `json:"artist"`
	Artists     json.RawMessage `json:"artists"`
}

// ExtractAttributes parses a free-form prompt into an Intent. It fails
// open: any transport or parse failure yields the neutral default
// intent and a nil error.
func (c *Client) ExtractAttributes(ctx context.Context, prompt string) (recommend.Intent, error) {
	query := "Extract the mood, genre, energy level, and any explicitly referenced primary artists " +
		"or bands from this user playlist request. Respond with JSON containing the keys " +
		"`mood`, `genre`, and `energy`, plus optional `artist` (string) and `artists` " +
		"(array of strings) when specific performers are mentioned. " +
		"If no artist is present, set those fields to null or an empty list. " +
		"Request: " + prompt

	raw, err := c.complete(ctx, query, 300)
	if err != nil {
		c.log.Warn().Err(err).Msg("attribute extraction failed; using default intent")
		return defaultIntent(), nil
	}

	var payload attributesPayload
	if !decodeJSON(raw, &payload) {
		c.log.Warn().
			Err(recommend.ErrMalformedOracle).
			Str("response", truncate(raw, 200)).
			Msg("unparseable attribute response; using default intent")
		return defaultIntent(), nil
	}

	intent := defaultIntent()
	if mood := strings.TrimSpace(payload.Mood); mood != "" {
		intent.Mood = strings.ToLower(mood)
	}
	if genre := strings.TrimSpace(firstNonEmpty(payload.Genre, payload.MusicGenre)); genre != "" {
		intent.Genre = strings.ToLower(genre)
	}
	if energy := strings.TrimSpace(firstNonEmpty(payload.Energy, payload.EnergyLevel)); energy != "" {
		intent.Energy = strings.ToLower(energy)
	}

	artist := strings.TrimSpace(decodeArtist(payload.Artist))
	artists := decodeArtistList(payload.Artists)
	if artist != "" && !containsFold(artists, artist) {
		artists = append([]string{artist}, artists...)
	}
	if artist == "" && len(artists) > 0 {
		artist = artists[0]
	}
	intent.Artist = artist
	intent.Artists = artists

	return intent, nil
}

// SuggestSeeds proposes up to five seed tracks for the intent. When the
// model produces nothing usable it falls back to canned seeds for the
// intent's genre.
func (c *Client) SuggestSeeds(ctx context.Context, prompt string, intent recommend.Intent) ([]recommend.Suggestion, error) {
	query := fmt.Sprintf(
		"You are selecting seed songs for a Spotify playlist.\n"+
			"Playlist request: %q\n"+
			"Extracted attributes: %s\n"+
			"Return a JSON array with at most %d objects, each containing the keys "+
			`"title" and "artist". Choose well-known songs that fit the mood/genre/`+
			"energy and are likely available on Spotify.",
		prompt, intentLabel(intent), maxSeedSuggestions)

	raw, err := c.complete(ctx, query, 500)
	if err != nil {
		c.log.Warn().Err(err).Str("genre", intent.Genre).Msg("seed suggestion call failed; using fallback seeds")
		return fallbackSeeds(intent.Genre, maxSeedSuggestions), nil
	}

	suggestions := parseSuggestions(raw)
	if len(suggestions) == 0 {
		c.log.Warn().Str("genre", intent.Genre).Msg("no parseable seed suggestions; using fallback seeds")
		return fallbackSeeds(intent.Genre, maxSeedSuggestions), nil
	}
	if len(suggestions) > maxSeedSuggestions {
		suggestions = suggestions[:maxSeedSuggestions]
	}
	return suggestions, nil
}

// SuggestRemix proposes count replacement tracks given the playlist's
// current "Title - Artist" entries. Unlike seed suggestion there is no
// canned fallback; the caller keeps its existing tracks on failure.
func (c *Client) SuggestRemix(ctx context.Context, prompt string, intent recommend.Intent, existing []string, count int) ([]recommend.Suggestion, error) {
	if count <= 0 {
		return nil, nil
	}

	snapshot := dedupeFold(existing)
	limit := min(max(count, 1), 25)
	if len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	if len(snapshot) == 0 {
		snapshot = []string{"(playlist currently empty)"}
	}
	var numbered strings.Builder
	for i, entry := range snapshot {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, entry)
	}

	promptLabel := prompt
	if promptLabel == "" {
		promptLabel = "Unnamed playlist request"
	}
	query := fmt.Sprintf(
		"You are refreshing an existing Spotify playlist for a user.\n"+
			"Original request: %q\n"+
			"Target attributes: %s\n"+
			"Current playlist tracks:\n%s\n"+
			"Remix the playlist by returning exactly %d songs that match the same "+
			"mood, genre, and energy. You may keep some of the existing songs, but "+
			"avoid duplicates overall and ensure the list feels refreshed. Return a "+
			`JSON array where each object contains the keys "title" and "artist". `+
			"Prefer well-known tracks that are likely available on Spotify.",
		promptLabel, intentLabel(intent), numbered.String(), count)

	raw, err := c.complete(ctx, query, 800)
	if err != nil {
		return nil, fmt.Errorf("remix suggestion: %w", err)
	}

	suggestions := parseSuggestions(raw)
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("remix suggestion: %w", recommend.ErrMalformedOracle)
	}
	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}
	return suggestions, nil
}

func intentLabel(intent recommend.Intent) string {
	label, err := json.Marshal(intent)
	if err != nil {
		return "{}"
	}
	return string(label)
}

func decodeArtistList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		var out []string
		for _, name := range many {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if trimmed := strings.TrimSpace(single); trimmed != "" {
			return []string{trimmed}
		}
	}
	return nil
}

func containsFold(names []string, target string) bool {
	for _, n := range names {
		if strings.EqualFold(n, target) {
			return true
		}
	}
	return false
}

func dedupeFold(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		trimmed := strings.TrimSpace(e)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
