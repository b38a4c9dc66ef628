// Package recommend implements the seed/candidate/ranking pipeline that
// turns a parsed playlist request into a scored, diversity-constrained
// track list.
package recommend

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Pipeline-level errors.
var (
	// ErrUpstreamUnavailable is returned when every upstream source for a
	// step has failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInsufficientSeeds marks a pipeline run that finished below the
	// configured seed floor. It is surfaced as a warning, not a failure.
	ErrInsufficientSeeds = errors.New("insufficient seeds")

	// ErrEmptyResultSet marks a run where harvesting and scoring produced
	// no usable candidates; the payload carries seeds only.
	ErrEmptyResultSet = errors.New("empty candidate result set")

	// ErrMalformedOracle marks oracle output that could not be parsed.
	// Intent extraction swallows it and falls back to the neutral
	// default; remix suggestion propagates it.
	ErrMalformedOracle = errors.New("malformed oracle response")
)

// ArtistRef identifies an artist on a track.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is an immutable catalog track. Instances are owned by whichever
// component fetched them and shared by reference afterwards.
type Track struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Artists       []ArtistRef `json:"artists"`
	AlbumName     string      `json:"album_name,omitempty"`
	AlbumImageURL string      `json:"album_image_url,omitempty"`
	DurationMS    int         `json:"duration_ms"`
	ReleaseYear   *int        `json:"year,omitempty"`
	Popularity    int         `json:"popularity"`
	Genres        []string    `json:"genres,omitempty"`
	Markets       []string    `json:"-"`
}

// ArtistIDs returns the non-empty artist identifiers on the track.
func (t Track) ArtistIDs() []string {
	ids := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// PrimaryArtist returns the first artist name, or "".
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

// ArtistLabel renders the artist credit as "A, B, C".
func (t Track) ArtistLabel() string {
	label := ""
	for _, a := range t.Artists {
		if a.Name == "" {
			continue
		}
		if label != "" {
			label += ", "
		}
		label += a.Name
	}
	return label
}

// AvailableIn reports whether the track lists market. Tracks without
// market data pass the filter.
func (t Track) AvailableIn(market string) bool {
	if len(t.Markets) == 0 {
		return true
	}
	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// SeedSource labels where a seed track came from.
type SeedSource string

// Seed sources, in merge priority order.
const (
	SourceArtistTopTracks SeedSource = "artist_top_tracks"
	SourceUserGenreCache  SeedSource = "user_genre_cache"
	SourceLLMSeed         SeedSource = "llm_seed"
	SourceGenreDiscovery  SeedSource = "genre_discovery"
)

// SeededTrack is a track chosen to anchor the playlist, tagged with its
// origin and insertion rank.
type SeededTrack struct {
	Track
	SeedSource SeedSource `json:"seed_source"`
	Rank       int        `json:"rank"`
}

// ScoredCandidate is a harvested track with its score and the per-factor
// contributions that produced it. Score is the sum of the breakdown's
// values clamped to a minimum of zero.
type ScoredCandidate struct {
	Track
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"score_breakdown"`
}

// GenreBucket aggregates a snapshot's tracks for one normalized genre.
type GenreBucket struct {
	TrackIDs      []string `json:"track_ids"`
	ArtistIDs     []string `json:"artist_ids"`
	TrackCount    int      `json:"track_count"`
	AvgPopularity float64  `json:"avg_popularity"`
	AvgYear       *float64 `json:"avg_year,omitempty"`
}

// ArtistInfo is the snapshot's record of a listened-to artist.
type ArtistInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Genres    []string `json:"genres"`
	PlayCount int      `json:"play_count"`
}

// AffinitySnapshot is the cached summary of a user's listening history.
// It is built wholesale and replaced wholesale; never patched in place.
type AffinitySnapshot struct {
	Source        string                 `json:"source"` // "top_tracks" or "recently_played"
	Tracks        map[string]Track       `json:"tracks"`
	TopTrackIDs   []string               `json:"top_track_ids"`
	GenreBuckets  map[string]GenreBucket `json:"genre_buckets"`
	Artists       map[string]ArtistInfo  `json:"artists"`
	ArtistCounts  map[string]int         `json:"artist_counts"`
	ArtistNameMap map[string]string      `json:"artist_name_map"` // normalized name -> artist ID
	SampleSize    int                    `json:"sample_size"`
	CreatedAt     time.Time              `json:"created_at"`
}

// HasTrack reports whether the snapshot contains the track.
func (s *AffinitySnapshot) HasTrack(id string) bool {
	if s == nil || id == "" {
		return false
	}
	_, ok := s.Tracks[id]
	return ok
}

// DominantGenre returns the genre bucket with the highest track count,
// or "" for an empty snapshot. Ties break lexicographically for
// determinism.
func (s *AffinitySnapshot) DominantGenre() string {
	if s == nil {
		return ""
	}
	best := ""
	bestCount := 0
	for genre, bucket := range s.GenreBuckets {
		if bucket.TrackCount > bestCount || (bucket.TrackCount == bestCount && (best == "" || genre < best)) {
			best = genre
			bestCount = bucket.TrackCount
		}
	}
	return best
}

// TracksForArtist returns snapshot tracks crediting the artist, most
// popular first.
func (s *AffinitySnapshot) TracksForArtist(artistID string, limit int) []Track {
	if s == nil || artistID == "" {
		return nil
	}
	var matches []Track
	for _, id := range s.TopTrackIDs {
		track, ok := s.Tracks[id]
		if !ok {
			continue
		}
		for _, a := range track.Artists {
			if a.ID == artistID {
				matches = append(matches, track)
				break
			}
		}
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

// TracksForGenre returns up to limit snapshot tracks from the matching
// genre bucket, in bucket order.
func (s *AffinitySnapshot) TracksForGenre(genre string, limit int) []Track {
	if s == nil || genre == "" {
		return nil
	}
	bucket, ok := s.GenreBuckets[genre]
	if !ok {
		return nil
	}
	var out []Track
	for _, id := range bucket.TrackIDs {
		track, ok := s.Tracks[id]
		if !ok {
			continue
		}
		out = append(out, track)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ResolveArtist looks up an artist ID by a free-form name hint.
func (s *AffinitySnapshot) ResolveArtist(hint string) string {
	if s == nil {
		return ""
	}
	key := NormalizeArtistKey(hint)
	if key == "" {
		return ""
	}
	if id, ok := s.ArtistNameMap[key]; ok {
		return id
	}
	// Fall back to substring matching against known artist names.
	for id, info := range s.Artists {
		name := NormalizeArtistKey(info.Name)
		if name != "" && (name == key || strings.Contains(name, key)) {
			return id
		}
	}
	return ""
}

// Intent is the structured form of a playlist request, produced by the
// external oracle. Treated as immutable input.
type Intent struct {
	Mood    string   `json:"mood"`
	Genre   string   `json:"genre"`
	Energy  string   `json:"energy"` // "low", "medium", "high" or ""
	Artist  string   `json:"artist,omitempty"`
	Artists []string `json:"artists,omitempty"`
}

// SnapshotSummary is the trimmed snapshot view stored in payloads.
type SnapshotSummary struct {
	Source     string    `json:"source"`
	SampleSize int       `json:"sample_size"`
	TopGenre   string    `json:"top_genre"`
	CreatedAt  time.Time `json:"created_at"`
}

// PlaylistPayload is the final pipeline output: ordered seed tracks
// followed by ranked candidates, plus the trace that produced them.
// Cached per (user, prompt hash) and always replaced wholesale.
type PlaylistPayload struct {
	Prompt        string            `json:"prompt"`
	Intent        Intent            `json:"intent"`
	Seeds         []SeededTrack     `json:"seeds"`
	Candidates    []ScoredCandidate `json:"candidates"`
	Tracks        []Track           `json:"tracks"` // seeds first, then candidates
	SeedSources   map[string]int    `json:"seed_sources"`
	Snapshot      *SnapshotSummary  `json:"snapshot,omitempty"`
	SuggestedName string            `json:"suggested_name"`
	Trace         []TraceStep       `json:"trace,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	SeedsOnly     bool              `json:"seeds_only"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// TrackIDs returns the identifiers of the payload's tracks, in order.
func (p *PlaylistPayload) TrackIDs() []string {
	ids := make([]string, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// ArtistRecord is the catalog's artist metadata used for genre
// normalization.
type ArtistRecord struct {
	ID     string
	Name   string
	Genres []string // normalized
}

// Catalog is the external music catalog consumed by the pipeline. Every
// call may fail or return a partial result; the pipeline never assumes
// success.
type Catalog interface {
	SearchTracks(ctx context.Context, query, market string, limit, offset int) ([]Track, error)
	SearchArtist(ctx context.Context, name string) ([]ArtistRecord, error)
	SearchPlaylists(ctx context.Context, query string, limit int) ([]PlaylistRef, error)
	PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]Track, error)
	ArtistTopTracks(ctx context.Context, artistID, market string) ([]Track, error)
	Artists(ctx context.Context, ids []string) ([]ArtistRecord, error)
	UserTopTracks(ctx context.Context, limit int) ([]Track, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]Track, error)
}

// PlaylistRef identifies a public playlist found via search.
type PlaylistRef struct {
	ID      string
	Name    string
	OwnerID string
}

// Suggestion is a title/artist pair proposed by the oracle.
type Suggestion struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Oracle is the intent-extraction service consumed by the pipeline.
type Oracle interface {
	// ExtractAttributes parses a free-form prompt into an Intent. It fails
	// open: malformed oracle output yields a neutral default Intent.
	ExtractAttributes(ctx context.Context, prompt string) (Intent, error)
	// SuggestSeeds proposes up to five seed tracks for the intent.
	SuggestSeeds(ctx context.Context, prompt string, intent Intent) ([]Suggestion, error)
	// SuggestRemix proposes replacement tracks given the current list.
	SuggestRemix(ctx context.Context, prompt string, intent Intent, existing []string, count int) ([]Suggestion, error)
}
