// Package config loads the application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the recommendation pipeline.
const (
	DefaultPopularityFloor = 45
	DefaultSeedFloor       = 5
	DefaultSnapshotTTL     = 1 * time.Hour
	DefaultPayloadTTL      = 15 * time.Minute
	DefaultMarket          = "US"
	DefaultPlaylistLimit   = 10
	DefaultAddr            = "127.0.0.1:8080"
)

// Weights holds the per-factor scoring coefficients.
type Weights struct {
	Popularity    float64 // multiplied by popularity/100
	SeedOverlap   float64 // candidate shares an artist with a seed
	FocusArtist   float64 // candidate matches an explicitly requested artist
	Keyword       float64 // per keyword hit in the title, capped at two hits
	YearAlignment float64 // scaled by closeness to the mean seed year
	EnergyNudge   float64 // signed, by energy label vs. release year
	CacheHit      float64 // track already in the affinity snapshot
	DominantGenre float64 // candidate matches the snapshot's top genre bucket
	NoveltyFresh  float64 // artist with no snapshot plays
	NoveltyLight  float64 // artist with one or two snapshot plays
	NoveltyHeavy  float64 // penalty for artists with six or more plays
	NoveltyKnown  float64 // penalty for moderately played artists
}

// DefaultWeights returns the tuned scoring coefficients.
func DefaultWeights() Weights {
	return Weights{
		Popularity:    0.45,
		SeedOverlap:   0.20,
		FocusArtist:   0.30,
		Keyword:       0.05,
		YearAlignment: 0.18,
		EnergyNudge:   0.05,
		CacheHit:      0.18,
		DominantGenre: 0.12,
		NoveltyFresh:  0.05,
		NoveltyLight:  0.02,
		NoveltyHeavy:  -0.03,
		NoveltyKnown:  -0.01,
	}
}

// Config holds all runtime configuration for the service.
type Config struct {
	Addr string

	SpotifyClientID     string
	SpotifyClientSecret string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	DatabaseURL string

	Market          string
	PopularityFloor int
	// GenrePopularityOverrides relaxes the floor for genres whose catalog
	// popularity runs structurally lower (ambient, jazz, classical...).
	GenrePopularityOverrides map[string]int
	RequireLatin             bool
	// ExcludeEditorial drops provider-curated playlists from seed
	// discovery and the candidate harvest.
	ExcludeEditorial bool
	SeedFloor        int
	PlaylistLimit    int
	SnapshotTTL      time.Duration
	PayloadTTL       time.Duration
	Weights          Weights

	PlaylistPrefix string
	PlaylistPublic bool
}

// defaultGenreOverrides mirrors the genres whose mainstream popularity
// ceiling sits well below the global floor.
func defaultGenreOverrides() map[string]int {
	return map[string]int{
		"ambient":           25,
		"lo-fi":             25,
		"lofi":              25,
		"jazz":              30,
		"classical":         30,
		"folk":              35,
		"singer-songwriter": 35,
	}
}

// Load reads configuration from .env (when present) and the environment.
// Returns an error when required credentials are missing.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                     envOr("ADDR", DefaultAddr),
		SpotifyClientID:          os.Getenv("SPOTIFY_ID"),
		SpotifyClientSecret:      os.Getenv("SPOTIFY_SECRET"),
		OpenAIAPIKey:             os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:            envOr("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIModel:              envOr("OPENAI_MODEL", "gpt-4o-mini"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		Market:                   envOr("RECOMMENDER_MARKET", DefaultMarket),
		PopularityFloor:          envInt("RECOMMENDER_POPULARITY_FLOOR", DefaultPopularityFloor),
		GenrePopularityOverrides: defaultGenreOverrides(),
		RequireLatin:             envBool("RECOMMENDER_REQUIRE_LATIN", false),
		ExcludeEditorial:         envBool("RECOMMENDER_EXCLUDE_EDITORIAL", true),
		SeedFloor:                envInt("RECOMMENDER_SEED_FLOOR", DefaultSeedFloor),
		PlaylistLimit:            envInt("RECOMMENDER_PLAYLIST_LIMIT", DefaultPlaylistLimit),
		SnapshotTTL:              envDuration("RECOMMENDER_SNAPSHOT_TTL", DefaultSnapshotTTL),
		PayloadTTL:               envDuration("RECOMMENDER_PAYLOAD_TTL", DefaultPayloadTTL),
		Weights:                  DefaultWeights(),
		PlaylistPrefix:           os.Getenv("RECOMMENDER_PLAYLIST_PREFIX"),
		PlaylistPublic:           envBool("RECOMMENDER_PLAYLIST_PUBLIC", false),
	}

	if err := parseGenreOverrides(os.Getenv("RECOMMENDER_GENRE_POPULARITY_OVERRIDES"), cfg.GenrePopularityOverrides); err != nil {
		return nil, err
	}

	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, fmt.Errorf("please set SPOTIFY_ID and SPOTIFY_SECRET environment variables")
	}

	return cfg, nil
}

// PopularityFloorFor resolves the minimum popularity for a normalized genre.
func (c *Config) PopularityFloorFor(genre string) int {
	if floor, ok := c.GenrePopularityOverrides[genre]; ok {
		return floor
	}
	return c.PopularityFloor
}

// parseGenreOverrides merges "genre:floor,genre:floor" pairs into dst.
func parseGenreOverrides(raw string, dst map[string]int) error {
	if raw == "" {
		return nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		genre, value, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("invalid genre override %q (want genre:floor)", pair)
		}
		floor, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid genre override %q: %w", pair, err)
		}
		dst[strings.ToLower(strings.TrimSpace(genre))] = floor
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
