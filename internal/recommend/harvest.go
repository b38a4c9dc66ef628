package recommend

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// harvestPlaylistLimit is how many playlists one harvest query
	// inspects.
	harvestPlaylistLimit = 3

	// harvestPageSize is the page size for playlist and search pulls.
	harvestPageSize = 50

	// searchPageSize is the page size for targeted search pulls; offsets
	// are randomized within [0, 100-searchPageSize].
	searchPageSize = 20

	// maxCandidates caps the harvest output.
	maxCandidates = 120
)

// harvestPlaylistTemplates rotate across requests, mirroring the seed
// discovery rotation.
var harvestPlaylistTemplates = []string{
	"%s essentials",
	"%s hits",
	"best %s songs",
	"%s playlist",
}

// Harvester gathers scoring candidates from playlist lookups and
// targeted searches.
type Harvester struct {
	catalog          Catalog
	market           string
	requireLatin     bool
	excludeEditorial bool
	floorFor         func(genre string) int
	rand             *rand.Rand
	log              zerolog.Logger
}

// HarvesterOption configures a Harvester.
type HarvesterOption func(*Harvester)

// WithHarvestRand overrides the randomness source used for rotation and
// pagination offsets, for tests.
func WithHarvestRand(r *rand.Rand) HarvesterOption {
	return func(h *Harvester) {
		if r != nil {
			h.rand = r
		}
	}
}

// WithoutEditorialExclusion keeps provider-curated playlists in the
// harvest pool.
func WithoutEditorialExclusion() HarvesterOption {
	return func(h *Harvester) {
		h.excludeEditorial = false
	}
}

// NewHarvester builds a harvester. floorFor maps a normalized genre to
// its minimum candidate popularity.
func NewHarvester(catalog Catalog, market string, requireLatin bool, floorFor func(genre string) int, log zerolog.Logger, opts ...HarvesterOption) *Harvester {
	h := &Harvester{
		catalog:          catalog,
		market:           market,
		requireLatin:     requireLatin,
		excludeEditorial: true,
		floorFor:         floorFor,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
		log:              log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest runs the playlist and search sub-harvests concurrently and
// returns the filtered, deduplicated union in deterministic order:
// playlist results first, then search results. A failing upstream call
// is logged and skipped; only the surviving calls contribute.
func (h *Harvester) Harvest(ctx context.Context, intent Intent, seedIDs map[string]struct{}, trace *Trace) []Track {
	genre := NormalizeGenre(intent.Genre)

	// Randomized inputs are drawn up front; the sub-harvests then run
	// without shared state.
	playlistQueries := h.rotatedPlaylistQueries(genre)
	searches := h.searchPlans(genre, intent.Mood)

	var (
		wg             sync.WaitGroup
		playlistTracks []Track
		searchTracks   []Track
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		playlistTracks = h.harvestPlaylists(ctx, playlistQueries, trace)
	}()
	go func() {
		defer wg.Done()
		searchTracks = h.harvestSearches(ctx, searches, trace)
	}()
	wg.Wait()

	raw := append(playlistTracks, searchTracks...)
	h.enrichGenres(ctx, raw)

	variants := GenreVariants(genre)
	floor := 0
	if h.floorFor != nil {
		floor = h.floorFor(genre)
	}

	seen := make(dedupSet, len(raw))
	var out []Track
	for _, t := range raw {
		if len(out) >= maxCandidates {
			break
		}
		if t.ID == "" || t.Title == "" {
			continue
		}
		if _, isSeed := seedIDs[t.ID]; isSeed {
			continue
		}
		if seen.has(t) {
			continue
		}
		if h.market != "" && !t.AvailableIn(h.market) {
			continue
		}
		if h.requireLatin && !IsMostlyLatin(t.Title) {
			continue
		}
		if t.Popularity < floor {
			continue
		}
		// Unverifiable genres pass; verified mismatches are dropped.
		if len(t.Genres) > 0 && !GenreMatches(genre, variants, t.Genres) {
			continue
		}
		seen.add(t)
		out = append(out, t)
	}

	trace.Stepf("harvest: %d raw tracks, %d candidates after filters", len(raw), len(out))
	return out
}

type searchPlan struct {
	query  string
	offset int
}

func (h *Harvester) rotatedPlaylistQueries(genre string) []string {
	spaced := strings.ReplaceAll(genre, "-", " ")
	if spaced == "" {
		spaced = "pop"
	}
	start := h.rand.Intn(len(harvestPlaylistTemplates))
	queries := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		template := harvestPlaylistTemplates[(start+i)%len(harvestPlaylistTemplates)]
		queries = append(queries, fmt.Sprintf(template, spaced))
	}
	return queries
}

func (h *Harvester) searchPlans(genre, mood string) []searchPlan {
	spaced := strings.ReplaceAll(genre, "-", " ")
	if spaced == "" {
		spaced = "pop"
	}
	currentYear := time.Now().Year()
	plans := []searchPlan{
		{
			query:  fmt.Sprintf("genre:%q year:%d-%d", spaced, currentYear-10, currentYear),
			offset: h.rand.Intn(100 - searchPageSize + 1),
		},
	}
	if mood = strings.TrimSpace(mood); mood != "" {
		plans = append(plans, searchPlan{
			query:  fmt.Sprintf("%q %s", mood, spaced),
			offset: h.rand.Intn(100 - searchPageSize + 1),
		})
	}
	return plans
}

func (h *Harvester) harvestPlaylists(ctx context.Context, queries []string, trace *Trace) []Track {
	var out []Track
	for _, query := range queries {
		playlists, err := h.catalog.SearchPlaylists(ctx, query, harvestPlaylistLimit)
		if err != nil {
			trace.Stepf("harvest: playlist search %q failed: %v", query, err)
			continue
		}
		for _, ref := range playlists {
			if h.excludeEditorial && strings.EqualFold(ref.OwnerID, "spotify") {
				continue
			}
			tracks, err := h.catalog.PlaylistTracks(ctx, ref.ID, h.market, harvestPageSize)
			if err != nil {
				trace.Stepf("harvest: playlist %q fetch failed: %v", ref.Name, err)
				continue
			}
			out = append(out, tracks...)
		}
	}
	return out
}

func (h *Harvester) harvestSearches(ctx context.Context, plans []searchPlan, trace *Trace) []Track {
	var out []Track
	for _, plan := range plans {
		tracks, err := h.catalog.SearchTracks(ctx, plan.query, h.market, searchPageSize, plan.offset)
		if err != nil {
			trace.Stepf("harvest: search %q failed: %v", plan.query, err)
			continue
		}
		out = append(out, tracks...)
	}
	return out
}

// enrichGenres fills missing track genre tags from artist metadata in
// one batched lookup. A failed lookup leaves the tags empty, which the
// genre filter treats as unverifiable rather than mismatched.
func (h *Harvester) enrichGenres(ctx context.Context, tracks []Track) {
	var missing []string
	seen := make(map[string]struct{})
	for i := range tracks {
		if len(tracks[i].Genres) > 0 {
			continue
		}
		for _, id := range tracks[i].ArtistIDs() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}

	records, err := h.catalog.Artists(ctx, missing)
	if err != nil {
		h.log.Warn().Err(err).Int("artists", len(missing)).Msg("candidate genre enrichment failed")
		if len(records) == 0 {
			return
		}
	}
	genresByArtist := make(map[string][]string, len(records))
	for _, rec := range records {
		genresByArtist[rec.ID] = rec.Genres
	}

	for i := range tracks {
		if len(tracks[i].Genres) > 0 {
			continue
		}
		var genres []string
		tagSeen := make(map[string]struct{})
		for _, id := range tracks[i].ArtistIDs() {
			for _, g := range genresByArtist[id] {
				if _, dup := tagSeen[g]; dup {
					continue
				}
				tagSeen[g] = struct{}{}
				genres = append(genres, g)
			}
		}
		tracks[i].Genres = genres
	}
}
