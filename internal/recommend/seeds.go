package recommend

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxGenreCacheSeeds bounds how many snapshot tracks stage 2 injects.
	maxGenreCacheSeeds = 5

	// maxOracleSeeds bounds the title/artist pairs resolved in stage 3.
	maxOracleSeeds = 5

	// discoveryPlaylistLimit is how many playlists one discovery query
	// inspects.
	discoveryPlaylistLimit = 5

	// discoveryPageSize is the page size for discovery track pulls.
	discoveryPageSize = 20
)

// discoveryQueryTemplates rotate across requests so fallback discovery
// does not surface the same playlists every time.
var discoveryQueryTemplates = []string{
	"%s hits",
	"top %s",
	"best of %s",
	"%s mix",
}

// SeedAssembler merges the four prioritized seed sources into an
// ordered, deduplicated seed list.
type SeedAssembler struct {
	catalog          Catalog
	oracle           Oracle
	market           string
	floor            int
	requireLatin     bool
	excludeEditorial bool
	rand             *rand.Rand
	log              zerolog.Logger
}

// SeedAssemblerOption configures a SeedAssembler.
type SeedAssemblerOption func(*SeedAssembler)

// WithSeedRand overrides the randomness source used for discovery
// rotation and offsets, for tests.
func WithSeedRand(r *rand.Rand) SeedAssemblerOption {
	return func(a *SeedAssembler) {
		if r != nil {
			a.rand = r
		}
	}
}

// WithoutEditorialFilter keeps provider-curated playlists in the
// discovery pool.
func WithoutEditorialFilter() SeedAssemblerOption {
	return func(a *SeedAssembler) {
		a.excludeEditorial = false
	}
}

// NewSeedAssembler builds an assembler for the given market, seed floor
// and Latin-title requirement.
func NewSeedAssembler(catalog Catalog, oracle Oracle, market string, floor int, requireLatin bool, log zerolog.Logger, opts ...SeedAssemblerOption) *SeedAssembler {
	a := &SeedAssembler{
		catalog:          catalog,
		oracle:           oracle,
		market:           market,
		floor:            floor,
		requireLatin:     requireLatin,
		excludeEditorial: true,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
		log:              log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SeedResult is the assembler output: the ordered seed list plus the
// focus-artist identities resolved from the intent, which the scorer
// uses for the focus-artist bonus.
type SeedResult struct {
	Seeds           []SeededTrack
	FocusArtistIDs  []string
	FocusArtistKeys []string
}

// seedAccumulator is the shared accumulate-with-dedup-and-floor driver
// behind every stage.
type seedAccumulator struct {
	seeds []SeededTrack
	seen  map[string]struct{}
	floor int
}

func newSeedAccumulator(floor int) *seedAccumulator {
	return &seedAccumulator{
		seen:  make(map[string]struct{}),
		floor: floor,
	}
}

func (acc *seedAccumulator) full() bool {
	return len(acc.seeds) >= acc.floor
}

// add accepts the track unless the floor is reached or it duplicates an
// accepted track by identifier or title+artist key.
func (acc *seedAccumulator) add(t Track, source SeedSource) bool {
	if acc.full() || t.Title == "" {
		return false
	}
	idKey := t.ID
	pairKey := TitleArtistKey(t.Title, t.PrimaryArtist())
	if idKey != "" {
		if _, dup := acc.seen[idKey]; dup {
			return false
		}
	}
	if _, dup := acc.seen[pairKey]; dup {
		return false
	}
	if idKey != "" {
		acc.seen[idKey] = struct{}{}
	}
	acc.seen[pairKey] = struct{}{}
	acc.seeds = append(acc.seeds, SeededTrack{
		Track:      t,
		SeedSource: source,
		Rank:       len(acc.seeds),
	})
	return true
}

// Assemble runs the four seed stages in priority order. Each stage only
// adds while the running count is below the seed floor.
func (a *SeedAssembler) Assemble(ctx context.Context, prompt string, intent Intent, snapshot *AffinitySnapshot, trace *Trace) SeedResult {
	acc := newSeedAccumulator(a.floor)
	result := SeedResult{}

	a.stageArtistTopTracks(ctx, intent, snapshot, acc, &result, trace)
	a.stageUserGenreCache(intent, snapshot, acc, trace)
	a.stageOracleSeeds(ctx, prompt, intent, acc, trace)
	a.stageGenreDiscovery(ctx, intent, acc, trace)

	result.Seeds = acc.seeds
	return result
}

// stageArtistTopTracks resolves explicitly requested artists and
// injects their tracks, preferring the user's own play history over a
// catalog lookup.
func (a *SeedAssembler) stageArtistTopTracks(ctx context.Context, intent Intent, snapshot *AffinitySnapshot, acc *seedAccumulator, result *SeedResult, trace *Trace) {
	hints := intent.Artists
	if len(hints) == 0 && intent.Artist != "" {
		hints = []string{intent.Artist}
	}
	if len(hints) == 0 {
		return
	}

	for _, hint := range hints {
		if acc.full() {
			return
		}
		hint = strings.TrimSpace(hint)
		if hint == "" {
			continue
		}
		if key := NormalizeArtistKey(hint); key != "" {
			result.FocusArtistKeys = append(result.FocusArtistKeys, key)
		}

		artistID := snapshot.ResolveArtist(hint)
		if artistID != "" {
			if cached := snapshot.TracksForArtist(artistID, 0); len(cached) > 0 {
				result.FocusArtistIDs = append(result.FocusArtistIDs, artistID)
				accepted := 0
				for _, t := range cached {
					if acc.add(t, SourceArtistTopTracks) {
						accepted++
					}
				}
				trace.Stepf("seed stage artist_top_tracks: injected %d cached tracks for %q", accepted, hint)
				continue
			}
		}

		if artistID == "" {
			records, err := a.catalog.SearchArtist(ctx, hint)
			if err != nil {
				trace.Stepf("seed stage artist_top_tracks: artist search for %q failed: %v", hint, err)
				continue
			}
			if len(records) == 0 {
				trace.Stepf("seed stage artist_top_tracks: no catalog match for %q", hint)
				continue
			}
			artistID = records[0].ID
		}
		result.FocusArtistIDs = append(result.FocusArtistIDs, artistID)

		top, err := a.catalog.ArtistTopTracks(ctx, artistID, a.market)
		if err != nil {
			trace.Stepf("seed stage artist_top_tracks: top tracks for %q failed: %v", hint, err)
			continue
		}
		accepted := 0
		for _, t := range top {
			if a.passesSeedFilters(t) && acc.add(t, SourceArtistTopTracks) {
				accepted++
			}
		}
		trace.Stepf("seed stage artist_top_tracks: accepted %d catalog tracks for %q", accepted, hint)
	}
}

// stageUserGenreCache pulls a bounded number of snapshot tracks from
// the intent genre's bucket.
func (a *SeedAssembler) stageUserGenreCache(intent Intent, snapshot *AffinitySnapshot, acc *seedAccumulator, trace *Trace) {
	if acc.full() {
		return
	}
	genre := NormalizeGenre(intent.Genre)
	if genre == "" {
		return
	}
	cached := snapshot.TracksForGenre(genre, maxGenreCacheSeeds)
	accepted := 0
	for _, t := range cached {
		if acc.add(t, SourceUserGenreCache) {
			accepted++
		}
	}
	if accepted > 0 {
		trace.Stepf("seed stage user_genre_cache: accepted %d tracks from %q bucket", accepted, genre)
	}
}

// stageOracleSeeds resolves the oracle's title/artist suggestions
// through the catalog. Unresolved suggestions are dropped silently.
func (a *SeedAssembler) stageOracleSeeds(ctx context.Context, prompt string, intent Intent, acc *seedAccumulator, trace *Trace) {
	if acc.full() {
		return
	}
	suggestions, err := a.oracle.SuggestSeeds(ctx, prompt, intent)
	if err != nil {
		trace.Stepf("seed stage llm_seed: suggestion call failed: %v", err)
		return
	}
	if len(suggestions) > maxOracleSeeds {
		suggestions = suggestions[:maxOracleSeeds]
	}
	accepted := 0
	for _, s := range suggestions {
		if acc.full() {
			break
		}
		track, ok := a.ResolveSuggestion(ctx, s)
		if !ok {
			continue
		}
		if acc.add(track, SourceLLMSeed) {
			accepted++
		}
	}
	trace.Stepf("seed stage llm_seed: resolved %d of %d suggestions", accepted, len(suggestions))
}

// stageGenreDiscovery backfills mainstream anchors from rotating
// curated-playlist queries and randomized genre searches.
func (a *SeedAssembler) stageGenreDiscovery(ctx context.Context, intent Intent, acc *seedAccumulator, trace *Trace) {
	if acc.full() {
		return
	}
	genre := NormalizeGenre(intent.Genre)
	if genre == "" {
		genre = "pop"
	}
	spaced := strings.ReplaceAll(genre, "-", " ")

	before := len(acc.seeds)
	queries := a.rotatedQueries(spaced)
	for _, query := range queries {
		if acc.full() {
			break
		}
		a.discoverFromPlaylists(ctx, query, acc, trace)
	}

	if !acc.full() {
		offset := a.rand.Intn(81)
		tracks, err := a.catalog.SearchTracks(ctx, fmt.Sprintf("genre:%q", spaced), a.market, discoveryPageSize, offset)
		if err != nil {
			trace.Stepf("seed stage genre_discovery: genre search failed: %v", err)
		} else {
			for _, t := range tracks {
				if a.passesSeedFilters(t) {
					acc.add(t, SourceGenreDiscovery)
				}
			}
		}
	}

	trace.Stepf("seed stage genre_discovery: accepted %d fallback tracks for %q", len(acc.seeds)-before, spaced)
}

// rotatedQueries renders the discovery templates starting from a random
// position so repeated requests scan different playlists first.
func (a *SeedAssembler) rotatedQueries(genre string) []string {
	start := a.rand.Intn(len(discoveryQueryTemplates))
	queries := make([]string, 0, len(discoveryQueryTemplates))
	for i := range discoveryQueryTemplates {
		template := discoveryQueryTemplates[(start+i)%len(discoveryQueryTemplates)]
		queries = append(queries, fmt.Sprintf(template, genre))
	}
	return queries
}

func (a *SeedAssembler) discoverFromPlaylists(ctx context.Context, query string, acc *seedAccumulator, trace *Trace) {
	playlists, err := a.catalog.SearchPlaylists(ctx, query, discoveryPlaylistLimit)
	if err != nil {
		trace.Stepf("seed stage genre_discovery: playlist search %q failed: %v", query, err)
		return
	}
	for _, ref := range playlists {
		if acc.full() {
			return
		}
		if a.excludeEditorial && strings.EqualFold(ref.OwnerID, "spotify") {
			continue
		}
		tracks, err := a.catalog.PlaylistTracks(ctx, ref.ID, a.market, discoveryPageSize)
		if err != nil {
			trace.Stepf("seed stage genre_discovery: playlist %q fetch failed: %v", ref.Name, err)
			continue
		}
		for _, t := range tracks {
			if a.passesSeedFilters(t) {
				acc.add(t, SourceGenreDiscovery)
			}
		}
	}
}

// passesSeedFilters applies market availability and the optional
// Latin-script title requirement.
func (a *SeedAssembler) passesSeedFilters(t Track) bool {
	if a.market != "" && !t.AvailableIn(a.market) {
		return false
	}
	if a.requireLatin && !IsMostlyLatin(t.Title) {
		return false
	}
	return true
}

// ResolveSuggestion searches the catalog for a title/artist pair and
// returns the first hit passing the seed filters. The resolver retries
// with the primary artist alone when a formatted credit (feat., &)
// finds nothing.
func (a *SeedAssembler) ResolveSuggestion(ctx context.Context, s Suggestion) (Track, bool) {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return Track{}, false
	}
	artist := strings.TrimSpace(s.Artist)

	queries := []string{strings.TrimSpace(title + " " + artist)}
	if primary := PrimaryArtistHint(artist); primary != "" && primary != artist {
		queries = append(queries, title+" "+primary)
	}

	for _, query := range queries {
		tracks, err := a.catalog.SearchTracks(ctx, query, a.market, 5, 0)
		if err != nil {
			a.log.Debug().Err(err).Str("query", query).Msg("suggestion search failed")
			continue
		}
		for _, t := range tracks {
			if !a.passesSeedFilters(t) {
				continue
			}
			if artist != "" && !suggestionArtistMatches(t, artist) {
				continue
			}
			return t, true
		}
	}
	return Track{}, false
}

// suggestionArtistMatches checks that the resolved track credits the
// suggested artist, loosely.
func suggestionArtistMatches(t Track, artist string) bool {
	want := NormalizeArtistKey(PrimaryArtistHint(artist))
	if want == "" {
		return true
	}
	for _, a := range t.Artists {
		got := NormalizeArtistKey(a.Name)
		if got == "" {
			continue
		}
		if got == want || strings.Contains(got, want) || strings.Contains(want, got) {
			return true
		}
	}
	return false
}
