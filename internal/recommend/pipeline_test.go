package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
	"github.com/justestif/go-spotify-playlist-ai/internal/config"
)

type recordedStats struct {
	records []GenerationRecord
	err     error
}

func (r *recordedStats) RecordGeneration(_ context.Context, rec GenerationRecord) error {
	r.records = append(r.records, rec)
	return r.err
}

type pipelineFixture struct {
	pipeline *Pipeline
	catalog  *fakeCatalog
	oracle   *fakeOracle
	store    *cache.Memory
	stats    *recordedStats
}

func newPipelineFixture(catalog *fakeCatalog, oracle *fakeOracle, floor, limit int) *pipelineFixture {
	store := cache.NewMemory()
	stats := &recordedStats{}
	log := zerolog.Nop()
	r := rand.New(rand.NewSource(1))

	snapshots := NewSnapshotBuilder(catalog, store, time.Hour, log)
	assembler := NewSeedAssembler(catalog, oracle, "US", floor, false, log, WithSeedRand(r))
	harvester := NewHarvester(catalog, "US", false, flatFloor(0), log, WithHarvestRand(rand.New(rand.NewSource(2))))
	scorer := NewScorer(config.DefaultWeights())
	pipeline := NewPipeline(snapshots, assembler, harvester, scorer, oracle, store,
		15*time.Minute, floor, limit, log, WithStatsRecorder(stats))

	return &pipelineFixture{pipeline: pipeline, catalog: catalog, oracle: oracle, store: store, stats: stats}
}

// discoveryTracks registers 8 discovery tracks for the seed-stage
// playlist queries and 5 distinct candidates for the harvest search.
func emptyProfileCatalog() *fakeCatalog {
	catalog := &fakeCatalog{
		playlists:      map[string][]PlaylistRef{},
		playlistTracks: map[string][]Track{},
		searchTracks:   map[string][]Track{},
	}

	var discovery []Track
	for i := 0; i < 8; i++ {
		discovery = append(discovery, mkTrack(
			fmt.Sprintf("disc-%d", i), fmt.Sprintf("Discovery %d", i),
			[]ArtistRef{{ID: fmt.Sprintf("disc-art-%d", i), Name: fmt.Sprintf("Disc Artist %d", i)}},
			2018+i%5, 60))
	}
	catalog.playlistTracks["seed-pl"] = discovery
	for _, q := range []string{"pop hits", "top pop", "best of pop", "pop mix"} {
		catalog.playlists[q] = []PlaylistRef{{ID: "seed-pl", Name: "Pop Anchors", OwnerID: "curator"}}
	}

	var candidates []Track
	for i := 0; i < 5; i++ {
		candidates = append(candidates, mkTrack(
			fmt.Sprintf("cand-%d", i), fmt.Sprintf("Candidate %d", i),
			[]ArtistRef{{ID: fmt.Sprintf("cand-art-%d", i), Name: fmt.Sprintf("Cand Artist %d", i)}},
			2019+i, 50+i))
	}
	year := time.Now().Year()
	catalog.searchTracks[fmt.Sprintf("genre:%q year:%d-%d", "pop", year-10, year)] = candidates

	return catalog
}

func TestGenerateEmptySnapshotScenario(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Mood: "party", Genre: "pop", Energy: "high"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	payload, err := fx.pipeline.Generate(context.Background(), "user-1", "high energy pop")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(payload.Seeds) != 8 {
		t.Fatalf("seeds = %d, want min(8, floor) = 8", len(payload.Seeds))
	}
	for _, s := range payload.Seeds {
		if s.SeedSource != SourceGenreDiscovery {
			t.Errorf("seed source = %s, want genre_discovery", s.SeedSource)
		}
	}
	if len(payload.Candidates) != 3 {
		t.Errorf("candidates = %d, want min(limit=3, surviving=5) = 3", len(payload.Candidates))
	}
	if len(payload.Tracks) != len(payload.Seeds)+len(payload.Candidates) {
		t.Errorf("tracks = %d, want seeds+candidates = %d",
			len(payload.Tracks), len(payload.Seeds)+len(payload.Candidates))
	}
	if payload.SeedsOnly {
		t.Error("SeedsOnly should be false when candidates survive")
	}
	if payload.SuggestedName != "High Energy Pop" {
		t.Errorf("SuggestedName = %q", payload.SuggestedName)
	}
	if payload.SeedSources["genre_discovery"] != 8 {
		t.Errorf("SeedSources = %v", payload.SeedSources)
	}
	if len(payload.Trace) == 0 {
		t.Error("payload should carry the pipeline trace")
	}
}

func TestGenerateNoDuplicateIdentifiers(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 10)

	payload, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	seen := make(map[string]int)
	for _, track := range payload.Tracks {
		seen[track.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("track %s appears %d times", id, n)
		}
	}
}

func TestGenerateDedupsSameSongAcrossCatalogIDs(t *testing.T) {
	catalog := emptyProfileCatalog()
	// The harvest search returns the first discovery seed's song again,
	// under a different catalog ID.
	year := time.Now().Year()
	searchKey := fmt.Sprintf("genre:%q year:%d-%d", "pop", year-10, year)
	duplicate := mkTrack("cand-same", "Discovery 0",
		[]ArtistRef{{ID: "cand-art-same", Name: "Disc Artist 0"}}, 2020, 80)
	catalog.searchTracks[searchKey] = append([]Track{duplicate}, catalog.searchTracks[searchKey]...)

	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 10)

	payload, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	pairs := make(map[string]int)
	for _, track := range payload.Tracks {
		pairs[TitleArtistKey(track.Title, track.PrimaryArtist())]++
	}
	for key, n := range pairs {
		if n > 1 {
			t.Errorf("title+artist key %q appears %d times", key, n)
		}
	}
	for _, track := range payload.Tracks {
		if track.ID == "cand-same" {
			t.Error("candidate duplicating a seed's song must not reach the track list")
		}
	}
}

func TestGenerateCacheHitIdempotent(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	first, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	searchCalls := fx.catalog.callCount("search_tracks:")

	second, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if first != second {
		t.Error("second call should return the cached payload")
	}
	if got := fx.catalog.callCount("search_tracks:"); got != searchCalls {
		t.Errorf("cache hit still called upstream: %d -> %d", searchCalls, got)
	}

	// A different prompt misses the cache.
	third, err := fx.pipeline.Generate(context.Background(), "user-1", "another mix")
	if err != nil {
		t.Fatalf("third Generate: %v", err)
	}
	if third == first {
		t.Error("different prompt must not share a cache entry")
	}
}

func TestGenerateSeedsOnlyWhenHarvestEmpty(t *testing.T) {
	catalog := emptyProfileCatalog()
	year := time.Now().Year()
	catalog.searchTracks[fmt.Sprintf("genre:%q year:%d-%d", "pop", year-10, year)] = nil
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	payload, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !payload.SeedsOnly {
		t.Error("SeedsOnly should be set when no candidates survive")
	}
	if len(payload.Tracks) != len(payload.Seeds) {
		t.Errorf("tracks = %d, want seeds only (%d)", len(payload.Tracks), len(payload.Seeds))
	}
	if len(payload.Warnings) == 0 {
		t.Error("seeds-only payload should carry a warning")
	}
}

func TestGenerateRecordsStats(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	if _, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(fx.stats.records) != 1 {
		t.Fatalf("stats records = %d, want 1", len(fx.stats.records))
	}
	rec := fx.stats.records[0]
	if rec.UserKey != "user-1" || rec.Genre != "pop" || rec.Remix {
		t.Errorf("record = %+v", rec)
	}
	if rec.SeedCount != 8 || rec.TrackCount == 0 {
		t.Errorf("record counts = %+v", rec)
	}
}

func TestStatsFailureDoesNotFailGenerate(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)
	fx.stats.err = errors.New("database down")

	if _, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix"); err != nil {
		t.Fatalf("Generate should tolerate stats failure, got %v", err)
	}
}

func TestRemixReplacesPayload(t *testing.T) {
	catalog := emptyProfileCatalog()
	remixTrack := mkTrack("remix-1", "Fresh Pick", []ArtistRef{{ID: "fresh-art", Name: "Fresh Artist"}}, 2022, 65)
	catalog.searchTracks["Fresh Pick Fresh Artist"] = []Track{remixTrack}

	oracle := &fakeOracle{
		intent: Intent{Mood: "party", Genre: "pop", Energy: "high"},
		remix:  []Suggestion{{Title: "Fresh Pick", Artist: "Fresh Artist"}},
	}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	original, err := fx.pipeline.Generate(context.Background(), "user-1", "high energy pop")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	remixed, err := fx.pipeline.Remix(context.Background(), "user-1", "high energy pop")
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}

	if remixed == original {
		t.Fatal("remix must produce a new payload")
	}
	if len(remixed.Tracks) != len(original.Tracks) {
		t.Errorf("remix tracks = %d, want target %d", len(remixed.Tracks), len(original.Tracks))
	}
	if remixed.Tracks[0].ID != "remix-1" {
		t.Errorf("first remix track = %q, want the resolved suggestion", remixed.Tracks[0].ID)
	}

	// The cache entry is replaced wholesale.
	cached, ok := fx.store.Get(payloadCacheKey("user-1", "high energy pop"))
	if !ok || cached.(*PlaylistPayload) != remixed {
		t.Error("cache should hold the remixed payload")
	}
}

func TestRemixWithoutCachedPayloadGenerates(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	payload, err := fx.pipeline.Remix(context.Background(), "user-1", "never generated")
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	if len(payload.Seeds) == 0 {
		t.Error("remix without context should degrade to a fresh generation")
	}
}

func TestRemixFallsBackToExistingTracks(t *testing.T) {
	catalog := emptyProfileCatalog()
	oracle := &fakeOracle{intent: Intent{Genre: "pop"}}
	fx := newPipelineFixture(catalog, oracle, 8, 3)

	original, err := fx.pipeline.Generate(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Remix suggestions fail and the fresh harvest excludes everything
	// already present, so the payload keeps the original tracks.
	fx.oracle.remixErr = errors.New("oracle down")
	remixed, err := fx.pipeline.Remix(context.Background(), "user-1", "pop mix")
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	if len(remixed.Tracks) != len(original.Tracks) {
		t.Errorf("fallback remix tracks = %d, want %d", len(remixed.Tracks), len(original.Tracks))
	}
}
