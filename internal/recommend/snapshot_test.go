package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
)

func testSnapshotCatalog() *fakeCatalog {
	return &fakeCatalog{
		topTracks: []Track{
			mkTrack("t1", "Alpha", []ArtistRef{{ID: "a1", Name: "Indie Band"}}, 2020, 70),
			mkTrack("t2", "Beta", []ArtistRef{{ID: "a1", Name: "Indie Band"}}, 2021, 60),
			mkTrack("t3", "Gamma", []ArtistRef{{ID: "a2", Name: "Pop Star"}}, 2019, 90),
		},
		artists: map[string]ArtistRecord{
			"a1": {ID: "a1", Name: "Indie Band", Genres: []string{"indie-rock"}},
			"a2": {ID: "a2", Name: "Pop Star", Genres: []string{"pop"}},
		},
	}
}

func TestSnapshotBuildAggregates(t *testing.T) {
	catalog := testSnapshotCatalog()
	store := cache.NewMemory()
	builder := NewSnapshotBuilder(catalog, store, time.Hour, zerolog.Nop())

	snapshot, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if snapshot.Source != "top_tracks" {
		t.Errorf("Source = %q, want top_tracks", snapshot.Source)
	}
	if snapshot.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want 3", snapshot.SampleSize)
	}
	if got := snapshot.ArtistCounts["a1"]; got != 2 {
		t.Errorf("ArtistCounts[a1] = %d, want 2", got)
	}
	if got := snapshot.DominantGenre(); got != "indie-rock" {
		t.Errorf("DominantGenre = %q, want indie-rock", got)
	}
	bucket, ok := snapshot.GenreBuckets["pop"]
	if !ok {
		t.Fatal("missing pop bucket")
	}
	if bucket.TrackCount != 1 || bucket.AvgPopularity != 90 {
		t.Errorf("pop bucket = %+v", bucket)
	}
	if id := snapshot.ResolveArtist("indie band"); id != "a1" {
		t.Errorf("ResolveArtist = %q, want a1", id)
	}
	// Most popular track ranks first.
	if snapshot.TopTrackIDs[0] != "t3" {
		t.Errorf("TopTrackIDs[0] = %q, want t3", snapshot.TopTrackIDs[0])
	}
}

func TestSnapshotCacheHitSkipsUpstream(t *testing.T) {
	catalog := testSnapshotCatalog()
	store := cache.NewMemory()
	builder := NewSnapshotBuilder(catalog, store, time.Hour, zerolog.Nop())

	first, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if first != second {
		t.Error("second Build should return the cached snapshot")
	}
	if n := catalog.callCount("user_top"); n != 1 {
		t.Errorf("user_top called %d times, want 1", n)
	}
}

func TestSnapshotExpiryRebuildsWholesale(t *testing.T) {
	catalog := testSnapshotCatalog()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemory(cache.WithClock(func() time.Time { return now }))
	builder := NewSnapshotBuilder(catalog, store, time.Hour, zerolog.Nop())

	if _, err := builder.Build(context.Background(), "user-1"); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	now = now.Add(time.Hour + time.Minute)
	catalog.topTracks = catalog.topTracks[:1] // history changed upstream

	snapshot, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if snapshot.SampleSize != 1 {
		t.Errorf("SampleSize after rebuild = %d, want 1 (no merge with stale data)", snapshot.SampleSize)
	}
	if n := catalog.callCount("user_top"); n != 2 {
		t.Errorf("user_top called %d times, want 2", n)
	}
}

func TestSnapshotFallsBackToRecentlyPlayed(t *testing.T) {
	catalog := testSnapshotCatalog()
	catalog.topErr = errors.New("boom")
	catalog.recent = []Track{
		mkTrack("r1", "Recent One", []ArtistRef{{ID: "a2", Name: "Pop Star"}}, 2023, 55),
	}
	builder := NewSnapshotBuilder(catalog, cache.NewMemory(), time.Hour, zerolog.Nop())

	snapshot, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snapshot.Source != "recently_played" {
		t.Errorf("Source = %q, want recently_played", snapshot.Source)
	}
	if snapshot.SampleSize != 1 {
		t.Errorf("SampleSize = %d, want 1", snapshot.SampleSize)
	}
}

func TestSnapshotBothSourcesDown(t *testing.T) {
	catalog := testSnapshotCatalog()
	catalog.topErr = errors.New("top down")
	catalog.recentErr = errors.New("recent down")
	builder := NewSnapshotBuilder(catalog, cache.NewMemory(), time.Hour, zerolog.Nop())

	_, err := builder.Build(context.Background(), "user-1")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestSnapshotArtistBatchFailureDegrades(t *testing.T) {
	catalog := testSnapshotCatalog()
	catalog.artistsErr = errors.New("metadata down")
	builder := NewSnapshotBuilder(catalog, cache.NewMemory(), time.Hour, zerolog.Nop())

	snapshot, err := builder.Build(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snapshot.GenreBuckets) != 0 {
		t.Errorf("GenreBuckets = %v, want empty when metadata fails", snapshot.GenreBuckets)
	}
	if snapshot.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want 3 (tracks survive)", snapshot.SampleSize)
	}
}
