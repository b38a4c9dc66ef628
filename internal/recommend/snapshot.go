package recommend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
)

const (
	// snapshotTrackLimit caps how many listening-history tracks feed the
	// snapshot.
	snapshotTrackLimit = 50

	// snapshotTrackFloor is the minimum top-track count before the
	// recently-played fallback is merged in.
	snapshotTrackFloor = 5

	// artistBatchSize is the catalog's per-call artist lookup limit.
	artistBatchSize = 50

	// perGenreTrackLimit bounds how many track IDs a genre bucket keeps.
	perGenreTrackLimit = 12
)

// SnapshotBuilder builds and caches per-user affinity snapshots.
type SnapshotBuilder struct {
	catalog Catalog
	store   cache.Store
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// SnapshotOption configures a SnapshotBuilder.
type SnapshotOption func(*SnapshotBuilder)

// WithSnapshotClock overrides the builder's time source, for tests.
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(b *SnapshotBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewSnapshotBuilder creates a builder that caches snapshots in store
// for ttl.
func NewSnapshotBuilder(catalog Catalog, store cache.Store, ttl time.Duration, log zerolog.Logger, opts ...SnapshotOption) *SnapshotBuilder {
	b := &SnapshotBuilder{
		catalog: catalog,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func snapshotCacheKey(userKey string) string {
	return "recommender:user-profile:" + userKey
}

// Build returns the cached snapshot for the user, or builds, caches,
// and returns a fresh one. Expired entries are rebuilt wholesale; a new
// snapshot always replaces the old value, never merges with it.
func (b *SnapshotBuilder) Build(ctx context.Context, userKey string) (*AffinitySnapshot, error) {
	key := snapshotCacheKey(userKey)
	if cached, ok := b.store.Get(key); ok {
		if snapshot, ok := cached.(*AffinitySnapshot); ok {
			return snapshot, nil
		}
	}

	snapshot, err := b.buildFresh(ctx)
	if err != nil {
		return nil, err
	}

	b.store.Set(key, snapshot, b.ttl)
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next Build starts fresh.
func (b *SnapshotBuilder) Invalidate(userKey string) {
	b.store.Delete(snapshotCacheKey(userKey))
}

// buildFresh assembles a snapshot from the catalog's listening history.
func (b *SnapshotBuilder) buildFresh(ctx context.Context) (*AffinitySnapshot, error) {
	source := "top_tracks"
	tracks, topErr := b.catalog.UserTopTracks(ctx, snapshotTrackLimit)
	if topErr != nil {
		b.log.Warn().Err(topErr).Msg("top tracks call failed")
		tracks = nil
	}

	var recentErr error
	if len(tracks) < snapshotTrackFloor {
		recent, err := b.catalog.RecentlyPlayed(ctx, snapshotTrackLimit)
		recentErr = err
		if err != nil {
			b.log.Warn().Err(err).Msg("recently played call failed")
		} else if len(recent) > 0 {
			if len(tracks) == 0 {
				source = "recently_played"
			}
			tracks = mergeUnique(tracks, recent, snapshotTrackLimit)
		}
	}

	if len(tracks) == 0 {
		if topErr != nil && recentErr != nil {
			return nil, fmt.Errorf("%w: top tracks: %v; recently played: %v", ErrUpstreamUnavailable, topErr, recentErr)
		}
		// Empty history is not an error; the pipeline runs without
		// personalization signals.
		return b.emptySnapshot(source), nil
	}

	snapshot := &AffinitySnapshot{
		Source:        source,
		Tracks:        make(map[string]Track, len(tracks)),
		GenreBuckets:  make(map[string]GenreBucket),
		Artists:       make(map[string]ArtistInfo),
		ArtistCounts:  make(map[string]int),
		ArtistNameMap: make(map[string]string),
		CreatedAt:     b.now(),
	}

	var artistOrder []string
	seenArtists := make(map[string]struct{})
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if _, dup := snapshot.Tracks[t.ID]; dup {
			continue
		}
		snapshot.Tracks[t.ID] = t
		for _, id := range t.ArtistIDs() {
			snapshot.ArtistCounts[id]++
			if _, seen := seenArtists[id]; !seen {
				seenArtists[id] = struct{}{}
				artistOrder = append(artistOrder, id)
			}
		}
	}
	snapshot.SampleSize = len(snapshot.Tracks)

	artistGenres := b.resolveArtists(ctx, artistOrder, snapshot)
	b.bucketByGenre(snapshot, tracks, artistGenres)

	// Rank tracks by popularity then recency for the top list.
	ranked := make([]Track, 0, len(snapshot.Tracks))
	for _, t := range snapshot.Tracks {
		ranked = append(ranked, t)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Popularity != ranked[j].Popularity {
			return ranked[i].Popularity > ranked[j].Popularity
		}
		return yearOf(ranked[i]) > yearOf(ranked[j])
	})
	for _, t := range ranked {
		snapshot.TopTrackIDs = append(snapshot.TopTrackIDs, t.ID)
	}

	return snapshot, nil
}

func (b *SnapshotBuilder) emptySnapshot(source string) *AffinitySnapshot {
	return &AffinitySnapshot{
		Source:        source,
		Tracks:        map[string]Track{},
		GenreBuckets:  map[string]GenreBucket{},
		Artists:       map[string]ArtistInfo{},
		ArtistCounts:  map[string]int{},
		ArtistNameMap: map[string]string{},
		CreatedAt:     b.now(),
	}
}

// resolveArtists fetches artist metadata in bounded concurrent batches
// and fills the snapshot's artist tables. Failed batches are skipped;
// the union of whatever succeeded is used.
func (b *SnapshotBuilder) resolveArtists(ctx context.Context, ids []string, snapshot *AffinitySnapshot) map[string][]string {
	genres := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return genres
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for start := 0; start < len(ids); start += artistBatchSize {
		end := min(start+artistBatchSize, len(ids))
		batch := ids[start:end]

		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := b.catalog.Artists(ctx, batch)
			if err != nil {
				b.log.Warn().Err(err).Int("batch", len(batch)).Msg("artist metadata batch failed")
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, rec := range records {
				if rec.ID == "" {
					continue
				}
				genres[rec.ID] = rec.Genres
				snapshot.Artists[rec.ID] = ArtistInfo{
					ID:        rec.ID,
					Name:      rec.Name,
					Genres:    rec.Genres,
					PlayCount: snapshot.ArtistCounts[rec.ID],
				}
				if key := NormalizeArtistKey(rec.Name); key != "" {
					snapshot.ArtistNameMap[key] = rec.ID
				}
			}
		}()
	}
	wg.Wait()

	return genres
}

// bucketByGenre aggregates per-genre counts and running averages over
// the snapshot's tracks.
func (b *SnapshotBuilder) bucketByGenre(snapshot *AffinitySnapshot, tracks []Track, artistGenres map[string][]string) {
	type accum struct {
		trackIDs   []string
		artistIDs  []string
		popTotal   int
		yearTotal  int
		yearCount  int
		trackCount int
	}
	buckets := make(map[string]*accum)

	for _, t := range tracks {
		if _, ok := snapshot.Tracks[t.ID]; !ok {
			continue
		}
		genreSet := make(map[string]struct{})
		for _, artistID := range t.ArtistIDs() {
			for _, g := range artistGenres[artistID] {
				if g != "" {
					genreSet[g] = struct{}{}
				}
			}
		}
		for genre := range genreSet {
			bucket := buckets[genre]
			if bucket == nil {
				bucket = &accum{}
				buckets[genre] = bucket
			}
			bucket.trackCount++
			if len(bucket.trackIDs) < perGenreTrackLimit {
				bucket.trackIDs = append(bucket.trackIDs, t.ID)
			}
			bucket.artistIDs = append(bucket.artistIDs, t.ArtistIDs()...)
			bucket.popTotal += t.Popularity
			if t.ReleaseYear != nil {
				bucket.yearTotal += *t.ReleaseYear
				bucket.yearCount++
			}
		}
	}

	for genre, bucket := range buckets {
		gb := GenreBucket{
			TrackIDs:      bucket.trackIDs,
			ArtistIDs:     uniqueStrings(bucket.artistIDs, perGenreTrackLimit*2),
			TrackCount:    bucket.trackCount,
			AvgPopularity: float64(bucket.popTotal) / float64(max(bucket.trackCount, 1)),
		}
		if bucket.yearCount > 0 {
			avg := float64(bucket.yearTotal) / float64(bucket.yearCount)
			gb.AvgYear = &avg
		}
		snapshot.GenreBuckets[genre] = gb
	}
}

// mergeUnique appends extras to base, skipping duplicate IDs, up to
// limit entries.
func mergeUnique(base, extra []Track, limit int) []Track {
	seen := make(map[string]struct{}, len(base))
	out := make([]Track, 0, limit)
	for _, t := range base {
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
		if len(out) >= limit {
			return out
		}
	}
	for _, t := range extra {
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func uniqueStrings(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func yearOf(t Track) int {
	if t.ReleaseYear == nil {
		return 0
	}
	return *t.ReleaseYear
}
