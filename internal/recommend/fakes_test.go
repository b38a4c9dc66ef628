package recommend

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeCatalog is a configurable in-memory Catalog. Zero-value fields
// return empty results; error fields force failures per call family.
type fakeCatalog struct {
	mu sync.Mutex

	topTracks    []Track
	topErr       error
	recent       []Track
	recentErr    error
	artists      map[string]ArtistRecord
	artistsErr   error
	artistTop    map[string][]Track
	artistTopErr error

	searchTracks   map[string][]Track // keyed by query
	searchErr      error
	searchArtists  map[string][]ArtistRecord
	playlists      map[string][]PlaylistRef
	playlistsErr   error
	playlistTracks map[string][]Track

	calls []string
}

func (f *fakeCatalog) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeCatalog) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeCatalog) SearchTracks(_ context.Context, query, _ string, limit, offset int) ([]Track, error) {
	f.record("search_tracks:%s:%d:%d", query, limit, offset)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	// Offsets are recorded but not applied; fixtures hold one page.
	tracks := f.searchTracks[query]
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

func (f *fakeCatalog) SearchArtist(_ context.Context, name string) ([]ArtistRecord, error) {
	f.record("search_artist:%s", name)
	return f.searchArtists[name], nil
}

func (f *fakeCatalog) SearchPlaylists(_ context.Context, query string, limit int) ([]PlaylistRef, error) {
	f.record("search_playlists:%s", query)
	if f.playlistsErr != nil {
		return nil, f.playlistsErr
	}
	refs := f.playlists[query]
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (f *fakeCatalog) PlaylistTracks(_ context.Context, playlistID, _ string, limit int) ([]Track, error) {
	f.record("playlist_tracks:%s", playlistID)
	tracks := f.playlistTracks[playlistID]
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

func (f *fakeCatalog) ArtistTopTracks(_ context.Context, artistID, _ string) ([]Track, error) {
	f.record("artist_top:%s", artistID)
	if f.artistTopErr != nil {
		return nil, f.artistTopErr
	}
	return f.artistTop[artistID], nil
}

func (f *fakeCatalog) Artists(_ context.Context, ids []string) ([]ArtistRecord, error) {
	f.record("artists:%d", len(ids))
	if f.artistsErr != nil {
		return nil, f.artistsErr
	}
	var out []ArtistRecord
	for _, id := range ids {
		if rec, ok := f.artists[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeCatalog) UserTopTracks(_ context.Context, limit int) ([]Track, error) {
	f.record("user_top:%d", limit)
	if f.topErr != nil {
		return nil, f.topErr
	}
	tracks := f.topTracks
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

func (f *fakeCatalog) RecentlyPlayed(_ context.Context, limit int) ([]Track, error) {
	f.record("recent:%d", limit)
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	tracks := f.recent
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

var _ Catalog = (*fakeCatalog)(nil)

// fakeOracle returns canned intents and suggestions.
type fakeOracle struct {
	intent      Intent
	intentErr   error
	suggestions []Suggestion
	suggestErr  error
	remix       []Suggestion
	remixErr    error
}

func (f *fakeOracle) ExtractAttributes(context.Context, string) (Intent, error) {
	if f.intentErr != nil {
		return Intent{Mood: "chill", Genre: "pop", Energy: "medium"}, nil
	}
	return f.intent, nil
}

func (f *fakeOracle) SuggestSeeds(context.Context, string, Intent) ([]Suggestion, error) {
	if f.suggestErr != nil {
		return nil, f.suggestErr
	}
	return f.suggestions, nil
}

func (f *fakeOracle) SuggestRemix(context.Context, string, Intent, []string, int) ([]Suggestion, error) {
	if f.remixErr != nil {
		return nil, f.remixErr
	}
	return f.remix, nil
}

var _ Oracle = (*fakeOracle)(nil)

func intPtr(v int) *int { return &v }

func mkTrack(id, title string, artists []ArtistRef, year, popularity int) Track {
	return Track{
		ID:          id,
		Title:       title,
		Artists:     artists,
		ReleaseYear: intPtr(year),
		Popularity:  popularity,
	}
}
