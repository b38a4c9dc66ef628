// Package catalog wraps the Spotify Web API behind the pipeline's
// Catalog interface.
package catalog

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

const (
	// maxArtistsPerRequest is the API's batch limit for artist lookups.
	maxArtistsPerRequest = 50

	// maxTracksPerRequest is the API's batch limit for playlist writes.
	maxTracksPerRequest = 100

	// maxPlaylistNameLength is the API's playlist name limit.
	maxPlaylistNameLength = 100
)

// Client wraps the Spotify API client with the calls the pipeline
// needs. The underlying client should already be authenticated.
type Client struct {
	api *spotify.Client
}

// New creates a new catalog client.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

var _ recommend.Catalog = (*Client)(nil)

// UserID returns the current user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	return user.ID, nil
}

// SearchTracks runs a track search at the given offset.
func (c *Client) SearchTracks(ctx context.Context, query, market string, limit, offset int) ([]recommend.Track, error) {
	opts := []spotify.RequestOption{spotify.Limit(limit), spotify.Offset(offset)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}
	result, err := c.api.Search(ctx, query, spotify.SearchTypeTrack, opts...)
	if err != nil {
		return nil, fmt.Errorf("searching tracks %q: %w", query, err)
	}
	if result.Tracks == nil {
		return nil, nil
	}
	return fromFullTracks(result.Tracks.Tracks), nil
}

// SearchArtist looks up artists by name, best match first.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]recommend.ArtistRecord, error) {
	result, err := c.api.Search(ctx, name, spotify.SearchTypeArtist, spotify.Limit(5))
	if err != nil {
		return nil, fmt.Errorf("searching artist %q: %w", name, err)
	}
	if result.Artists == nil {
		return nil, nil
	}
	records := make([]recommend.ArtistRecord, 0, len(result.Artists.Artists))
	for _, fa := range result.Artists.Artists {
		records = append(records, fromFullArtist(fa))
	}
	return records, nil
}

// SearchPlaylists finds public playlists matching the query.
func (c *Client) SearchPlaylists(ctx context.Context, query string, limit int) ([]recommend.PlaylistRef, error) {
	result, err := c.api.Search(ctx, query, spotify.SearchTypePlaylist, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("searching playlists %q: %w", query, err)
	}
	if result.Playlists == nil {
		return nil, nil
	}
	refs := make([]recommend.PlaylistRef, 0, len(result.Playlists.Playlists))
	for _, p := range result.Playlists.Playlists {
		if p.ID == "" {
			continue
		}
		refs = append(refs, recommend.PlaylistRef{
			ID:      p.ID.String(),
			Name:    p.Name,
			OwnerID: p.Owner.ID,
		})
	}
	return refs, nil
}

// PlaylistTracks fetches up to limit tracks from a playlist. Episodes
// and local files come back without a track and are skipped.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]recommend.Track, error) {
	opts := []spotify.RequestOption{spotify.Limit(limit)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), opts...)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist %s items: %w", playlistID, err)
	}
	tracks := make([]recommend.Track, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Track.Track == nil || item.Track.Track.ID == "" {
			continue
		}
		tracks = append(tracks, fromFullTrack(*item.Track.Track))
	}
	return tracks, nil
}

// ArtistTopTracks returns the artist's top tracks for the market.
func (c *Client) ArtistTopTracks(ctx context.Context, artistID, market string) ([]recommend.Track, error) {
	fts, err := c.api.GetArtistsTopTracks(ctx, spotify.ID(artistID), market)
	if err != nil {
		return nil, fmt.Errorf("fetching top tracks for artist %s: %w", artistID, err)
	}
	return fromFullTracks(fts), nil
}

// Artists fetches metadata for the given artist IDs, batching to the
// API's per-request limit.
func (c *Client) Artists(ctx context.Context, ids []string) ([]recommend.ArtistRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []recommend.ArtistRecord
	for _, batch := range chunkIDs(ids, maxArtistsPerRequest) {
		artists, err := c.api.GetArtists(ctx, batch...)
		if err != nil {
			return records, fmt.Errorf("fetching artist metadata: %w", err)
		}
		for _, fa := range artists {
			if fa == nil {
				continue
			}
			records = append(records, fromFullArtist(*fa))
		}
	}
	return records, nil
}

// UserTopTracks returns the user's medium-term top tracks.
func (c *Client) UserTopTracks(ctx context.Context, limit int) ([]recommend.Track, error) {
	page, err := c.api.CurrentUsersTopTracks(ctx, spotify.Limit(limit), spotify.Timerange(spotify.MediumTermRange))
	if err != nil {
		return nil, fmt.Errorf("fetching user top tracks: %w", err)
	}
	return fromFullTracks(page.Tracks), nil
}

// RecentlyPlayed returns the user's recent listening history.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]recommend.Track, error) {
	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)})
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}
	tracks := make([]recommend.Track, 0, len(items))
	for _, item := range items {
		if item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, fromSimpleTrack(item.Track))
	}
	return tracks, nil
}

// CreatePlaylist creates a playlist for the current user and fills it
// with the given tracks, batching writes to the API limit. Returns the
// playlist ID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string, public bool, trackIDs []string) (string, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}

	name = truncateName(name)
	playlist, err := c.api.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	if err != nil {
		return "", fmt.Errorf("creating playlist: %w", err)
	}

	ids := make([]spotify.ID, 0, len(trackIDs))
	for _, id := range trackIDs {
		if id != "" {
			ids = append(ids, spotify.ID(id))
		}
	}
	for start := 0; start < len(ids); start += maxTracksPerRequest {
		end := min(start+maxTracksPerRequest, len(ids))
		if _, err := c.api.AddTracksToPlaylist(ctx, playlist.ID, ids[start:end]...); err != nil {
			return playlist.ID.String(), fmt.Errorf("adding tracks (batch %d-%d): %w", start+1, end, err)
		}
	}

	return playlist.ID.String(), nil
}

// chunkIDs splits ids into batches of at most size.
func chunkIDs(ids []string, size int) [][]spotify.ID {
	var chunks [][]spotify.ID
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := make([]spotify.ID, 0, end-start)
		for _, id := range ids[start:end] {
			if id != "" {
				batch = append(batch, spotify.ID(id))
			}
		}
		if len(batch) > 0 {
			chunks = append(chunks, batch)
		}
	}
	return chunks
}

// truncateName trims a playlist name to the API limit, cutting on a
// rune boundary.
func truncateName(name string) string {
	if len(name) <= maxPlaylistNameLength {
		return name
	}
	runes := []rune(name)
	if len(runes) > maxPlaylistNameLength {
		runes = runes[:maxPlaylistNameLength]
	}
	for len(string(runes)) > maxPlaylistNameLength {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
