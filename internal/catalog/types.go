package catalog

import (
	"strconv"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

// releaseYear parses the year out of an album release date, which the
// API reports as "2006", "2006-05" or "2006-05-12" depending on
// precision. Returns nil when no plausible year is present.
func releaseYear(releaseDate string) *int {
	if len(releaseDate) < 4 {
		return nil
	}
	year, err := strconv.Atoi(releaseDate[:4])
	if err != nil || year < 1800 || year > 2200 {
		return nil
	}
	return &year
}

func albumImageURL(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func artistRefs(artists []spotify.SimpleArtist) []recommend.ArtistRef {
	refs := make([]recommend.ArtistRef, 0, len(artists))
	for _, a := range artists {
		refs = append(refs, recommend.ArtistRef{
			ID:   a.ID.String(),
			Name: a.Name,
		})
	}
	return refs
}

// fromFullTrack converts an API track into the pipeline's track type.
func fromFullTrack(ft spotify.FullTrack) recommend.Track {
	return recommend.Track{
		ID:            ft.ID.String(),
		Title:         ft.Name,
		Artists:       artistRefs(ft.Artists),
		AlbumName:     ft.Album.Name,
		AlbumImageURL: albumImageURL(ft.Album.Images),
		DurationMS:    int(ft.Duration),
		ReleaseYear:   releaseYear(ft.Album.ReleaseDate),
		Popularity:    int(ft.Popularity),
		Markets:       ft.AvailableMarkets,
	}
}

func fromFullTracks(fts []spotify.FullTrack) []recommend.Track {
	tracks := make([]recommend.Track, 0, len(fts))
	for _, ft := range fts {
		if ft.ID == "" {
			continue
		}
		tracks = append(tracks, fromFullTrack(ft))
	}
	return tracks
}

// fromSimpleTrack converts a history item. Simple tracks carry no
// popularity; it stays zero.
func fromSimpleTrack(st spotify.SimpleTrack) recommend.Track {
	return recommend.Track{
		ID:          st.ID.String(),
		Title:       st.Name,
		Artists:     artistRefs(st.Artists),
		AlbumName:   st.Album.Name,
		ReleaseYear: releaseYear(st.Album.ReleaseDate),
		DurationMS:  int(st.Duration),
		Markets:     st.AvailableMarkets,
	}
}

// fromFullArtist converts artist metadata, normalizing genre labels so
// they line up with snapshot bucket keys.
func fromFullArtist(fa spotify.FullArtist) recommend.ArtistRecord {
	genres := make([]string, 0, len(fa.Genres))
	for _, g := range fa.Genres {
		if normalized := recommend.NormalizeGenre(g); normalized != "" {
			genres = append(genres, normalized)
		}
	}
	return recommend.ArtistRecord{
		ID:     fa.ID.String(),
		Name:   fa.Name,
		Genres: genres,
	}
}
