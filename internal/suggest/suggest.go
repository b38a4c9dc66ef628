// Package suggest builds dashboard prompt suggestions from listening
// signals: the affinity snapshot, generation stats, and era clusters.
package suggest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
	"github.com/justestif/go-spotify-playlist-ai/internal/stats"
)

// maxPrompts bounds the suggestion list shown on the dashboard.
const maxPrompts = 9

// Inputs are the optional signals suggestions are blended from. Any
// field may be nil or empty; with no signals at all Prompts returns an
// empty list so the UI can fall back gracefully.
type Inputs struct {
	Snapshot  *recommend.AffinitySnapshot
	Breakdown []stats.GenreCount
	Summary   *stats.Summary
}

// Prompts builds up to nine short-form playlist prompts from the
// available listening signals.
func Prompts(in Inputs) []string {
	genres := collectGenres(in)
	artists := topArtists(in.Snapshot, 4)
	hasHistory := in.Summary != nil && in.Summary.Total > 0
	if len(genres) == 0 && len(artists) == 0 && !hasHistory && in.Snapshot == nil {
		return nil
	}

	var prompts []string
	seen := make(map[string]struct{})
	add := func(prompt string) {
		if len(prompts) >= maxPrompts {
			return
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}
		key := strings.ToLower(prompt)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		prompts = append(prompts, prompt)
	}

	for i, genre := range genres {
		if i >= 3 {
			break
		}
		add(fmt.Sprintf("My go-to %s tracks lately", genre))
	}
	if len(genres) >= 2 {
		add(fmt.Sprintf("Blend %s and %s like my recent listening", genres[0], genres[1]))
	}
	if len(genres) >= 3 {
		add(fmt.Sprintf("Chill %s session inspired by my stats", genres[2]))
	}

	for i, artist := range artists {
		if i >= 3 {
			break
		}
		add(fmt.Sprintf("Something like %s with fresh finds", artist))
		add(fmt.Sprintf("Deep cuts inspired by %s", artist))
	}

	if len(genres) > 0 && len(artists) > 0 {
		add(fmt.Sprintf("%s vibes featuring %s influences", genres[0], artists[0]))
	}

	if in.Snapshot != nil {
		switch in.Snapshot.Source {
		case "recently_played":
			add("Replay my recent listens with new discoveries")
		case "top_tracks":
			add("High-energy mix from my top tracks")
		}

		if era := dominantEra(in.Snapshot); era != nil {
			add(fmt.Sprintf("Throwback to my %s favorites", era.Label()))
		}
	}

	return prompts
}

// collectGenres merges stats-breakdown genres with snapshot bucket
// genres, preserving order and dropping duplicates.
func collectGenres(in Inputs) []string {
	var labels []string
	for _, gc := range in.Breakdown {
		labels = append(labels, formatGenreLabel(gc.Genre))
	}
	labels = append(labels, snapshotGenres(in.Snapshot, 5)...)

	seen := make(map[string]struct{})
	var merged []string
	for _, label := range labels {
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, label)
	}
	return merged
}

// snapshotGenres ranks the snapshot's genre buckets by track volume.
func snapshotGenres(snapshot *recommend.AffinitySnapshot, limit int) []string {
	if snapshot == nil {
		return nil
	}
	type ranked struct {
		genre string
		count int
	}
	var entries []ranked
	for genre, bucket := range snapshot.GenreBuckets {
		entries = append(entries, ranked{genre: genre, count: bucket.TrackCount})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].genre < entries[j].genre
	})

	var labels []string
	for _, e := range entries {
		if label := formatGenreLabel(e.genre); label != "" {
			labels = append(labels, label)
		}
		if len(labels) >= limit {
			break
		}
	}
	return labels
}

// topArtists returns snapshot artist names ordered by play count.
func topArtists(snapshot *recommend.AffinitySnapshot, limit int) []string {
	if snapshot == nil {
		return nil
	}
	infos := make([]recommend.ArtistInfo, 0, len(snapshot.Artists))
	for _, info := range snapshot.Artists {
		if strings.TrimSpace(info.Name) != "" {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].PlayCount != infos[j].PlayCount {
			return infos[i].PlayCount > infos[j].PlayCount
		}
		return infos[i].Name < infos[j].Name
	})

	seen := make(map[string]struct{})
	var names []string
	for _, info := range infos {
		key := strings.ToLower(info.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, info.Name)
		if len(names) >= limit {
			break
		}
	}
	return names
}

// formatGenreLabel turns a stored genre key into a display label:
// "indie-rock" becomes "Indie Rock".
func formatGenreLabel(genre string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(genre, "-", " "))
	if cleaned == "" {
		return ""
	}
	words := strings.Fields(cleaned)
	for i, w := range words {
		runes := []rune(w)
		for j, r := range runes {
			if r >= 'a' && r <= 'z' {
				runes[j] = r - ('a' - 'A')
			}
			break
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// dominantEra clusters the snapshot's tracks and returns the largest
// era, or nil when there is not enough release-year data.
func dominantEra(snapshot *recommend.AffinitySnapshot) *EraHint {
	tracks := make([]recommend.Track, 0, len(snapshot.Tracks))
	for _, t := range snapshot.Tracks {
		tracks = append(tracks, t)
	}
	hints := DetectEras(tracks, 3)
	if len(hints) == 0 {
		return nil
	}
	best := hints[0]
	for _, h := range hints[1:] {
		if len(h.TrackIDs) > len(best.TrackIDs) {
			best = h
		}
	}
	return &best
}
