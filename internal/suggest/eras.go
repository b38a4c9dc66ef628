package suggest

import (
	"fmt"
	"sort"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

// EraHint is a cluster of listening history grouped by release year and
// popularity, used to phrase throwback suggestions.
type EraHint struct {
	StartYear     int
	EndYear       int
	TrackIDs      []string
	AvgPopularity float64
}

// Label renders the era as a year range, collapsing single-year eras.
func (e EraHint) Label() string {
	if e.StartYear == e.EndYear {
		return fmt.Sprintf("%d", e.StartYear)
	}
	return fmt.Sprintf("%d-%d", e.StartYear, e.EndYear)
}

// trackObservation wraps a track to implement clusters.Observation.
type trackObservation struct {
	track  recommend.Track
	coords clusters.Coordinates
}

func (o trackObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o trackObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// DetectEras groups tracks by (release year, popularity) similarity
// using k-means. Tracks without a release year are skipped. Returns nil
// when there are fewer datapoints than clusters or clustering fails.
func DetectEras(tracks []recommend.Track, numClusters int) []EraHint {
	if numClusters <= 0 {
		numClusters = 3
	}

	var obs clusters.Observations
	for _, t := range tracks {
		if t.ReleaseYear == nil || t.ID == "" {
			continue
		}
		obs = append(obs, trackObservation{
			track: t,
			// Popularity is scaled down so a decade gap outweighs a
			// popularity gap.
			coords: clusters.Coordinates{float64(*t.ReleaseYear), float64(t.Popularity) / 10},
		})
	}
	if len(obs) < numClusters {
		return nil
	}

	km := kmeans.New()
	result, err := km.Partition(obs, numClusters)
	if err != nil {
		return nil
	}

	var hints []EraHint
	for _, cluster := range result {
		hint := EraHint{}
		popTotal := 0
		for _, o := range cluster.Observations {
			to, ok := o.(trackObservation)
			if !ok {
				continue
			}
			year := *to.track.ReleaseYear
			if hint.StartYear == 0 || year < hint.StartYear {
				hint.StartYear = year
			}
			if year > hint.EndYear {
				hint.EndYear = year
			}
			hint.TrackIDs = append(hint.TrackIDs, to.track.ID)
			popTotal += to.track.Popularity
		}
		if len(hint.TrackIDs) == 0 {
			continue
		}
		hint.AvgPopularity = float64(popTotal) / float64(len(hint.TrackIDs))
		sort.Strings(hint.TrackIDs)
		hints = append(hints, hint)
	}

	sort.Slice(hints, func(i, j int) bool {
		return hints[i].StartYear < hints[j].StartYear
	})
	return hints
}
