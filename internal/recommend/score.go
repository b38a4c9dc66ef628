package recommend

import (
	"sort"
	"strings"

	"github.com/justestif/go-spotify-playlist-ai/internal/config"
)

// Breakdown factor keys.
const (
	FactorPopularity     = "popularity"
	FactorSeedOverlap    = "seed_overlap"
	FactorFocusArtist    = "focus_artist"
	FactorKeywordMatch   = "keyword_match"
	FactorYearAlignment  = "year_alignment"
	FactorEnergyBias     = "energy_bias"
	FactorCacheHit       = "cache_track_hit"
	FactorGenreAlignment = "cache_genre_alignment"
	FactorNovelty        = "novelty"
)

// maxArtistOccurrences caps how often one artist may appear across the
// final output, seeds included.
const maxArtistOccurrences = 2

// Scorer computes weighted candidate scores and applies the
// artist-diversity selection pass.
type Scorer struct {
	weights config.Weights
}

// NewScorer builds a scorer with the given factor weights.
func NewScorer(weights config.Weights) *Scorer {
	return &Scorer{weights: weights}
}

// ScoringInputs are the reference signals shared by every candidate of
// one pipeline run.
type ScoringInputs struct {
	SeedArtistIDs    map[string]struct{}
	SeedYearMean     float64
	HasSeedYear      bool
	Energy           string
	Keywords         map[string]struct{}
	FocusArtistIDs   map[string]struct{}
	FocusArtistKeys  map[string]struct{}
	Snapshot         *AffinitySnapshot
	DominantGenre    string
	dominantVariants map[string]struct{}
}

// BuildScoringInputs derives the shared signals from the seed list, the
// resolved focus artists, the snapshot, and the request.
func BuildScoringInputs(prompt string, intent Intent, seeds []SeededTrack, focus SeedResult, snapshot *AffinitySnapshot) ScoringInputs {
	inputs := ScoringInputs{
		SeedArtistIDs:   make(map[string]struct{}),
		Energy:          strings.ToLower(strings.TrimSpace(intent.Energy)),
		Keywords:        PromptKeywords(prompt + " " + intent.Mood + " " + intent.Genre),
		FocusArtistIDs:  make(map[string]struct{}),
		FocusArtistKeys: make(map[string]struct{}),
		Snapshot:        snapshot,
	}

	yearSum, yearCount := 0, 0
	for _, seed := range seeds {
		for _, id := range seed.ArtistIDs() {
			inputs.SeedArtistIDs[id] = struct{}{}
		}
		if seed.ReleaseYear != nil {
			yearSum += *seed.ReleaseYear
			yearCount++
		}
	}
	if yearCount > 0 {
		inputs.SeedYearMean = float64(yearSum) / float64(yearCount)
		inputs.HasSeedYear = true
	}

	for _, id := range focus.FocusArtistIDs {
		inputs.FocusArtistIDs[id] = struct{}{}
	}
	for _, key := range focus.FocusArtistKeys {
		inputs.FocusArtistKeys[key] = struct{}{}
	}

	inputs.DominantGenre = snapshot.DominantGenre()
	inputs.dominantVariants = GenreVariants(inputs.DominantGenre)

	return inputs
}

// Score computes one candidate's score and per-factor breakdown. The
// score equals the breakdown sum clamped to a minimum of zero.
func (s *Scorer) Score(t Track, inputs ScoringInputs) ScoredCandidate {
	w := s.weights
	breakdown := map[string]float64{
		FactorPopularity:     float64(t.Popularity) / 100.0 * w.Popularity,
		FactorSeedOverlap:    0,
		FactorFocusArtist:    0,
		FactorKeywordMatch:   0,
		FactorYearAlignment:  0,
		FactorEnergyBias:     0,
		FactorCacheHit:       0,
		FactorGenreAlignment: 0,
		FactorNovelty:        0,
	}

	artistIDs := t.ArtistIDs()
	for _, id := range artistIDs {
		if _, ok := inputs.SeedArtistIDs[id]; ok {
			breakdown[FactorSeedOverlap] = w.SeedOverlap
			break
		}
	}

	if s.matchesFocusArtist(t, inputs) {
		breakdown[FactorFocusArtist] = w.FocusArtist
	}

	if len(inputs.Keywords) > 0 {
		title := strings.ToLower(t.Title)
		hits := 0
		for kw := range inputs.Keywords {
			if strings.Contains(title, kw) {
				hits++
			}
		}
		breakdown[FactorKeywordMatch] = float64(min(hits, 2)) * w.Keyword
	}

	if inputs.HasSeedYear && t.ReleaseYear != nil {
		year := float64(*t.ReleaseYear)
		diff := year - inputs.SeedYearMean
		if diff < 0 {
			diff = -diff
		}
		breakdown[FactorYearAlignment] = max(0, (18-diff)/36) * w.YearAlignment

		switch inputs.Energy {
		case "high":
			if year >= inputs.SeedYearMean {
				breakdown[FactorEnergyBias] = w.EnergyNudge
			} else {
				breakdown[FactorEnergyBias] = -w.EnergyNudge
			}
		case "low":
			if year <= inputs.SeedYearMean {
				breakdown[FactorEnergyBias] = w.EnergyNudge
			} else {
				breakdown[FactorEnergyBias] = -w.EnergyNudge
			}
		}
	}

	if inputs.Snapshot.HasTrack(t.ID) {
		breakdown[FactorCacheHit] = w.CacheHit
	}

	if s.matchesDominantGenre(t, inputs) {
		breakdown[FactorGenreAlignment] = w.DominantGenre
	}

	if inputs.Snapshot != nil && len(artistIDs) > 0 {
		novelty := 0.0
		for _, id := range artistIDs {
			switch count := inputs.Snapshot.ArtistCounts[id]; {
			case count == 0:
				novelty += w.NoveltyFresh
			case count <= 2:
				novelty += w.NoveltyLight
			case count >= 6:
				novelty += w.NoveltyHeavy
			default:
				novelty += w.NoveltyKnown
			}
		}
		breakdown[FactorNovelty] = novelty
	}

	total := 0.0
	for _, v := range breakdown {
		total += v
	}

	return ScoredCandidate{
		Track:     t,
		Score:     max(total, 0),
		Breakdown: breakdown,
	}
}

func (s *Scorer) matchesFocusArtist(t Track, inputs ScoringInputs) bool {
	for _, id := range t.ArtistIDs() {
		if _, ok := inputs.FocusArtistIDs[id]; ok {
			return true
		}
	}
	for _, a := range t.Artists {
		if key := NormalizeArtistKey(a.Name); key != "" {
			if _, ok := inputs.FocusArtistKeys[key]; ok {
				return true
			}
		}
	}
	return false
}

func (s *Scorer) matchesDominantGenre(t Track, inputs ScoringInputs) bool {
	if inputs.DominantGenre == "" {
		return false
	}
	if bucket, ok := inputs.Snapshot.GenreBuckets[inputs.DominantGenre]; ok {
		for _, id := range bucket.TrackIDs {
			if id == t.ID {
				return true
			}
		}
	}
	return len(t.Genres) > 0 && GenreMatches(inputs.DominantGenre, inputs.dominantVariants, t.Genres)
}

// Rank scores every candidate and sorts descending by score, breaking
// ties by higher popularity, then by harvest order.
func (s *Scorer) Rank(candidates []Track, inputs ScoringInputs) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, t := range candidates {
		scored = append(scored, s.Score(t, inputs))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Popularity > scored[j].Popularity
	})
	return scored
}

// SelectDiverse walks the ranked candidates and greedily accepts up to
// limit of them while enforcing that no artist appears more than twice
// across seeds and accepted candidates combined.
func (s *Scorer) SelectDiverse(seeds []SeededTrack, ranked []ScoredCandidate, limit int) []ScoredCandidate {
	counts := make(map[string]int)
	for _, seed := range seeds {
		for _, key := range artistCountKeys(seed.Track) {
			counts[key]++
		}
	}

	var out []ScoredCandidate
	for _, candidate := range ranked {
		if limit > 0 && len(out) >= limit {
			break
		}
		keys := artistCountKeys(candidate.Track)
		blocked := false
		for _, key := range keys {
			if counts[key] >= maxArtistOccurrences {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		for _, key := range keys {
			counts[key]++
		}
		out = append(out, candidate)
	}
	return out
}

// artistCountKeys returns the identities used for the diversity cap:
// artist IDs when present, normalized names otherwise.
func artistCountKeys(t Track) []string {
	var keys []string
	for _, a := range t.Artists {
		if a.ID != "" {
			keys = append(keys, a.ID)
			continue
		}
		if key := NormalizeArtistKey(a.Name); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
