package recommend

import (
	"math"
	"testing"

	"github.com/justestif/go-spotify-playlist-ai/internal/config"
)

func newTestScorer() *Scorer {
	return NewScorer(config.DefaultWeights())
}

func seedsWithYear(year int) []SeededTrack {
	return []SeededTrack{
		{Track: mkTrack("s1", "Seed One", []ArtistRef{{ID: "seed-artist", Name: "Seed Artist"}}, year, 60), SeedSource: SourceGenreDiscovery},
	}
}

func breakdownSum(b map[string]float64) float64 {
	sum := 0.0
	for _, v := range b {
		sum += v
	}
	return sum
}

func TestScoreEqualsClampedBreakdownSum(t *testing.T) {
	scorer := newTestScorer()
	seeds := seedsWithYear(2015)
	inputs := BuildScoringInputs("chill pop evening", Intent{Mood: "chill", Genre: "pop", Energy: "high"},
		seeds, SeedResult{}, nil)

	tracks := []Track{
		mkTrack("c1", "Chill Evening Song", []ArtistRef{{ID: "seed-artist", Name: "Seed Artist"}}, 2016, 85),
		mkTrack("c2", "Unrelated", []ArtistRef{{ID: "other", Name: "Other"}}, 1960, 5),
		{ID: "c3", Title: "No Year", Artists: []ArtistRef{{ID: "x", Name: "X"}}, Popularity: 50},
	}

	for _, track := range tracks {
		sc := scorer.Score(track, inputs)
		want := math.Max(breakdownSum(sc.Breakdown), 0)
		if diff := math.Abs(sc.Score - want); diff > 1e-9 {
			t.Errorf("track %s: score %.4f != clamped breakdown sum %.4f", track.ID, sc.Score, want)
		}
		if _, hasTotal := sc.Breakdown["total"]; hasTotal {
			t.Error("breakdown must not contain a total entry")
		}
	}
}

func TestScoreYearAlignment(t *testing.T) {
	scorer := newTestScorer()
	seeds := seedsWithYear(2000)
	inputs := BuildScoringInputs("", Intent{}, seeds, SeedResult{}, nil)

	atMean := scorer.Score(mkTrack("a", "A", []ArtistRef{{ID: "x", Name: "X"}}, 2000, 0), inputs)
	near := scorer.Score(mkTrack("b", "B", []ArtistRef{{ID: "x", Name: "X"}}, 2005, 0), inputs)
	farAway := scorer.Score(mkTrack("c", "C", []ArtistRef{{ID: "x", Name: "X"}}, 2052, 0), inputs)

	maxAlignment := atMean.Breakdown[FactorYearAlignment]
	if maxAlignment <= 0 {
		t.Fatal("candidate at the mean seed year should get a positive year contribution")
	}
	if near.Breakdown[FactorYearAlignment] >= maxAlignment {
		t.Error("closer candidates must score at least as high on year alignment")
	}
	if farAway.Breakdown[FactorYearAlignment] != 0 {
		t.Errorf("candidate 50+ years out got %.4f, want 0", farAway.Breakdown[FactorYearAlignment])
	}
}

func TestScoreEnergyNudgeSigned(t *testing.T) {
	scorer := newTestScorer()
	seeds := seedsWithYear(2010)

	highEnergy := BuildScoringInputs("", Intent{Energy: "high"}, seeds, SeedResult{}, nil)
	newer := scorer.Score(mkTrack("n", "N", []ArtistRef{{ID: "x", Name: "X"}}, 2020, 0), highEnergy)
	older := scorer.Score(mkTrack("o", "O", []ArtistRef{{ID: "x", Name: "X"}}, 2000, 0), highEnergy)
	if newer.Breakdown[FactorEnergyBias] != 0.05 || older.Breakdown[FactorEnergyBias] != -0.05 {
		t.Errorf("high energy: newer %.2f older %.2f, want +0.05/-0.05",
			newer.Breakdown[FactorEnergyBias], older.Breakdown[FactorEnergyBias])
	}

	lowEnergy := BuildScoringInputs("", Intent{Energy: "low"}, seeds, SeedResult{}, nil)
	older = scorer.Score(mkTrack("o", "O", []ArtistRef{{ID: "x", Name: "X"}}, 2000, 0), lowEnergy)
	if older.Breakdown[FactorEnergyBias] != 0.05 {
		t.Errorf("low energy older = %.2f, want +0.05", older.Breakdown[FactorEnergyBias])
	}

	medium := BuildScoringInputs("", Intent{Energy: "medium"}, seeds, SeedResult{}, nil)
	mid := scorer.Score(mkTrack("m", "M", []ArtistRef{{ID: "x", Name: "X"}}, 2020, 0), medium)
	if mid.Breakdown[FactorEnergyBias] != 0 {
		t.Errorf("medium energy = %.2f, want 0", mid.Breakdown[FactorEnergyBias])
	}
}

func TestScoreFocusArtistBonus(t *testing.T) {
	scorer := newTestScorer()
	focus := SeedResult{FocusArtistIDs: []string{"focus-id"}, FocusArtistKeys: []string{"focusartist"}}
	inputs := BuildScoringInputs("", Intent{Artist: "Focus Artist"}, nil, focus, nil)

	byID := scorer.Score(mkTrack("a", "A", []ArtistRef{{ID: "focus-id", Name: "Whoever"}}, 2020, 0), inputs)
	if byID.Breakdown[FactorFocusArtist] != 0.30 {
		t.Errorf("focus by ID = %.2f, want 0.30", byID.Breakdown[FactorFocusArtist])
	}

	byName := scorer.Score(mkTrack("b", "B", []ArtistRef{{Name: "Focus Artist"}}, 2020, 0), inputs)
	if byName.Breakdown[FactorFocusArtist] != 0.30 {
		t.Errorf("focus by name = %.2f, want 0.30", byName.Breakdown[FactorFocusArtist])
	}

	other := scorer.Score(mkTrack("c", "C", []ArtistRef{{ID: "other", Name: "Other"}}, 2020, 0), inputs)
	if other.Breakdown[FactorFocusArtist] != 0 {
		t.Errorf("non-focus = %.2f, want 0", other.Breakdown[FactorFocusArtist])
	}
}

func TestScoreSnapshotFactors(t *testing.T) {
	scorer := newTestScorer()
	snapshot := &AffinitySnapshot{
		Tracks: map[string]Track{
			"known": mkTrack("known", "Known", []ArtistRef{{ID: "heavy", Name: "Heavy"}}, 2019, 50),
		},
		GenreBuckets: map[string]GenreBucket{
			"indie-rock": {TrackIDs: []string{"known"}, TrackCount: 9},
			"pop":        {TrackCount: 2},
		},
		ArtistCounts: map[string]int{"heavy": 8, "light": 2},
	}
	inputs := BuildScoringInputs("", Intent{}, nil, SeedResult{}, snapshot)

	known := scorer.Score(mkTrack("known", "Known", []ArtistRef{{ID: "heavy", Name: "Heavy"}}, 2019, 50), inputs)
	if known.Breakdown[FactorCacheHit] != 0.18 {
		t.Errorf("cache hit = %.2f, want 0.18", known.Breakdown[FactorCacheHit])
	}
	if known.Breakdown[FactorGenreAlignment] != 0.12 {
		t.Errorf("dominant genre via bucket membership = %.2f, want 0.12", known.Breakdown[FactorGenreAlignment])
	}
	if known.Breakdown[FactorNovelty] != -0.03 {
		t.Errorf("heavy-play novelty = %.2f, want -0.03", known.Breakdown[FactorNovelty])
	}

	tagged := mkTrack("new", "New", []ArtistRef{{ID: "fresh", Name: "Fresh"}}, 2021, 50)
	tagged.Genres = []string{"indie-rock"}
	fresh := scorer.Score(tagged, inputs)
	if fresh.Breakdown[FactorGenreAlignment] != 0.12 {
		t.Errorf("dominant genre via tags = %.2f, want 0.12", fresh.Breakdown[FactorGenreAlignment])
	}
	if fresh.Breakdown[FactorNovelty] != 0.05 {
		t.Errorf("fresh novelty = %.2f, want 0.05", fresh.Breakdown[FactorNovelty])
	}

	light := scorer.Score(mkTrack("l", "L", []ArtistRef{{ID: "light", Name: "Light"}}, 2021, 50), inputs)
	if light.Breakdown[FactorNovelty] != 0.02 {
		t.Errorf("light novelty = %.2f, want 0.02", light.Breakdown[FactorNovelty])
	}
}

func TestRankOrdersByScoreThenPopularity(t *testing.T) {
	scorer := newTestScorer()
	inputs := BuildScoringInputs("", Intent{}, nil, SeedResult{}, nil)

	// Same factors except popularity; then two equal tracks to check
	// harvest-order stability.
	a := mkTrack("a", "A", []ArtistRef{{ID: "x", Name: "X"}}, 2020, 90)
	b := mkTrack("b", "B", []ArtistRef{{ID: "x", Name: "X"}}, 2020, 50)
	c := mkTrack("c", "C", []ArtistRef{{ID: "x", Name: "X"}}, 2020, 50)

	ranked := scorer.Rank([]Track{b, c, a}, inputs)

	if ranked[0].ID != "a" {
		t.Errorf("ranked[0] = %s, want a (highest popularity)", ranked[0].ID)
	}
	if ranked[1].ID != "b" || ranked[2].ID != "c" {
		t.Errorf("tie order = %s,%s, want harvest order b,c", ranked[1].ID, ranked[2].ID)
	}
}

func TestSelectDiverseCapsArtists(t *testing.T) {
	scorer := newTestScorer()
	seeds := []SeededTrack{
		{Track: mkTrack("s1", "Seed", []ArtistRef{{ID: "dup", Name: "Dup"}}, 2020, 60)},
	}
	ranked := []ScoredCandidate{
		{Track: mkTrack("c1", "One", []ArtistRef{{ID: "dup", Name: "Dup"}}, 2020, 80), Score: 0.9},
		{Track: mkTrack("c2", "Two", []ArtistRef{{ID: "dup", Name: "Dup"}}, 2020, 70), Score: 0.8},
		{Track: mkTrack("c3", "Three", []ArtistRef{{ID: "other", Name: "Other"}}, 2020, 60), Score: 0.7},
		{Track: mkTrack("c4", "Four", []ArtistRef{{ID: "dup", Name: "Dup"}}, 2020, 50), Score: 0.6},
	}

	out := scorer.SelectDiverse(seeds, ranked, 10)

	counts := map[string]int{"dup": 1} // the seed
	for _, c := range out {
		for _, id := range c.ArtistIDs() {
			counts[id]++
		}
	}
	if counts["dup"] > 2 {
		t.Errorf("artist dup appears %d times including seed, want at most 2", counts["dup"])
	}
	// c2 is blocked (seed + c1 fill the cap), c3 accepted.
	if len(out) != 2 || out[0].ID != "c1" || out[1].ID != "c3" {
		t.Errorf("selection = %v", trackIDsOf(out))
	}
}

func TestSelectDiverseHonorsLimit(t *testing.T) {
	scorer := newTestScorer()
	var ranked []ScoredCandidate
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		ranked = append(ranked, ScoredCandidate{
			Track: mkTrack(id, "T"+id, []ArtistRef{{ID: "art-" + id, Name: id}}, 2020, 50),
			Score: 1.0 - float64(i)*0.01,
		})
	}

	out := scorer.SelectDiverse(nil, ranked, 3)
	if len(out) != 3 {
		t.Fatalf("got %d, want 3", len(out))
	}
}

func trackIDsOf(cands []ScoredCandidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ID)
	}
	return ids
}
