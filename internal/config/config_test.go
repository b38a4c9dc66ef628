package config

import (
	"testing"
	"time"
)

func TestParseGenreOverrides(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]int
		wantErr bool
	}{
		{
			name: "empty string leaves defaults",
			raw:  "",
			want: map[string]int{},
		},
		{
			name: "single pair",
			raw:  "jazz:30",
			want: map[string]int{"jazz": 30},
		},
		{
			name: "multiple pairs with spaces",
			raw:  "jazz:30, Ambient : 25",
			want: map[string]int{"jazz": 30, "ambient": 25},
		},
		{
			name:    "missing floor",
			raw:     "jazz",
			wantErr: true,
		},
		{
			name:    "non-numeric floor",
			raw:     "jazz:high",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := map[string]int{}
			err := parseGenreOverrides(tt.raw, dst)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(dst) != len(tt.want) {
				t.Fatalf("got %d overrides, want %d", len(dst), len(tt.want))
			}
			for genre, floor := range tt.want {
				if dst[genre] != floor {
					t.Errorf("override[%q] = %d, want %d", genre, dst[genre], floor)
				}
			}
		})
	}
}

func TestPopularityFloorFor(t *testing.T) {
	cfg := &Config{
		PopularityFloor:          45,
		GenrePopularityOverrides: defaultGenreOverrides(),
	}

	tests := []struct {
		genre string
		want  int
	}{
		{"pop", 45},
		{"jazz", 30},
		{"ambient", 25},
		{"singer-songwriter", 35},
		{"", 45},
	}

	for _, tt := range tests {
		if got := cfg.PopularityFloorFor(tt.genre); got != tt.want {
			t.Errorf("PopularityFloorFor(%q) = %d, want %d", tt.genre, got, tt.want)
		}
	}
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()

	if w.Popularity != 0.45 {
		t.Errorf("Popularity = %v, want 0.45", w.Popularity)
	}
	if w.FocusArtist != 0.30 {
		t.Errorf("FocusArtist = %v, want 0.30", w.FocusArtist)
	}
	if w.NoveltyHeavy >= 0 {
		t.Errorf("NoveltyHeavy = %v, want negative", w.NoveltyHeavy)
	}
}

func TestEnvDurationFallback(t *testing.T) {
	t.Setenv("TEST_TTL", "not-a-duration")
	if got := envDuration("TEST_TTL", time.Hour); got != time.Hour {
		t.Errorf("envDuration with garbage = %v, want fallback %v", got, time.Hour)
	}

	t.Setenv("TEST_TTL", "30m")
	if got := envDuration("TEST_TTL", time.Hour); got != 30*time.Minute {
		t.Errorf("envDuration = %v, want 30m", got)
	}
}

func TestLoadEditorialExclusionFlag(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "id")
	t.Setenv("SPOTIFY_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ExcludeEditorial {
		t.Error("editorial exclusion should default to on")
	}

	t.Setenv("RECOMMENDER_EXCLUDE_EDITORIAL", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExcludeEditorial {
		t.Error("RECOMMENDER_EXCLUDE_EDITORIAL=false should disable the exclusion")
	}
}
