package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
)

// defaultSuggestedName is used when the prompt is empty.
const defaultSuggestedName = "AI Playlist"

// GenerationRecord summarizes one pipeline run for persistence.
type GenerationRecord struct {
	UserKey        string
	Prompt         string
	Genre          string
	Mood           string
	Energy         string
	SeedCount      int
	CandidateCount int
	TrackCount     int
	SeedsOnly      bool
	Remix          bool
	Duration       time.Duration
	CreatedAt      time.Time
}

// StatsRecorder persists generation records. Recording is best-effort;
// failures are logged and never fail a request.
type StatsRecorder interface {
	RecordGeneration(ctx context.Context, rec GenerationRecord) error
}

// Pipeline wires the snapshot builder, seed assembler, harvester and
// scorer into the request-level generate and remix operations.
type Pipeline struct {
	snapshots  *SnapshotBuilder
	assembler  *SeedAssembler
	harvester  *Harvester
	scorer     *Scorer
	oracle     Oracle
	store      cache.Store
	payloadTTL time.Duration
	seedFloor  int
	limit      int
	stats      StatsRecorder
	now        func() time.Time
	log        zerolog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStatsRecorder attaches a best-effort generation stats sink.
func WithStatsRecorder(rec StatsRecorder) PipelineOption {
	return func(p *Pipeline) {
		p.stats = rec
	}
}

// WithPipelineClock overrides the pipeline's time source, for tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline assembles the playlist generation pipeline. limit bounds
// the ranked candidates appended after the seeds.
func NewPipeline(
	snapshots *SnapshotBuilder,
	assembler *SeedAssembler,
	harvester *Harvester,
	scorer *Scorer,
	oracle Oracle,
	store cache.Store,
	payloadTTL time.Duration,
	seedFloor, limit int,
	log zerolog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		snapshots:  snapshots,
		assembler:  assembler,
		harvester:  harvester,
		scorer:     scorer,
		oracle:     oracle,
		store:      store,
		payloadTTL: payloadTTL,
		seedFloor:  seedFloor,
		limit:      limit,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PromptHash returns the cache key component for a prompt.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(prompt)))
	return hex.EncodeToString(sum[:])
}

func payloadCacheKey(userKey, prompt string) string {
	return "recommender:playlist:" + userKey + ":" + PromptHash(prompt)
}

// Generate runs the full pipeline for a prompt. A repeat request with
// the same user and prompt inside the payload TTL returns the cached
// payload unchanged.
func (p *Pipeline) Generate(ctx context.Context, userKey, prompt string) (*PlaylistPayload, error) {
	key := payloadCacheKey(userKey, prompt)
	if cached, ok := p.store.Get(key); ok {
		if payload, ok := cached.(*PlaylistPayload); ok {
			p.log.Debug().Str("user", userKey).Msg("playlist cache hit")
			return payload, nil
		}
	}

	started := p.now()
	trace := NewTrace(p.log)
	trace.Stepf("generating playlist for prompt %q", truncatePrompt(prompt))

	intent, err := p.oracle.ExtractAttributes(ctx, prompt)
	if err != nil {
		trace.Stepf("intent extraction failed, using neutral defaults: %v", err)
		intent = Intent{Mood: "chill", Genre: "pop", Energy: "medium"}
	}
	trace.Stepf("intent: mood=%s genre=%s energy=%s artist=%q", intent.Mood, intent.Genre, intent.Energy, intent.Artist)

	snapshot := p.loadSnapshot(ctx, userKey, trace)
	payload := p.run(ctx, prompt, intent, snapshot, trace)
	payload.SuggestedName = suggestedName(prompt)

	p.store.Set(key, payload, p.payloadTTL)
	p.recordStats(ctx, userKey, prompt, intent, payload, false, p.now().Sub(started))
	return payload, nil
}

// Remix refreshes a previously generated playlist. The cached payload
// is the remix context: the oracle proposes replacements, unresolved
// slots are backfilled from a fresh harvest excluding tracks already
// present, and the cache entry is replaced wholesale. Without a cached
// payload a remix degrades to a fresh generation.
func (p *Pipeline) Remix(ctx context.Context, userKey, prompt string) (*PlaylistPayload, error) {
	key := payloadCacheKey(userKey, prompt)
	cached, ok := p.store.Get(key)
	if !ok {
		p.log.Debug().Str("user", userKey).Msg("remix without cached payload; generating fresh")
		return p.Generate(ctx, userKey, prompt)
	}
	previous, ok := cached.(*PlaylistPayload)
	if !ok {
		return p.Generate(ctx, userKey, prompt)
	}

	started := p.now()
	trace := NewTrace(p.log)
	trace.Stepf("remixing playlist for prompt %q with %d existing tracks", truncatePrompt(prompt), len(previous.Tracks))

	target := len(previous.Tracks)
	if target == 0 {
		target = p.limit
	}

	existing := make([]string, 0, len(previous.Tracks))
	existingIDs := make(map[string]struct{}, len(previous.Tracks))
	for _, t := range previous.Tracks {
		existing = append(existing, t.Title+" - "+t.PrimaryArtist())
		existingIDs[t.ID] = struct{}{}
	}

	intent := previous.Intent
	var tracks []Track
	seen := make(dedupSet)
	accept := func(t Track) {
		if len(tracks) >= target || t.Title == "" {
			return
		}
		if seen.has(t) {
			return
		}
		seen.add(t)
		tracks = append(tracks, t)
	}

	suggestions, err := p.oracle.SuggestRemix(ctx, prompt, intent, existing, target)
	if err != nil {
		trace.Stepf("remix suggestions failed: %v", err)
	}
	resolved := 0
	for _, s := range suggestions {
		if len(tracks) >= target {
			break
		}
		track, ok := p.assembler.ResolveSuggestion(ctx, s)
		if !ok {
			continue
		}
		accept(track)
		resolved++
	}
	trace.Stepf("remix: resolved %d of %d suggestions", resolved, len(suggestions))

	var candidates []ScoredCandidate
	if len(tracks) < target {
		trace.Stepf("remix: %d slots unresolved; backfilling from fresh harvest", target-len(tracks))
		exclude := make(map[string]struct{}, len(existingIDs)+len(tracks))
		for id := range existingIDs {
			exclude[id] = struct{}{}
		}
		for _, t := range tracks {
			exclude[t.ID] = struct{}{}
		}
		harvested := p.harvester.Harvest(ctx, intent, exclude, trace)
		inputs := BuildScoringInputs(prompt, intent, previous.Seeds, SeedResult{}, p.peekSnapshot(userKey))
		ranked := p.scorer.Rank(harvested, inputs)
		for _, c := range p.scorer.SelectDiverse(previous.Seeds, ranked, target-len(tracks)) {
			accept(c.Track)
			candidates = append(candidates, c)
		}
	}

	// Last resort: keep tracks from the previous payload.
	if len(tracks) < target {
		trace.Stepf("remix: backfill below target; keeping existing tracks")
		for _, t := range previous.Tracks {
			accept(t)
		}
	}

	payload := &PlaylistPayload{
		Prompt:        prompt,
		Intent:        intent,
		Seeds:         previous.Seeds,
		Candidates:    candidates,
		Tracks:        tracks,
		SeedSources:   previous.SeedSources,
		Snapshot:      previous.Snapshot,
		SuggestedName: previous.SuggestedName,
		Trace:         trace.Steps(),
		Warnings:      trace.Warnings(),
		GeneratedAt:   p.now(),
	}

	p.store.Set(key, payload, p.payloadTTL)
	p.recordStats(ctx, userKey, prompt, intent, payload, true, p.now().Sub(started))
	return payload, nil
}

// run executes seeds, harvest, scoring and assembly for one request.
func (p *Pipeline) run(ctx context.Context, prompt string, intent Intent, snapshot *AffinitySnapshot, trace *Trace) *PlaylistPayload {
	result := p.assembler.Assemble(ctx, prompt, intent, snapshot, trace)
	seeds := result.Seeds
	if len(seeds) < p.seedFloor {
		trace.Stepf("seed count %d below floor %d: %v", len(seeds), p.seedFloor, ErrInsufficientSeeds)
	}

	seedIDs := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		if s.ID != "" {
			seedIDs[s.ID] = struct{}{}
		}
	}

	harvested := p.harvester.Harvest(ctx, intent, seedIDs, trace)
	inputs := BuildScoringInputs(prompt, intent, seeds, result, snapshot)
	ranked := p.scorer.Rank(harvested, inputs)
	selected := p.scorer.SelectDiverse(seeds, ranked, p.limit)
	trace.Stepf("scored %d candidates, accepted %d after diversity filter", len(ranked), len(selected))

	seedsOnly := false
	if len(selected) == 0 {
		seedsOnly = true
		trace.Stepf("no candidates survived; payload is seeds-only: %v", ErrEmptyResultSet)
	}

	payload := &PlaylistPayload{
		Prompt:      prompt,
		Intent:      intent,
		Seeds:       seeds,
		Candidates:  selected,
		SeedSources: make(map[string]int),
		SeedsOnly:   seedsOnly,
		GeneratedAt: p.now(),
	}
	for _, s := range seeds {
		payload.SeedSources[string(s.SeedSource)]++
	}

	// Final ordering: seeds first, then ranked candidates, deduped by
	// identifier and title+artist key across both groups.
	seen := make(dedupSet, len(seeds)+len(selected))
	for _, s := range seeds {
		if seen.has(s.Track) {
			continue
		}
		seen.add(s.Track)
		payload.Tracks = append(payload.Tracks, s.Track)
	}
	for _, c := range selected {
		if seen.has(c.Track) {
			continue
		}
		seen.add(c.Track)
		payload.Tracks = append(payload.Tracks, c.Track)
	}

	if snapshot != nil {
		payload.Snapshot = &SnapshotSummary{
			Source:     snapshot.Source,
			SampleSize: snapshot.SampleSize,
			TopGenre:   snapshot.DominantGenre(),
			CreatedAt:  snapshot.CreatedAt,
		}
	}

	payload.Trace = trace.Steps()
	payload.Warnings = trace.Warnings()
	return payload
}

// loadSnapshot builds or fetches the user's affinity snapshot,
// degrading to nil when every history source is down.
func (p *Pipeline) loadSnapshot(ctx context.Context, userKey string, trace *Trace) *AffinitySnapshot {
	snapshot, err := p.snapshots.Build(ctx, userKey)
	if err != nil {
		trace.Stepf("affinity snapshot unavailable: %v", err)
		return nil
	}
	trace.Stepf("affinity snapshot: %d tracks from %s", snapshot.SampleSize, snapshot.Source)
	return snapshot
}

// peekSnapshot returns the cached snapshot if present, without
// triggering upstream calls.
func (p *Pipeline) peekSnapshot(userKey string) *AffinitySnapshot {
	if cached, ok := p.store.Get(snapshotCacheKey(userKey)); ok {
		if snapshot, ok := cached.(*AffinitySnapshot); ok {
			return snapshot
		}
	}
	return nil
}

func (p *Pipeline) recordStats(ctx context.Context, userKey, prompt string, intent Intent, payload *PlaylistPayload, remix bool, elapsed time.Duration) {
	if p.stats == nil {
		return
	}
	rec := GenerationRecord{
		UserKey:        userKey,
		Prompt:         prompt,
		Genre:          intent.Genre,
		Mood:           intent.Mood,
		Energy:         intent.Energy,
		SeedCount:      len(payload.Seeds),
		CandidateCount: len(payload.Candidates),
		TrackCount:     len(payload.Tracks),
		SeedsOnly:      payload.SeedsOnly,
		Remix:          remix,
		Duration:       elapsed,
		CreatedAt:      p.now(),
	}
	if err := p.stats.RecordGeneration(ctx, rec); err != nil {
		p.log.Warn().Err(err).Msg("recording generation stats failed")
	}
}

// suggestedName derives a playlist name from the prompt: title-cased
// and bounded, with a neutral default for empty prompts.
func suggestedName(prompt string) string {
	cleaned := strings.Join(strings.Fields(prompt), " ")
	if cleaned == "" {
		return defaultSuggestedName
	}
	name := titleCase(cleaned)
	if len(name) > 100 {
		name = strings.TrimSpace(name[:100])
	}
	return name
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
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

func truncatePrompt(prompt string) string {
	if len(prompt) <= 80 {
		return prompt
	}
	return prompt[:77] + "..."
}
