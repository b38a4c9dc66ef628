package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
	"github.com/justestif/go-spotify-playlist-ai/internal/catalog"
	"github.com/justestif/go-spotify-playlist-ai/internal/config"
	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
	"github.com/justestif/go-spotify-playlist-ai/internal/stats"
	"github.com/justestif/go-spotify-playlist-ai/internal/suggest"
)

// Catalog is the per-session Spotify surface the handlers need: the
// pipeline's read operations plus playlist creation.
type Catalog interface {
	recommend.Catalog
	UserID(ctx context.Context) (string, error)
	CreatePlaylist(ctx context.Context, name, description string, public bool, trackIDs []string) (string, error)
}

// StatsProvider is the slice of the stats repository the dashboard
// endpoints read from. It is nil when no database is configured.
type StatsProvider interface {
	Summarize(ctx context.Context, userKey string, window time.Duration) (*stats.Summary, error)
	GenreBreakdown(ctx context.Context, userKey string, window time.Duration, limit int) ([]stats.GenreCount, error)
	RecentPrompts(ctx context.Context, userKey string, limit int) ([]string, error)
}

// Handlers contains the HTTP handlers for the service.
type Handlers struct {
	auth     *spotifyauth.Authenticator
	sessions *SessionStore
	oracle   recommend.Oracle
	store    cache.Store
	stats    StatsProvider
	recorder recommend.StatsRecorder
	cfg      *config.Config
	log      zerolog.Logger

	// catalogFor builds the Spotify adapter for a session token.
	// Overridable so tests can substitute a fake catalog.
	catalogFor func(ctx context.Context, token *oauth2.Token) Catalog
}

// NewHandlers wires the handlers. stats and recorder may be nil when
// the service runs without a database.
func NewHandlers(
	auth *spotifyauth.Authenticator,
	sessions *SessionStore,
	oracle recommend.Oracle,
	store cache.Store,
	statsProvider StatsProvider,
	recorder recommend.StatsRecorder,
	cfg *config.Config,
	log zerolog.Logger,
) *Handlers {
	h := &Handlers{
		auth:     auth,
		sessions: sessions,
		oracle:   oracle,
		store:    store,
		stats:    statsProvider,
		recorder: recorder,
		cfg:      cfg,
		log:      log,
	}
	h.catalogFor = func(ctx context.Context, token *oauth2.Token) Catalog {
		return catalog.New(spotify.New(h.auth.Client(ctx, token)))
	}
	return h
}

// pipelineFor assembles the recommendation pipeline around a
// per-session catalog. The cache store is shared across sessions, so
// snapshots and payloads survive between requests.
func (h *Handlers) pipelineFor(cat Catalog) *recommend.Pipeline {
	var assemblerOpts []recommend.SeedAssemblerOption
	var harvesterOpts []recommend.HarvesterOption
	if !h.cfg.ExcludeEditorial {
		assemblerOpts = append(assemblerOpts, recommend.WithoutEditorialFilter())
		harvesterOpts = append(harvesterOpts, recommend.WithoutEditorialExclusion())
	}

	snapshots := recommend.NewSnapshotBuilder(cat, h.store, h.cfg.SnapshotTTL, h.log)
	assembler := recommend.NewSeedAssembler(cat, h.oracle, h.cfg.Market, h.cfg.SeedFloor, h.cfg.RequireLatin, h.log, assemblerOpts...)
	harvester := recommend.NewHarvester(cat, h.cfg.Market, h.cfg.RequireLatin, h.cfg.PopularityFloorFor, h.log, harvesterOpts...)
	scorer := recommend.NewScorer(h.cfg.Weights)

	var opts []recommend.PipelineOption
	if h.recorder != nil {
		opts = append(opts, recommend.WithStatsRecorder(h.recorder))
	}
	return recommend.NewPipeline(
		snapshots, assembler, harvester, scorer,
		h.oracle, h.store, h.cfg.PayloadTTL,
		h.cfg.SeedFloor, h.cfg.PlaylistLimit,
		h.log, opts...,
	)
}

// ----------------------------------------------------------------------
// Auth
// ----------------------------------------------------------------------

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	// State lives in a short-lived cookie for callback validation.
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing state cookie")
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("spotify auth error: %s", errMsg))
		return
	}

	token, err := h.auth.Token(r.Context(), state, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to exchange token")
		return
	}

	cat := h.catalogFor(r.Context(), token)
	userID, err := cat.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user profile")
		return
	}

	session, err := h.sessions.Create(token, userID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessions.SetCookie(w, session)

	h.log.Info().Str("user", userID).Msg("user logged in")
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout clears the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.FromRequest(r); session != nil {
		h.sessions.Delete(session.ID)
	}
	h.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

// ----------------------------------------------------------------------
// Session middleware
// ----------------------------------------------------------------------

type contextKey string

const sessionContextKey contextKey = "session"

// RequireSession rejects unauthenticated requests and stores the
// session in the request context.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := h.sessions.FromRequest(r)
		if session == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the session stored by RequireSession.
func sessionFrom(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey).(*Session)
	return session
}

// ----------------------------------------------------------------------
// API
// ----------------------------------------------------------------------

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type savePlaylistRequest struct {
	Prompt      string `json:"prompt"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Public      *bool  `json:"public,omitempty"`
}

// Me returns the authenticated user (GET /api/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   session.UserID,
		"name": session.UserName,
	})
}

// GeneratePlaylist builds a playlist payload for a prompt
// (POST /api/playlists).
func (h *Handlers) GeneratePlaylist(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}

	cat := h.catalogFor(r.Context(), session.Token)
	payload, err := h.pipelineFor(cat).Generate(r.Context(), session.UserID, req.Prompt)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("playlist generation failed")
		writeError(w, http.StatusBadGateway, "playlist generation failed")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// RemixPlaylist replaces tracks on a previously generated payload
// (POST /api/playlists/remix).
func (h *Handlers) RemixPlaylist(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}

	cat := h.catalogFor(r.Context(), session.Token)
	payload, err := h.pipelineFor(cat).Remix(r.Context(), session.UserID, req.Prompt)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("playlist remix failed")
		writeError(w, http.StatusBadGateway, "playlist remix failed")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// SavePlaylist creates the generated playlist on Spotify
// (POST /api/playlists/save). The payload for the prompt is taken from
// cache, or generated fresh when it has expired.
func (h *Handlers) SavePlaylist(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req savePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	cat := h.catalogFor(r.Context(), session.Token)
	payload, err := h.pipelineFor(cat).Generate(r.Context(), session.UserID, req.Prompt)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("playlist generation failed")
		writeError(w, http.StatusBadGateway, "playlist generation failed")
		return
	}

	trackIDs := payload.TrackIDs()
	if len(trackIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no tracks to save")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = payload.SuggestedName
	}
	if h.cfg.PlaylistPrefix != "" {
		name = h.cfg.PlaylistPrefix + " " + name
	}
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Generated from the prompt %q", payload.Prompt)
	}
	public := h.cfg.PlaylistPublic
	if req.Public != nil {
		public = *req.Public
	}

	playlistID, err := cat.CreatePlaylist(r.Context(), name, description, public, trackIDs)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("playlist save failed")
		writeError(w, http.StatusBadGateway, "failed to create playlist on spotify")
		return
	}

	h.log.Info().
		Str("user", session.UserID).
		Str("playlist", playlistID).
		Int("tracks", len(trackIDs)).
		Msg("playlist saved")
	writeJSON(w, http.StatusCreated, map[string]any{
		"playlist_id": playlistID,
		"name":        name,
		"track_count": len(trackIDs),
	})
}

// Suggestions returns prompt suggestions built from the user's
// listening signals (GET /api/suggestions).
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	ctx := r.Context()

	cat := h.catalogFor(ctx, session.Token)
	snapshots := recommend.NewSnapshotBuilder(cat, h.store, h.cfg.SnapshotTTL, h.log)

	in := suggest.Inputs{}
	if snapshot, err := snapshots.Build(ctx, session.UserID); err == nil {
		in.Snapshot = snapshot
	} else {
		h.log.Warn().Err(err).Str("user", session.UserID).Msg("snapshot unavailable for suggestions")
	}

	var recent []string
	if h.stats != nil {
		if summary, err := h.stats.Summarize(ctx, session.UserID, 0); err == nil {
			in.Summary = summary
		}
		if breakdown, err := h.stats.GenreBreakdown(ctx, session.UserID, 0, 5); err == nil {
			in.Breakdown = breakdown
		}
		if prompts, err := h.stats.RecentPrompts(ctx, session.UserID, 5); err == nil {
			recent = prompts
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompts":        suggest.Prompts(in),
		"recent_prompts": recent,
	})
}

// Stats returns the user's generation summary (GET /api/stats).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats are not configured")
		return
	}
	session := sessionFrom(r.Context())
	ctx := r.Context()

	summary, err := h.stats.Summarize(ctx, session.UserID, 0)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("stats summary failed")
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	breakdown, err := h.stats.GenreBreakdown(ctx, session.UserID, 0, 10)
	if err != nil {
		h.log.Error().Err(err).Str("user", session.UserID).Msg("genre breakdown failed")
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"genres":  breakdown,
	})
}

// RefreshSnapshot drops the cached affinity snapshot so the next
// generation rebuilds it (POST /api/snapshot/refresh).
func (h *Handlers) RefreshSnapshot(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	cat := h.catalogFor(r.Context(), session.Token)
	recommend.NewSnapshotBuilder(cat, h.store, h.cfg.SnapshotTTL, h.log).Invalidate(session.UserID)

	writeJSON(w, http.StatusOK, map[string]any{"refreshed": true})
}

// ----------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------

// decodePrompt parses and validates the common prompt request body.
func decodePrompt(w http.ResponseWriter, r *http.Request) (promptRequest, bool) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
