// Command spotify-playlist-ai runs the AI playlist recommender web
// service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-playlist-ai/internal/cache"
	"github.com/justestif/go-spotify-playlist-ai/internal/config"
	"github.com/justestif/go-spotify-playlist-ai/internal/oracle"
	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
	"github.com/justestif/go-spotify-playlist-ai/internal/stats"
	"github.com/justestif/go-spotify-playlist-ai/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	llm := oracle.NewClient(oracle.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, log)
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set; intent extraction will fall back to defaults")
	}

	store := cache.NewMemory()

	// Stats are optional; without a database the service still serves
	// generation and remix, just without the dashboard numbers.
	var statsProvider web.StatsProvider
	var recorder recommend.StatsRecorder
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		repo, err := stats.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			return fmt.Errorf("connecting to database: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			cancel()
			repo.Close()
			return fmt.Errorf("preparing stats schema: %w", err)
		}
		cancel()
		defer repo.Close()
		statsProvider = repo
		recorder = repo
		log.Info().Msg("generation stats enabled")
	} else {
		log.Info().Msg("DATABASE_URL not set; running without generation stats")
	}

	server := web.NewServer(cfg, llm, store, statsProvider, recorder, log)
	return server.Run()
}
