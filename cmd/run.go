package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/ai/gemini"
	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/embedding"
	"github.com/spigell/apply-pilot/internal/ledger"
	"github.com/spigell/apply-pilot/internal/logger"
	"github.com/spigell/apply-pilot/internal/pacing"
	"github.com/spigell/apply-pilot/internal/platform/headhunter"
	"github.com/spigell/apply-pilot/internal/profile"
	"github.com/spigell/apply-pilot/internal/scheduler"
	"github.com/spigell/apply-pilot/internal/secrets"
)

const profileEmbedAttempts = 3

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the application pipeline until interrupted",
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run is the daemon entrypoint: it wires every component and operates the
// scheduler until the process is signalled.
func run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the apply-pilot", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	candidate, err := config.buildProfile()
	if err != nil {
		logger.Fatal("building candidate profile", zap.Error(err))
	}

	engine, err := config.buildEngine()
	if err != nil {
		logger.Fatal("building scoring engine", zap.Error(err))
	}

	limits := config.Limits
	if limits == nil {
		logger.Fatal("limits section is required")
	}

	pace := pacing.New(pacing.Config{
		DelayMin:      limits.DelayMin,
		DelayMax:      limits.DelayMax,
		BackoffBase:   limits.BackoffBase,
		BackoffCap:    limits.BackoffCap,
		BackoffJitter: limits.BackoffJitter,
	})

	machine := application.NewMachine(limits.MaxAttempts, pace.Backoff)

	book, err := ledger.Open(config.LedgerPath, machine, logger)
	if err != nil {
		logger.Fatal("opening the ledger", zap.Error(err))
	}
	defer book.Close()

	embedder, err := buildEmbedder(config.Embedding)
	if err != nil {
		logger.Fatal(
			"building the embedder",
			zap.Error(err),
			zap.String("hint", "set embedding.api-key-file or VOYAGE_API_KEY_FILE"),
		)
	}

	if err := embedProfile(ctx, candidate, embedder, logger); err != nil {
		logger.Fatal("embedding the candidate profile", zap.Error(err))
	}

	generator, err := buildGenerator(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal(
			"building the cover letter generator",
			zap.Error(err),
			zap.String("hint", "set ai.gemini.api-key-file or GEMINI_API_KEY_FILE"),
		)
	}

	feeds, submitters, err := buildPlatforms(config.Platforms, logger)
	if err != nil {
		logger.Fatal("building platform integrations", zap.Error(err))
	}

	sched := scheduler.New(scheduler.Config{
		MaxApplicationsPerDay: limits.MaxApplicationsPerDay,
		DailyWindow:           limits.DailyWindow,
		DispatchInterval:      limits.DispatchInterval,
		DispatchBatch:         limits.DispatchBatch,
		FeedInterval:          limits.FeedInterval,
		IngestWorkers:         limits.IngestWorkers,
		DetectionCooldown:     limits.DetectionCooldown,
		ActionFloor:           limits.ActionFloor,
		ExcludedEmployers:     excludedEmployers(config),
	}, book, engine, candidate, embedder, generator, submitters, feeds, pace, logger)

	if err := sched.Run(ctx); err != nil {
		logger.Fatal("scheduler stopped with error", zap.Error(err))
	}

	logger.Info("exiting", zap.String("reason", "shutdown complete"))
}

func excludedEmployers(config *Config) []string {
	if config.Scoring == nil {
		return nil
	}

	return config.Scoring.ExcludedEmployers
}

func buildEmbedder(cfg *EmbeddingConfig) (embedding.Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedding section is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "voyage api key",
		File: cfg.APIKeyFile,
		Env:  "VOYAGE_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	return embedding.NewVoyage(apiKey, cfg.Model, cfg.Dimension)
}

// embedProfile computes the profile embedding once at startup, retrying
// transient provider failures before giving up.
func embedProfile(ctx context.Context, p *profile.Profile, embedder embedding.Embedder, logger *zap.Logger) error {
	var err error

	for attempt := 1; attempt <= profileEmbedAttempts; attempt++ {
		var vector []float64

		vector, err = embedder.Embed(ctx, p.Text())
		if err == nil {
			p.Embedding = vector
			return nil
		}

		if !embedding.IsTransient(err) {
			return err
		}

		logger.Warn("profile embedding attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Second):
		}
	}

	return err
}

func buildGenerator(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*gemini.Writer, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, fmt.Errorf("ai.gemini section is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	writerLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", generator.Model()),
	)

	return gemini.NewWriter(generator, cfg.Tone, cfg.Gemini.MaxLogLength, writerLogger), nil
}

func buildPlatforms(configs []*PlatformConfig, logger *zap.Logger) ([]scheduler.Feed, []scheduler.Submitter, error) {
	if len(configs) == 0 {
		return nil, nil, fmt.Errorf("at least one platform must be configured")
	}

	var feeds []scheduler.Feed
	var submitters []scheduler.Submitter

	for _, cfg := range configs {
		if cfg.Name != headhunter.Name {
			return nil, nil, fmt.Errorf("unsupported platform: %s", cfg.Name)
		}

		token, err := secrets.Load(secrets.Source{
			Name: cfg.Name + " token",
			File: cfg.TokenFile,
		})
		if err != nil {
			return nil, nil, err
		}

		if cfg.ResumeID == "" {
			return nil, nil, fmt.Errorf("platform %s: resume-id is required", cfg.Name)
		}

		client := headhunter.NewClient(logger, token, cfg.UserAgent)
		if cfg.BaseURL != "" {
			client.APIURL = cfg.BaseURL
		}

		feeds = append(feeds, headhunter.NewFeed(client, headhunter.SearchParams{
			Text:       cfg.SearchText,
			Areas:      cfg.Areas,
			Experience: cfg.Experience,
			Period:     cfg.Period,
		}, logger))

		submitters = append(submitters, headhunter.NewSubmitter(client, cfg.ResumeID, logger))
	}

	return feeds, submitters, nil
}
