package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/apply-pilot/internal/match"
	"github.com/spigell/apply-pilot/internal/profile"
)

const (
	app = "apply-pilot"
)

type Config struct {
	LedgerPath string            `mapstructure:"ledger-path"`
	Profile    *ProfileConfig    `mapstructure:"profile"`
	Scoring    *ScoringConfig    `mapstructure:"scoring"`
	Limits     *LimitsConfig     `mapstructure:"limits"`
	Embedding  *EmbeddingConfig  `mapstructure:"embedding"`
	AI         *AIConfig         `mapstructure:"ai"`
	Platforms  []*PlatformConfig `mapstructure:"platforms"`
}

type ProfileConfig struct {
	Skills          []string `mapstructure:"skills"`
	ExperienceYears int      `mapstructure:"experience-years"`
	Locations       []string `mapstructure:"locations"`
	Keywords        []string `mapstructure:"keywords"`
	Summary         string   `mapstructure:"summary"`
}

type ScoringConfig struct {
	SimilarityWeight  float64  `mapstructure:"similarity-weight"`
	RulesWeight       float64  `mapstructure:"rules-weight"`
	Threshold         float64  `mapstructure:"threshold"`
	ExcludedEmployers []string `mapstructure:"excluded-employers"`
}

type LimitsConfig struct {
	MaxApplicationsPerDay int           `mapstructure:"max-applications-per-day"`
	DailyWindow           time.Duration `mapstructure:"daily-window"`
	DelayMin              time.Duration `mapstructure:"delay-min"`
	DelayMax              time.Duration `mapstructure:"delay-max"`
	MaxAttempts           int           `mapstructure:"max-attempts"`
	BackoffBase           time.Duration `mapstructure:"backoff-base"`
	BackoffCap            time.Duration `mapstructure:"backoff-cap"`
	BackoffJitter         time.Duration `mapstructure:"backoff-jitter"`
	DetectionCooldown     time.Duration `mapstructure:"detection-cooldown"`
	DispatchInterval      time.Duration `mapstructure:"dispatch-interval"`
	DispatchBatch         int           `mapstructure:"dispatch-batch"`
	IngestWorkers         int           `mapstructure:"ingest-workers"`
	FeedInterval          time.Duration `mapstructure:"feed-interval"`
	ActionFloor           time.Duration `mapstructure:"action-floor"`
}

type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	Dimension  int    `mapstructure:"dimension"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type AIConfig struct {
	Tone   string        `mapstructure:"tone"`
	Gemini *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	Model        string `mapstructure:"model"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type PlatformConfig struct {
	Name       string `mapstructure:"name"`
	TokenFile  string `mapstructure:"token-file"`
	UserAgent  string `mapstructure:"user-agent"`
	BaseURL    string `mapstructure:"base-url"`
	ResumeID   string `mapstructure:"resume-id"`
	SearchText string `mapstructure:"search-text"`
	Areas      []int  `mapstructure:"areas"`
	Experience string `mapstructure:"experience"`
	Period     uint   `mapstructure:"period"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "apply-pilot discovers job postings, scores them against your profile and applies on your behalf",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("embedding.api-key-file", "VOYAGE_API_KEY_FILE"); err != nil {
		log.Fatalf("binding VOYAGE_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is apply-pilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command works without a config file.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	setDefaults()

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

// setDefaults carries the original throughput and pacing defaults.
func setDefaults() {
	viper.SetDefault("ledger-path", app+".db")

	viper.SetDefault("scoring.similarity-weight", 0.6)
	viper.SetDefault("scoring.rules-weight", 0.4)
	viper.SetDefault("scoring.threshold", 0.8)

	viper.SetDefault("limits.max-applications-per-day", 50)
	viper.SetDefault("limits.daily-window", 24*time.Hour)
	viper.SetDefault("limits.delay-min", 30*time.Second)
	viper.SetDefault("limits.delay-max", 120*time.Second)
	viper.SetDefault("limits.max-attempts", 3)
	viper.SetDefault("limits.backoff-base", time.Minute)
	viper.SetDefault("limits.backoff-cap", 30*time.Minute)
	viper.SetDefault("limits.backoff-jitter", 30*time.Second)
	viper.SetDefault("limits.detection-cooldown", time.Hour)
	viper.SetDefault("limits.dispatch-interval", 15*time.Second)
	viper.SetDefault("limits.dispatch-batch", 10)
	viper.SetDefault("limits.ingest-workers", 4)
	viper.SetDefault("limits.feed-interval", 5*time.Minute)

	viper.SetDefault("embedding.model", "voyage-2")
	viper.SetDefault("embedding.dimension", 1536)
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	return config, nil
}

func (c *Config) buildProfile() (*profile.Profile, error) {
	if c.Profile == nil {
		return nil, fmt.Errorf("profile section is required")
	}

	p := profile.New(
		c.Profile.Skills,
		c.Profile.ExperienceYears,
		c.Profile.Locations,
		c.Profile.Keywords,
		c.Profile.Summary,
	)

	if len(p.Skills) == 0 && p.Summary == "" {
		return nil, fmt.Errorf("profile must list skills or a summary")
	}

	return p, nil
}

func (c *Config) buildEngine() (*match.Engine, error) {
	if c.Scoring == nil {
		return nil, fmt.Errorf("scoring section is required")
	}

	return match.NewEngine(c.Scoring.SimilarityWeight, c.Scoring.RulesWeight, c.Scoring.Threshold)
}
