package cmd

import (
	"log"
	"time"

	"github.com/spigell/assessment-recommender/internal/ai/gemini"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/filtering"
	"github.com/spigell/assessment-recommender/internal/httpapi"
	"github.com/spigell/assessment-recommender/internal/recommend"
	"github.com/spigell/assessment-recommender/internal/retry"
	"github.com/spigell/assessment-recommender/internal/vectorindex"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "assessment-recommender"

	backendMemory = "memory"
	backendBadger = "badger"
)

type Config struct {
	Catalog    catalog.Source   `mapstructure:"catalog"`
	Index      IndexConfig      `mapstructure:"index"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Retry      retry.Policy     `mapstructure:"retry"`
	Search     filtering.Config `mapstructure:"search"`
	MaxResults int              `mapstructure:"max-results"`
	Server     httpapi.Config   `mapstructure:"server"`
}

type IndexConfig struct {
	// Backend is either memory or badger.
	Backend            string `mapstructure:"backend"`
	Path               string `mapstructure:"path"`
	vectorindex.Config `mapstructure:",squash"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`

	gemini.GeneratorConfig `mapstructure:",squash"`
	EmbeddingModel         string `mapstructure:"embedding-model"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "assessment-recommender recommends assessments from a catalog for a free-text hiring query",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}
	if err := viper.BindEnv("gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is assessment-recommender.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func setDefaults() {
	viper.SetDefault("catalog.prepackaged", "data/prepackaged_solutions.json")
	viper.SetDefault("catalog.individual", "data/individual_test_solutions.json")

	viper.SetDefault("index.backend", backendBadger)
	viper.SetDefault("index.path", "data/index")
	viper.SetDefault("index.collection", vectorindex.DefaultCollection)
	viper.SetDefault("index.batch-size", vectorindex.DefaultBatchSize)
	viper.SetDefault("index.batch-delay", vectorindex.DefaultBatchDelay)
	viper.SetDefault("index.workers", vectorindex.DefaultWorkers)

	defaults := gemini.DefaultGeneratorConfig()
	viper.SetDefault("gemini.model", defaults.Model)
	viper.SetDefault("gemini.temperature", defaults.Temperature)
	viper.SetDefault("gemini.top-p", defaults.TopP)
	viper.SetDefault("gemini.top-k", defaults.TopK)
	viper.SetDefault("gemini.max-output-tokens", defaults.MaxOutputTokens)
	viper.SetDefault("gemini.max-log-length", defaults.MaxLogLength)

	policy := retry.Default()
	viper.SetDefault("retry.max-attempts", policy.MaxAttempts)
	viper.SetDefault("retry.initial-interval", policy.InitialInterval)
	viper.SetDefault("retry.multiplier", policy.Multiplier)

	viper.SetDefault("search.candidates", filtering.DefaultCandidateCount)
	viper.SetDefault("search.name-match", filtering.MatchExact)
	viper.SetDefault("max-results", recommend.DefaultMaxResults)

	viper.SetDefault("server.listen", httpapi.DefaultListen)
	viper.SetDefault("server.workers", httpapi.DefaultWorkers)
	viper.SetDefault("server.request-timeout", httpapi.DefaultRequestTimeout)
	viper.SetDefault("server.rate-limit-per-min", httpapi.DefaultRateLimitPerMin)
	viper.SetDefault("server.cors-origins", []string{"*"})
}

func initConfig() {
	// The version command works without any configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// An explicit config must parse. The default one is optional since every key has a default.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

// requestTimeout bounds a single command-line recommendation.
func requestTimeout(cfg *Config) time.Duration {
	if cfg.Server.RequestTimeout > 0 {
		return cfg.Server.RequestTimeout
	}
	return httpapi.DefaultRequestTimeout
}
