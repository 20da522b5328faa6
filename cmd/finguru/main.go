// Command finguru is the operator CLI: classify text offline, check policy
// documents and export the ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

var version = "dev"

// cli holds the state shared by all commands
type cli struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "finguru",
		Short: "Expense classification for small business ledgers",
		Long: `finguru classifies expenses described in receipts or voice notes into
accounting categories with the tax rate the accounting policy prescribes.

Configuration is read from config.yaml and FINGURU_* environment variables.`,
		PersistentPreRunE: c.initConfig,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	root.PersistentFlags().String("policy", "", "accounting policy document (default: built-in)")

	_ = c.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))
	_ = c.v.BindPFlag("policy.path", root.PersistentFlags().Lookup("policy"))

	root.AddCommand(c.classifyCmd())
	root.AddCommand(c.policyCmd())
	root.AddCommand(c.exportCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *cli) initConfig(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("config")
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	// FINGURU_LEDGER_DSN overrides ledger.dsn
	c.v.SetEnvPrefix("FINGURU")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger, err := common.SetupLogger(c.v.GetString("logging.level"), c.v.GetString("logging.format"))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	c.logger = logger
	return nil
}

// aiConfig assembles provider settings from the config file and environment
func (c *cli) aiConfig() models.AIConfig {
	cfg := models.AIConfig{
		DefaultProvider: c.v.GetString("ai.default_provider"),
		OpenAI: models.OpenAIConfig{
			APIKey:  c.v.GetString("ai.openai.api_key"),
			BaseURL: c.v.GetString("ai.openai.base_url"),
			Model:   c.v.GetString("ai.openai.model"),
		},
		Gemini: models.GeminiConfig{
			APIKey: c.v.GetString("ai.gemini.api_key"),
			Model:  c.v.GetString("ai.gemini.model"),
		},
		Ollama: models.OllamaConfig{
			BaseURL: c.v.GetString("ai.ollama.base_url"),
			Model:   c.v.GetString("ai.ollama.model"),
		},
	}
	// The service's plain variable names are honored too
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	defaults := models.Config{AI: cfg}
	defaults.ApplyDefaults()
	return defaults.AI
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finguru %s\n", version)
		},
	}
}
