package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bananastudio/internal/nanobanana"
)

var rootCmd = &cobra.Command{
	Use:   "nanoctl",
	Short: "Nano Banana image generation from the terminal",
	Long:  `Submits generation jobs to the Nano Banana API, follows their progress and retries failures with backoff.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("api-base-url", "", "API base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key")
	rootCmd.PersistentFlags().String("locale", "zh", "Failure message locale (zh or en)")

	viper.BindPFlag("api-base-url", rootCmd.PersistentFlags().Lookup("api-base-url"))
	viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("locale", rootCmd.PersistentFlags().Lookup("locale"))

	// NANO_API_BASE_URL and NANO_API_KEY, shared with the server config.
	viper.SetEnvPrefix("NANO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func newClient(logger *zerolog.Logger) (*nanobanana.Client, error) {
	base := strings.TrimSpace(viper.GetString("api-base-url"))
	if base == "" {
		return nil, errors.New("api base URL is required (--api-base-url or NANO_API_BASE_URL)")
	}
	key := strings.TrimSpace(viper.GetString("api-key"))
	if key == "" {
		return nil, errors.New("api key is required (--api-key or NANO_API_KEY)")
	}
	return nanobanana.NewClient(nanobanana.Options{
		BaseURL: base,
		APIKey:  key,
		Logger:  logger,
	})
}
