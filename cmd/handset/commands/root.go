package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/handset/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "handset",
	Short: "Talk to the Google Assistant through a telephone handset",
	Long: `handset watches the hook switch of a telephone handset on a GPIO pin.

Lifting the handset starts a conversation with the Google Assistant using
the handset's microphone and speaker. The conversation continues for as long
as the assistant expects a follow-on. Hanging up ends it.

Files are stored in ~/.handset/:
  config.yaml          settings (see 'handset config')
  credentials.json     OAuth2 credentials from google-oauthlib-tool
  device_config.json   the registered device, created on first run`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		cli.PrintError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.handset/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// getConfig loads the configuration on first use.
func getConfig() (*cli.Config, error) {
	if globalConfig == nil {
		cfg, err := cli.LoadConfigWithPath(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}
