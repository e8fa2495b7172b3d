package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/haivivi/handset/pkg/auth"
	"github.com/haivivi/handset/pkg/cli"
	"github.com/haivivi/handset/pkg/device"
)

var (
	deviceFormat  string
	forceRegister bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage the registered device",
}

var deviceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the registered device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		id, err := device.Load(cfg.DeviceConfigPath())
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no device registered yet, run 'handset device register'")
		}
		if err != nil {
			return err
		}
		return showDevice(cmd, cfg, id)
	},
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new device",
	Long: `Register a new device id with the Google Assistant.

The project and model are taken from the configuration (project_id, model_id)
or from the PROJECT_ID and DEVICE_MODEL_ID environment variables. An existing
device is kept unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		registry, _, err := newRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		var id *device.Identity
		if forceRegister {
			id, err = registry.Register(cmd.Context())
		} else {
			id, err = registry.LoadOrRegister(cmd.Context())
		}
		if err != nil {
			return err
		}
		return showDevice(cmd, cfg, id)
	},
}

func init() {
	deviceShowCmd.Flags().StringVarP(&deviceFormat, "output", "o", "panel", "output format (panel, yaml, json)")
	deviceRegisterCmd.Flags().StringVarP(&deviceFormat, "output", "o", "panel", "output format (panel, yaml, json)")
	deviceRegisterCmd.Flags().BoolVar(&forceRegister, "force", false, "register a new id even if one exists")

	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceRegisterCmd)
	rootCmd.AddCommand(deviceCmd)
}

func showDevice(cmd *cobra.Command, cfg *cli.Config, id *device.Identity) error {
	var result any = id
	if cli.OutputFormat(deviceFormat) == cli.FormatPanel {
		result = cli.NewPanel("Device").
			Add("id", id.ID).
			Add("model id", id.ModelID).
			Add("client type", id.ClientType).
			Add("file", cfg.DeviceConfigPath())
	}
	return cli.Output(cmd.OutOrStdout(), result, cli.OutputFormat(deviceFormat))
}

// newRegistry loads the credentials and returns a registry whose requests
// are authorized with them, along with the token source.
func newRegistry(ctx context.Context, cfg *cli.Config) (*device.Registry, oauth2.TokenSource, error) {
	creds, err := auth.LoadCredentials(cfg.CredentialsPath())
	if err != nil {
		return nil, nil, err
	}
	ts := creds.TokenSource(ctx)
	return &device.Registry{
		ConfigPath: cfg.DeviceConfigPath(),
		ProjectID:  cfg.ProjectID,
		ModelID:    cfg.ModelID,
		HTTPClient: auth.HTTPClient(ctx, ts),
		Logger:     slog.Default(),
	}, ts, nil
}
