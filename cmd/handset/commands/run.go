package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/handset/pkg/action"
	"github.com/haivivi/handset/pkg/assistant"
	"github.com/haivivi/handset/pkg/audio"
	"github.com/haivivi/handset/pkg/audio/portaudio"
	"github.com/haivivi/handset/pkg/cli"
	"github.com/haivivi/handset/pkg/device"
	"github.com/haivivi/handset/pkg/handset"
	"github.com/haivivi/handset/pkg/hook"
	"github.com/haivivi/handset/pkg/metrics"
)

var (
	// Command-line overrides
	flagPin      string
	flagInverted bool
	flagLanguage string
	flagDisplay  bool
	flagEndpoint string
	flagMetrics  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the hook switch and talk to the assistant",
	Long: `Watch the hook switch and start a conversation each time the handset is
lifted.

On first run a device is registered using project_id and model_id from the
configuration or the PROJECT_ID and DEVICE_MODEL_ID environment variables.
Press Ctrl+C to exit.`,
	RunE: runHandset,
}

func init() {
	runCmd.Flags().StringVar(&flagPin, "pin", "", "GPIO pin of the hook switch (default "+hook.DefaultPinName+")")
	runCmd.Flags().BoolVar(&flagInverted, "inverted", false, "treat a low level as off-hook")
	runCmd.Flags().StringVar(&flagLanguage, "lang", "", "assistant language code (default "+assistant.DefaultLanguageCode+")")
	runCmd.Flags().BoolVar(&flagDisplay, "display", false, "request screen output")
	runCmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "assistant endpoint (default "+assistant.DefaultEndpoint+")")
	runCmd.Flags().StringVar(&flagMetrics, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")

	rootCmd.AddCommand(runCmd)
}

func runHandset(cmd *cobra.Command, args []string) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, ts, err := newRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := registry.LoadOrRegister(ctx)
	if err != nil {
		var regErr *device.RegistrationError
		if errors.As(err, &regErr) {
			slog.Error("failed to register device", "status", regErr.StatusCode, "body", regErr.Body)
		}
		return err
	}
	slog.Info("device ready", "id", id.ID, "model_id", id.ModelID)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New("")
		stopMetrics := serveMetrics(cfg.MetricsAddr, m)
		defer stopMetrics()
	}

	stream, closeAudio, err := openAudio(cfg)
	if err != nil {
		return err
	}
	defer closeAudio()

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = assistant.DefaultEndpoint
	}
	conn, err := assistant.Dial(endpoint, ts)
	if err != nil {
		return err
	}
	defer conn.Close()

	retry := assistant.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	session := assistant.NewSession(assistant.NewClient(conn), stream, newActionHandler(id.ID), assistant.Config{
		Device:       *id,
		LanguageCode: cfg.LanguageCode,
		Display:      cfg.Display,
		Deadline:     cfg.DeadlineDuration(),
		Retry:        retry,
		Metrics:      m,
		Logger:       slog.Default(),
	})

	pinName := cfg.Pin
	if pinName == "" {
		pinName = hook.DefaultPinName
	}
	pin, err := hook.OpenPin(pinName)
	if err != nil {
		return err
	}

	h := handset.New(session, handset.Options{
		Monitor: &hook.Monitor{
			Interval: cfg.PollIntervalDuration(),
			Inverted: cfg.Inverted,
			Logger:   slog.Default(),
		},
		Metrics: m,
		Logger:  slog.Default(),
	})

	slog.Info("waiting for the handset", "pin", pin.Name(), "endpoint", endpoint)
	if err := h.Run(ctx, pin); err != nil {
		return err
	}
	slog.Info("shutting down")
	return nil
}

// applyRunFlags overrides configuration values with flags given on the
// command line.
func applyRunFlags(cmd *cobra.Command, cfg *cli.Config) {
	flags := cmd.Flags()
	if flags.Changed("pin") {
		cfg.Pin = flagPin
	}
	if flags.Changed("inverted") {
		cfg.Inverted = flagInverted
	}
	if flags.Changed("lang") {
		cfg.LanguageCode = flagLanguage
	}
	if flags.Changed("display") {
		cfg.Display = flagDisplay
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = flagEndpoint
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetrics
	}
}

// openAudio opens the default PortAudio devices and wraps them in a
// conversation stream. The returned function releases them.
func openAudio(cfg *cli.Config) (*audio.ConversationStream, func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("audio: %w", err)
	}

	format := audio.DefaultFormat
	in, err := portaudio.OpenInput(format, audio.DefaultChunkSize)
	if err != nil {
		portaudio.Terminate()
		return nil, nil, fmt.Errorf("audio input: %w", err)
	}
	out, err := portaudio.OpenOutput(format, audio.DefaultChunkSize)
	if err != nil {
		in.Close()
		portaudio.Terminate()
		return nil, nil, fmt.Errorf("audio output: %w", err)
	}

	opts := []audio.StreamOption{audio.WithFormat(format)}
	if cfg.Volume > 0 {
		opts = append(opts, audio.WithVolume(cfg.Volume))
	}
	stream := audio.NewConversationStream(in, out, opts...)
	return stream, func() {
		if err := stream.Close(); err != nil {
			slog.Warn("failed to close audio", "error", err)
		}
		portaudio.Terminate()
	}, nil
}

// serveMetrics serves m on addr until the returned function is called.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("failed to stop metrics server", "error", err)
		}
	}
}

// newActionHandler returns the device action handler with the built-in
// commands registered.
func newActionHandler(deviceID string) *action.Handler {
	h := action.NewHandler(deviceID, slog.Default())
	h.Register("action.devices.commands.OnOff", func(ctx context.Context, params json.RawMessage) error {
		var p struct {
			On bool `json:"on"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("OnOff: %w", err)
		}
		slog.Info("device turned on/off", "on", p.On)
		return nil
	})
	return h
}
