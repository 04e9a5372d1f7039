package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"example/veritas-api/client"

	"github.com/rs/zerolog"
)

type commandRunner interface {
	Run(args []string) error
}

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	now        func() time.Time
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	path := strings.TrimSpace(os.Getenv("VERITAS_CONFIG"))
	if path == "" {
		path = client.DefaultConfigPath()
	}
	return commandWiring{stdout: stdout, stderr: stderr, configPath: path, now: time.Now}
}

func buildCommands(w commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"analyze":     &AnalyzeCommand{wiring: w},
		"entitlement": &EntitlementCommand{wiring: w},
		"history":     &HistoryCommand{wiring: w},
		"clear":       &ClearCommand{wiring: w},
		"config":      &ConfigCommand{wiring: w},
	}
}

// env is what every gateway-facing command needs.
type env struct {
	cfg client.Config
	api *client.API
	ctx context.Context
}

// setup loads configuration, attaches a console logger to the context and
// builds the gateway client. The returned stop releases the signal handler.
func (w commandWiring) setup() (env, func(), error) {
	cfg, err := client.LoadConfig(w.configPath)
	if err != nil {
		return env{}, func() {}, fmt.Errorf("load config %s: %w", w.configPath, err)
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w.stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithContext(ctx)

	opts := []client.APIOption{}
	if cfg.Gateway.Token != "" {
		opts = append(opts, client.WithToken(cfg.Gateway.Token))
	}
	return env{cfg: cfg, api: client.NewAPI(cfg.Gateway.URL, opts...), ctx: ctx}, stop, nil
}

func (w commandWiring) openStore(cfg client.Config) (*client.LocalStore, error) {
	st, err := client.OpenLocalStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open local cache %s: %w", cfg.Cache.Path, err)
	}
	return st, nil
}

// describeError turns gateway failures into something a person can act on.
func describeError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsLimitReached():
			return fmt.Errorf("daily limit reached (%d/%d on %s tier): %s", apiErr.Used, apiErr.Limit, apiErr.Tier, apiErr.Message)
		case apiErr.Status == 401:
			return errors.New("gateway rejected the token; set VERITAS_TOKEN or gateway.token")
		}
	}
	return err
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}
