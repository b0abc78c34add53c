package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/client"
	"github.com/jamicool/PPD/internal/config"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/editor"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/progress"
)

var (
	configPath string
	apiURL     string
	hubURL     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "pipelinectl",
	Short:         "Edit pipeline projects from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $PIPELINE_CONFIG or config/config.toml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "pipeline API base URL")
	rootCmd.PersistentFlags().StringVar(&hubURL, "hub-url", "", "simulation hub websocket URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and channel activity")

	rootCmd.AddCommand(
		listCmd(),
		createCmd(),
		showCmd(),
		deleteCmd(),
		nodeCmd(),
		connectCmd(),
		removeCmd(),
		validateCmd(),
		exportCmd(),
		importCmd(),
		simulateCmd(),
		catalogCmd(),
	)
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		bad.Fprintf(os.Stderr, "pipelinectl: %v\n", err)
		return err
	}
	return nil
}

// session is the editor state of one command invocation.
type session struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	channel *progress.Channel
	store   *editor.Store
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	path := configPath
	if path == "" {
		path = os.Getenv("PIPELINE_CONFIG")
	}
	if path == "" {
		path = "config/config.toml"
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.Client.APIURL = apiURL
	}
	if hubURL != "" {
		cfg.Client.HubURL = hubURL
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logCfg := observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: io.Discard}
	if verbose {
		logCfg.Level, logCfg.Output = "debug", os.Stderr
	}
	return observability.NewLogger(logCfg)
}

func newGateway(cfg *config.Config, logger *slog.Logger) *client.Gateway {
	return client.NewGateway(cfg.Client.APIURL,
		client.WithLogger(logger),
		client.WithTimeout(cfg.Client.RequestTimeout.Duration),
	)
}

func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load element catalog: %w", err)
	}
	dialer := &websocket.Dialer{HandshakeTimeout: cfg.Client.RequestTimeout.Duration}
	ch := progress.NewChannel(cfg.Client.HubURL, progress.WithLogger(logger), progress.WithDialer(dialer))
	return &session{
		cfg:     cfg,
		catalog: cat,
		channel: ch,
		store:   editor.New(newGateway(cfg, logger), ch, cat, editor.WithLogger(logger)),
	}, nil
}

func (s *session) Close() {
	s.store.Close()
	_ = s.channel.Close()
}

// withProject runs fn with a session that has project id loaded.
func withProject(ctx context.Context, id string, fn func(s *session, p *model.Project) error) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()
	p, err := s.store.LoadProject(ctx, id)
	if err != nil {
		return err
	}
	return fn(s, p)
}

// parseAssignments turns key=value arguments into properties.
func parseAssignments(args []string) (model.Properties, error) {
	props := model.Properties{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q: %w", a, model.ErrValidation)
		}
		props[strings.TrimSpace(k)] = model.ParseValue(v)
	}
	return props, nil
}
