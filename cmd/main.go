package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"papersnap/internal/artifact"
	"papersnap/internal/capture"
	"papersnap/internal/config"
	"papersnap/internal/inline"
	"papersnap/internal/library"
	"papersnap/internal/task"
	"papersnap/internal/zotero"
)

const defaultConfigPath = "config/config.json"

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "papersnap",
	Short: "Capture translated paper pages as self-contained HTML and file them in Zotero",
	Long: `papersnap opens a paper page in a browser profile with a translation
extension, waits for the translation to finish, embeds every image, stylesheet
and script into one HTML file and attaches that file to a new Zotero item.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return setupLogging(flagLogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, captureCmd, collectionsCmd, initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// loadConfig reads and validates the config, writing the default template
// first when there is no file yet.
func loadConfig(path string) (config.Config, error) {
	created, err := config.WriteDefault(path)
	if err != nil {
		return config.Config{}, err //nolint:wrapcheck
	}
	if created {
		log.Warn().Str("path", path).Msg("default config written, fill in the library credentials and directories")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func newLibraryClient(cfg config.Config) (*zotero.Client, error) {
	client, err := zotero.New(zotero.Options{
		BaseURL:     cfg.APIBaseURL,
		LibraryID:   cfg.LibraryID,
		LibraryType: cfg.LibraryType,
		APIKey:      cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("library client: %w", err)
	}
	return client, nil
}

func buildPipeline(cfg config.Config, client *zotero.Client) *task.Pipeline {
	launcher := capture.NewChromeLauncher(capture.ChromeOptions{
		ProfileDir:         cfg.UserDataDir,
		ExtensionDir:       cfg.ExtensionPath,
		StorageDir:         cfg.ZoteroStorage,
		NavigationTimeout:  cfg.NavigationTimeout(),
		TranslationTimeout: cfg.TranslationTimeout(),
		TranslationMarker:  cfg.TranslationMarker,
	})
	inliner := inline.New(inline.Options{Workers: cfg.FetchWorkers, Timeout: cfg.FetchTimeout()})
	writer := artifact.New(cfg.OutputDir)
	registrar := library.NewRegistrar(client, cfg.ZoteroStorage)
	return task.NewPipeline(launcher, inliner, writer, registrar)
}

func buildTaskManager(cfg config.Config, runner task.Runner) *task.Manager {
	tm := task.NewManagerWithOptions(task.Options{
		DataDir:            cfg.DataDir,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		Runner:             runner,
	})
	if err := tm.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("failed to load previous tasks")
	}
	return tm
}

// buildCaptureManager runs a single foreground task on a throwaway store so
// the server's task list under data_dir is left alone.
func buildCaptureManager(runner task.Runner) (*task.Manager, func(), error) {
	dir, err := os.MkdirTemp("", "papersnap-capture-")
	if err != nil {
		return nil, nil, fmt.Errorf("create capture task dir: %w", err)
	}
	tm := task.NewManagerWithOptions(task.Options{DataDir: dir, MaxConcurrentTasks: 1, Runner: runner})
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove capture task dir")
		}
	}
	return tm, cleanup, nil
}
