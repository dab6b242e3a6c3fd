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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"papersnap/internal/config"
	"papersnap/internal/library"
	"papersnap/internal/task"
)

var (
	flagCollection     string
	flagCollectionName string
)

var captureCmd = &cobra.Command{
	Use:   "capture <reference>",
	Short: "Capture one paper in the foreground",
	Long: `Capture runs one reference through every stage and exits non-zero when
it fails.

Examples:
  papersnap capture arxiv:2504.12345
  papersnap capture https://arxiv.org/abs/2504.12345 --collection ABCD1234`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Print the library's collection tree",
	Args:  cobra.NoArgs,
	RunE:  runCollections,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		created, err := config.WriteDefault(flagConfig)
		if err != nil {
			return err //nolint:wrapcheck
		}
		if !created {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", flagConfig)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flagConfig)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&flagCollection, "collection", "", "Collection key (default: last used collection)")
	captureCmd.Flags().StringVar(&flagCollectionName, "collection-name", "", "Collection name shown in the task list")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	client, err := newLibraryClient(cfg)
	if err != nil {
		return err
	}
	tm, cleanup, err := buildCaptureManager(buildPipeline(cfg, client))
	if err != nil {
		return err
	}
	defer cleanup()
	defer waitWorkers(tm)

	key, name := flagCollection, flagCollectionName
	if key == "" {
		key, name = cfg.LastUsedCollectionKey, cfg.LastUsedCollectionName
	}

	events, unsubscribe := tm.Subscribe()
	defer unsubscribe()
	submitted, err := tm.Submit(args[0], key, name)
	if err != nil {
		return err //nolint:wrapcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task_id", submitted.ID).Msg("interrupt received, cancelling at next stage")
			_ = tm.Cancel(submitted.ID)
			stop()
			ctx = context.Background()
		case ev := <-events:
			if ev.TaskID != submitted.ID {
				continue
			}
			switch ev.Kind {
			case task.EventProgress:
				fmt.Fprintln(out, ev.Stage.Label())
			case task.EventTitle:
				fmt.Fprintf(out, "title: %s\n", ev.Title)
			case task.EventFinished:
				fmt.Fprintf(out, "saved: %s\n", ev.Path)
				return nil
			case task.EventError:
				return errors.New(ev.Message)
			case task.EventStatus:
				if ev.Status == task.StatusCancelled {
					return task.ErrCancelled
				}
			}
		case <-time.After(time.Second):
			// events can be dropped under load; the task record is authoritative
			if t, ok := tm.Get(submitted.ID); ok && t.Status.Terminal() {
				return captureOutcome(out, t)
			}
		}
	}
}

// waitWorkers lets the run finish its last status write before the store
// is removed.
func waitWorkers(tm *task.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tm.WaitAll(ctx)
}

func captureOutcome(out io.Writer, t task.Task) error {
	switch t.Status {
	case task.StatusSucceeded:
		fmt.Fprintf(out, "saved: %s\n", t.FilePath)
		return nil
	case task.StatusCancelled:
		return task.ErrCancelled
	default:
		return errors.New(t.Error)
	}
}

func runCollections(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	client, err := newLibraryClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	collections, err := client.Collections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	out := cmd.OutOrStdout()
	library.Walk(library.BuildTree(collections), func(n *library.Node, depth int) {
		marker := ""
		if n.Key == cfg.LastUsedCollectionKey {
			marker = " *"
		}
		fmt.Fprintf(out, "%s%s  %s%s\n", strings.Repeat("  ", depth), n.Name, n.Key, marker)
	})
	return nil
}
