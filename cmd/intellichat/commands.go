package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"intellichat/internal/corpus"
	"intellichat/internal/logger"
	"intellichat/internal/server"
	"intellichat/internal/tui"
	"intellichat/internal/vectorindex"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = root.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if seed && !corpus.Seeded(cfg.Corpus.Dir) {
				if err := corpus.Seed(cfg.Corpus.Dir, time.Now()); err != nil {
					return fmt.Errorf("seed sample data: %w", err)
				}
				root.Sugar().Infow("sample data written", "dir", cfg.Corpus.Dir)
			}

			a, err := newApp(ctx, cfg, root)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg.Server, a.pipeline, a.metrics, logger.Component(root, "http"))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "write sample data first when the corpus directory has none")
	return cmd
}

func newQueryCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Answer one question and print it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question must not be empty")
			}
			cfg, root, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = root.Sync() }()

			a, err := newApp(cmd.Context(), cfg, root)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), a.pipeline.Query(cmd.Context(), question))
			return nil
		},
	}
}

func newIndexCommand(flags *globalFlags) *cobra.Command {
	var maxDocs int
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild and persist the vector index, then print a corpus digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = root.Sync() }()

			a, err := newApp(cmd.Context(), cfg, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.Rebuild(cmd.Context()); err != nil {
				if errors.Is(err, vectorindex.ErrEmptyCorpus) {
					return fmt.Errorf("nothing to index in %s, run \"intellichat seed\" first", cfg.Corpus.Dir)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.pipeline.Digest(maxDocs).String())
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxDocs, "docs", "n", 3, "number of representative documents to show")
	return cmd
}

func newSeedCommand(flags *globalFlags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the sample dataset into the corpus directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = root.Sync() }()

			if dir == "" {
				dir = cfg.Corpus.Dir
			}
			if err := corpus.Seed(dir, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sample data written to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default corpus.dir from config)")
	return cmd
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the corpus in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = root.Sync() }()

			a, err := newApp(cmd.Context(), cfg, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.EnsureReady(cmd.Context()); err != nil {
				return err
			}
			timeout := time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second
			m := tui.New(a.pipeline, a.pipeline.Digest(0).CountsLine(), timeout)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}
