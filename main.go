// deepchat - An interactive terminal client for the DeepSeek chat API.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/XueChenNyaCl/deepchat/internal/cli"
	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/logging"
	"github.com/XueChenNyaCl/deepchat/internal/session"
)

// Version information (set at build time)
var Version = "1.0.0"

func init() {
	cli.Version = Version
}

// options holds the root command flags.
type options struct {
	configDir string
	debug     bool
	noColor   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	if dir, err := config.ConfigDir(); err == nil {
		opts.configDir = dir
	}

	cmd := &cobra.Command{
		Use:           "deepchat",
		Short:         "Chat with DeepSeek models from the terminal",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configDir == "" {
				return errors.New("no config directory: pass --config-dir")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome, err := run(ctx, opts)
			if err != nil {
				return err
			}
			if outcome == cli.OutcomeRestart {
				return restart()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configDir, "config-dir", opts.configDir, "directory holding config.toml, .env, history and logs")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "write debug-level logs")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	return cmd
}

// run wires the components and drives the interpreter until it finishes.
func run(ctx context.Context, opts *options) (cli.Outcome, error) {
	if err := os.MkdirAll(opts.configDir, 0700); err != nil {
		return cli.OutcomeExit, fmt.Errorf("failed to create config directory: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Path:  filepath.Join(opts.configDir, logging.DefaultFileName),
		Debug: opts.debug,
	})
	if err != nil {
		return cli.OutcomeExit, err
	}
	defer func() { _ = logger.Sync() }()
	logger, sessionID := logging.WithSession(logger)

	store, err := config.Open(config.ConfigPath(opts.configDir))
	if err != nil {
		return cli.OutcomeExit, err
	}

	var changes <-chan struct{}
	watcher, err := config.NewWatcher(store.Path(), config.DefaultDebounce, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
		changes = watcher.Changes()
	}

	envPath := config.EnvPath(opts.configDir)
	key, err := config.LoadAPIKey(envPath)
	if err != nil {
		logger.Warn("could not read api key", zap.String("path", envPath), zap.Error(err))
	}

	client := cloud.NewClient(key).
		WithEndpoint(store.Config().APIEndpoint).
		WithLogger(logger)

	logger.Info("deepchat starting",
		zap.String("version", Version),
		zap.String("session_id", sessionID),
		zap.String("config", store.Path()),
		zap.String("api_key", client.APIKeyMasked()))

	cli.ConfigureColors(opts.noColor)
	reader := cli.NewChatCLI(config.HistoryPath(opts.configDir))
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("failed to save prompt history", zap.Error(err))
		}
	}()

	it := cli.NewInterpreter(cli.Options{
		Reader:      reader,
		Console:     cli.NewConsole(os.Stdout, opts.noColor),
		Session:     session.New(store, client, logger),
		Store:       store,
		Credentials: client,
		EnvPath:     envPath,
		Changes:     changes,
		Logger:      logger,
	})
	return it.Run(ctx)
}

// restart runs a fresh copy of this program with the same arguments and
// exits with its status.
func restart() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	child := exec.Command(exe, os.Args[1:]...)
	child.Stdin, child.Stdout, child.Stderr = os.Stdin, os.Stdout, os.Stderr
	child.Env = os.Environ()

	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("failed to restart: %w", err)
	}
	os.Exit(0)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
