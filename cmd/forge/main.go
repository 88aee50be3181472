// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Command forge is a thin command-line shell over the store, drv and
// realize packages: it reads derivation graphs from JSON, instantiates
// and realizes them, and lets an operator inspect the resulting store.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "forge",
		Short:         "content-addressed build engine",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	if err := g.mergeEnvironment(); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "forge: %v", err)
		os.Exit(1)
	}
	if err := g.mergeFiles(configFilesToTry(g.ConfigFile)); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "forge: %v", err)
		os.Exit(1)
	}

	// Flags are registered last and bound directly to g's fields, so
	// pflag's parse (which cobra runs before PersistentPreRunE) always
	// has the final say over environment and config file values.
	rootCommand.PersistentFlags().StringVar(&g.StoreDir, "store", g.StoreDir, "store `directory`")
	rootCommand.PersistentFlags().StringVar(&g.Sandbox, "sandbox", g.Sandbox, "build backend: \"container\" or \"none\"")
	rootCommand.PersistentFlags().StringVar(&g.ContainerImage, "container-image", g.ContainerImage, "filesystem `root` whose system directories are mounted into the sandbox")
	rootCommand.PersistentFlags().BoolVar(&g.Network, "network", g.Network, "allow network access during builds")
	rootCommand.PersistentFlags().BoolVar(&g.Verbose, "verbose", g.Verbose, "stream builder stdio instead of buffering it")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return g.validate()
	}

	rootCommand.AddCommand(
		newInstantiateCommand(g),
		newRealizeCommand(g),
		newStoreCommand(g),
		newDerivationCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "forge: %v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "forge: ", log.StdFlags, nil),
		})
	})
}
