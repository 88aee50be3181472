// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/realize"
)

func newRealizeCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "realize GRAPH-FILE",
		Short:                 "instantiate and build a derivation graph",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runRealize(cmd.Context(), g, args[0])
	}
	return c
}

func runRealize(ctx context.Context, g *globalConfig, graphPath string) error {
	root, err := loadGraph(graphPath)
	if err != nil {
		return err
	}
	st, err := g.openStore()
	if err != nil {
		return err
	}

	result, err := drv.Instantiate(ctx, st, root)
	if err != nil {
		return err
	}

	buildLog, err := g.openBuildLog()
	if err != nil {
		log.Warnf(ctx, "forge: build log unavailable: %v", err)
	} else {
		defer buildLog.Close()
	}

	r := realize.New(st)
	if buildLog != nil {
		r = r.WithBuildLog(buildLog)
	}

	outPath, err := r.Realize(ctx, result.DrvPath, g.realizeConfig())
	if err != nil {
		return err
	}
	fmt.Println(outPath)
	return nil
}
