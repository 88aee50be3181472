// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/drv"
)

func newInstantiateCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "instantiate GRAPH-FILE",
		Short:                 "instantiate a derivation graph, writing .drv files to the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runInstantiate(cmd.Context(), g, args[0])
	}
	return c
}

func runInstantiate(ctx context.Context, g *globalConfig, graphPath string) error {
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
	fmt.Printf("%s\n%s\n", result.DrvPath, result.OutPath)
	return nil
}
