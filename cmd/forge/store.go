// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStoreCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "store COMMAND",
		Short:                 "inspect and populate the store",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(
		newStoreAddSourceCommand(g),
		newStoreListCommand(g),
	)
	return c
}

type storeAddSourceOptions struct {
	path string
	name string
}

func newStoreAddSourceCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "add-source [options] PATH",
		Short:                 "hash a local file into the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(storeAddSourceOptions)
	c.Flags().StringVar(&opts.name, "name", "", "store object `name`; defaults to the base name of PATH")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.path = args[0]
		return runStoreAddSource(cmd.Context(), g, opts)
	}
	return c
}

func runStoreAddSource(ctx context.Context, g *globalConfig, opts *storeAddSourceOptions) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	p, err := st.AddSource(ctx, opts.path, opts.name)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

func newStoreListCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "list",
		Short:                 "list every object in the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runStoreList(g)
	}
	return c
}

func runStoreList(g *globalConfig) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	names, err := st.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
