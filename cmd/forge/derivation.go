// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/store"
)

func newDerivationCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "derivation COMMAND",
		Short:                 "query derivation files already in the store",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(
		newDerivationShowCommand(g),
		newDerivationDepsCommand(g),
	)
	return c
}

func newDerivationShowCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "show DRV-PATH",
		Short:                 "print the resolved contents of a .drv file",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runDerivationShow(g, args[0])
	}
	return c
}

func runDerivationShow(g *globalConfig, rawPath string) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	p, err := store.ParsePath(st.Directory(), rawPath)
	if err != nil {
		return err
	}
	data, err := st.Read(p)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newDerivationDepsCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "deps DRV-PATH",
		Short:                 "list the transitive derivation closure of a .drv file",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runDerivationDeps(g, args[0])
	}
	return c
}

func runDerivationDeps(g *globalConfig, rawPath string) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	root, err := store.ParsePath(st.Directory(), rawPath)
	if err != nil {
		return err
	}

	seen := map[store.Path]struct{}{}
	var walk func(store.Path) error
	walk = func(p store.Path) error {
		if _, ok := seen[p]; ok {
			return nil
		}
		seen[p] = struct{}{}
		file, err := drv.Read(st, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		for inputDrvPath := range file.InputDrvs {
			if err := walk(store.Path(inputDrvPath)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return err
	}

	delete(seen, root)
	for p := range seen {
		fmt.Println(p)
	}
	return nil
}
