// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
	"golang.org/x/term"

	"github.com/forgebuild/forge/internal/buildlog"
	"github.com/forgebuild/forge/realize"
	"github.com/forgebuild/forge/store"
)

// globalConfig is the merged configuration shared by every subcommand:
// defaults, then FORGE_* environment variables, then a HuJSON config
// file, then command-line flags, each layer overriding the last.
type globalConfig struct {
	StoreDir       string `json:"storeDirectory"`
	Sandbox        string `json:"sandbox"`
	ContainerImage string `json:"containerImage"`
	Network        bool   `json:"network"`
	Verbose        bool   `json:"verbose"`
	BuildLogPath   string `json:"buildLog"`
	ConfigFile     string `json:"-"`
}

func defaultGlobalConfig() *globalConfig {
	return &globalConfig{
		StoreDir: "/forge/store",
		Sandbox:  realize.SandboxContainer,
		// A builder's stdio is only worth passing through directly when
		// there's an interactive terminal to show it on; piped/redirected
		// stdout falls back to the realizer's buffer-and-report-on-failure
		// behavior.
		Verbose:      term.IsTerminal(int(os.Stdout.Fd())),
		BuildLogPath: filepath.Join(defaultVarDir(), "buildlog.db"),
		ConfigFile:   filepath.Join(defaultConfigDir(), "config.json"),
	}
}

func (g *globalConfig) mergeEnvironment() error {
	if path := os.Getenv("FORGE_CONFIG"); path != "" {
		g.ConfigFile = path
	}
	if dir := os.Getenv("FORGE_STORE_DIR"); dir != "" {
		g.StoreDir = dir
	}
	if sandbox := os.Getenv("FORGE_SANDBOX"); sandbox != "" {
		g.Sandbox = sandbox
	}
	if image := os.Getenv("FORGE_CONTAINER_IMAGE"); image != "" {
		g.ContainerImage = image
	}
	if os.Getenv("FORGE_NETWORK") == "1" {
		g.Network = true
	}
	if os.Getenv("FORGE_VERBOSE") == "1" {
		g.Verbose = true
	}
	if p := os.Getenv("FORGE_BUILD_LOG"); p != "" {
		g.BuildLogPath = p
	}
	return nil
}

// configFilesToTry returns the sequence of config file candidates to
// merge, in order, for a given config file path (empty meaning "use
// the default path").
func configFilesToTry(explicit string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if explicit != "" {
			yield(explicit)
			return
		}
		yield(filepath.Join(defaultConfigDir(), "config.json"))
	}
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

// UnmarshalJSONFrom unmarshals the configuration object from the JSON
// decoder, merging any fields present in the object with g's existing
// values rather than zeroing unset ones.
func (g *globalConfig) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
			// Keep going.
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "storeDirectory":
			if err := jsonv2.UnmarshalDecode(in, &g.StoreDir); err != nil {
				return fmt.Errorf("unmarshal config.storeDirectory: %w", err)
			}
		case "sandbox":
			if err := jsonv2.UnmarshalDecode(in, &g.Sandbox); err != nil {
				return fmt.Errorf("unmarshal config.sandbox: %w", err)
			}
		case "containerImage":
			if err := jsonv2.UnmarshalDecode(in, &g.ContainerImage); err != nil {
				return fmt.Errorf("unmarshal config.containerImage: %w", err)
			}
		case "network":
			if err := jsonv2.UnmarshalDecode(in, &g.Network); err != nil {
				return fmt.Errorf("unmarshal config.network: %w", err)
			}
		case "verbose":
			if err := jsonv2.UnmarshalDecode(in, &g.Verbose); err != nil {
				return fmt.Errorf("unmarshal config.verbose: %w", err)
			}
		case "buildLog":
			if err := jsonv2.UnmarshalDecode(in, &g.BuildLogPath); err != nil {
				return fmt.Errorf("unmarshal config.buildLog: %w", err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
		}
	}
}

func (g *globalConfig) validate() error {
	if !filepath.IsAbs(g.StoreDir) {
		return fmt.Errorf("store directory %q is not absolute", g.StoreDir)
	}
	switch g.Sandbox {
	case realize.SandboxContainer, realize.SandboxNone:
	default:
		return fmt.Errorf("sandbox %q must be %q or %q", g.Sandbox, realize.SandboxContainer, realize.SandboxNone)
	}
	return nil
}

func (g *globalConfig) realizeConfig() realize.Config {
	return realize.Config{
		Sandbox:        g.Sandbox,
		ContainerImage: g.ContainerImage,
		Network:        g.Network,
		Verbose:        g.Verbose,
	}
}

// openStore opens the store directory named by g, creating it if
// necessary.
func (g *globalConfig) openStore() (*store.Store, error) {
	dir, err := store.NewDirectory(g.StoreDir)
	if err != nil {
		return nil, err
	}
	return store.Open(dir)
}

// openBuildLog opens the build log database named by g. Callers must
// close it when done.
func (g *globalConfig) openBuildLog() (*buildlog.Log, error) {
	if err := os.MkdirAll(filepath.Dir(g.BuildLogPath), 0o755); err != nil {
		return nil, err
	}
	return buildlog.Open(g.BuildLogPath), nil
}

// defaultConfigDir returns the directory forge's config file lives in
// by default.
func defaultConfigDir() string {
	if d := xdgdir.Config.Path(); d != "" {
		return filepath.Join(d, "forge")
	}
	return "/etc/forge"
}

// defaultVarDir returns the directory forge's mutable runtime state
// (like the build log) lives in by default.
func defaultVarDir() string {
	if d := xdgdir.Cache.Path(); d != "" {
		return filepath.Join(d, "forge")
	}
	return "/var/lib/forge"
}
