// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geluk/matrix-webhook-gateway/pkg/config"
	"github.com/geluk/matrix-webhook-gateway/pkg/pluginhost"
)

func pluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Build, list and clear compiled plugins",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "build <file>",
		Short: "Compile, start and validate a single plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := newRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()
			d, err := runtime.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: contract v%s, artifact %s\n", d.Identifier, d.Contract, d.Artifact.Key)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Load every plugin in the plugin directory and list the ones that work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := newRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()
			runtime.LoadAll(cmd.Context())
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTIFIER\tCONTRACT\tSOURCE")
			for _, ident := range runtime.Identifiers() {
				d, ok := runtime.Lookup(ident)
				if !ok {
					continue
				}
				fmt.Fprintf(tw, "%s\tv%s\t%s\n", d.Identifier, d.Contract, d.Path)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Remove every compiled plugin binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := newRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()
			removed, err := runtime.ClearCache()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached plugins\n", removed)
			return nil
		},
	})
	return cmd
}

func newRuntime() (*pluginhost.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return pluginhost.New(runtimeConfig(cfg), log), nil
}

// runtimeConfig leaves out the chat client. Plugins that send messages from
// hookctl get sdk.ErrNoChat.
func runtimeConfig(cfg *config.Config) pluginhost.Config {
	return pluginhost.Config{
		Dir:            cfg.Plugins.Directory,
		CacheDir:       cfg.Plugins.CachePath(),
		Compiler:       &pluginhost.CommandCompiler{Command: cfg.Plugins.CompileCommand, Log: log},
		Loader:         &pluginhost.ProcessLoader{Log: log},
		CompileWorkers: cfg.Plugins.CompileWorkers,
		ApplyTimeout:   cfg.Plugins.ApplyTimeout,
	}
}
