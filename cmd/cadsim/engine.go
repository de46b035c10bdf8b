package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/cadsim/internal/backends"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/viz"
)

// engineCmd manages engine configuration files loaded with run --engine.
func engineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "manage engine configuration",
	}

	var (
		initBackend   string
		initProcesses int
		force         bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write an engine configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "engine.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			cfg := config.DefaultEngine()
			if initBackend != "" {
				cfg.Backend = config.Backend(initBackend)
			}
			if initProcesses > 0 {
				cfg.Processes = initProcesses
			}
			if err := writeEngine(path, cfg, force); err != nil {
				return err
			}
			fmt.Println(viz.StatusOK.Render("wrote"), path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initBackend, "backend", "", "executor backend")
	initCmd.Flags().IntVar(&initProcesses, "processes", 0, "parallel workers")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "list executor backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBackends(os.Stdout)
		},
	}

	cmd.AddCommand(initCmd, backendsCmd)
	return cmd
}

// writeEngine validates cfg and saves it to path. An existing file is kept
// unless force is set.
func writeEngine(path string, cfg *config.Engine, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveEngine(path, cfg)
}

func listBackends(w io.Writer) error {
	for _, b := range config.Backends() {
		status := viz.StatusOK.Render("available")
		if !backends.Registered(b) {
			status = viz.StatusFailed.Render("no executor")
		}
		note := ""
		if b == config.DefaultBackend {
			note = viz.Subtle.Render(" (default)")
		}
		if _, err := fmt.Fprintf(w, "%-16s %s%s\n", b, status, note); err != nil {
			return err
		}
	}
	return nil
}
