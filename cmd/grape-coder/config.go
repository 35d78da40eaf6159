package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lmandrelli/grape-coder/internal/config"
	"github.com/lmandrelli/grape-coder/internal/tui"
)

var (
	initDefaults bool
	initGlobal   bool
	initForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively, or with --defaults",
	Long: `Create a config file. Without --defaults a form asks for the agent
providers, models and loop limits, and lets you pick the global or project
file. With --defaults the built-in configuration is written as is.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configInitCmd.Flags().BoolVar(&initDefaults, "defaults", false, "write the built-in defaults without asking")
	configInitCmd.Flags().BoolVar(&initGlobal, "global", false, "with --defaults, write the global file instead of the project file")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

func configPaths() (global, project string, err error) {
	global, err = config.GlobalPath()
	if err != nil {
		return "", "", err
	}
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return "", "", err
	}
	return global, projectConfigPath(dir), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	global, project, err := configPaths()
	if err != nil {
		return err
	}

	if initDefaults {
		path := project
		if initGlobal {
			path = global
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	}

	cfg, err := config.Load(global, project)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path, err := tui.RunSettings(cfg, global, project)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	global, project, err := configPaths()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range []struct{ name, path string }{{"global", global}, {"project", project}} {
		state := "missing"
		if _, err := os.Stat(p.path); err == nil {
			state = "present"
		} else if !errors.Is(err, os.ErrNotExist) {
			state = err.Error()
		}
		fmt.Fprintf(out, "%-8s %s (%s)\n", p.name, p.path, state)
	}
	return nil
}
