package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beep-python/host/pkg/bootstrap"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/packages"
	"github.com/beep-python/host/pkg/progress"
)

func newBootstrapCmd() *cobra.Command {
	var (
		envName     string
		pyVersion   string
		profilesCSV string
		createVenv  bool
		setDefault  bool
		pyprojectAt string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Ensure a complete Python environment exists: interpreter, venv, packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}

			var profiles []string
			if profilesCSV != "" {
				profiles = strings.Split(profilesCSV, ",")
			}

			orch := bootstrap.New(a.layout, a.log, reg, a.sessionVenvInUse, profilesLoader(a, pyprojectAt))

			renderer := progress.NewTerminalRenderer("bootstrap")
			result, err := orch.EnsurePythonEnvironment(cmd.Context(), bootstrap.Options{
				EnsureEmbeddedPython:     true,
				EmbeddedPythonVersion:    pyVersion,
				EnvironmentName:          envName,
				CreateVirtualEnvironment: createVenv,
				PackageProfiles:          profiles,
				SetAsDefault:             setDefault,
			}, renderer.Func())
			renderer.Wait()

			if err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}

			fmt.Printf("environment %q ready\n", envName)
			fmt.Printf("  runtime:   %s\n", result.BaseRuntimeID)
			if result.EnvironmentPath != "" {
				fmt.Printf("  venv:      %s\n", result.EnvironmentPath)
			}
			if len(result.InstalledProfiles) > 0 {
				fmt.Printf("  profiles:  %s\n", strings.Join(result.InstalledProfiles, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "name", "default", "environment name")
	cmd.Flags().StringVar(&pyVersion, "python-version", "3.11.8", "embedded Python version to provision")
	cmd.Flags().StringVar(&profilesCSV, "profiles", "", "comma-separated package profile names to install")
	cmd.Flags().BoolVar(&createVenv, "venv", true, "create a virtual environment for this name")
	cmd.Flags().BoolVar(&setDefault, "set-default", false, "set the provisioned runtime as the registry default")
	cmd.Flags().StringVar(&pyprojectAt, "pyproject", "", "pyproject.toml path to source additional profiles from")
	return cmd
}

// profilesLoader builds the profile-document loader bootstrap.New expects,
// reading the canonical JSON document under the home layout and optionally
// folding in a pyproject.toml-sourced set.
func profilesLoader(a *app, pyprojectPath string) func() (map[string][]model.PackageRequirement, error) {
	return func() (map[string][]model.PackageRequirement, error) {
		return packages.LoadProfiles(a.log, a.layout, pyprojectPath)
	}
}
