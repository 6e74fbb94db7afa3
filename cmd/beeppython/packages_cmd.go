package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/beep-python/host/pkg/packages"
	"github.com/beep-python/host/pkg/progress"
	"github.com/beep-python/host/pkg/venv"
)

func newPackagesCmd() *cobra.Command {
	var venvName string
	var useConda bool

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Install, remove, upgrade, list, and freeze packages in an environment",
	}
	cmd.PersistentFlags().StringVar(&venvName, "venv", "default", "virtual environment name to operate on")
	cmd.PersistentFlags().BoolVar(&useConda, "conda", false, "use conda instead of pip")

	mgrFor := func(a *app) *packages.Manager {
		pythonPath := venv.Resolve(a.layout.Venv(venvName))
		return packages.New(pythonPath, "conda")
	}

	cmd.AddCommand(
		newPackagesInstallCmd(mgrFor, &useConda),
		newPackagesRemoveCmd(mgrFor, &useConda),
		newPackagesUpgradeCmd(mgrFor, &useConda),
		newPackagesListCmd(mgrFor, &useConda),
		newPackagesFreezeCmd(mgrFor, &useConda),
	)
	return cmd
}

func newPackagesInstallCmd(mgrFor func(*app) *packages.Manager, condaFlag *bool) *cobra.Command {
	var version string
	var profilesCSV string
	var pyprojectAt string
	var useConda bool

	cmd := &cobra.Command{
		Use:   "install [name]",
		Short: "Install a single package, or every package in one or more profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			mgr := mgrFor(a)

			if profilesCSV != "" {
				doc, err := packages.LoadProfiles(a.log, a.layout, pyprojectAt)
				if err != nil {
					return err
				}
				renderer := progress.NewTerminalRenderer("install")
				results, err := mgr.InstallProfiles(cmd.Context(), doc, strings.Split(profilesCSV, ","), func(r progress.PackageReport) {
					renderer.Func()(progress.Report{Percent: r.Current * 100 / r.Total, Message: r.PackageName})
				})
				renderer.Wait()
				if err != nil {
					return err
				}
				fmt.Printf("installed %d package(s)\n", len(results))
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("provide a package name, or --profiles")
			}
			result, err := mgr.Install(cmd.Context(), args[0], version, useConda || *condaFlag)
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "exact version to pin")
	cmd.Flags().StringVar(&profilesCSV, "profiles", "", "comma-separated profile names to install instead of a single package")
	cmd.Flags().StringVar(&pyprojectAt, "pyproject", "", "pyproject.toml path to source additional profiles from")
	cmd.Flags().BoolVar(&useConda, "use-conda", false, "install this package via conda instead of pip")
	return cmd
}

func newPackagesRemoveCmd(mgrFor func(*app) *packages.Manager, useConda *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Uninstall a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			result, err := mgrFor(a).Remove(cmd.Context(), args[0], *useConda)
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func newPackagesUpgradeCmd(mgrFor func(*app) *packages.Manager, useConda *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <name>",
		Short: "Upgrade a package to its latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			result, err := mgrFor(a).Upgrade(cmd.Context(), args[0], *useConda)
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func newPackagesListCmd(mgrFor func(*app) *packages.Manager, useConda *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			records, err := mgrFor(a).ListInstalled(cmd.Context(), *useConda)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Package", "Version"})
			for _, r := range records {
				table.Append([]string{r.Name, r.Version})
			}
			table.Render()
			return nil
		},
	}
}

func newPackagesFreezeCmd(mgrFor func(*app) *packages.Manager, useConda *bool) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Write the environment's exact package set to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			if err := mgrFor(a).Freeze(cmd.Context(), outputPath, *useConda); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "requirements.txt", "file to write the frozen package list to")
	return cmd
}
