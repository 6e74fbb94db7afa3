package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/beep-python/host/pkg/model"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and manage known Python runtimes",
	}
	cmd.AddCommand(
		newRegistryListCmd(),
		newRegistryGetCmd(),
		newRegistrySetDefaultCmd(),
		newRegistryDiscoverCmd(),
		newRegistryDeleteCmd(),
	)
	return cmd
}

func newRegistryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every runtime this host knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}

			def, _ := reg.GetDefault()
			runtimes := reg.List()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Origin", "Version", "State", "Default"})
			for _, rt := range runtimes {
				isDefault := ""
				if rt.ID == def.ID {
					isDefault = "*"
				}
				table.Append([]string{rt.ID, rt.Name, string(rt.Origin), rt.Version, string(rt.State), isDefault})
			}
			table.Render()
			return nil
		},
	}
}

func newRegistryGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one runtime's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			rt, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			printRuntime(rt)
			return nil
		},
	}
}

func newRegistrySetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <id>",
		Short: "Mark a runtime as the default used when no environment is named",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			if err := reg.SetDefault(args[0]); err != nil {
				return err
			}
			fmt.Printf("default runtime set to %s\n", args[0])
			return nil
		},
	}
}

func newRegistryDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Re-probe the machine for system Python interpreters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			found, err := reg.Discover(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d runtime(s) known after discovery\n", len(found))
			return nil
		},
	}
}

func newRegistryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a managed runtime's registry record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			if err := reg.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted runtime %s\n", args[0])
			return nil
		},
	}
}

func printRuntime(rt model.PythonRuntime) {
	fmt.Printf("id:       %s\n", rt.ID)
	fmt.Printf("name:     %s\n", rt.Name)
	fmt.Printf("origin:   %s\n", rt.Origin)
	fmt.Printf("path:     %s\n", rt.Path)
	fmt.Printf("version:  %s\n", rt.Version)
	fmt.Printf("state:    %s\n", rt.State)
	fmt.Printf("managed:  %v\n", rt.IsManaged)
	if len(rt.Warnings) > 0 {
		fmt.Printf("warnings: %v\n", rt.Warnings)
	}
	if len(rt.Errors) > 0 {
		fmt.Printf("errors:   %v\n", rt.Errors)
	}
}
