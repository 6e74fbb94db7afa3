package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVenvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venv",
		Short: "Create, clone, and delete virtual environments",
	}
	cmd.AddCommand(
		newVenvCreateCmd(),
		newVenvCloneCmd(),
		newVenvDeleteCmd(),
	)
	return cmd
}

func newVenvCreateCmd() *cobra.Command {
	var runtimeID string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a virtual environment layered over a registered runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			if runtimeID == "" {
				def, err := reg.GetDefault()
				if err != nil {
					return err
				}
				runtimeID = def.ID
			}
			rt, err := reg.Get(runtimeID)
			if err != nil {
				return err
			}

			path := a.layout.Venv(args[0])
			if err := a.venvManager().Create(cmd.Context(), rt, path); err != nil {
				return err
			}
			if _, err := reg.RegisterVirtualEnvironment(args[0], rt.ID, path, "cli"); err != nil {
				return err
			}
			fmt.Printf("created venv %q at %s\n", args[0], path)
			return nil
		},
	}
	cmd.Flags().StringVar(&runtimeID, "runtime", "", "base runtime id (default: the registry default)")
	return cmd
}

func newVenvCloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <source-name> <dest-name>",
		Short: "Clone an existing virtual environment under a new name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			source, err := reg.GetVirtualEnvironment(args[0])
			if err != nil {
				return err
			}

			src := a.layout.Venv(args[0])
			dst := a.layout.Venv(args[1])
			if err := a.venvManager().Clone(src, dst); err != nil {
				return err
			}
			if _, err := reg.RegisterVirtualEnvironment(args[1], source.BaseRuntimeID, dst, "cli"); err != nil {
				return err
			}
			fmt.Printf("cloned venv %q to %q at %s\n", args[0], args[1], dst)
			return nil
		},
	}
}

func newVenvDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a virtual environment, refusing if any session is active on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}

			path := a.layout.Venv(args[0])
			if err := a.venvManager().Delete(path); err != nil {
				return err
			}
			if err := reg.DeleteVirtualEnvironment(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted venv %q\n", args[0])
			return nil
		},
	}
}
