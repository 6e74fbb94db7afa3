package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/beep-python/host/pkg/model"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open, close, and sweep execution sessions",
	}
	cmd.AddCommand(
		newSessionOpenCmd(),
		newSessionCloseCmd(),
		newSessionSweepCmd(),
		newSessionListCmd(),
	)
	return cmd
}

func newSessionOpenCmd() *cobra.Command {
	var principal, environment string
	var forceNew bool
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open (or reuse) a session for a principal against an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if principal == "" || environment == "" {
				return fmt.Errorf("--principal and --environment are required")
			}
			a := appFromContext(cmd)
			s, err := a.sessionManager().GetOrCreate(principal, environment, forceNew)
			if err != nil {
				return err
			}

			eng := a.executionEngine()
			scope, err := a.sessionManager().CreateScope(s.ID, eng.MintScope)
			if err != nil {
				return err
			}

			fmt.Printf("session:   %s\n", s.ID)
			fmt.Printf("state:     %s\n", s.State)
			fmt.Printf("scope set: %v\n", scope != nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "caller identity the session is scoped to")
	cmd.Flags().StringVar(&environment, "environment", "", "environment id (venv or runtime) the session is bound to")
	cmd.Flags().BoolVar(&forceNew, "force-new", false, "always create a fresh session instead of reusing an Active one")
	return cmd
}

func newSessionCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			if err := a.sessionManager().Terminate(args[0], model.ExitCompleted); err != nil {
				return err
			}
			fmt.Printf("closed session %s\n", args[0])
			return nil
		},
	}
}

func newSessionSweepCmd() *cobra.Command {
	var maxIdle time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Terminate every session idle longer than the given duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			swept := a.sessionManager().Sweep(maxIdle)
			fmt.Printf("swept %d session(s)\n", len(swept))
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxIdle, "max-idle", 30*time.Minute, "idle threshold past which a session is terminated")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every session this process knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd)
			sessions := a.sessionManager().List()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Principal", "Environment", "State", "Last Activity"})
			for _, s := range sessions {
				table.Append([]string{
					s.ID,
					s.PrincipalID,
					s.EnvironmentID,
					string(s.State),
					s.LastActivity.Format(time.RFC3339),
				})
			}
			table.Render()
			return nil
		},
	}
}
