package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/beep-python/host/pkg/engine"
	"github.com/beep-python/host/pkg/progress"
	"github.com/beep-python/host/pkg/venv"
)

func newExecCmd() *cobra.Command {
	var sessionID, venvName, scriptPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run code or a script against a session, with live progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}

			code := ""
			switch {
			case scriptPath != "":
				data, err := os.ReadFile(scriptPath)
				if err != nil {
					return fmt.Errorf("reading script: %w", err)
				}
				code = string(data)
			case len(args) == 1:
				code = args[0]
			default:
				return fmt.Errorf("provide code as an argument or --script")
			}

			a := appFromContext(cmd)
			scope, err := a.sessionManager().GetScope(sessionID)
			if err != nil {
				return err
			}

			pythonPath := venv.Resolve(a.layout.Venv(venvName))
			renderer := progress.NewTerminalRenderer("exec")
			result, err := a.executionEngine().Execute(cmd.Context(), engine.Request{
				PythonPath: pythonPath,
				Scope:      scope,
				Code:       code,
				Timeout:    timeout,
				Progress:   renderer.Func(),
			})
			renderer.Wait()

			if result.HostKilled {
				if termErr := a.sessionManager().Terminate(sessionID, result.ExitKind); termErr != nil {
					a.log.Logf("terminating session %s after host kill: %v", sessionID, termErr)
				}
			}

			if result.Stdout != "" {
				fmt.Print(result.Stdout)
			}
			if result.Stderr != "" {
				fmt.Fprint(os.Stderr, result.Stderr)
			}
			if err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to execute against")
	cmd.Flags().StringVar(&venvName, "venv", "default", "virtual environment whose interpreter should run this code")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a script file to run instead of inline code")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout (0 = no timeout)")
	return cmd
}
