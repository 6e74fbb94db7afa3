package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/engine"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/registry"
	"github.com/beep-python/host/pkg/session"
	"github.com/beep-python/host/pkg/venv"
)

// app holds the shared, lazily-initialized state every subcommand needs.
// Subcommands reach it through the *cobra.Command's context rather than a
// package-level global, so tests could construct an isolated app per case.
type app struct {
	layout home.Layout
	log    *bplog.Logger

	mu       sync.Mutex
	reg      *registry.Registry
	sessions *session.Manager
	eng      *engine.Engine
	venvs    *venv.Manager
}

type appKey struct{}

func appFromContext(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

// registry returns the process's Registry, initializing it (loading the
// on-disk document, auto-discovering system interpreters on first run) the
// first time any command needs it.
func (a *app) registry(ctx context.Context) (*registry.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg == nil {
		a.reg = registry.New(a.layout, a.log)
		if err := a.reg.Initialize(ctx); err != nil {
			a.reg = nil
			return nil, err
		}
	}
	return a.reg, nil
}

func (a *app) sessionManager() *session.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions == nil {
		a.sessions = session.New(a.log, a.environmentExists)
	}
	return a.sessions
}

// environmentExists reports whether envID names a registered environment: a
// tracked virtual environment, or a runtime usable directly with no venv
// layered over it. Consulted by session.Manager.GetOrCreate before minting a
// session.
func (a *app) environmentExists(envID string) bool {
	reg, err := a.registry(context.Background())
	if err != nil {
		return false
	}
	return reg.EnvironmentExists(envID)
}

func (a *app) venvManager() *venv.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.venvs == nil {
		a.venvs = venv.New(a.sessionVenvInUse)
	}
	return a.venvs
}

// sessionVenvInUse reports whether any Active session currently targets the
// venv at path, consulted by venv.Manager.Delete before it removes one. CLI
// commands open sessions with the venv's name as its environment id, so this
// resolves each Active session's id back through the layout the same way
// venv create/delete do and compares the resulting path.
func (a *app) sessionVenvInUse(path string) bool {
	if a.sessions == nil {
		return false
	}
	for _, s := range a.sessions.List() {
		if s.State != model.SessionActive {
			continue
		}
		if a.layout.Venv(s.EnvironmentID) == path {
			return true
		}
	}
	return false
}

func (a *app) executionEngine() *engine.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		a.eng = engine.New()
	}
	return a.eng
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "beeppython",
		Short: "Operate a local Python runtime host",
		Long: "beeppython bootstraps embedded Python interpreters, manages the\n" +
			"runtime registry and virtual environments, and runs code against\n" +
			"long-lived sessions with live progress reporting.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			homeDir := viper.GetString("home")
			if homeDir == "" {
				a.layout = home.Default()
			} else {
				a.layout = home.New(homeDir)
			}
			a.log = bplog.New(bplog.Options{Debug: viper.GetBool("debug"), JSON: viper.GetBool("json-logs")})

			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}

	root.PersistentFlags().String("home", "", "beep-python home directory (default: ${userHome}/.beep-python)")
	root.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	root.PersistentFlags().Bool("json-logs", false, "emit structured JSON logs instead of console output")
	_ = viper.BindPFlag("home", root.PersistentFlags().Lookup("home"))
	_ = viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("json-logs", root.PersistentFlags().Lookup("json-logs"))
	viper.SetEnvPrefix("beeppython")
	viper.AutomaticEnv()

	root.AddCommand(
		newBootstrapCmd(),
		newRegistryCmd(),
		newVenvCmd(),
		newSessionCmd(),
		newPackagesCmd(),
		newExecCmd(),
	)
	return root
}
