// Package cli implements the crm command: one operator's session driven from the terminal.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"crm/cmd/internal/app"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion sets the version string reported by `crm version`.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// RuntimeFactory builds the session runtime for one invocation.
type RuntimeFactory func(ctx context.Context, cfg app.Config, log *slog.Logger) (*app.Runtime, error)

// Option configures the command tree.
type Option func(*env)

// WithRuntimeFactory replaces app.BuildRuntime.
func WithRuntimeFactory(f RuntimeFactory) Option {
	return func(e *env) {
		if f != nil {
			e.factory = f
		}
	}
}

// WithConfig replaces the environment-loaded config.
func WithConfig(cfg app.Config) Option {
	return func(e *env) { e.fixed = &cfg }
}

// env is the per-invocation state shared by subcommands.
type env struct {
	factory RuntimeFactory
	fixed   *app.Config

	profile     string
	stateDir    string
	identityURL string
	logLevel    string
	logFormat   string
	jsonOut     bool

	cfg app.Config
	log *slog.Logger
	rt  *app.Runtime
}

// NewRootCmd returns a fresh command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	e := &env{
		factory: func(ctx context.Context, cfg app.Config, log *slog.Logger) (*app.Runtime, error) {
			return app.BuildRuntime(ctx, cfg, log)
		},
	}
	for _, o := range opts {
		o(e)
	}

	root := &cobra.Command{
		Use:   "crm",
		Short: "CRM console session client",
		Long: `crm signs an operator into the CRM Identity Service, keeps the session's tokens
in the local token store and answers permission questions for the signed-in role.

Example usage:
  crm login --email dana@example.com --password-stdin
  crm whoami
  crm can view_reports export_data
  crm serve --addr 127.0.0.1:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if e.rt != nil {
				e.rt.Close()
				e.rt = nil
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&e.profile, "profile", "", "session profile (default $CRM_PROFILE or \"default\")")
	pf.StringVar(&e.stateDir, "state-dir", "", "token state directory (default $CRM_STATE_DIR)")
	pf.StringVar(&e.identityURL, "identity-url", "", "Identity Service base URL (default $CRM_IDENTITY_BASE_URL)")
	pf.StringVar(&e.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&e.logFormat, "log-format", "", "log format: json or pretty")
	pf.BoolVar(&e.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newLoginCmd(e),
		newRegisterCmd(e),
		newLogoutCmd(e),
		newWhoamiCmd(e),
		newRefreshCmd(e),
		newCanCmd(e),
		newForgotPasswordCmd(e),
		newResetPasswordCmd(e),
		newCompaniesCmd(e),
		newServeCmd(e),
		newVersionCmd(),
	)
	return root
}

// Execute runs the crm command tree.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// init resolves config with flag overrides and sets up logging. Interactive commands log at warn
// in the pretty format unless told otherwise.
func (e *env) init(cmd *cobra.Command) error {
	if e.fixed != nil {
		e.cfg = *e.fixed
	} else {
		e.cfg = app.LoadConfig()
	}

	if e.profile != "" {
		e.cfg.Profile = e.profile
	}
	if e.stateDir != "" {
		e.cfg.StateDir = e.stateDir
	}
	if e.identityURL != "" {
		e.cfg.Identity.BaseURL = e.identityURL
	}

	interactive := cmd.Name() != "serve"
	level := e.cfg.LogLevel
	switch {
	case e.logLevel != "":
		level = e.logLevel
	case interactive && os.Getenv("CRM_LOG_LEVEL") == "":
		level = "warn"
	}
	format := e.cfg.LogFormat
	switch {
	case e.logFormat != "":
		format = e.logFormat
	case interactive && os.Getenv("CRM_LOG_FORMAT") == "":
		format = "pretty"
	}
	e.cfg.LogLevel, e.cfg.LogFormat = level, format
	e.log = app.NewLogger(cmd.ErrOrStderr(), level, format)
	return nil
}

// runtime builds the session runtime once per invocation.
func (e *env) runtime(ctx context.Context) (*app.Runtime, error) {
	if e.rt != nil {
		return e.rt, nil
	}
	rt, err := e.factory(ctx, e.cfg, e.log)
	if err != nil {
		return nil, fmt.Errorf("session runtime: %w", err)
	}
	e.rt = rt
	return rt, nil
}

// restored returns the runtime with the persisted session loaded.
func (e *env) restored(ctx context.Context) (*app.Runtime, error) {
	rt, err := e.runtime(ctx)
	if err != nil {
		return nil, err
	}
	rt.Session.InitializeAuth(ctx)
	return rt, nil
}

// readSecret returns the flag value, or the first line of stdin when fromStdin is set.
func readSecret(cmd *cobra.Command, value string, fromStdin bool, name string) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("reading %s from stdin: %w", name, err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if value == "" {
		return "", errors.New(name + " is required (use --" + name + " or --" + name + "-stdin)")
	}
	return value, nil
}
