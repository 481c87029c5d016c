package cli

import (
	"fmt"
	"runtime"

	"crm/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd(e *env) *cobra.Command {
	var addr string
	var allowRemote bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console server for this profile's session",
		Long: `Run the localhost console: guarded views, the session API, the websocket session
stream on /ws/session, health checks and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				e.cfg.HTTPAddr = addr
			}
			if allowRemote {
				e.cfg.AllowRemote = true
			}
			if err := app.ValidateConfig(e.cfg); err != nil {
				return err
			}
			rt, err := e.runtime(cmd.Context())
			if err != nil {
				return err
			}
			return app.New(rt).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $CRM_HTTP_ADDR)")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "permit a non-loopback listen address")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "crm %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
