package cli

import (
	"errors"
	"fmt"
	"strings"

	"crm/cmd/internal/auth/permission"

	"github.com/spf13/cobra"
)

// ErrDenied is returned by `crm can` when the check fails, so scripts can branch on the exit code.
var ErrDenied = errors.New("permission denied")

type canResult struct {
	Allowed      bool     `json:"allowed"`
	Role         string   `json:"role,omitempty"`
	Mode         string   `json:"mode"`
	Capabilities []string `json:"capabilities,omitempty"`
	MinRole      string   `json:"minRole,omitempty"`
}

func newCanCmd(e *env) *cobra.Command {
	var anyOf bool
	var minRole string

	cmd := &cobra.Command{
		Use:   "can [capability...]",
		Short: "Check capabilities or a minimum role for the signed-in user",
		Long: `Check whether the signed-in role holds the given capabilities (all of them, or any with
--any) and, with --min-role, whether it meets that role. Exits non-zero when denied.

Only tokens are stored locally, so the role is resolved with one call to the Identity Service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := permission.Capabilities(args...)
			if len(caps) == 0 && minRole == "" {
				return errors.New("name at least one capability or --min-role")
			}
			var minimum permission.Role
			if minRole != "" {
				r, ok := permission.ParseRole(minRole)
				if !ok {
					return fmt.Errorf("unknown role %q (want one of %s)", minRole, roleList())
				}
				minimum = r
			}

			rt, err := e.restored(cmd.Context())
			if err != nil {
				return err
			}
			sess := rt.Session
			st := sess.Snapshot()
			if !st.HasTokens() {
				return ErrNotSignedIn
			}
			if st.User == nil {
				if err := sess.GetMe(cmd.Context()); err != nil {
					return err
				}
			}

			res := canResult{Allowed: true, Mode: "all", MinRole: minimum.String()}
			if anyOf {
				res.Mode = "any"
			}
			if role, ok := sess.Role(); ok {
				res.Role = role.String()
			}
			if len(caps) > 0 {
				res.Capabilities = args
				if anyOf {
					res.Allowed = sess.HasAnyCapability(caps...)
				} else {
					res.Allowed = sess.HasAllCapabilities(caps...)
				}
			}
			if minimum != "" {
				res.Allowed = res.Allowed && sess.MeetsMinimumRole(minimum)
			}

			if e.jsonOut {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Allowed {
				fmt.Fprintf(cmd.OutOrStdout(), "allowed (%s)\n", res.Role)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "denied (%s)\n", res.Role)
			}
			if !res.Allowed {
				return ErrDenied
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&anyOf, "any", false, "allow when any capability is held")
	cmd.Flags().StringVar(&minRole, "min-role", "", "least privileged role allowed")
	return cmd
}

func roleList() string {
	roles := permission.Roles()
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.String())
	}
	return strings.Join(out, ", ")
}
