package cli

import (
	"errors"
	"fmt"

	"crm/cmd/internal/auth/session"

	"github.com/spf13/cobra"
)

// ErrNotSignedIn is returned by commands that need a session when none is held.
var ErrNotSignedIn = errors.New("not signed in")

func newLoginCmd(e *env) *cobra.Command {
	var email, password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd, password, passwordStdin, "password")
			if err != nil {
				return err
			}
			rt, err := e.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Session.Login(cmd.Context(), email, pw); err != nil {
				return err
			}
			st := rt.Session.Snapshot()
			if e.jsonOut {
				return printSession(cmd.OutOrStdout(), st, true)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s).\n", st.User.Email, st.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newRegisterCmd(e *env) *cobra.Command {
	var reg session.Registration
	var company session.CreateCompany
	var join session.JoinCompany
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account, creating or joining a company",
		Long: `Create an account and sign in.

Pass --company-name to create a new company, or --company-id / --invite-key to join one.
An invite key takes precedence over a company id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd, reg.Password, passwordStdin, "password")
			if err != nil {
				return err
			}
			r := reg
			r.Password = pw
			if company.Name != "" {
				c := company
				r.CreateCompany = &c
			}
			if join.CompanyID != "" || join.InviteKey != "" {
				j := join
				r.JoinCompany = &j
			}

			rt, err := e.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Session.Register(cmd.Context(), r); err != nil {
				return err
			}
			st := rt.Session.Snapshot()
			if e.jsonOut {
				return printSession(cmd.OutOrStdout(), st, true)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and signed in as %s (%s).\n", st.User.Email, st.User.Role)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "full name")
	f.StringVar(&reg.Email, "email", "", "account email")
	f.StringVar(&reg.Password, "password", "", "account password")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	f.StringVar(&company.Name, "company-name", "", "name of the company to create")
	f.StringVar(&company.Industry, "industry", "", "industry of the new company")
	f.StringVar(&company.Size, "company-size", "", "size band of the new company")
	f.StringVar(&company.Website, "website", "", "website of the new company")
	f.StringVar(&company.Timezone, "timezone", "", "IANA time zone of the new company")
	f.StringVar(&company.Currency, "currency", "", "ISO 4217 currency of the new company")
	f.StringVar(&join.CompanyID, "company-id", "", "id of the company to join")
	f.StringVar(&join.InviteKey, "invite-key", "", "invite key of the company to join")
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := e.restored(cmd.Context())
			if err != nil {
				return err
			}
			// Local state is cleared even when the remote call fails.
			_ = rt.Session.Logout(cmd.Context())
			if !e.jsonOut {
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			}
			return printSession(cmd.OutOrStdout(), rt.Session.Snapshot(), true)
		},
	}
}

func newWhoamiCmd(e *env) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, validating stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := e.restored(cmd.Context())
			if err != nil {
				return err
			}
			st := rt.Session.Snapshot()
			if !st.HasTokens() {
				return ErrNotSignedIn
			}
			if !offline {
				if err := rt.Session.GetMe(cmd.Context()); err != nil {
					return err
				}
				st = rt.Session.Snapshot()
			}
			return printSession(cmd.OutOrStdout(), st, e.jsonOut)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "show stored state without calling the Identity Service")
	return cmd
}

func newRefreshCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := e.restored(cmd.Context())
			if err != nil {
				return err
			}
			if !rt.Session.Snapshot().HasTokens() {
				return ErrNotSignedIn
			}
			if err := rt.Session.RefreshToken(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tokens refreshed.")
			return nil
		},
	}
}
