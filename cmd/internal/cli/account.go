package cli

import (
	"fmt"

	"crm/cmd/internal/auth/identity"

	"github.com/spf13/cobra"
)

func newForgotPasswordCmd(e *env) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := e.runtime(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := rt.Session.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newResetPasswordCmd(e *env) *cobra.Command {
	var token, password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with an emailed reset token",
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
			msg, err := rt.Session.ResetPassword(cmd.Context(), token, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "reset token from the email")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the new password from stdin")
	return cmd
}

func newCompaniesCmd(e *env) *cobra.Command {
	var q identity.CompanyQuery

	cmd := &cobra.Command{
		Use:   "companies",
		Short: "Search the company directory for a company to join",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := e.restored(cmd.Context())
			if err != nil {
				return err
			}
			page, err := rt.Session.ListCompanies(cmd.Context(), q)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return printJSON(cmd.OutOrStdout(), page)
			}

			t := newTable(cmd.OutOrStdout(), "id", "name", "industry", "size")
			for _, c := range page.Companies {
				t.add(c.ID, c.Name, c.Industry, c.Size)
			}
			if err := t.render(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(page.Companies), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Search, "search", "", "name filter")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "page size")
	return cmd
}
