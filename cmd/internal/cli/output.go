package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/stream"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSession renders a snapshot. Tokens are never printed.
func printSession(w io.Writer, st session.State, asJSON bool) error {
	if asJSON {
		return printJSON(w, stream.Payload(st))
	}

	if st.User == nil {
		fmt.Fprintf(w, "status:   %s\n", st.Status)
		if st.HasTokens() {
			fmt.Fprintln(w, "tokens:   present (not validated)")
		}
		return nil
	}

	u := st.User
	name := u.Name
	if name == "" {
		name = u.Email
	}
	fmt.Fprintf(w, "user:     %s <%s>\n", name, u.Email)
	fmt.Fprintf(w, "role:     %s\n", u.Role)
	if c := st.Company; c != nil {
		fmt.Fprintf(w, "company:  %s", c.Name)
		if c.SubscriptionTier != "" {
			fmt.Fprintf(w, " (%s)", c.SubscriptionTier)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "status:   %s\n", st.Status)
	if caps := stream.Payload(st).Capabilities; len(caps) > 0 {
		fmt.Fprintf(w, "can:      %s\n", strings.Join(caps, ", "))
	}
	return nil
}
