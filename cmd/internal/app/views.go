package app

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/session"
)

var pageTemplates = template.Must(template.New("layout").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} · CRM</title></head>
<body>
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if eq .Kind "login"}}
<h1>Sign in</h1>
<form method="post" action="/login">
  <input type="hidden" name="next" value="{{.Next}}">
  <label>Email <input type="email" name="email" value="{{.Email}}" required></label>
  {{with index .Fields "email"}}<small>{{.}}</small>{{end}}
  <label>Password <input type="password" name="password" required></label>
  {{with index .Fields "password"}}<small>{{.}}</small>{{end}}
  <button type="submit">Sign in</button>
</form>
{{else}}
<header>
  <strong>{{.Title}}</strong>
  {{with .User}}<span>{{.Name}} ({{.Role}})</span>{{end}}
  {{with .Company}}<span>{{.Name}}</span>{{end}}
  <form method="post" action="/logout"><button type="submit">Sign out</button></form>
</header>
<nav>{{range .Nav}}<a href="{{.Path}}">{{.Label}}</a> {{end}}</nav>
<ul>{{range .Capabilities}}<li>{{.}}</li>{{end}}</ul>
{{end}}
</body>
</html>`))

type page struct {
	Kind   string
	Title  string
	Notice string
	Error  string

	Next   string
	Email  string
	Fields map[string]string

	User         *session.User
	Company      *session.Company
	Nav          []navItem
	Capabilities []permission.Capability
}

type navItem struct {
	Path  string
	Label string
}

// consoleView is one guarded placeholder page.
type consoleView struct {
	Path         string
	Title        string
	MinRole      permission.Role
	Capabilities []permission.Capability
}

var consoleViews = []consoleView{
	{Path: "/dashboard", Title: "Dashboard"},
	{Path: "/customers", Title: "Customers", Capabilities: []permission.Capability{permission.ViewCustomers}},
	{Path: "/reports", Title: "Reports", MinRole: permission.RoleManager},
	{Path: "/settings/company", Title: "Company settings", MinRole: permission.RoleAdmin},
	{Path: "/admin", Title: "Administration", MinRole: permission.RoleSuperAdmin},
}

// navFor lists the views the current user may open; hidden links mirror the guard's checks.
func navFor(c *session.Controller) []navItem {
	var out []navItem
	for _, v := range consoleViews {
		if v.MinRole != "" && !c.MeetsMinimumRole(v.MinRole) {
			continue
		}
		if len(v.Capabilities) > 0 && !c.HasAllCapabilities(v.Capabilities...) {
			continue
		}
		out = append(out, navItem{Path: v.Path, Label: v.Title})
	}
	return out
}

func renderPage(w http.ResponseWriter, log *slog.Logger, status int, p page) {
	if p.Fields == nil {
		p.Fields = map[string]string{}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplates.Execute(w, p); err != nil {
		log.Error("http.render.fail", "kind", p.Kind, "err", err)
	}
}

// safeNext keeps post-login redirects on this origin.
func safeNext(next, fallback string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	if strings.HasPrefix(next, "/login") {
		return fallback
	}
	return next
}
