package app

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/stream"
)

const noticeSignedOut = "You have been signed out."

// claim takes the soft lock for one mutating request. It fails while another request holds it
// or the controller has an operation in flight.
func (a *App) claim() (release func(), err error) {
	if !a.intent.TryLock() {
		return nil, session.ErrBusy
	}
	if a.rt.Session.Busy() {
		a.intent.Unlock()
		return nil, session.ErrBusy
	}
	return a.intent.Unlock, nil
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if a.rt.Session.Snapshot().Status == session.StatusAuthenticated {
		http.Redirect(w, r, safeNext(q.Get("next"), landingPath), http.StatusSeeOther)
		return
	}
	renderPage(w, a.log, http.StatusOK, page{
		Kind:   "login",
		Title:  "Sign in",
		Notice: q.Get("notice"),
		Next:   safeNext(q.Get("next"), ""),
	})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form session.LoginForm
	next := ""
	jsonReq := isJSONRequest(r)

	if jsonReq {
		if err := decodeJSON(w, r, maxBodyBytes, &form); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		form.Email = r.PostForm.Get("email")
		form.Password = r.PostForm.Get("password")
		next = r.PostForm.Get("next")
	}

	release, err := a.claim()
	if err != nil {
		a.log.Info("http.login.busy", "remote", r.RemoteAddr)
		if jsonReq {
			writeBusy(w)
			return
		}
		renderPage(w, a.log, http.StatusConflict, page{
			Kind: "login", Title: "Sign in", Next: safeNext(next, ""), Email: form.Email,
			Error: session.MsgBusy,
		})
		return
	}
	defer release()

	addr, account := addrKey(r), emailKey(form.Email)
	if blocked, retry := a.throttle.check(addr, account); blocked {
		a.log.Warn("http.login.throttled", "remote", r.RemoteAddr, "retry_after_s", int64(retry.Seconds()))
		if jsonReq {
			writeRateLimited(w, retry)
			return
		}
		renderPage(w, a.log, http.StatusTooManyRequests, page{
			Kind: "login", Title: "Sign in", Next: safeNext(next, ""), Email: form.Email,
			Error: session.MsgRateLimited,
		})
		return
	}

	err = a.rt.Session.Login(r.Context(), form.Email, form.Password)
	switch {
	case err == nil:
		a.throttle.reset(account)
	case countsAsRejection(err):
		a.throttle.fail(addr, account)
	}

	if jsonReq {
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stream.Payload(a.rt.Session.Snapshot()))
		return
	}

	if err != nil {
		p := page{Kind: "login", Title: "Sign in", Next: safeNext(next, ""), Email: form.Email}
		var se *session.Error
		if errors.As(err, &se) {
			p.Error = se.Message
			p.Fields = se.Fields
		} else {
			p.Error = session.MsgUnknown
		}
		renderPage(w, a.log, statusForKind(session.KindOf(err)), p)
		return
	}
	http.Redirect(w, r, safeNext(next, landingPath), http.StatusSeeOther)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	release, err := a.claim()
	if err != nil {
		if isJSONRequest(r) {
			writeBusy(w)
			return
		}
		http.Redirect(w, r, landingPath+"?notice="+url.QueryEscape(session.MsgBusy), http.StatusSeeOther)
		return
	}
	defer release()

	// Logout never fails from the caller's point of view.
	_ = a.rt.Session.Logout(r.Context())

	if isJSONRequest(r) {
		writeJSON(w, http.StatusOK, stream.Payload(a.rt.Session.Snapshot()))
		return
	}
	http.Redirect(w, r, loginPath+"?notice="+url.QueryEscape(noticeSignedOut), http.StatusSeeOther)
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg session.Registration
	if isJSONRequest(r) {
		if err := decodeJSON(w, r, maxBodyBytes, &reg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid form body")
			return
		}
		reg = registrationFromForm(r)
	}

	release, err := a.claim()
	if err != nil {
		writeBusy(w)
		return
	}
	defer release()

	if err := a.rt.Session.Register(r.Context(), reg); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stream.Payload(a.rt.Session.Snapshot()))
}

// registrationFromForm maps the flat signup form onto the create/join union.
func registrationFromForm(r *http.Request) session.Registration {
	f := r.PostForm
	reg := session.Registration{
		Name:     f.Get("name"),
		Email:    f.Get("email"),
		Password: f.Get("password"),
	}
	if f.Get("companyName") != "" {
		reg.CreateCompany = &session.CreateCompany{
			Name:     f.Get("companyName"),
			Industry: f.Get("industry"),
			Size:     f.Get("companySize"),
			Website:  f.Get("website"),
			Timezone: f.Get("timezone"),
			Currency: f.Get("currency"),
		}
	}
	if f.Get("companyId") != "" || f.Get("inviteKey") != "" {
		reg.JoinCompany = &session.JoinCompany{
			CompanyID: f.Get("companyId"),
			InviteKey: f.Get("inviteKey"),
		}
	}
	return reg
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stream.Payload(a.rt.Session.Snapshot()))
}

func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	release, err := a.claim()
	if err != nil {
		writeBusy(w)
		return
	}
	defer release()

	if err := a.rt.Session.RefreshToken(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream.Payload(a.rt.Session.Snapshot()))
}

type permissionCheckResponse struct {
	Allowed      bool     `json:"allowed"`
	Role         string   `json:"role,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	MinRole      string   `json:"minRole,omitempty"`
}

// handlePermissionCheck answers capability (mode any|all) and minimum-role queries for the
// current user. An unauthenticated caller is never allowed.
func (a *App) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	caps := permission.Capabilities(splitValues(q["capability"])...)
	minRaw := strings.TrimSpace(q.Get("minRole"))

	if len(caps) == 0 && minRaw == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "capability or minRole is required")
		return
	}

	mode := strings.ToLower(strings.TrimSpace(q.Get("mode")))
	if mode == "" {
		mode = "all"
	}
	if mode != "all" && mode != "any" {
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be any or all")
		return
	}

	resp := permissionCheckResponse{Allowed: true}
	if role, ok := a.rt.Session.Role(); ok {
		resp.Role = role.String()
	}

	if len(caps) > 0 {
		resp.Mode = mode
		for _, c := range caps {
			resp.Capabilities = append(resp.Capabilities, string(c))
		}
		if mode == "any" {
			resp.Allowed = a.rt.Session.HasAnyCapability(caps...)
		} else {
			resp.Allowed = a.rt.Session.HasAllCapabilities(caps...)
		}
	}

	if minRaw != "" {
		minRole, ok := permission.ParseRole(minRaw)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown role")
			return
		}
		resp.MinRole = minRole.String()
		resp.Allowed = resp.Allowed && a.rt.Session.MeetsMinimumRole(minRole)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleView(v consoleView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := a.rt.Session.Snapshot()
		p := page{
			Kind:    "view",
			Title:   v.Title,
			Notice:  r.URL.Query().Get("notice"),
			User:    st.User,
			Company: st.Company,
			Nav:     navFor(a.rt.Session),
		}
		if st.User != nil {
			p.Capabilities = permission.CapabilitiesOf(st.User.Role)
		}
		renderPage(w, a.log, http.StatusOK, p)
	}
}

func splitValues(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
