// Package authn implements the interactive authorization flow: login,
// browser session handling and the consent screen.
package authn

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/clients"
	"github.com/rephlo/idp/internal/consent"
	"github.com/rephlo/idp/internal/resource"
	"github.com/rephlo/idp/web/ui"
)

// SessionCookie names the browser cookie holding the user session id.
const SessionCookie = "rephlo_sid"

const (
	paramStep          = "step"
	paramAuthTime      = "auth_time"
	paramSessionID     = "user_session_id"
	paramRawScope      = "raw_scope"
	paramGrantedScopes = "granted_scopes"

	stepValidate = "validate_request"
	stepLoadUser = "load_user"
	stepLogin    = "login"
	stepSession  = "create_session"
	stepConsent  = "consent"
	stepFinish   = "finish"

	actionParam   = "action"
	actionLogin   = "login"
	actionApprove = "approve"
	actionDeny    = "deny"
)

// Authenticator runs the authorization endpoint's user interaction as a
// sequence of steps recorded in the authentication session, so each
// browser round trip resumes where the last one stopped.
type Authenticator struct {
	issuer   string
	accounts *account.Resolver
	consent  *consent.Policy
	clients  clients.Directory
	registry *resource.Registry
	sessions *SessionStore
	tmpl     *template.Template
	log      *slog.Logger
}

func New(
	issuer string,
	accounts *account.Resolver,
	consentPolicy *consent.Policy,
	directory clients.Directory,
	registry *resource.Registry,
	sessions *SessionStore,
	log *slog.Logger,
) *Authenticator {
	return &Authenticator{
		issuer:   issuer,
		accounts: accounts,
		consent:  consentPolicy,
		clients:  directory,
		registry: registry,
		sessions: sessions,
		tmpl:     template.Must(template.ParseFS(ui.FS, "*.html")),
		log:      log,
	}
}

// Policy returns the authentication policy the provider dispatches
// authorization requests to.
func (a *Authenticator) Policy() goidc.AuthnPolicy {
	return goidc.NewPolicy("rephlo", a.setUp, a.authenticate)
}

func (a *Authenticator) setUp(r *http.Request, _ *goidc.Client, as *goidc.AuthnSession) bool {
	as.StoreParameter(paramStep, stepValidate)
	// The scope parameter exactly as the client sent it. Scope
	// processing can strip values before as.Scopes is set, and the
	// consent rules need the original text.
	if raw := r.FormValue("scope"); raw != "" {
		as.StoreParameter(paramRawScope, raw)
	}
	return true
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, as *goidc.AuthnSession) (goidc.Status, error) {
	if as.StoredParameter(paramStep) == nil {
		as.StoreParameter(paramStep, stepValidate)
	}

	if as.StoredParameter(paramStep) == stepValidate {
		if status, err := a.validateRequest(as); status != goidc.StatusSuccess {
			return status, err
		}
		as.StoreParameter(paramStep, stepLoadUser)
	}

	if as.StoredParameter(paramStep) == stepLoadUser {
		a.loadUser(r, as)
		as.StoreParameter(paramStep, stepLogin)
	}

	if as.StoredParameter(paramStep) == stepLogin {
		if status, err := a.login(w, r, as); status != goidc.StatusSuccess {
			return status, err
		}
		as.StoreParameter(paramStep, stepSession)
	}

	if as.StoredParameter(paramStep) == stepSession {
		a.createSession(w, as)
		as.StoreParameter(paramStep, stepConsent)
	}

	if as.StoredParameter(paramStep) == stepConsent {
		if status, err := a.grantConsent(w, r, as); status != goidc.StatusSuccess {
			return status, err
		}
		as.StoreParameter(paramStep, stepFinish)
	}

	if as.StoredParameter(paramStep) == stepFinish {
		return a.finish(as)
	}

	return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeAccessDenied, "authentication cannot proceed")
}

// validateRequest rejects unknown resource indicators before any page is
// shown, so the user never logs in for a request that cannot succeed.
func (a *Authenticator) validateRequest(as *goidc.AuthnSession) (goidc.Status, error) {
	if err := a.registry.Validate(as.Resources); err != nil {
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInvalidTarget, err.Error())
	}
	return goidc.StatusSuccess, nil
}

// loadUser adopts the login session referenced by the browser cookie,
// when one is still live. Missing or expired sessions are not an error
// here; the login step decides what to do about them.
func (a *Authenticator) loadUser(r *http.Request, as *goidc.AuthnSession) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return
	}
	session, ok := a.sessions.Session(cookie.Value)
	if !ok {
		return
	}
	as.SetUserID(session.Subject)
	as.StoreParameter(paramAuthTime, int(session.AuthTime.Unix()))
	as.StoreParameter(paramSessionID, session.ID)
}

func (a *Authenticator) login(w http.ResponseWriter, r *http.Request, as *goidc.AuthnSession) (goidc.Status, error) {
	if as.Subject == "" && as.Prompt == goidc.PromptTypeNone {
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeLoginRequired, "no user is logged in")
	}

	mustAuthenticate := as.Subject == "" || as.Prompt == goidc.PromptTypeLogin
	if as.MaxAuthnAgeSecs != nil {
		authTime, ok := storedInt(as, paramAuthTime)
		if !ok || int(time.Now().Unix()) > authTime+*as.MaxAuthnAgeSecs {
			mustAuthenticate = true
		}
	}
	if !mustAuthenticate {
		return goidc.StatusSuccess, nil
	}

	_ = r.ParseForm()
	if r.PostFormValue(actionParam) != actionLogin {
		return a.renderLogin(w, as, "")
	}

	acct, err := a.accounts.Authenticate(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if errors.Is(err, account.ErrInvalidCredentials) {
		return a.renderLogin(w, as, "The email or password is incorrect.")
	}
	if err != nil {
		a.log.ErrorContext(r.Context(), "login failed", slog.String("error", err.Error()))
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInternalError, "login is unavailable")
	}

	as.SetUserID(acct.ID)
	as.StoreParameter(paramAuthTime, int(time.Now().Unix()))
	return goidc.StatusSuccess, nil
}

// createSession upserts the login session and points the browser at it.
// A flow that adopted an existing session keeps its id, so re-auth
// refreshes the session instead of stacking a new one.
func (a *Authenticator) createSession(w http.ResponseWriter, as *goidc.AuthnSession) {
	authTime, ok := storedInt(as, paramAuthTime)
	if !ok {
		authTime = int(time.Now().Unix())
	}
	id, _ := storedString(as, paramSessionID)
	session := a.sessions.Save(id, as.Subject, time.Unix(int64(authTime), 0))
	as.StoreParameter(paramSessionID, session.ID)
	http.SetCookie(w, a.sessionCookie(session.ID, session.ExpiresAt))
}

func (a *Authenticator) grantConsent(w http.ResponseWriter, r *http.Request, as *goidc.AuthnSession) (goidc.Status, error) {
	ctx := r.Context()

	registration, err := a.clients.Registration(ctx, as.ClientID)
	if err != nil {
		a.log.ErrorContext(ctx, "client lookup failed during consent",
			slog.String("client_id", as.ClientID), slog.String("error", err.Error()))
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInvalidClient, "client is not registered")
	}

	req := a.consentRequest(as, registration)
	decision, err := a.consent.Decide(ctx, req)
	if err != nil {
		a.log.ErrorContext(ctx, "consent decision failed", slog.String("error", err.Error()))
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInternalError, "consent is unavailable")
	}

	switch decision.Outcome {
	case consent.OutcomeReused, consent.OutcomeAutoGranted:
		as.StoreParameter(paramGrantedScopes, grantedScopeValue(req, decision.Grant))
		return goidc.StatusSuccess, nil
	case consent.OutcomeStaleSession:
		return a.restartLogin(w, as)
	}

	_ = r.ParseForm()
	switch r.PostFormValue(actionParam) {
	case actionApprove:
		grant, err := a.consent.Record(ctx, req)
		if err != nil {
			a.log.ErrorContext(ctx, "recording consent failed", slog.String("error", err.Error()))
			return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInternalError, "consent is unavailable")
		}
		as.StoreParameter(paramGrantedScopes, grantedScopeValue(req, grant))
		return goidc.StatusSuccess, nil
	case actionDeny:
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeAccessDenied, "the user denied the request")
	default:
		return a.renderConsent(w, as, registration)
	}
}

// restartLogin tears down a login session whose account no longer exists
// and sends the user back to the login page within the same
// authorization attempt.
func (a *Authenticator) restartLogin(w http.ResponseWriter, as *goidc.AuthnSession) (goidc.Status, error) {
	if id, ok := storedString(as, paramSessionID); ok {
		a.sessions.Delete(id)
	}
	cookie := a.sessionCookie("", time.Time{})
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)

	as.SetUserID("")
	as.StoreParameter(paramSessionID, "")
	as.StoreParameter(paramStep, stepLogin)
	return a.renderLogin(w, as, "Your session is no longer valid. Sign in again.")
}

func (a *Authenticator) finish(as *goidc.AuthnSession) (goidc.Status, error) {
	granted, ok := storedString(as, paramGrantedScopes)
	if !ok {
		granted = as.Scopes
	}
	as.GrantScopes(granted)
	as.GrantResources(as.Resources)
	if authTime, ok := storedInt(as, paramAuthTime); ok {
		as.SetIDTokenClaimAuthTime(authTime)
	}
	return goidc.StatusSuccess, nil
}

func (a *Authenticator) consentRequest(as *goidc.AuthnSession, registration *clients.Registration) consent.Request {
	scopes := strings.Fields(as.Scopes)

	rawScope := as.Scopes
	if stored, ok := storedString(as, paramRawScope); ok {
		rawScope = stored
	}

	var resourceScopes map[string][]string
	if len(as.Resources) > 0 {
		resourceScopes = make(map[string][]string, len(as.Resources))
		for _, indicator := range as.Resources {
			resourceScopes[indicator] = a.registry.GrantedScopes(indicator, scopes)
		}
	}

	return consent.Request{
		ClientID:        as.ClientID,
		SkipConsent:     registration.SkipConsent,
		SupportsRefresh: registration.SupportsRefresh(),
		AccountID:       as.Subject,
		RawScope:        rawScope,
		Scopes:          scopes,
		ResourceScopes:  resourceScopes,
	}
}

// grantedScopeValue filters the requested scopes down to what the grant
// covers. offline_access comes back only for clients that can use a
// refresh token, and only when the client spelled it out in the original
// scope parameter.
func grantedScopeValue(req consent.Request, grant *consent.Grant) string {
	granted := make([]string, 0, len(req.Scopes)+1)
	for _, scope := range req.Scopes {
		if grant.HasScope(scope) {
			granted = append(granted, scope)
		}
	}

	offline := goidc.ScopeOfflineAccess.ID
	if grant.HasScope(offline) &&
		req.SupportsRefresh &&
		strings.Contains(req.RawScope, offline) &&
		!slices.Contains(granted, offline) {
		granted = append(granted, offline)
	}
	return strings.Join(granted, " ")
}

func (a *Authenticator) sessionCookie(id string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   strings.HasPrefix(a.issuer, "https://"),
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	}
}

type page struct {
	Action     string
	ClientName string
	Scopes     []string
	Resources  []string
	Error      string
}

func (a *Authenticator) renderLogin(w http.ResponseWriter, as *goidc.AuthnSession, errMsg string) (goidc.Status, error) {
	return a.render(w, "login.html", page{
		Action: a.callbackURL(as),
		Error:  errMsg,
	})
}

func (a *Authenticator) renderConsent(w http.ResponseWriter, as *goidc.AuthnSession, registration *clients.Registration) (goidc.Status, error) {
	name := registration.Name
	if name == "" {
		name = registration.ID
	}
	return a.render(w, "consent.html", page{
		Action:     a.callbackURL(as),
		ClientName: name,
		Scopes:     strings.Fields(as.Scopes),
		Resources:  as.Resources,
	})
}

func (a *Authenticator) render(w http.ResponseWriter, name string, data page) (goidc.Status, error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := a.tmpl.ExecuteTemplate(w, name, data); err != nil {
		return goidc.StatusFailure, goidc.NewError(goidc.ErrorCodeInternalError, "rendering the page failed")
	}
	return goidc.StatusInProgress, nil
}

func (a *Authenticator) callbackURL(as *goidc.AuthnSession) string {
	return fmt.Sprintf("%s/authorize/%s", a.issuer, as.CallbackID)
}

// RenderError returns the page renderer the provider uses for errors it
// cannot send back to the client's redirect URI.
func (a *Authenticator) RenderError() goidc.RenderErrorFunc {
	return func(w http.ResponseWriter, _ *http.Request, err error) error {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		return a.tmpl.ExecuteTemplate(w, "error.html", page{Error: err.Error()})
	}
}

// storedInt reads an int session parameter. Sessions that traveled
// through JSON hand numbers back as float64, so both arrive here.
func storedInt(as *goidc.AuthnSession, key string) (int, bool) {
	switch v := as.StoredParameter(key).(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func storedString(as *goidc.AuthnSession, key string) (string, bool) {
	v, ok := as.StoredParameter(key).(string)
	return v, ok && v != ""
}
