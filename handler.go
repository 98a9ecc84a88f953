package gatehouse

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gatehouse-auth/gatehouse/instrumentation"
	"github.com/gatehouse-auth/gatehouse/scope"
	"github.com/gatehouse-auth/gatehouse/security"
	"github.com/gatehouse-auth/gatehouse/storage"
)

// LoginSessionCookie is the name of the first-party session cookie.
const LoginSessionCookie = "login_session"

// Handler is the HTTP adapter around Server. It owns request parsing,
// cookies, rate limiting, and response rendering; all grant decisions happen
// in Server.
type Handler struct {
	server      *Server
	logger      *slog.Logger
	rateLimiter *security.RateLimiter
	config      *ServerConfig
}

// NewHandler creates the HTTP adapter for a server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
		config: server.Config(),
	}
}

// SetRateLimiter wires per-IP rate limiting for the login and token endpoints.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// Routes returns the handler's route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", h.ServeLoginForm)
	mux.HandleFunc("POST /login", h.ServeLogin)
	mux.HandleFunc("POST /logout", h.ServeLogout)
	mux.HandleFunc("GET /login-with-discord", h.ServeDiscordLogin)
	mux.HandleFunc("GET /oauth2/authorize", h.ServeAuthorize)
	mux.HandleFunc("POST /oauth2/token", h.ServeToken)
	mux.HandleFunc("GET /oauth2/userinfo", h.ServeUserinfo)
	return security.RequestIDMiddleware(h.instrument(mux))
}

// statusWriter captures the response status for the instrumentation layer.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records per-request metrics and a span around every route.
// Without instrumentation wired it is a passthrough.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inst := h.server.inst
		if inst == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ctx, span := inst.Tracer("http").Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		attrs := metric.WithAttributes(
			attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path),
		)
		inst.Metrics().HTTPRequestsTotal.Add(ctx, 1, attrs)
		inst.Metrics().HTTPRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

		instrumentation.AddHTTPAttributes(span, r.Method, r.URL.Path, sw.status)
		if inst.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		if sw.status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(sw.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// allow applies per-IP rate limiting. A missing limiter allows everything.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil {
		return true
	}
	ip := h.clientIP(r)
	if h.rateLimiter.Allow(ip) {
		return true
	}
	h.server.auditor.LogRateLimitExceeded(ip, "")
	if h.server.inst != nil {
		h.server.inst.Metrics().RateLimitExceeded.Add(r.Context(), 1)
	}
	h.writeError(w, ErrRateLimitExceeded("too many requests"))
	return false
}

// sessionID extracts the login session id from the request cookie.
func (h *Handler) sessionID(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(LoginSessionCookie)
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ServeAuthorize renders the consent view for a valid authorization request.
// Users without a login session are sent to the login form first, with the
// full authorize URL preserved as the return target.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(r)
	if !ok {
		h.redirectToLogin(w, r)
		return
	}
	user, err := h.server.SessionUser(r.Context(), sessionID)
	if err != nil {
		h.redirectToLogin(w, r)
		return
	}

	query := r.URL.Query()
	result, err := h.server.Authorize(r.Context(), AuthorizeRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
		UserID:       user.ID,
	}, h.clientIP(r))
	if err != nil {
		h.writeErrorPage(w, err)
		return
	}

	continueURL, err := buildRedirect(result.RedirectURI, result.Code, result.State)
	if err != nil {
		h.writeErrorPage(w, ErrServerError("failed to build redirect target"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := consentTemplate.Execute(w, consentView{
		AppName:      result.AppName,
		Scopes:       scopeDescriptions(result.Scopes),
		RedirectHost: result.RedirectHost,
		ContinueURL:  continueURL,
	}); err != nil {
		h.logger.Error("Failed to render consent view", "error", err)
	}
}

// buildRedirect appends code and state to the app's redirect URI, preserving
// any query parameters the URI already carries.
func buildRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := "/login?return_to=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	req := TokenRequest{
		GrantType:        r.PostFormValue("grant_type"),
		Code:             r.PostFormValue("code"),
		RefreshToken:     r.PostFormValue("refresh_token"),
		RedirectURI:      r.PostFormValue("redirect_uri"),
		FormClientID:     r.PostFormValue("client_id"),
		FormClientSecret: r.PostFormValue("client_secret"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.BasicClientID = id
		req.BasicClientSecret = secret
	}

	resp, err := h.server.Token(r.Context(), req, h.clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeUserinfo handles the protected resource endpoint.
func (h *Handler) ServeUserinfo(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		h.writeError(w, ErrInvalidToken("missing bearer token"))
		return
	}

	info, err := h.server.Userinfo(r.Context(), accessToken)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) && authErr.Code == ErrorCodeInvalidToken {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// ServeLoginForm renders the login form.
func (h *Handler) ServeLoginForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := loginTemplate.Execute(w, loginView{
		ReturnTo: r.URL.Query().Get("return_to"),
		Error:    r.URL.Query().Get("error"),
	}); err != nil {
		h.logger.Error("Failed to render login form", "error", err)
	}
}

// ServeLogin handles a login form submission. An empty username routes the
// password through the identity bridge.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	returnTo := sanitizeReturnTo(r.PostFormValue("return_to"))

	sess, err := h.server.Login(r.Context(),
		r.PostFormValue("username"),
		r.PostFormValue("password"),
		h.clientIP(r),
	)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) && authErr.Code == ErrorCodeInvalidGrant {
			// Credential failures go back to the form, not to a JSON body.
			target := "/login?error=" + url.QueryEscape(authErr.Description)
			if returnTo != "/" {
				target += "&return_to=" + url.QueryEscape(returnTo)
			}
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		h.writeError(w, err)
		return
	}

	h.setSessionCookie(w, sess.ID.String())
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// ServeDiscordLogin consumes a bridge assertion carried in the token query
// parameter and establishes a login session.
func (h *Handler) ServeDiscordLogin(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	sess, err := h.server.LoginWithAssertion(r.Context(), r.URL.Query().Get("token"), h.clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setSessionCookie(w, sess.ID.String())
	http.Redirect(w, r, sanitizeReturnTo(r.URL.Query().Get("return_to")), http.StatusFound)
}

// ServeLogout deletes the login session and clears the cookie.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.sessionID(r); ok {
		if err := h.server.Logout(r.Context(), sessionID); err != nil {
			h.writeError(w, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     LoginSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     LoginSessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(storage.LoginSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sanitizeReturnTo keeps redirects on-site. Anything that is not a local
// absolute path falls back to the root.
func sanitizeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return "/"
	}
	return returnTo
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError renders an error as a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = ErrServerError("internal error")
	}
	h.writeJSON(w, authErr.Status, ErrorResponse{
		Error:            authErr.Code,
		ErrorDescription: authErr.Description,
	})
}

// writeErrorPage renders an error as a terse HTML page. The authorize view
// faces a person in a browser, so errors there are pages, not JSON.
func (h *Handler) writeErrorPage(w http.ResponseWriter, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = ErrServerError("internal error")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(authErr.Status)
	if err := errorTemplate.Execute(w, errorView{
		Code:        authErr.Code,
		Description: authErr.Description,
	}); err != nil {
		h.logger.Error("Failed to render error page", "error", err)
	}
}

type consentView struct {
	AppName      string
	Scopes       []string
	RedirectHost string
	ContinueURL  string
}

type loginView struct {
	ReturnTo string
	Error    string
}

type errorView struct {
	Code        string
	Description string
}

// scopeDescriptions maps granted scopes to the lines shown on the consent view.
func scopeDescriptions(scopes scope.Set) []string {
	descriptions := make([]string, 0, len(scopes))
	for _, s := range scopes.Sorted() {
		switch s {
		case scope.Basic:
			descriptions = append(descriptions, "Know who you are")
		case scope.Email:
			descriptions = append(descriptions, "See your email address")
		case scope.Dev:
			descriptions = append(descriptions, "Act as a development account")
		default:
			descriptions = append(descriptions, string(s))
		}
	}
	return descriptions
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Authorize {{.AppName}}</title>
</head>
<body>
<h1>{{.AppName}} wants to access your account</h1>
<p>This application will be able to:</p>
<ul>
{{range .Scopes}}<li>{{.}}</li>
{{end}}</ul>
<p>You will be sent to <strong>{{.RedirectHost}}</strong>.</p>
<p><a href="{{.ContinueURL}}">Continue</a></p>
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Something went wrong</title>
</head>
<body>
<h1>Something went wrong</h1>
<p>{{.Description}}</p>
<p><small>{{.Code}}</small></p>
</body>
</html>
`))

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign in</title>
</head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p><strong>{{.Error}}</strong></p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Username <input type="text" name="username"></label>
<label>Password <input type="password" name="password"></label>
<p>Leave the username empty to sign in with a code from the bot.</p>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))
