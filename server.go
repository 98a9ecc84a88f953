package gatehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-auth/gatehouse/bridge"
	"github.com/gatehouse-auth/gatehouse/instrumentation"
	"github.com/gatehouse-auth/gatehouse/scope"
	"github.com/gatehouse-auth/gatehouse/security"
	"github.com/gatehouse-auth/gatehouse/storage"
	"github.com/gatehouse-auth/gatehouse/token"
)

// Grant type identifiers accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Server implements the authorization engine. It mints and validates signed
// grants, manages refresh and login sessions, and resolves external
// identities through the bridge. The HTTP adapter lives in Handler.
type Server struct {
	store          storage.Store
	bridge         *bridge.Bridge
	authorizeCodec *token.Codec[AuthorizationGrant]
	accessCodec    *token.Codec[AccessGrant]
	auditor        *security.Auditor
	inst           *instrumentation.Instrumentation
	logger         *slog.Logger
	config         *ServerConfig
}

// NewServer creates an authorization server. Signing keys for the code and
// access codecs are generated fresh; grants do not survive a restart, refresh
// and login sessions do.
func NewServer(store storage.Store, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applyDefaults(config, logger)

	authorizeCodec, err := token.New[AuthorizationGrant](config.Issuer+"/authorize", config.AuthorizationCodeTTL)
	if err != nil {
		return nil, fmt.Errorf("create authorize codec: %w", err)
	}
	accessCodec, err := token.New[AccessGrant](config.Issuer+"/access", config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("create access codec: %w", err)
	}

	return &Server{
		store:          store,
		authorizeCodec: authorizeCodec,
		accessCodec:    accessCodec,
		auditor:        security.NewAuditor(logger, config.EnableAuditLogging),
		logger:         logger,
		config:         config,
	}, nil
}

// SetBridge wires the identity bridge. Without one, bridge logins fail with
// an invalid-grant error.
func (s *Server) SetBridge(b *bridge.Bridge) {
	s.bridge = b
}

// SetAuditor replaces the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetInstrumentation wires metrics and tracing.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Config returns the effective configuration after defaults.
func (s *Server) Config() *ServerConfig {
	return s.config
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.inst == nil {
		return ctx, nil
	}
	return s.inst.Tracer("server").Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// Authorize validates an authorization request for a logged-in user and
// mints an authorization code. The caller renders the result as the consent
// view; the code only reaches the app after the user follows the redirect.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest, clientIP string) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer endSpan(span)

	if req.ResponseType != "code" {
		return nil, ErrInvalidRequest(fmt.Sprintf("unsupported response type %q", req.ResponseType))
	}

	appID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return nil, ErrInvalidClient("client not found")
	}
	app, err := s.store.AppByID(ctx, appID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("client not found")
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to load client")
	}
	if !app.OAuth2Enabled() {
		return nil, ErrInvalidClient("client not found")
	}

	if !app.IsRedirectAllowed(req.RedirectURI) {
		s.auditor.LogInvalidRedirect(app.ID.String(), clientIP, req.RedirectURI)
		return nil, ErrInvalidRedirectURI("redirect uri is not configured")
	}

	scopes, err := scope.ParseSet(req.Scope)
	if err != nil {
		return nil, ErrInvalidScope(err.Error())
	}

	user, err := s.store.UserByID(ctx, req.UserID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to load user")
	}

	// An email grant is meaningless for a user without an email on file;
	// drop the scope instead of failing the whole authorization.
	if scopes.Contains(scope.Email) && user.Email == "" {
		scopes = scopes.Clone()
		scopes.Remove(scope.Email)
	}

	code, err := s.authorizeCodec.Encode(AuthorizationGrant{
		UserID:      user.ID,
		AppID:       app.ID,
		Scopes:      scopes,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to sign authorization code")
	}

	if s.inst != nil {
		s.inst.Metrics().CodesIssued.Add(ctx, 1)
	}
	s.auditor.LogCodeIssued(user.ID.String(), app.ID.String(), clientIP, scopes.String())
	instrumentation.AddFlowAttributes(span, app.ID.String(), user.ID.String(), scopes.String())
	instrumentation.SetSpanSuccess(span)

	return &AuthorizeResult{
		Code:         code,
		State:        req.State,
		RedirectURI:  req.RedirectURI,
		AppName:      app.Name,
		Scopes:       scopes,
		RedirectHost: redirectHost(req.RedirectURI),
	}, nil
}

// redirectHost extracts the short host form shown on the consent view.
func redirectHost(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return uri
	}
	return parsed.Host
}

// Token handles the token endpoint: authorization code exchange and refresh
// token grants. Both paths authenticate the client, then rotate the refresh
// session and mint a fresh access token.
func (s *Server) Token(ctx context.Context, req TokenRequest, clientIP string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "token")
	defer endSpan(span)

	app, err := s.authenticateClient(ctx, req, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, span, app, req, clientIP)
	case GrantTypeRefreshToken:
		return s.refreshSession(ctx, span, app, req, clientIP)
	default:
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant type %q", req.GrantType))
	}
}

// authenticateClient resolves client credentials from the request and checks
// the secret. Basic auth and form fields are mutually exclusive.
func (s *Server) authenticateClient(ctx context.Context, req TokenRequest, clientIP string) (*storage.App, error) {
	usesBasic := req.BasicClientID != "" || req.BasicClientSecret != ""
	usesForm := req.FormClientID != "" || req.FormClientSecret != ""

	if usesBasic && usesForm {
		return nil, ErrInvalidRequest("multiple auth methods used simultaneously")
	}
	if !usesBasic && !usesForm {
		return nil, ErrInvalidClient("client authentication required")
	}

	clientID, clientSecret := req.FormClientID, req.FormClientSecret
	if usesBasic {
		clientID, clientSecret = req.BasicClientID, req.BasicClientSecret
	}

	appID, err := uuid.Parse(clientID)
	if err != nil {
		return nil, ErrInvalidClient("client not found")
	}
	app, err := s.store.AppByID(ctx, appID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("client not found")
		}
		return nil, ErrServerError("failed to load client")
	}
	if !app.OAuth2Enabled() {
		return nil, ErrInvalidClient("client not found")
	}

	if !security.SecretsEqual(clientSecret, app.Secret) {
		s.auditor.LogAuthFailure("", app.ID.String(), clientIP, "invalid client secret")
		if s.inst != nil {
			s.inst.Metrics().AuthFailures.Add(ctx, 1)
		}
		return nil, ErrInvalidClient("invalid client secret")
	}

	return app, nil
}

func (s *Server) exchangeCode(ctx context.Context, span trace.Span, app *storage.App, req TokenRequest, clientIP string) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if req.RefreshToken != "" {
		return nil, ErrInvalidRequest("unexpected refresh_token for authorization_code grant")
	}

	grant, err := s.authorizeCodec.Decode(req.Code)
	if err != nil {
		s.auditor.LogAuthFailure("", app.ID.String(), clientIP, "invalid authorization code")
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrInvalidGrant("authorization code expired")
		}
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	// A code minted for one app must never be redeemable by another, even
	// with valid credentials.
	if grant.AppID != app.ID {
		s.auditor.LogAuthFailure(grant.UserID.String(), app.ID.String(), clientIP, "code minted for another app")
		return nil, ErrInvalidGrant("Forbidden app")
	}

	if req.RedirectURI != "" && req.RedirectURI != grant.RedirectURI {
		return nil, ErrInvalidGrant("redirect uri mismatch")
	}

	resp, err := s.issueTokens(ctx, grant.UserID, app.ID, grant.Scopes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if s.inst != nil {
		s.inst.Metrics().CodesExchanged.Add(ctx, 1)
	}
	s.auditor.LogTokenIssued(grant.UserID.String(), app.ID.String(), clientIP, grant.Scopes.String())
	instrumentation.AddFlowAttributes(span, app.ID.String(), grant.UserID.String(), grant.Scopes.String())
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) refreshSession(ctx context.Context, span trace.Span, app *storage.App, req TokenRequest, clientIP string) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	if req.Code != "" {
		return nil, ErrInvalidRequest("unexpected code for refresh_token grant")
	}

	sess, err := s.store.FindByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("No session found for this refresh token")
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to load refresh session")
	}

	if sess.AppID != app.ID {
		s.auditor.LogAuthFailure(sess.UserID.String(), app.ID.String(), clientIP, "refresh token owned by another app")
		return nil, ErrAccessDenied("Forbidden app")
	}

	resp, err := s.issueTokens(ctx, sess.UserID, app.ID, sess.Scopes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if s.inst != nil {
		s.inst.Metrics().TokensRefreshed.Add(ctx, 1)
	}
	s.auditor.LogTokenRefreshed(sess.UserID.String(), app.ID.String(), clientIP, resp.RefreshToken != "")
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// issueTokens mints an access token and rotates the refresh session. A
// refresh session write failure is not fatal: the access token is still
// issued and the refresh_token field is simply omitted.
func (s *Server) issueTokens(ctx context.Context, userID, appID uuid.UUID, scopes scope.Set) (*TokenResponse, error) {
	accessToken, err := s.accessCodec.Encode(AccessGrant{
		UserID: userID,
		AppID:  appID,
		Scopes: scopes,
	})
	if err != nil {
		return nil, ErrServerError("failed to sign access token")
	}

	refreshToken, err := s.store.InsertOrRefresh(ctx, userID, appID, scopes)
	if err != nil {
		s.logger.Warn("Failed to persist refresh session, issuing access token without one",
			"error", err,
			"app_id", appID)
		refreshToken = ""
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scopes.String(),
	}, nil
}

// Userinfo resolves a Bearer access token to the identity it grants access
// to. The user must still exist; a token for a deleted user is a server
// error, never an anonymous success.
func (s *Server) Userinfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, span := s.startSpan(ctx, "userinfo")
	defer endSpan(span)

	grant, err := s.accessCodec.Decode(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrInvalidToken("access token expired")
		}
		return nil, ErrInvalidToken("invalid access token")
	}

	user, err := s.store.UserByID(ctx, grant.UserID)
	if err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrServerError("token subject no longer exists")
		}
		return nil, ErrServerError("failed to load user")
	}

	info := &UserInfo{
		ID:       user.ID,
		Username: user.Username,
	}
	if grant.Scopes.Contains(scope.Email) && user.Email != "" {
		info.Email = user.Email
	}

	if s.inst != nil {
		s.inst.Metrics().UserinfoServed.Add(ctx, 1)
	}
	instrumentation.SetSpanSuccess(span)
	return info, nil
}

// Login authenticates a user and opens a login session. An empty username
// routes the password field through the identity bridge: the "password" is
// then a bot-issued assertion.
func (s *Server) Login(ctx context.Context, username, password, clientIP string) (*storage.LoginSession, error) {
	ctx, span := s.startSpan(ctx, "login")
	defer endSpan(span)

	if username == "" {
		return s.loginWithAssertion(ctx, password, clientIP)
	}

	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		s.recordLoginFailure(ctx, "", clientIP, "unknown username")
		return nil, ErrInvalidGrant("invalid username or password")
	}
	// Bridge-only accounts have no password hash and cannot log in with one.
	if user.PasswordHash == "" {
		s.recordLoginFailure(ctx, user.ID.String(), clientIP, "account has no password")
		return nil, ErrInvalidGrant("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordLoginFailure(ctx, user.ID.String(), clientIP, "wrong password")
		return nil, ErrInvalidGrant("invalid username or password")
	}

	return s.openLoginSession(ctx, user.ID, clientIP, "password")
}

// LoginWithAssertion exchanges a bridge assertion for a login session,
// creating the local account on first sight of the external id.
func (s *Server) LoginWithAssertion(ctx context.Context, assertion, clientIP string) (*storage.LoginSession, error) {
	ctx, span := s.startSpan(ctx, "login_with_assertion")
	defer endSpan(span)

	return s.loginWithAssertion(ctx, assertion, clientIP)
}

func (s *Server) loginWithAssertion(ctx context.Context, assertion, clientIP string) (*storage.LoginSession, error) {
	if s.bridge == nil {
		return nil, ErrInvalidGrant("bridge login is not available")
	}

	identity, err := s.bridge.Verify(assertion)
	if err != nil {
		if errors.Is(err, bridge.ErrExpired) {
			s.recordLoginFailure(ctx, "", clientIP, "expired assertion")
			return nil, ErrInvalidGrant("your code expired")
		}
		s.recordLoginFailure(ctx, "", clientIP, "invalid assertion")
		return nil, ErrInvalidGrant("invalid login code")
	}

	user, err := s.store.FindOrCreateByDiscordID(ctx, identity.SubjectID, identity.Name)
	if err != nil {
		return nil, ErrServerError("failed to resolve bridged identity")
	}

	return s.openLoginSession(ctx, user.ID, clientIP, "bridge")
}

func (s *Server) openLoginSession(ctx context.Context, userID uuid.UUID, clientIP, method string) (*storage.LoginSession, error) {
	sess, err := s.store.CreateLoginSession(ctx, userID)
	if err != nil {
		return nil, ErrServerError("failed to create login session")
	}

	if s.inst != nil {
		s.inst.Metrics().LoginsTotal.Add(ctx, 1)
	}
	s.auditor.LogLogin(userID.String(), clientIP, method)
	return sess, nil
}

func (s *Server) recordLoginFailure(ctx context.Context, userID, clientIP, reason string) {
	if s.inst != nil {
		s.inst.Metrics().AuthFailures.Add(ctx, 1)
	}
	s.auditor.LogAuthFailure(userID, "", clientIP, reason)
}

// Logout deletes a login session.
func (s *Server) Logout(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.store.DeleteLoginSession(ctx, sessionID); err != nil {
		return ErrServerError("failed to delete login session")
	}
	return nil
}

// SessionUser resolves a login session cookie to a live user record.
func (s *Server) SessionUser(ctx context.Context, sessionID uuid.UUID) (*storage.User, error) {
	sess, err := s.store.LoginSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken("no valid login session")
		}
		return nil, ErrServerError("failed to load login session")
	}

	user, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken("no valid login session")
		}
		return nil, ErrServerError("failed to load user")
	}
	return user, nil
}
