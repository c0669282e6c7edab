// Package echo exposes the authorization core's RPC-style surface over
// HTTP. Handlers are thin: bind, address the session actor, map errors to
// their OAuth 2.0 wire form.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/session"
)

// API holds the handlers' dependencies.
type API struct {
	manager *session.Manager
}

func NewAPI(manager *session.Manager) *API {
	return &API{manager: manager}
}

// RegisterRoutes registers the core's operations.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/authorize", a.AuthorizeHandler)
	e.POST("/v1/token", a.TokenHandler)
	e.POST("/v1/verify", a.VerifyHandler)
	e.POST("/v1/revoke", a.RevokeHandler)
	e.POST("/v1/revoke_account", a.RevokeAccountHandler)
	e.DELETE("/v1/session", a.DeleteSessionHandler)

	e.GET("/.well-known/jwks.json", a.JWKSHandler)
}

func oauthError(c echo.Context, err error) error {
	wire := aerrors.ToOAuth2(err)
	if wire.StatusCode() >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	return c.JSON(wire.StatusCode(), wire)
}

type authorizeRequest struct {
	Account     string   `json:"account"`
	ClientID    string   `json:"client_id"`
	RedirectURI string   `json:"redirect_uri"`
	Scope       []string `json:"scope"`
	State       string   `json:"state"`
}

// AuthorizeHandler issues a one-time authorization code for the session.
func (a *API) AuthorizeHandler(c echo.Context) error {
	var req authorizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}
	if req.Account == "" || req.ClientID == "" || req.RedirectURI == "" {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "account, client_id and redirect_uri are required",
		})
	}

	res, err := a.manager.Authorize(c.Request().Context(),
		req.Account, req.ClientID, req.RedirectURI, access.Scope(req.Scope), req.State)
	if err != nil {
		return oauthError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type tokenRequest struct {
	Account     string `json:"account"`
	ClientID    string `json:"client_id"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// TokenHandler redeems an authorization code for a token bundle.
func (a *API) TokenHandler(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}

	s, err := a.manager.Session(req.Account, req.ClientID)
	if err != nil {
		return oauthError(c, err)
	}
	bundle, err := s.ExchangeCode(c.Request().Context(), req.Code, req.RedirectURI, req.ClientID)
	if err != nil {
		return oauthError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

type verifyRequest struct {
	Account  string `json:"account"`
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

// VerifyHandler checks a token against the session's key set and returns
// its claims.
func (a *API) VerifyHandler(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}

	s, err := a.manager.Session(req.Account, req.ClientID)
	if err != nil {
		return oauthError(c, err)
	}
	ctx := c.Request().Context()
	jwks, err := s.JWKS(ctx)
	if err != nil {
		return oauthError(c, err)
	}
	res, err := s.VerifyToken(ctx, req.Token, jwks)
	if err != nil {
		return oauthError(c, err)
	}
	return c.JSON(http.StatusOK, res.All)
}

// RevokeHandler revokes one refresh token.
func (a *API) RevokeHandler(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}

	s, err := a.manager.Session(req.Account, req.ClientID)
	if err != nil {
		return oauthError(c, err)
	}
	ctx := c.Request().Context()
	jwks, err := s.JWKS(ctx)
	if err != nil {
		return oauthError(c, err)
	}
	if err := s.Revoke(ctx, req.Token, jwks); err != nil {
		return oauthError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type revokeAccountRequest struct {
	Account string `json:"account"`
}

// RevokeAccountHandler cascade-revokes every authorization the account
// holds, resolving client relationships through the edge graph.
func (a *API) RevokeAccountHandler(c echo.Context) error {
	var req revokeAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}
	if err := a.manager.RevokeAccount(c.Request().Context(), req.Account); err != nil {
		return oauthError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type sessionRequest struct {
	Account  string `json:"account"`
	ClientID string `json:"client_id"`
}

// DeleteSessionHandler tears down a single session actor's state.
func (a *API) DeleteSessionHandler(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &aerrors.OAuth2Error{
			Code: aerrors.WireInvalidRequest, Description: "malformed request body",
		})
	}
	s, err := a.manager.Session(req.Account, req.ClientID)
	if err != nil {
		return oauthError(c, err)
	}
	if err := s.DeleteAll(c.Request().Context()); err != nil {
		return oauthError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// JWKSHandler serves the published public key set of one session scope.
func (a *API) JWKSHandler(c echo.Context) error {
	account := c.QueryParam("account")
	clientID := c.QueryParam("client_id")
	s, err := a.manager.Session(account, clientID)
	if err != nil {
		return oauthError(c, err)
	}
	jwks, err := s.JWKS(c.Request().Context())
	if err != nil {
		return oauthError(c, err)
	}
	return c.JSON(http.StatusOK, jwks)
}
