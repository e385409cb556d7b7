package cloud

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alexjbarnes/iotcloud/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Default OAuth client credentials accepted by the token endpoint.
const (
	DefaultClientID     = "particle"
	DefaultClientSecret = "particle"
)

// MFAGrantType is the grant type of the second step of a two-step login.
const MFAGrantType = "urn:custom:mfa-otp"

// MFARequiredCode is the structured error code returned when the account
// needs a one-time password to finish logging in.
const MFARequiredCode = "mfa_required"

const (
	tokenPath        = "/oauth/token"
	currentTokenPath = "/v1/access_tokens/current"
)

// tokenResponse accepts the legacy "token" field as an alias for
// access_token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (r tokenResponse) Validate() error {
	if r.AccessToken == "" && r.Token == "" {
		return errors.New("missing access_token")
	}

	return nil
}

func (r tokenResponse) token() models.AccessToken {
	v := r.AccessToken
	if v == "" {
		v = r.Token
	}

	return models.AccessToken{
		Value:        v,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		TokenType:    r.TokenType,
	}
}

func (c *Client) clientAuth(creds models.Credentials) (string, string) {
	if creds.ClientID != "" {
		return creds.ClientID, creds.ClientSecret
	}

	return c.clientID, c.clientSecret
}

func (c *Client) mint(ctx context.Context, form url.Values, creds models.Credentials) (models.AccessToken, error) {
	if creds.ExpiresIn > 0 {
		form.Set("expires_in", strconv.FormatInt(creds.ExpiresIn, 10))
	}

	user, pass := c.clientAuth(creds)

	resp, err := Call[tokenResponse](ctx, c, Request{
		Method:    http.MethodPost,
		Path:      tokenPath,
		Form:      form,
		BasicUser: user,
		BasicPass: pass,
	})
	if err != nil {
		return models.AccessToken{}, err
	}

	return resp.token(), nil
}

// MintToken exchanges a username and password for a new access token.
// Accounts with two-step login fail with a ServerError whose Code is
// MFARequiredCode and whose MFAToken feeds MintTokenMFA.
func (c *Client) MintToken(ctx context.Context, creds models.Credentials) (models.AccessToken, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {norm.NFKC.String(creds.Username)},
		"password":   {creds.Password},
	}

	return c.mint(ctx, form, creds)
}

// MintTokenMFA completes a two-step login with a one-time password.
func (c *Client) MintTokenMFA(ctx context.Context, mfaToken, otp string, creds models.Credentials) (models.AccessToken, error) {
	form := url.Values{
		"grant_type": {MFAGrantType},
		"mfa_token":  {mfaToken},
		"otp":        {otp},
	}

	return c.mint(ctx, form, creds)
}

// TokenInfo asks the server about a token. The expiry it reports is the
// only validity check; refresh tokens are never exchanged.
func (c *Client) TokenInfo(ctx context.Context, token string) (models.TokenInfo, error) {
	return Call[models.TokenInfo](ctx, c, Request{
		Method: http.MethodGet,
		Path:   currentTokenPath,
		Token:  token,
	})
}

// RevokeToken invalidates a token on the server.
func (c *Client) RevokeToken(ctx context.Context, token string) (models.DeleteResponse, error) {
	return Call[models.DeleteResponse](ctx, c, Request{
		Method: http.MethodDelete,
		Path:   currentTokenPath,
		Token:  token,
	})
}
