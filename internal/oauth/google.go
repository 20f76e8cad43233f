// Package oauth talks to Google's OAuth 2.0 endpoints for the sign-in flow.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	StageToken    = "token"
	StageUserInfo = "userinfo"

	defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	maxDetailLength    = 200
)

// ProviderError is a failure reported by (or while talking to) Google.
// Detail is the provider's own text, already truncated for relaying to the caller.
type ProviderError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("google %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("google %s: %s", e.Stage, e.Detail)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Profile is the subset of the OpenID userinfo document the app stores.
type Profile struct {
	Email   string
	Name    *string
	Picture *string
}

type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
}

type Option func(*Google)

// WithEndpoint points the client at a different authorization server.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(g *Google) {
		g.cfg.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
}

func WithUserInfoURL(url string) Option {
	return func(g *Google) {
		g.userInfoURL = url
	}
}

func NewGoogle(clientID, clientSecret, redirectURL string, opts ...Option) *Google {
	g := &Google{
		cfg: &oauth2.Config{
			ClientID:     strings.TrimSpace(clientID),
			ClientSecret: strings.TrimSpace(clientSecret),
			RedirectURL:  strings.TrimSpace(redirectURL),
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: defaultUserInfoURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether client id, secret and redirect URI are all set.
func (g *Google) Configured() bool {
	return g != nil && g.cfg.ClientID != "" && g.cfg.ClientSecret != "" && g.cfg.RedirectURL != ""
}

func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for an access token.
func (g *Google) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err == nil {
		return token, nil
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return nil, &ProviderError{Stage: StageToken, Detail: retrieveDetail(retrieve), Err: err}
	}
	return nil, &ProviderError{Stage: StageToken, Err: err}
}

// UserInfo fetches the profile of the account that authorized token.
func (g *Google) UserInfo(ctx context.Context, token *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Profile{}, &ProviderError{Stage: StageUserInfo, Err: err}
	}
	res, err := g.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return Profile{}, &ProviderError{Stage: StageUserInfo, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Profile{}, &ProviderError{Stage: StageUserInfo, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Profile{}, &ProviderError{
			Stage:  StageUserInfo,
			Detail: truncate(strings.TrimSpace(string(body))),
			Err:    fmt.Errorf("status %d", res.StatusCode),
		}
	}

	var payload struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, &ProviderError{Stage: StageUserInfo, Err: fmt.Errorf("decode userinfo: %w", err)}
	}
	return Profile{
		Email:   strings.TrimSpace(payload.Email),
		Name:    optional(payload.Name),
		Picture: optional(payload.Picture),
	}, nil
}

func retrieveDetail(err *oauth2.RetrieveError) string {
	switch {
	case err.ErrorDescription != "":
		return truncate(err.ErrorDescription)
	case err.ErrorCode != "":
		return truncate(err.ErrorCode)
	default:
		return truncate(strings.TrimSpace(string(err.Body)))
	}
}

func truncate(s string) string {
	if len(s) <= maxDetailLength {
		return s
	}
	cut := maxDetailLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
