// Package auth obtains OAuth2 client-credentials tokens for outbound calls
// to a service sitting behind an authenticating gateway.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds the client credentials. An empty TokenURL disables auth.
type Conf struct {
	ClientID     string   `json:"client_id" koanf:"client_id"`
	ClientSecret string   `json:"client_secret" koanf:"client_secret"`
	TokenURL     string   `json:"token_url" koanf:"token_url"`
	Scopes       []string `json:"scopes" koanf:"scopes"`
}

// Enabled reports whether requests should carry a token.
func (c Conf) Enabled() bool { return c.TokenURL != "" }

// Validate checks an enabled configuration.
func (c Conf) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("auth: client_id and client_secret are required with token_url")
	}
	return nil
}

func (c Conf) toOauth2Config() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}

// HTTPClient returns a client that attaches a bearer token to every request
// and fetches a new one once it expires. base supplies the transport and
// timeout; nil means a 10s default. Without credentials base is returned.
func (c Conf) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	if !c.Enabled() {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	cl := c.toOauth2Config().Client(ctx)
	cl.Timeout = base.Timeout
	return cl
}

// Token fetches a fresh access token.
func (c Conf) Token(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("auth: no token_url configured")
	}
	tok, err := c.toOauth2Config().Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return tok.AccessToken, nil
}
