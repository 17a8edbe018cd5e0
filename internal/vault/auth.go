package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Auth is the result of a successful login.
type Auth struct {
	Token         string
	Policies      []string
	LeaseDuration int64
}

// Login authenticates against the userpass method. Vault issues the token;
// the dashboard only keeps it.
func (c *Client) Login(ctx context.Context, username, password string) (*Auth, error) {
	resp, err := c.Do(ctx, http.MethodPost, JoinPath("auth/userpass/login", username), "", map[string]string{"password": password})
	if err != nil {
		var re *ResponseError
		if errors.As(err, &re) && re.Status >= 400 && re.Status < 500 {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}
		return nil, err
	}

	var body struct {
		Auth struct {
			ClientToken   string   `json:"client_token"`
			Policies      []string `json:"policies"`
			LeaseDuration int64    `json:"lease_duration"`
		} `json:"auth"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if body.Auth.ClientToken == "" {
		return nil, fmt.Errorf("%w: no client token in response", ErrLoginFailed)
	}

	return &Auth{
		Token:         body.Auth.ClientToken,
		Policies:      body.Auth.Policies,
		LeaseDuration: body.Auth.LeaseDuration,
	}, nil
}

// RevokeSelf revokes token.
func (c *Client) RevokeSelf(ctx context.Context, token string) error {
	_, err := c.Do(ctx, http.MethodPost, "auth/token/revoke-self", token, nil)
	return err
}
