// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package globus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/config"
)

// Globus Auth scopes used by the clients in this package
const (
	TransferScope  = "urn:globus:auth:scope:transfer.api.globus.org:all"
	RunStatusScope = "urn:globus:auth:scope:flows.globus.org:run_status"
	ComputeScope   = "https://auth.globus.org/scopes/facd7ccc-c5f4-42aa-916b-a0e270e2c2a9/all"
)

// FlowScope returns the scope needed to run the flow with the given UUID.
func FlowScope(flowId uuid.UUID) string {
	return fmt.Sprintf("https://auth.globus.org/scopes/%s/flow_%s_user",
		flowId.String(), strings.ReplaceAll(flowId.String(), "-", "_"))
}

type accessToken struct {
	Value   string
	Expires time.Time
}

// Authenticator obtains and caches access tokens for a confidential client
// (https://docs.globus.org/api/auth/reference/#client_credentials_grant).
type Authenticator struct {
	authURL      string
	clientId     uuid.UUID
	clientSecret string
	client       *http.Client

	mu     sync.Mutex
	tokens map[string]accessToken
}

// NewAuthenticator creates an Authenticator for the configured client. If no
// client ID is configured, requests are sent without credentials.
func NewAuthenticator(conf config.GlobusConfig, client *http.Client) *Authenticator {
	return &Authenticator{
		authURL:      strings.TrimRight(conf.AuthURL, "/"),
		clientId:     conf.ClientId,
		clientSecret: conf.ClientSecret,
		client:       client,
		tokens:       make(map[string]accessToken),
	}
}

// Token returns an access token for the given scope, requesting a new one if
// none is cached or the cached one is about to expire.
func (a *Authenticator) Token(ctx context.Context, scope string) (string, error) {
	if a.clientId == uuid.Nil {
		return "", nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if token, found := a.tokens[scope]; found && time.Until(token.Expires) > time.Minute {
		return token.Value, nil
	}

	data := url.Values{}
	data.Set("scope", scope)
	data.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.authURL+"/v2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientId.String(), a.clientSecret)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	slog.Debug(fmt.Sprintf("Requesting Globus access token (scope %s)", scope))
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthenticationError{Status: resp.StatusCode, Message: string(body)}
	}

	type AuthResponse struct {
		AccessToken    string `json:"access_token"`
		Scope          string `json:"scope"`
		ResourceServer string `json:"resource_server"`
		ExpiresIn      int    `json:"expires_in"`
		TokenType      string `json:"token_type"`
	}
	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return "", err
	}

	a.tokens[scope] = accessToken{
		Value:   authResponse.AccessToken,
		Expires: time.Now().Add(time.Duration(authResponse.ExpiresIn) * time.Second),
	}
	return authResponse.AccessToken, nil
}
