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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// this type captures error results from Globus API responses
// (https://docs.globus.org/api/transfer/overview/#errors)
type globusResult struct {
	// string indicating the Globus error condition (e.g. "EndpointNotFound")
	Code string `json:"code"`
	// error message
	Message string `json:"message"`
}

// a REST client for one Globus service, authorized with one scope
type restClient struct {
	baseURL string
	scope   string
	auth    *Authenticator
	client  *http.Client
}

// performs a GET request on the given resource
func (c restClient) get(ctx context.Context, resource string, values url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, resource, values, nil)
}

// performs a POST request on the given resource with a JSON body
func (c restClient) post(ctx context.Context, resource string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, resource, nil, payload)
}

func (c restClient) do(ctx context.Context, method, resource string, values url.Values, payload any) ([]byte, error) {
	u, err := url.ParseRequestURI(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + resource
	if values != nil {
		u.RawQuery = values.Encode()
	}
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("%s: %s", method, res))

	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, res, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	token, err := c.auth.Token(ctx, c.scope)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var result globusResult
		json.Unmarshal(respBody, &result)
		if result.Message == "" {
			result.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    result.Code,
			Message: result.Message,
		}
	}
	return respBody, nil
}
