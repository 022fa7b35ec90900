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
	"fmt"
	"net/http"
	"strings"
)

// APIError reports an error response from a Globus service
// (https://docs.globus.org/api/transfer/overview/#errors).
type APIError struct {
	// HTTP status code
	Status int
	// Globus error condition (e.g. "ClientError.NotFound")
	Code string
	// error message
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// NotFound returns true if the error indicates a missing resource.
func (e APIError) NotFound() bool {
	return e.Status == http.StatusNotFound || strings.Contains(e.Code, "NotFound")
}

// indicates that Globus Auth refused our client credentials
type AuthenticationError struct {
	Status  int
	Message string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("couldn't authenticate via Globus Auth API (%d): %s", e.Status, e.Message)
}

// indicates that a redirect attempted to downgrade HTTPS to HTTP
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("the request to %s was redirected from HTTPS to HTTP", e.Endpoint)
}

// indicates that a Globus response omitted a task or run identifier
type MissingIdError struct {
	Resource, Code, Message string
}

func (e MissingIdError) Error() string {
	return fmt.Sprintf("%s returned no identifier: %s (%s)", e.Resource, e.Message, e.Code)
}

// indicates that a file's last modification time couldn't be parsed
type InvalidTimestampError struct {
	Path, Value string
}

func (e InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid last_modified time for %s: %q", e.Path, e.Value)
}
