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

package config

import (
	"fmt"
)

// indicates that a configuration parameter has an invalid value
type InvalidValueError struct {
	Field, Message string
}

func (e InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// indicates that a required tier has no endpoint assigned
type MissingTierError struct {
	Tier string
}

func (e MissingTierError) Error() string {
	return fmt.Sprintf("no endpoint was assigned to the %s tier", e.Tier)
}

// indicates that a configuration entry refers to an endpoint that isn't
// defined under "endpoints"
type UndefinedEndpointError struct {
	Referrer, Endpoint string
}

func (e UndefinedEndpointError) Error() string {
	return fmt.Sprintf("%s refers to undefined endpoint '%s'", e.Referrer, e.Endpoint)
}
