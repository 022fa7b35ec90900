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

package flows

import (
	"fmt"

	"github.com/als-computing/tierflow/results"
)

// indicates that an object that must exist before a prune is missing; the
// prune is abandoned, since deleting without a confirmed copy risks data loss
type IntegrityError struct {
	Endpoint, Path string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed: %s not found on %s", e.Path, e.Endpoint)
}

// indicates that no project directory with the given name lies under an
// endpoint's root
type ProjectNotFoundError struct {
	Project, Endpoint string
}

func (e ProjectNotFoundError) Error() string {
	return fmt.Sprintf("project directory '%s' not found on %s", e.Project, e.Endpoint)
}

// indicates that a mandatory hop failed and the move was abandoned
type HopFailedError struct {
	Hop    string
	Result results.Result
}

func (e HopFailedError) Error() string {
	return fmt.Sprintf("hop %s failed (%s): %s", e.Hop, e.Result.Kind, e.Result.Message)
}

func (e HopFailedError) Unwrap() error {
	return e.Result.Err()
}

// indicates that an age threshold is negative
type InvalidThresholdError struct {
	Days int
}

func (e InvalidThresholdError) Error() string {
	return fmt.Sprintf("invalid age threshold: %d days", e.Days)
}

// indicates that a retention settings document couldn't be read
type SettingsError struct {
	Path, Message string
}

func (e SettingsError) Error() string {
	return fmt.Sprintf("couldn't read retention settings from %s: %s", e.Path, e.Message)
}
